package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadcore/intent-core/internal/alert"
	"github.com/leadcore/intent-core/internal/telemetry"
)

const batchAlertTimeout = 10 * time.Second

const (
	MinBatchItems = 1
	MaxBatchItems = 1000
)

type BatchItemResult struct {
	Index      int    `json:"index"`
	Success    bool   `json:"success"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// BatchResult always holds one item per input, in input order.
type BatchResult struct {
	Agent      string            `json:"agent"`
	Results    []BatchItemResult `json:"results"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Total      int               `json:"total"`
	DurationMS int64             `json:"durationMs"`
}

type BatchRunner struct {
	registry *Registry
	invoker  *Invoker
	alerter  alert.Alerter
	now      func() time.Time
}

func NewBatchRunner(registry *Registry, invoker *Invoker, alerter alert.Alerter) *BatchRunner {
	return &BatchRunner{
		registry: registry,
		invoker:  invoker,
		alerter:  alerter,
		now:      time.Now,
	}
}

// Run invokes one agent per input sequentially. Item failures are reported in
// the result and never abort the batch. Failed items raise one summary alert.
func (r *BatchRunner) Run(ctx context.Context, name string, inputs []json.RawMessage) (BatchResult, error) {
	agent, ok := r.registry.Get(name)
	if !ok {
		return BatchResult{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if len(inputs) < MinBatchItems || len(inputs) > MaxBatchItems {
		return BatchResult{}, fmt.Errorf("%w: batch must contain between %d and %d items, got %d",
			ErrInvalidInput, MinBatchItems, MaxBatchItems, len(inputs))
	}

	ctx, span := telemetry.StartSpan(ctx, "agent.batch",
		attribute.String(telemetry.AgentNameKey, name),
		attribute.Int(telemetry.BatchSizeKey, len(inputs)))
	defer span.End()

	metadata := agent.Metadata()
	batch := BatchResult{
		Agent:   name,
		Results: make([]BatchItemResult, len(inputs)),
		Total:   len(inputs),
	}
	failures := make([]string, 0)

	start := r.now()
	for index, input := range inputs {
		itemStart := r.now()
		var result Result
		if err := ctx.Err(); err != nil {
			// Out of time: the remaining items are reported, not run.
			result = Failed(fmt.Errorf("batch stopped before item ran: %w", err))
		} else if err := ValidateInput(metadata, input); err != nil {
			result = Failed(err)
		} else {
			result = r.invoker.Invoke(ctx, agent, input)
		}

		batch.Results[index] = BatchItemResult{
			Index:      index,
			Success:    result.Success,
			Output:     result.Output,
			Error:      result.Error,
			DurationMS: r.now().Sub(itemStart).Milliseconds(),
		}
		if result.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
			failures = append(failures, fmt.Sprintf("item %d: %s", index, result.Error))
			span.AddEvent("item_failed", trace.WithAttributes(attribute.Int(telemetry.BatchIndexKey, index)))
		}
	}
	batch.DurationMS = r.now().Sub(start).Milliseconds()

	if batch.Failed > 0 && r.alerter != nil {
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), batchAlertTimeout)
		defer cancel()
		r.alerter.SendCritical(alertCtx,
			fmt.Sprintf("batch %s: %d of %d items failed", name, batch.Failed, batch.Total),
			summarizeFailures(failures))
	}
	return batch, nil
}

func summarizeFailures(failures []string) string {
	const maxListed = 20
	if len(failures) <= maxListed {
		return strings.Join(failures, "\n")
	}
	return strings.Join(failures[:maxListed], "\n") + fmt.Sprintf("\n... and %d more", len(failures)-maxListed)
}
