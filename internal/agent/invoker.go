package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/leadcore/intent-core/internal/policy"
	"github.com/leadcore/intent-core/internal/telemetry"
)

// Invoker runs one agent call and records its trace and metrics. Panics in
// agents become failed results.
type Invoker struct {
	traces  *telemetry.TraceStore
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewInvoker(traces *telemetry.TraceStore, metrics *telemetry.Metrics, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Invoker{
		traces:  traces,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

func (i *Invoker) Invoke(ctx context.Context, agent Agent, input json.RawMessage) Result {
	name := agent.Metadata().Name
	ctx, span := telemetry.StartSpan(ctx, "agent.process", attribute.String(telemetry.AgentNameKey, name))
	defer span.End()

	start := i.now()
	result := i.process(ctx, agent, input)
	duration := i.now().Sub(start)

	if !result.Success {
		telemetry.SetError(span, result.Err(), attribute.String(telemetry.AgentNameKey, name))
		i.logger.WarnContext(ctx, "agent invocation failed", "agent", name, "error", result.Error, "duration_ms", duration.Milliseconds())
	}
	i.record(name, input, result, start, duration)
	return result
}

func (i *Invoker) process(ctx context.Context, agent Agent, input json.RawMessage) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Failed(fmt.Errorf("agent panicked: %v", recovered))
		}
	}()
	return agent.Process(ctx, input)
}

// record never lets diagnostics failures reach the caller.
func (i *Invoker) record(name string, input json.RawMessage, result Result, start time.Time, duration time.Duration) {
	defer func() {
		if recovered := recover(); recovered != nil {
			i.logger.Error("recording agent trace panicked", "agent", name, "panic", recovered)
		}
	}()

	i.traces.Record(telemetry.TraceEvent{
		Agent:       name,
		InputDigest: policy.DigestInput(input),
		Success:     result.Success,
		Error:       result.Error,
		DurationMS:  duration.Milliseconds(),
		Timestamp:   start.UTC(),
	})
	i.metrics.Observe(name, result.Success, duration, start)
}
