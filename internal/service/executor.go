package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/agents"
	"github.com/leadcore/intent-core/internal/alert"
	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/repository"
	"github.com/leadcore/intent-core/internal/retry"
	"github.com/leadcore/intent-core/internal/telemetry"
)

const recordTimeout = 5 * time.Second

// WorkflowExecutor runs the email agent for an approved queue item under the
// retry policy and records a workflow_executed activity on success.
type WorkflowExecutor struct {
	registry *agent.Registry
	invoker  *agent.Invoker
	activity repository.ActivityRepository
	alerter  alert.Alerter
	retry    retry.Policy
	logger   *slog.Logger
	now      func() time.Time
}

func NewWorkflowExecutor(
	registry *agent.Registry,
	invoker *agent.Invoker,
	activity repository.ActivityRepository,
	alerter alert.Alerter,
	policy retry.Policy,
	logger *slog.Logger,
) *WorkflowExecutor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WorkflowExecutor{
		registry: registry,
		invoker:  invoker,
		activity: activity,
		alerter:  alerter,
		retry:    policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *WorkflowExecutor) Execute(ctx context.Context, item *domain.WorkflowQueueItem) error {
	ctx, span := telemetry.StartSpan(ctx, "workflow.execute",
		attribute.String(telemetry.QueueItemIDKey, item.ID),
		attribute.String(telemetry.SubscriberKey, item.SubscriberID))
	defer span.End()

	executed, err := e.activity.HasActivity(ctx, item.ID, domain.ActivityWorkflowExecuted)
	if err != nil {
		return fmt.Errorf("check prior execution: %w", err)
	}
	if executed {
		e.logger.Warn("workflow already executed, skipping send", "queue_item_id", item.ID)
		return nil
	}

	name := agents.EmailAgentName(item.WorkflowType)
	emailAgent, ok := e.registry.Get(name)
	if !ok {
		return fmt.Errorf("no agent registered for workflow %s", item.WorkflowType)
	}

	input, err := emailInputFor(item)
	if err != nil {
		return err
	}

	result, err := retry.WithBackoff(ctx, e.retry, func(ctx context.Context) (agent.Result, error) {
		result := e.invoker.Invoke(ctx, emailAgent, input)
		return result, result.Err()
	})
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err != nil {
		telemetry.SetError(span, err)
		e.alertFailure(detached, item, name, err)
		return fmt.Errorf("run %s: %w", name, err)
	}

	detail, _ := json.Marshal(map[string]any{
		"agent":  name,
		"output": result.Output,
	})
	err = e.activity.LogActivity(detached, domain.ActivityRecord{
		ID:           uuid.NewString(),
		SubscriberID: item.SubscriberID,
		QueueItemID:  item.ID,
		Kind:         domain.ActivityWorkflowExecuted,
		Detail:       detail,
		CreatedAt:    e.now(),
	})
	if err != nil {
		e.logger.Error("activity log write failed", "queue_item_id", item.ID, "error", err)
	}
	return nil
}

// alertFailure raises a critical alert once the retry budget or the request
// deadline is spent. Non-recoverable failures are left to the caller.
func (e *WorkflowExecutor) alertFailure(ctx context.Context, item *domain.WorkflowQueueItem, name string, err error) {
	if e.alerter == nil {
		return
	}
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		e.alerter.SendCritical(ctx,
			fmt.Sprintf("workflow %s failed after %d attempts", item.WorkflowType, exhausted.Attempts),
			fmt.Sprintf("queue_item_id=%s subscriber_id=%s agent=%s: %v",
				item.ID, item.SubscriberID, name, exhausted.LastError))
	case errors.Is(err, context.DeadlineExceeded):
		e.alerter.SendCritical(ctx,
			fmt.Sprintf("workflow %s ran out of time", item.WorkflowType),
			fmt.Sprintf("queue_item_id=%s subscriber_id=%s agent=%s: %v",
				item.ID, item.SubscriberID, name, err))
	}
}

func emailInputFor(item *domain.WorkflowQueueItem) (json.RawMessage, error) {
	var snapshot WorkflowPayload
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &snapshot); err != nil {
			return nil, fmt.Errorf("decode workflow payload: %w", err)
		}
	}

	input, err := json.Marshal(agents.EmailInput{
		SubscriberID: item.SubscriberID,
		QueueItemID:  item.ID,
		Email:        snapshot.Email,
		Name:         snapshot.Name,
		Intelligence: snapshot.LeadIntelligence,
	})
	if err != nil {
		return nil, fmt.Errorf("encode email input: %w", err)
	}
	return input, nil
}
