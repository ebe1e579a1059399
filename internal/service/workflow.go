package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/queue"
	"github.com/leadcore/intent-core/internal/repository"
)

const (
	defaultQueueListLimit = 50
	maxQueueListLimit     = 200
	finishTimeout         = 5 * time.Second
	defaultApprovalLease  = 2 * time.Minute
)

// Routes maps lifecycle events to the workflow proposed for them.
type Routes map[domain.LifecycleEvent]domain.WorkflowType

func DefaultRoutes() Routes {
	return Routes{
		domain.EventSubscribed:         domain.WorkflowWelcome,
		domain.EventBlueprintCompleted: domain.WorkflowNurture,
		domain.EventCTAClicked:         domain.WorkflowUpsell,
		domain.EventPDFDownloaded:      domain.WorkflowNurture,
	}
}

// Executor performs the side effects of an approved workflow.
type Executor interface {
	Execute(ctx context.Context, item *domain.WorkflowQueueItem) error
}

// WorkflowPayload is the subscriber snapshot stored with a queue item.
type WorkflowPayload struct {
	SubscriberID     string                 `json:"subscriberId"`
	Email            string                 `json:"email"`
	Name             string                 `json:"name"`
	IntentScore      int                    `json:"intentScore"`
	JourneyPosition  domain.JourneyPosition `json:"journeyPosition"`
	LeadIntelligence json.RawMessage        `json:"leadIntelligence,omitempty"`
	Event            domain.LifecycleEvent  `json:"event"`
	QueuedAt         time.Time              `json:"queuedAt"`
}

type ApproveOutcome struct {
	Item             *domain.WorkflowQueueItem
	AlreadyProcessed bool
}

type WorkflowService struct {
	store    repository.Store
	executor Executor
	routes   Routes
	events   *eventDispatcher
	logger   *slog.Logger
	now      func() time.Time
	lease    time.Duration
}

func NewWorkflowService(
	store repository.Store,
	executor Executor,
	routes Routes,
	producer queue.Producer,
	logger *slog.Logger,
) *WorkflowService {
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WorkflowService{
		store:    store,
		executor: executor,
		routes:   routes,
		events:   &eventDispatcher{producer: producer, logger: logger},
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		lease:    defaultApprovalLease,
	}
}

// WithApprovalLease sets how long an approver holds a queue item. It must
// outlast the slowest execution, or a second approver may start a duplicate.
func (s *WorkflowService) WithApprovalLease(lease time.Duration) *WorkflowService {
	if lease > 0 {
		s.lease = lease
	}
	return s
}

// Route proposes the workflow for a lifecycle event as a pending queue item.
// Nothing is executed until the item is approved.
func (s *WorkflowService) Route(
	ctx context.Context,
	subscriberID string,
	event string,
) (*domain.WorkflowQueueItem, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return nil, fmt.Errorf("%w: subscriberId is required", ErrInvalidArgument)
	}
	lifecycleEvent := domain.LifecycleEvent(strings.TrimSpace(event))
	workflow, ok := s.routes[lifecycleEvent]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidArgument, event)
	}

	subscriber, err := s.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, classify(err, "get subscriber")
	}

	now := s.now()
	payload, err := json.Marshal(WorkflowPayload{
		SubscriberID:     subscriber.ID,
		Email:            subscriber.Email,
		Name:             subscriber.Name,
		IntentScore:      subscriber.IntentScore,
		JourneyPosition:  subscriber.JourneyPosition,
		LeadIntelligence: validJSONOrNil(subscriber.LeadIntelligence),
		Event:            lifecycleEvent,
		QueuedAt:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("encode workflow payload: %w", err)
	}

	item := &domain.WorkflowQueueItem{
		ID:           uuid.NewString(),
		SubscriberID: subscriber.ID,
		WorkflowType: workflow,
		Payload:      payload,
		Status:       domain.QueueStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create queue item: %w", err)
	}

	s.logger.Info("workflow queued",
		"queue_item_id", item.ID, "subscriber_id", subscriber.ID, "workflow", workflow, "event", lifecycleEvent)
	return item, nil
}

// Approve executes a pending or previously failed workflow exactly once.
// Approving a processed item reports AlreadyProcessed without re-executing.
// Concurrent approvers, in this process or another replica, are serialized by
// the store lease; the loser gets ErrConflict.
func (s *WorkflowService) Approve(ctx context.Context, itemID string) (ApproveOutcome, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return ApproveOutcome{}, fmt.Errorf("%w: workflowId is required", ErrInvalidArgument)
	}

	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return ApproveOutcome{}, classify(err, "get queue item")
	}
	switch item.Status {
	case domain.QueueStatusProcessed:
		return ApproveOutcome{Item: item, AlreadyProcessed: true}, nil
	case domain.QueueStatusRejected:
		return ApproveOutcome{}, fmt.Errorf("%w: workflow %s was rejected", ErrConflict, itemID)
	}

	claimedAt := s.now()
	until := claimedAt.Add(s.lease).Truncate(time.Microsecond)
	approved, err := s.store.ClaimQueueItem(ctx, itemID, claimedAt, until)
	if errors.Is(err, repository.ErrClaimHeld) {
		return ApproveOutcome{}, fmt.Errorf("%w: workflow %s approval already in progress", ErrConflict, itemID)
	}
	if err != nil {
		return s.resolveLostTransition(approved, err, "approve queue item")
	}

	// Bookkeeping after the send runs even if the caller's deadline ran out.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := s.executor.Execute(ctx, approved); err != nil {
		s.logger.Error("workflow execution failed",
			"queue_item_id", itemID, "workflow", approved.WorkflowType, "error", err)
		if releaseErr := s.store.ReleaseQueueItem(finishCtx, itemID, until); releaseErr != nil {
			s.logger.Error("approval lease release failed", "queue_item_id", itemID, "error", releaseErr)
		}
		return ApproveOutcome{}, fmt.Errorf("execute workflow %s: %w", itemID, err)
	}

	now := s.now()
	processed, err := s.store.TransitionQueueItem(finishCtx, itemID,
		[]domain.QueueStatus{domain.QueueStatusApproved}, domain.QueueStatusProcessed, now)
	if err != nil {
		return s.resolveLostTransition(processed, err, "mark queue item processed")
	}

	s.logActivity(finishCtx, processed, domain.ActivityWorkflowApproved, now)
	s.dispatchProcessed(finishCtx, processed, now)
	s.logger.Info("workflow approved",
		"queue_item_id", itemID, "subscriber_id", processed.SubscriberID, "workflow", processed.WorkflowType)
	return ApproveOutcome{Item: processed}, nil
}

// resolveLostTransition handles a conditional update that found the item in
// an unexpected state, typically because another approver finished first.
func (s *WorkflowService) resolveLostTransition(
	current *domain.WorkflowQueueItem,
	err error,
	what string,
) (ApproveOutcome, error) {
	if errors.Is(err, repository.ErrInvalidTransition) && current != nil && current.Processed() {
		return ApproveOutcome{Item: current, AlreadyProcessed: true}, nil
	}
	return ApproveOutcome{}, classify(err, what)
}

// Reject closes a pending item without executing it.
func (s *WorkflowService) Reject(ctx context.Context, itemID string) (*domain.WorkflowQueueItem, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("%w: workflowId is required", ErrInvalidArgument)
	}

	now := s.now()
	item, err := s.store.TransitionQueueItem(ctx, itemID,
		[]domain.QueueStatus{domain.QueueStatusPending}, domain.QueueStatusRejected, now)
	if err != nil {
		return nil, classify(err, "reject queue item")
	}

	s.logActivity(ctx, item, domain.ActivityWorkflowRejected, now)
	s.logger.Info("workflow rejected", "queue_item_id", itemID, "workflow", item.WorkflowType)
	return item, nil
}

func (s *WorkflowService) GetQueueItem(ctx context.Context, itemID string) (*domain.WorkflowQueueItem, error) {
	item, err := s.store.GetQueueItem(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return nil, classify(err, "get queue item")
	}
	return item, nil
}

func (s *WorkflowService) ListQueue(ctx context.Context, status string, limit int) ([]*domain.WorkflowQueueItem, error) {
	queueStatus := domain.QueueStatus(strings.TrimSpace(status))
	if queueStatus != "" && !queueStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	if limit <= 0 {
		limit = defaultQueueListLimit
	}
	if limit > maxQueueListLimit {
		limit = maxQueueListLimit
	}

	items, err := s.store.ListQueueItems(ctx, domain.QueueListFilter{Status: queueStatus, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

// Wait blocks until in-flight workflow events are enqueued.
func (s *WorkflowService) Wait() {
	s.events.wait()
}

func (s *WorkflowService) logActivity(
	ctx context.Context,
	item *domain.WorkflowQueueItem,
	kind domain.ActivityKind,
	at time.Time,
) {
	detail, _ := json.Marshal(map[string]any{
		"workflowType": item.WorkflowType,
		"status":       item.Status,
	})
	err := s.store.LogActivity(ctx, domain.ActivityRecord{
		ID:           uuid.NewString(),
		SubscriberID: item.SubscriberID,
		QueueItemID:  item.ID,
		Kind:         kind,
		Detail:       detail,
		CreatedAt:    at,
	})
	if err != nil {
		s.logger.Error("activity log write failed", "queue_item_id", item.ID, "kind", kind, "error", err)
	}
}

func (s *WorkflowService) dispatchProcessed(ctx context.Context, item *domain.WorkflowQueueItem, at time.Time) {
	payload, _ := json.Marshal(map[string]any{
		"queueItemId":  item.ID,
		"workflowType": item.WorkflowType,
		"processedAt":  at,
	})
	s.events.dispatch(ctx, domain.AutomationEvent{
		EventID:      uuid.NewString(),
		Kind:         domain.AutomationWorkflowProcessed,
		SubscriberID: item.SubscriberID,
		Payload:      payload,
		RequestedAt:  at,
	})
}

func validJSONOrNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}
