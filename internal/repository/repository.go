package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/leadcore/intent-core/internal/domain"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClaimHeld         = errors.New("queue item is claimed by another approver")
)

// SubscriberRepository covers subscriber reads and the signal write path.
type SubscriberRepository interface {
	CreateSubscriber(ctx context.Context, subscriber *domain.Subscriber) error
	GetSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error)
	// RecordSignal appends the signal and bumps the subscriber score by
	// increment in one transaction. The returned score is post-increment.
	RecordSignal(ctx context.Context, signal domain.Signal, increment int) (domain.SignalOutcome, error)
	// MarkHighIntent sets first_high_intent_at only when it is still unset and
	// reports whether this call was the one that set it.
	MarkHighIntent(ctx context.Context, subscriberID string, at time.Time) (bool, error)
	LatestSignals(ctx context.Context, subscriberID string, signalTypes []string) (map[string]domain.Signal, error)
	ListSignals(ctx context.Context, subscriberID string, limit int) ([]domain.Signal, error)
	ListRecomputeCandidates(ctx context.Context, signalsSince, staleBefore time.Time, limit int) ([]*domain.Subscriber, error)
	SaveOfferRecommendation(ctx context.Context, subscriberID string, recommendation json.RawMessage, at time.Time) error
}

// WorkflowQueueRepository persists proposed workflows and their approval state.
type WorkflowQueueRepository interface {
	CreateQueueItem(ctx context.Context, item *domain.WorkflowQueueItem) error
	GetQueueItem(ctx context.Context, itemID string) (*domain.WorkflowQueueItem, error)
	// TransitionQueueItem moves the item to `to` only when its current status
	// is one of `from`, clearing any approval lease. ErrInvalidTransition is
	// returned otherwise.
	TransitionQueueItem(
		ctx context.Context,
		itemID string,
		from []domain.QueueStatus,
		to domain.QueueStatus,
		at time.Time,
	) (*domain.WorkflowQueueItem, error)
	ListQueueItems(ctx context.Context, filter domain.QueueListFilter) ([]*domain.WorkflowQueueItem, error)
	// ClaimQueueItem moves a pending or approved item to approved and leases
	// it until `until`, in one conditional write. ErrClaimHeld is returned
	// while another lease is live, ErrInvalidTransition for closed items.
	ClaimQueueItem(ctx context.Context, itemID string, at, until time.Time) (*domain.WorkflowQueueItem, error)
	// ReleaseQueueItem drops the lease identified by `until`. A lease that
	// expired and was claimed again is left alone.
	ReleaseQueueItem(ctx context.Context, itemID string, until time.Time) error
}

type ActivityRepository interface {
	LogActivity(ctx context.Context, record domain.ActivityRecord) error
	HasActivity(ctx context.Context, queueItemID string, kind domain.ActivityKind) (bool, error)
}

// Store is the full persistence surface used by the orchestration core.
type Store interface {
	SubscriberRepository
	WorkflowQueueRepository
	ActivityRepository
}

var claimableStatuses = []domain.QueueStatus{domain.QueueStatusPending, domain.QueueStatusApproved}

func containsStatus(statuses []domain.QueueStatus, target domain.QueueStatus) bool {
	for _, status := range statuses {
		if status == target {
			return true
		}
	}
	return false
}
