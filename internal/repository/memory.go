package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/leadcore/intent-core/internal/domain"
)

// MemoryStore keeps all state in process for local development and tests.
// A single lock serializes writes, which also serializes signals per subscriber.
type MemoryStore struct {
	mu          sync.RWMutex
	subscribers map[string]*domain.Subscriber
	signals     map[string][]domain.Signal
	queue       map[string]*domain.WorkflowQueueItem
	activity    []domain.ActivityRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscribers: make(map[string]*domain.Subscriber),
		signals:     make(map[string][]domain.Signal),
		queue:       make(map[string]*domain.WorkflowQueueItem),
		activity:    make([]domain.ActivityRecord, 0),
	}
}

func (s *MemoryStore) CreateSubscriber(_ context.Context, subscriber *domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subscriber.JourneyPosition == "" {
		subscriber.JourneyPosition = domain.JourneyLead
	}
	s.subscribers[subscriber.ID] = domain.CloneSubscriber(subscriber)
	return nil
}

func (s *MemoryStore) GetSubscriber(_ context.Context, subscriberID string) (*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subscriber, ok := s.subscribers[subscriberID]
	if !ok {
		return nil, ErrNotFound
	}
	return domain.CloneSubscriber(subscriber), nil
}

func (s *MemoryStore) RecordSignal(
	_ context.Context,
	signal domain.Signal,
	increment int,
) (domain.SignalOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[signal.SubscriberID]
	if !ok {
		return domain.SignalOutcome{}, ErrNotFound
	}

	s.signals[signal.SubscriberID] = append(s.signals[signal.SubscriberID], signal)
	subscriber.IntentScore += increment
	at := signal.CreatedAt
	subscriber.LastSignalAt = &at
	subscriber.UpdatedAt = at

	outcome := domain.SignalOutcome{
		Signal:      signal,
		IntentScore: subscriber.IntentScore,
	}
	if subscriber.FirstHighIntentAt != nil {
		firstHighIntentAt := *subscriber.FirstHighIntentAt
		outcome.FirstHighIntentAt = &firstHighIntentAt
	}
	return outcome, nil
}

func (s *MemoryStore) MarkHighIntent(_ context.Context, subscriberID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[subscriberID]
	if !ok {
		return false, ErrNotFound
	}
	if subscriber.FirstHighIntentAt != nil {
		return false, nil
	}
	subscriber.FirstHighIntentAt = &at
	return true, nil
}

func (s *MemoryStore) LatestSignals(
	_ context.Context,
	subscriberID string,
	signalTypes []string,
) (map[string]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(signalTypes))
	for _, signalType := range signalTypes {
		wanted[signalType] = struct{}{}
	}

	latest := make(map[string]domain.Signal)
	for _, signal := range s.signals[subscriberID] {
		if _, ok := wanted[signal.SignalType]; !ok {
			continue
		}
		current, seen := latest[signal.SignalType]
		if !seen || !signal.CreatedAt.Before(current.CreatedAt) {
			latest[signal.SignalType] = signal
		}
	}
	return latest, nil
}

func (s *MemoryStore) ListSignals(_ context.Context, subscriberID string, limit int) ([]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.signals[subscriberID]
	items := make([]domain.Signal, len(all))
	copy(items, all)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) ListRecomputeCandidates(
	_ context.Context,
	signalsSince time.Time,
	staleBefore time.Time,
	limit int,
) ([]*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*domain.Subscriber, 0)
	for _, subscriber := range s.subscribers {
		recentSignal := subscriber.LastSignalAt != nil && !subscriber.LastSignalAt.Before(signalsSince)
		stale := subscriber.OfferComputedAt == nil || subscriber.OfferComputedAt.Before(staleBefore)
		if !recentSignal && !stale {
			continue
		}
		candidates = append(candidates, domain.CloneSubscriber(subscriber))
	}

	sort.Slice(candidates, func(i, j int) bool {
		left, right := candidates[i].LastSignalAt, candidates[j].LastSignalAt
		switch {
		case left == nil && right == nil:
			return candidates[i].ID < candidates[j].ID
		case left == nil:
			return false
		case right == nil:
			return true
		default:
			return left.After(*right)
		}
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (s *MemoryStore) SaveOfferRecommendation(
	_ context.Context,
	subscriberID string,
	recommendation json.RawMessage,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[subscriberID]
	if !ok {
		return ErrNotFound
	}
	subscriber.OfferRecommendation = append(json.RawMessage(nil), recommendation...)
	subscriber.OfferComputedAt = &at
	return nil
}

func (s *MemoryStore) CreateQueueItem(_ context.Context, item *domain.WorkflowQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue[item.ID] = domain.CloneQueueItem(item)
	return nil
}

func (s *MemoryStore) GetQueueItem(_ context.Context, itemID string) (*domain.WorkflowQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.queue[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return domain.CloneQueueItem(item), nil
}

func (s *MemoryStore) TransitionQueueItem(
	_ context.Context,
	itemID string,
	from []domain.QueueStatus,
	to domain.QueueStatus,
	at time.Time,
) (*domain.WorkflowQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsStatus(from, item.Status) {
		return domain.CloneQueueItem(item), ErrInvalidTransition
	}
	item.Status = to
	item.UpdatedAt = at
	item.ExecutingUntil = nil
	return domain.CloneQueueItem(item), nil
}

func (s *MemoryStore) ClaimQueueItem(
	_ context.Context,
	itemID string,
	at, until time.Time,
) (*domain.WorkflowQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsStatus(claimableStatuses, item.Status) {
		return domain.CloneQueueItem(item), ErrInvalidTransition
	}
	if item.ExecutingUntil != nil && !item.ExecutingUntil.Before(at) {
		return domain.CloneQueueItem(item), ErrClaimHeld
	}
	item.Status = domain.QueueStatusApproved
	item.UpdatedAt = at
	item.ExecutingUntil = &until
	return domain.CloneQueueItem(item), nil
}

func (s *MemoryStore) ReleaseQueueItem(_ context.Context, itemID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[itemID]
	if !ok {
		return ErrNotFound
	}
	if item.ExecutingUntil != nil && item.ExecutingUntil.Equal(until) {
		item.ExecutingUntil = nil
	}
	return nil
}

func (s *MemoryStore) ListQueueItems(
	_ context.Context,
	filter domain.QueueListFilter,
) ([]*domain.WorkflowQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	items := make([]*domain.WorkflowQueueItem, 0)
	for _, item := range s.queue {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		items = append(items, domain.CloneQueueItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (s *MemoryStore) LogActivity(_ context.Context, record domain.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Detail = append(json.RawMessage(nil), record.Detail...)
	s.activity = append(s.activity, record)
	return nil
}

func (s *MemoryStore) HasActivity(_ context.Context, queueItemID string, kind domain.ActivityKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.activity {
		if record.QueueItemID == queueItemID && record.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

// Activity returns a copy of the activity log, oldest first.
func (s *MemoryStore) Activity() []domain.ActivityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.ActivityRecord, len(s.activity))
	copy(records, s.activity)
	return records
}
