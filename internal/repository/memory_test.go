package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcore/intent-core/internal/domain"
)

var baseTime = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newSeededStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSubscriber(context.Background(), &domain.Subscriber{
		ID:        "sub-1",
		Email:     "lin@example.com",
		CreatedAt: baseTime,
	}))
	return store
}

func signalAt(id, signalType, value string, offset time.Duration) domain.Signal {
	return domain.Signal{
		ID:           id,
		SubscriberID: "sub-1",
		SignalType:   signalType,
		Value:        value,
		CreatedAt:    baseTime.Add(offset),
	}
}

func TestMemoryStoreDefaultsJourneyAndIsolatesCopies(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	subscriber, err := store.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JourneyLead, subscriber.JourneyPosition)

	subscriber.IntentScore = 99
	again, err := store.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	assert.Zero(t, again.IntentScore)

	_, err = store.GetSubscriber(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRecordSignal(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	outcome, err := store.RecordSignal(ctx, signalAt("s1", "focus", "brand", time.Minute), domain.SignalIncrement)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.IntentScore)
	assert.Nil(t, outcome.FirstHighIntentAt)

	subscriber, err := store.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, subscriber.LastSignalAt)
	assert.Equal(t, baseTime.Add(time.Minute), *subscriber.LastSignalAt)

	_, err = store.RecordSignal(ctx, domain.Signal{ID: "s2", SubscriberID: "missing"}, domain.SignalIncrement)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMarkHighIntentIsSetOnce(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	marked, err := store.MarkHighIntent(ctx, "sub-1", baseTime)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = store.MarkHighIntent(ctx, "sub-1", baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, marked)

	subscriber, err := store.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, subscriber.FirstHighIntentAt)
	assert.Equal(t, baseTime, *subscriber.FirstHighIntentAt)

	outcome, err := store.RecordSignal(ctx, signalAt("s1", "focus", "brand", time.Minute), domain.SignalIncrement)
	require.NoError(t, err)
	require.NotNil(t, outcome.FirstHighIntentAt)
}

func TestMemoryStoreSignalQueries(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	for _, signal := range []domain.Signal{
		signalAt("s1", "focus", "brand", time.Minute),
		signalAt("s2", "stuck", "pricing", 2*time.Minute),
		signalAt("s3", "focus", "website", 3*time.Minute),
		signalAt("s4", "cta", "book", 4*time.Minute),
	} {
		_, err := store.RecordSignal(ctx, signal, domain.SignalIncrement)
		require.NoError(t, err)
	}

	latest, err := store.LatestSignals(ctx, "sub-1", []string{"focus", "stuck", "timeline"})
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	assert.Equal(t, "website", latest["focus"].Value)
	assert.Equal(t, "pricing", latest["stuck"].Value)

	recent, err := store.ListSignals(ctx, "sub-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s4", recent[0].ID)
	assert.Equal(t, "s3", recent[1].ID)
}

func TestMemoryStoreRecomputeCandidates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cutoff := baseTime.Add(-24 * time.Hour)
	fresh := baseTime.Add(-time.Hour)
	stale := baseTime.Add(-48 * time.Hour)

	require.NoError(t, store.CreateSubscriber(ctx, &domain.Subscriber{ID: "never-computed"}))
	require.NoError(t, store.CreateSubscriber(ctx, &domain.Subscriber{ID: "fresh", OfferComputedAt: &fresh}))
	require.NoError(t, store.CreateSubscriber(ctx, &domain.Subscriber{ID: "stale", OfferComputedAt: &stale}))
	require.NoError(t, store.CreateSubscriber(ctx, &domain.Subscriber{ID: "active", OfferComputedAt: &fresh, LastSignalAt: &fresh}))

	candidates, err := store.ListRecomputeCandidates(ctx, cutoff, cutoff, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		ids = append(ids, candidate.ID)
	}
	assert.ElementsMatch(t, []string{"never-computed", "stale", "active"}, ids)
	assert.Equal(t, "active", ids[0])

	limited, err := store.ListRecomputeCandidates(ctx, cutoff, cutoff, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.SaveOfferRecommendation(ctx, "stale", json.RawMessage(`{"recommendation":"trial"}`), baseTime))
	candidates, err = store.ListRecomputeCandidates(ctx, cutoff, cutoff, 10)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)

	assert.ErrorIs(t, store.SaveOfferRecommendation(ctx, "missing", nil, baseTime), ErrNotFound)
}

func TestMemoryStoreQueueTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateQueueItem(ctx, &domain.WorkflowQueueItem{
		ID:           "q1",
		SubscriberID: "sub-1",
		WorkflowType: domain.WorkflowWelcome,
		Status:       domain.QueueStatusPending,
		CreatedAt:    baseTime,
	}))

	item, err := store.TransitionQueueItem(ctx, "q1",
		[]domain.QueueStatus{domain.QueueStatusPending}, domain.QueueStatusApproved, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusApproved, item.Status)

	current, err := store.TransitionQueueItem(ctx, "q1",
		[]domain.QueueStatus{domain.QueueStatusPending}, domain.QueueStatusRejected, baseTime.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NotNil(t, current)
	assert.Equal(t, domain.QueueStatusApproved, current.Status)

	_, err = store.TransitionQueueItem(ctx, "missing",
		[]domain.QueueStatus{domain.QueueStatusPending}, domain.QueueStatusApproved, baseTime)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreClaimQueueItem(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateQueueItem(ctx, &domain.WorkflowQueueItem{
		ID:           "q1",
		SubscriberID: "sub-1",
		WorkflowType: domain.WorkflowNurture,
		Status:       domain.QueueStatusPending,
		CreatedAt:    baseTime,
	}))

	leaseEnd := baseTime.Add(time.Minute)
	claimed, err := store.ClaimQueueItem(ctx, "q1", baseTime, leaseEnd)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusApproved, claimed.Status)
	require.NotNil(t, claimed.ExecutingUntil)
	assert.True(t, leaseEnd.Equal(*claimed.ExecutingUntil))

	current, err := store.ClaimQueueItem(ctx, "q1", baseTime.Add(30*time.Second), baseTime.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrClaimHeld)
	require.NotNil(t, current)
	assert.True(t, leaseEnd.Equal(*current.ExecutingUntil))

	// Releasing with a stale lease value leaves the live lease alone.
	require.NoError(t, store.ReleaseQueueItem(ctx, "q1", baseTime.Add(time.Hour)))
	_, err = store.ClaimQueueItem(ctx, "q1", baseTime.Add(30*time.Second), baseTime.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrClaimHeld)

	reclaimed, err := store.ClaimQueueItem(ctx, "q1", leaseEnd.Add(time.Second), leaseEnd.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, leaseEnd.Add(time.Minute).Equal(*reclaimed.ExecutingUntil))

	processed, err := store.TransitionQueueItem(ctx, "q1",
		[]domain.QueueStatus{domain.QueueStatusApproved}, domain.QueueStatusProcessed, leaseEnd.Add(2*time.Second))
	require.NoError(t, err)
	assert.Nil(t, processed.ExecutingUntil)

	_, err = store.ClaimQueueItem(ctx, "q1", leaseEnd.Add(time.Hour), leaseEnd.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = store.ClaimQueueItem(ctx, "missing", baseTime, leaseEnd)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListQueueItems(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, status := range []domain.QueueStatus{domain.QueueStatusPending, domain.QueueStatusProcessed, domain.QueueStatusPending} {
		require.NoError(t, store.CreateQueueItem(ctx, &domain.WorkflowQueueItem{
			ID:        string(rune('a' + i)),
			Status:    status,
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}

	pending, err := store.ListQueueItems(ctx, domain.QueueListFilter{Status: domain.QueueStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c", pending[0].ID)

	limited, err := store.ListQueueItems(ctx, domain.QueueListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStoreActivity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	found, err := store.HasActivity(ctx, "q1", domain.ActivityWorkflowExecuted)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.LogActivity(ctx, domain.ActivityRecord{
		ID:          "a1",
		QueueItemID: "q1",
		Kind:        domain.ActivityWorkflowExecuted,
		Detail:      json.RawMessage(`{"agent":"welcome-email"}`),
		CreatedAt:   baseTime,
	}))

	found, err = store.HasActivity(ctx, "q1", domain.ActivityWorkflowExecuted)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = store.HasActivity(ctx, "q1", domain.ActivityWorkflowApproved)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Len(t, store.Activity(), 1)
}

func TestMemoryStoreScoreIsMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("each recorded signal adds exactly the increment", prop.ForAll(
		func(increments []int) bool {
			store := NewMemoryStore()
			ctx := context.Background()
			if err := store.CreateSubscriber(ctx, &domain.Subscriber{ID: "sub-1"}); err != nil {
				return false
			}
			expected := 0
			for i, increment := range increments {
				outcome, err := store.RecordSignal(ctx, signalAt("s", "focus", "v", time.Duration(i)*time.Second), increment)
				if err != nil {
					return false
				}
				expected += increment
				if outcome.IntentScore != expected {
					return false
				}
			}
			signals, err := store.ListSignals(ctx, "sub-1", 0)
			return err == nil && len(signals) == len(increments)
		},
		gen.SliceOf(gen.IntRange(0, 10)),
	))

	properties.TestingRun(t)
}
