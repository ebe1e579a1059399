package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcore/intent-core/internal/domain"
)

func TestLocalQueueDeliversEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewLocalQueue(4, 3, nil)
	require.NoError(t, q.Enqueue(ctx, highIntentEvent("evt-1", "sub-1", time.Now().UTC())))

	received := make(chan domain.AutomationEvent, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, event domain.AutomationEvent) error {
			received <- event
			return nil
		})
	}()

	select {
	case event := <-received:
		assert.Equal(t, "evt-1", event.EventID)
		assert.Equal(t, domain.AutomationHighIntent, event.Kind)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestLocalQueueDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewLocalQueue(4, 2, nil)
	q.retryDelay = time.Millisecond
	require.NoError(t, q.Enqueue(ctx, highIntentEvent("evt-poison", "sub-1", time.Now().UTC())))

	var calls atomic.Int32
	go func() {
		_ = q.Consume(ctx, func(context.Context, domain.AutomationEvent) error {
			calls.Add(1)
			return errors.New("publisher down")
		})
	}()

	require.Eventually(t, func() bool { return q.DLQSize() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	dead := q.DeadLetters()
	assert.Equal(t, "evt-poison", dead[0].EventID)
	assert.Equal(t, 2, dead[0].Attempt)
}
