package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcore/intent-core/internal/domain"
)

type recordingBatchProducer struct {
	mu      sync.Mutex
	batches [][]domain.AutomationEvent
}

func (p *recordingBatchProducer) Enqueue(ctx context.Context, event domain.AutomationEvent) error {
	return p.EnqueueBatch(ctx, []domain.AutomationEvent{event})
}

func (p *recordingBatchProducer) EnqueueBatch(_ context.Context, events []domain.AutomationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]domain.AutomationEvent(nil), events...))
	return nil
}

func (p *recordingBatchProducer) snapshot() [][]domain.AutomationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]domain.AutomationEvent(nil), p.batches...)
}

type blockingBatchProducer struct {
	block chan struct{}
}

func (p *blockingBatchProducer) Enqueue(ctx context.Context, event domain.AutomationEvent) error {
	return p.EnqueueBatch(ctx, []domain.AutomationEvent{event})
}

func (p *blockingBatchProducer) EnqueueBatch(ctx context.Context, _ []domain.AutomationEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.block:
		return nil
	}
}

func highIntentEvent(id, subscriberID string, at time.Time) domain.AutomationEvent {
	return domain.AutomationEvent{
		EventID:      id,
		Kind:         domain.AutomationHighIntent,
		SubscriberID: subscriberID,
		Payload:      []byte(`{"intentScore":12}`),
		RequestedAt:  at,
	}
}

func processedEvent(id, subscriberID string, at time.Time) domain.AutomationEvent {
	return domain.AutomationEvent{
		EventID:      id,
		Kind:         domain.AutomationWorkflowProcessed,
		SubscriberID: subscriberID,
		Payload:      []byte(`{"workflowType":"welcome"}`),
		RequestedAt:  at,
	}
}

func TestBatchingProducerBatchesRequests(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &recordingBatchProducer{}
	batcher := NewBatchingProducer(parent, base, BatchingConfig{
		MaxBatchSize:       8,
		FlushInterval:      20 * time.Millisecond,
		FlushTimeout:       time.Second,
		QueueCapacity:      64,
		MaxInFlightBatches: 2,
	})
	defer batcher.Close()

	start := time.Now().UTC()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			event := processedEvent(fmt.Sprintf("evt-%d", index), fmt.Sprintf("sub-%d", index%2), start.Add(time.Duration(index)*time.Millisecond))
			assert.NoError(t, batcher.Enqueue(context.Background(), event))
		}(i)
	}
	wg.Wait()

	total := 0
	batches := base.snapshot()
	for _, batch := range batches {
		total += len(batch)
	}
	assert.Equal(t, 10, total)
	assert.Less(t, len(batches), 10, "batching should reduce write count")
}

func TestBatchingProducerKeepsSubscriberEventsAdjacent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &recordingBatchProducer{}
	batcher := NewBatchingProducer(parent, base, BatchingConfig{MaxBatchSize: 4, FlushInterval: time.Hour})
	defer batcher.Close()

	start := time.Now().UTC()
	events := []domain.AutomationEvent{
		processedEvent("e1", "sub-b", start),
		processedEvent("e2", "sub-a", start.Add(time.Millisecond)),
		processedEvent("e3", "sub-b", start.Add(2*time.Millisecond)),
		processedEvent("e4", "sub-a", start.Add(3*time.Millisecond)),
	}

	var wg sync.WaitGroup
	for _, event := range events {
		wg.Add(1)
		go func(event domain.AutomationEvent) {
			defer wg.Done()
			assert.NoError(t, batcher.Enqueue(context.Background(), event))
		}(event)
	}
	wg.Wait()

	batches := base.snapshot()
	require.Len(t, batches, 1)
	ids := make([]string, 0, 4)
	for _, event := range batches[0] {
		ids = append(ids, event.EventID)
	}
	assert.Equal(t, []string{"e2", "e4", "e1", "e3"}, ids)
}

func TestBatchingProducerBackpressure(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &blockingBatchProducer{block: make(chan struct{})}
	batcher := NewBatchingProducer(parent, base, BatchingConfig{
		MaxBatchSize:       1,
		FlushInterval:      200 * time.Millisecond,
		FlushTimeout:       2 * time.Second,
		QueueCapacity:      1,
		MaxInFlightBatches: 1,
	})
	defer batcher.Close()

	enqueue := func(id string) chan error {
		done := make(chan error, 1)
		go func() {
			done <- batcher.Enqueue(context.Background(), processedEvent(id, "sub-1", time.Now().UTC()))
		}()
		time.Sleep(30 * time.Millisecond)
		return done
	}

	// first holds the only flush slot, second parks the loop waiting for it,
	// third fills the buffer.
	first := enqueue("first")
	second := enqueue("second")
	third := enqueue("third")

	err := batcher.Enqueue(context.Background(), processedEvent("fourth", "sub-1", time.Now().UTC()))
	assert.ErrorIs(t, err, ErrQueueBackpressure)

	close(base.block)
	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
	assert.NoError(t, <-third)
}

func TestBatchingProducerCoalescesDuplicates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &recordingBatchProducer{}
	batcher := NewBatchingProducer(parent, base, BatchingConfig{MaxBatchSize: 4, FlushInterval: time.Hour})
	defer batcher.Close()

	start := time.Now().UTC()
	events := []domain.AutomationEvent{
		highIntentEvent("h1", "sub-a", start),
		highIntentEvent("h2", "sub-a", start.Add(time.Millisecond)),
		processedEvent("p1", "sub-a", start.Add(2*time.Millisecond)),
		processedEvent("p1", "sub-a", start.Add(3*time.Millisecond)),
	}

	var wg sync.WaitGroup
	for _, event := range events {
		wg.Add(1)
		go func(event domain.AutomationEvent) {
			defer wg.Done()
			assert.NoError(t, batcher.Enqueue(context.Background(), event))
		}(event)
	}
	wg.Wait()

	batches := base.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "h1", batches[0][0].EventID)
	assert.Equal(t, "p1", batches[0][1].EventID)
}

func TestBatchingProducerCloseFlushesPending(t *testing.T) {
	base := &recordingBatchProducer{}
	batcher := NewBatchingProducer(context.Background(), base, BatchingConfig{MaxBatchSize: 10, FlushInterval: time.Hour})

	done := make(chan error, 1)
	go func() {
		done <- batcher.Enqueue(context.Background(), processedEvent("pending", "sub-1", time.Now().UTC()))
	}()
	time.Sleep(20 * time.Millisecond)

	batcher.Close()
	assert.NoError(t, <-done)
	require.Len(t, base.snapshot(), 1)
}

func TestBatchingProducerRejectsAfterClose(t *testing.T) {
	batcher := NewBatchingProducer(context.Background(), &recordingBatchProducer{}, BatchingConfig{})
	batcher.Close()

	err := batcher.Enqueue(context.Background(), highIntentEvent("late", "sub-1", time.Now().UTC()))
	assert.ErrorIs(t, err, ErrBatchingClosed)
}
