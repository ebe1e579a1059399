package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/leadcore/intent-core/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

// BatchingConfig tunes the producer. FlushTimeout bounds both waiting for a
// free flush slot and the backend write.
type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

func (c BatchingConfig) withDefaults() BatchingConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 32
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 25 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 3 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 2048
	}
	if c.MaxInFlightBatches <= 0 {
		c.MaxInFlightBatches = 4
	}
	return c
}

type batchCapableProducer interface {
	EnqueueBatch(ctx context.Context, events []domain.AutomationEvent) error
}

type enqueueRequest struct {
	ctx    context.Context
	event  domain.AutomationEvent
	result chan error
}

// BatchingProducer collects automation events arriving close together and
// writes them to the base producer in one call. Duplicate events inside a
// batch are written once: the same event id, or a second high_intent for a
// subscriber that already has one pending. Enqueue fails fast with
// ErrQueueBackpressure once the buffer is full.
type BatchingProducer struct {
	base        Producer
	batchWriter batchCapableProducer
	config      BatchingConfig

	in         chan enqueueRequest
	slots      *semaphore.Weighted
	flushes    sync.WaitGroup
	parentDone <-chan struct{}
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	cfg = cfg.withDefaults()
	b := &BatchingProducer{
		base:       base,
		config:     cfg,
		in:         make(chan enqueueRequest, cfg.QueueCapacity),
		slots:      semaphore.NewWeighted(int64(cfg.MaxInFlightBatches)),
		parentDone: parent.Done(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if writer, ok := base.(batchCapableProducer); ok {
		b.batchWriter = writer
	}
	go b.run()
	return b
}

func (b *BatchingProducer) Enqueue(ctx context.Context, event domain.AutomationEvent) error {
	request := enqueueRequest{ctx: ctx, event: event, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	default:
	}

	select {
	case b.in <- request:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-request.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		select {
		case err := <-request.result:
			return err
		default:
			return ErrBatchingClosed
		}
	}
}

// Close flushes what is pending, waits for in-flight writes and stops the
// loop. Safe to call more than once.
func (b *BatchingProducer) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
}

func (b *BatchingProducer) run() {
	defer close(b.done)

	var (
		pending  []enqueueRequest
		deadline <-chan time.Time
	)
	for {
		select {
		case <-b.parentDone:
			b.dispatch(pending, true)
			b.flushes.Wait()
			return
		case <-b.stop:
			b.dispatch(pending, true)
			b.flushes.Wait()
			return
		case <-deadline:
			b.dispatch(pending, false)
			pending, deadline = nil, nil
		case request := <-b.in:
			if err := request.ctx.Err(); err != nil {
				request.result <- err
				continue
			}
			pending = append(pending, request)
			if len(pending) == 1 {
				deadline = time.After(b.config.FlushInterval)
			}
			if len(pending) >= b.config.MaxBatchSize {
				b.dispatch(pending, false)
				pending, deadline = nil, nil
			}
		}
	}
}

// dispatch hands the batch to a flush goroutine once a slot is free. The
// final flush on shutdown has no deadline.
func (b *BatchingProducer) dispatch(batch []enqueueRequest, final bool) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if !final {
		ctx, cancel = context.WithTimeout(ctx, b.config.FlushTimeout)
	}
	if err := b.slots.Acquire(ctx, 1); err != nil {
		cancel()
		for _, request := range batch {
			request.result <- err
		}
		return
	}

	b.flushes.Add(1)
	go func() {
		defer b.flushes.Done()
		defer b.slots.Release(1)
		defer cancel()
		b.write(ctx, batch)
	}()
}

func (b *BatchingProducer) write(ctx context.Context, batch []enqueueRequest) {
	active := make([]enqueueRequest, 0, len(batch))
	for _, request := range batch {
		if err := request.ctx.Err(); err != nil {
			request.result <- err
			continue
		}
		active = append(active, request)
	}
	if len(active) == 0 {
		return
	}

	// Events for one subscriber stay adjacent and in request order.
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].event.SubscriberID != active[j].event.SubscriberID {
			return active[i].event.SubscriberID < active[j].event.SubscriberID
		}
		return active[i].event.RequestedAt.Before(active[j].event.RequestedAt)
	})

	events := coalesce(active)
	var err error
	if b.batchWriter != nil {
		err = b.batchWriter.EnqueueBatch(ctx, events)
	} else {
		for _, event := range events {
			if err = b.base.Enqueue(ctx, event); err != nil {
				break
			}
		}
	}

	for _, request := range active {
		request.result <- err
	}
}

func coalesce(requests []enqueueRequest) []domain.AutomationEvent {
	seenIDs := make(map[string]struct{}, len(requests))
	highIntent := make(map[string]struct{})
	events := make([]domain.AutomationEvent, 0, len(requests))
	for _, request := range requests {
		event := request.event
		if event.EventID != "" {
			if _, dup := seenIDs[event.EventID]; dup {
				continue
			}
			seenIDs[event.EventID] = struct{}{}
		}
		if event.Kind == domain.AutomationHighIntent {
			if _, dup := highIntent[event.SubscriberID]; dup {
				continue
			}
			highIntent[event.SubscriberID] = struct{}{}
		}
		events = append(events, event)
	}
	return events
}
