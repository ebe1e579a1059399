package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leadcore/intent-core/internal/domain"
)

// LocalQueue is the in-process backend used when Redis is not configured.
type LocalQueue struct {
	ch          chan domain.AutomationEvent
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger

	dlqMu sync.Mutex
	dlq   []domain.AutomationEvent
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *slog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalQueue{
		ch:          make(chan domain.AutomationEvent, bufferSize),
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		logger:      logger,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, event domain.AutomationEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- event:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, events []domain.AutomationEvent) error {
	for _, event := range events {
		if err := q.Enqueue(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.AutomationEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-q.ch:
			err := handler(ctx, event)
			if err == nil {
				continue
			}

			event.Attempt++
			if event.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, event)
				q.dlqMu.Unlock()
				q.logger.Warn("local queue moved event to DLQ",
					"event_id", event.EventID, "kind", event.Kind, "error", err)
				continue
			}

			delay := time.Duration(event.Attempt) * q.retryDelay
			go func(retry domain.AutomationEvent) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
				case <-timer.C:
					select {
					case q.ch <- retry:
					case <-ctx.Done():
					}
				}
			}(event)
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

// DeadLetters returns a copy of the dead-lettered events.
func (q *LocalQueue) DeadLetters() []domain.AutomationEvent {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return append([]domain.AutomationEvent(nil), q.dlq...)
}
