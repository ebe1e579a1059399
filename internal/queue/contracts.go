// Package queue carries automation events from request handlers to the
// background event worker.
package queue

import (
	"context"

	"github.com/leadcore/intent-core/internal/domain"
)

// Producer hands automation events to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, event domain.AutomationEvent) error
}

// Consumer delivers queued events to a handler. A handler error counts as a
// failed attempt; the backend redelivers until its attempt budget is spent
// and then dead-letters the event.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.AutomationEvent) error) error
}
