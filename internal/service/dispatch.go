package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/queue"
)

const dispatchTimeout = 10 * time.Second

// eventDispatcher enqueues automation events off the request path. Enqueue
// failures are logged and never surface to the caller.
type eventDispatcher struct {
	producer queue.Producer
	logger   *slog.Logger
	inflight sync.WaitGroup
}

func (d *eventDispatcher) dispatch(ctx context.Context, event domain.AutomationEvent) {
	if d.producer == nil {
		return
	}
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer cancel()
		if err := d.producer.Enqueue(dispatchCtx, event); err != nil {
			d.logger.Error("automation event dispatch failed",
				"event_id", event.EventID, "kind", event.Kind, "subscriber_id", event.SubscriberID, "error", err)
			return
		}
		d.logger.Debug("automation event dispatched",
			"event_id", event.EventID, "kind", event.Kind, "subscriber_id", event.SubscriberID)
	}()
}

func (d *eventDispatcher) wait() {
	d.inflight.Wait()
}
