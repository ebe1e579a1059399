// Package worker runs the background automation event loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadcore/intent-core/internal/alert"
	"github.com/leadcore/intent-core/internal/automation"
	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/queue"
	"github.com/leadcore/intent-core/internal/retry"
)

// Processor drains the automation event queue and publishes each event.
type Processor struct {
	consumer     queue.Consumer
	publisher    automation.Publisher
	alerter      alert.Alerter
	retry        retry.Policy
	restartDelay time.Duration
	logger       *slog.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	publisher automation.Publisher,
	alerter alert.Alerter,
	policy retry.Policy,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{
		consumer:     consumer,
		publisher:    publisher,
		alerter:      alerter,
		retry:        policy,
		restartDelay: 2 * time.Second,
		logger:       logger,
	}
}

// Start blocks until ctx is done, restarting the consume loop after
// backend errors.
func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processEvent)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error("event consume loop error", "error", err)

		timer := time.NewTimer(p.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processEvent(ctx context.Context, event domain.AutomationEvent) error {
	err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.publisher.Publish(ctx, event)
	})
	if err == nil {
		p.logger.Info("automation event published",
			"event_id", event.EventID, "kind", event.Kind, "subscriber_id", event.SubscriberID)
		return nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && p.alerter != nil {
		p.alerter.SendCritical(ctx,
			fmt.Sprintf("automation event %s could not be published", event.Kind),
			fmt.Sprintf("event_id=%s subscriber_id=%s attempts=%d: %v",
				event.EventID, event.SubscriberID, exhausted.Attempts, exhausted.LastError))
	}
	return fmt.Errorf("publish event %s: %w", event.EventID, err)
}
