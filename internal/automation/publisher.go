// Package automation publishes automation events to downstream consumers
// (marketing automation, CRM sync) once the event worker picks them up.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/leadcore/intent-core/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.AutomationEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by subscriber so one subscriber's
// events land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.AutomationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode automation event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.SubscriberID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_kind", Value: []byte(event.Kind)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: event.RequestedAt,
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Kind, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is used when no broker is configured. It logs and keeps
// published events in memory.
type LogPublisher struct {
	logger *slog.Logger

	mu        sync.Mutex
	published []domain.AutomationEvent
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.AutomationEvent) error {
	p.mu.Lock()
	p.published = append(p.published, event)
	p.mu.Unlock()
	p.logger.InfoContext(ctx, "automation event", "event_id", event.EventID, "kind", event.Kind, "subscriber_id", event.SubscriberID)
	return nil
}

func (p *LogPublisher) Published() []domain.AutomationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AutomationEvent(nil), p.published...)
}
