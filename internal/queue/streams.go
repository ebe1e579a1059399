package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadcore/intent-core/internal/domain"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

// StreamsQueue implements Producer and Consumer on Redis Streams.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := newStreamsQueue(client, cfg)
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func newStreamsQueue(client *redis.Client, cfg StreamsConfig) *StreamsQueue {
	if cfg.Stream == "" {
		cfg.Stream = "leadcore_events"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "leadcore_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "leadcore-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
	}
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, event domain.AutomationEvent) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: eventValues(event),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, events []domain.AutomationEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipeline := q.client.Pipeline()
	for _, event := range events {
		pipeline.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: eventValues(event)})
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue batch to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.AutomationEvent) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handle(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) handle(ctx context.Context, item redis.XMessage, handler func(context.Context, domain.AutomationEvent) error) {
	event, parseErr := parseStreamEvent(item)
	if parseErr != nil {
		_ = q.sendToDLQ(ctx, domain.AutomationEvent{}, item, parseErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	handleErr := handler(ctx, event)
	if handleErr == nil {
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	event.Attempt++
	if event.Attempt >= q.maxAttempts {
		_ = q.sendToDLQ(ctx, event, item, handleErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	if requeueErr := q.Enqueue(ctx, event); requeueErr != nil {
		_ = q.sendToDLQ(ctx, event, item, fmt.Sprintf("requeue failed: %v", requeueErr))
	}
	_ = q.ackAndDelete(ctx, item.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, event domain.AutomationEvent, item redis.XMessage, reason string) error {
	values := eventValues(event)
	values["stream_id"] = item.ID
	values["error"] = reason
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func eventValues(event domain.AutomationEvent) map[string]any {
	return map[string]any{
		"event_id":      event.EventID,
		"kind":          string(event.Kind),
		"subscriber_id": event.SubscriberID,
		"payload":       string(event.Payload),
		"attempt":       event.Attempt,
		"requested_at":  event.RequestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseStreamEvent(item redis.XMessage) (domain.AutomationEvent, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	fields := make(map[string]string, 6)
	for _, key := range []string{"event_id", "kind", "subscriber_id", "payload", "attempt", "requested_at"} {
		value, err := getString(key)
		if err != nil {
			return domain.AutomationEvent{}, err
		}
		fields[key] = value
	}

	attempt, err := strconv.Atoi(fields["attempt"])
	if err != nil {
		return domain.AutomationEvent{}, fmt.Errorf("invalid attempt: %w", err)
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, fields["requested_at"])
	if err != nil {
		return domain.AutomationEvent{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	var payload []byte
	if fields["payload"] != "" {
		payload = []byte(fields["payload"])
	}

	return domain.AutomationEvent{
		EventID:      fields["event_id"],
		Kind:         domain.AutomationEventKind(fields["kind"]),
		SubscriberID: fields["subscriber_id"],
		Payload:      payload,
		Attempt:      attempt,
		RequestedAt:  requestedAt,
	}, nil
}
