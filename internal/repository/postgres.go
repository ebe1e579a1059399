package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadcore/intent-core/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const subscriberColumns = `id, email, name, intent_score, journey_position, last_signal_at,
	first_high_intent_at, lead_intelligence, offer_recommendation, offer_computed_at, created_at, updated_at`

const queueColumns = `id, subscriber_id, workflow_type, payload, status, created_at, updated_at, executing_until`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (r *PostgresStore) Close() {
	r.pool.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *PostgresStore) CreateSubscriber(ctx context.Context, subscriber *domain.Subscriber) error {
	if subscriber.JourneyPosition == "" {
		subscriber.JourneyPosition = domain.JourneyLead
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscribers (
			id, email, name, intent_score, journey_position, lead_intelligence, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		subscriber.ID,
		subscriber.Email,
		subscriber.Name,
		subscriber.IntentScore,
		string(subscriber.JourneyPosition),
		nullableJSON(subscriber.LeadIntelligence),
		subscriber.CreatedAt,
		subscriber.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, subscriberID)
	subscriber, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query subscriber: %w", err)
	}
	return subscriber, nil
}

func (r *PostgresStore) RecordSignal(
	ctx context.Context,
	signal domain.Signal,
	increment int,
) (domain.SignalOutcome, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.SignalOutcome{}, fmt.Errorf("begin signal tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// The relative increment takes the row lock, so concurrent signals for
	// one subscriber serialize here instead of losing updates.
	outcome := domain.SignalOutcome{Signal: signal}
	err = tx.QueryRow(ctx, `
		UPDATE subscribers
		SET intent_score = intent_score + $2,
			last_signal_at = $3,
			updated_at = $3
		WHERE id = $1
		RETURNING intent_score, first_high_intent_at
	`, signal.SubscriberID, increment, signal.CreatedAt).Scan(&outcome.IntentScore, &outcome.FirstHighIntentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SignalOutcome{}, ErrNotFound
		}
		return domain.SignalOutcome{}, fmt.Errorf("increment intent score: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO signals (id, subscriber_id, signal_type, value, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, signal.ID, signal.SubscriberID, signal.SignalType, signal.Value, signal.CreatedAt)
	if err != nil {
		return domain.SignalOutcome{}, fmt.Errorf("insert signal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SignalOutcome{}, fmt.Errorf("commit signal tx: %w", err)
	}
	return outcome, nil
}

func (r *PostgresStore) MarkHighIntent(ctx context.Context, subscriberID string, at time.Time) (bool, error) {
	command, err := r.pool.Exec(ctx, `
		UPDATE subscribers
		SET first_high_intent_at = $2
		WHERE id = $1 AND first_high_intent_at IS NULL
	`, subscriberID, at)
	if err != nil {
		return false, fmt.Errorf("mark high intent: %w", err)
	}
	return command.RowsAffected() == 1, nil
}

func (r *PostgresStore) LatestSignals(
	ctx context.Context,
	subscriberID string,
	signalTypes []string,
) (map[string]domain.Signal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (signal_type) id, subscriber_id, signal_type, value, created_at
		FROM signals
		WHERE subscriber_id = $1 AND signal_type = ANY($2)
		ORDER BY signal_type, created_at DESC
	`, subscriberID, signalTypes)
	if err != nil {
		return nil, fmt.Errorf("query latest signals: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]domain.Signal)
	for rows.Next() {
		var signal domain.Signal
		if err := rows.Scan(&signal.ID, &signal.SubscriberID, &signal.SignalType, &signal.Value, &signal.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		latest[signal.SignalType] = signal
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate latest signals: %w", rows.Err())
	}
	return latest, nil
}

func (r *PostgresStore) ListSignals(ctx context.Context, subscriberID string, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, subscriber_id, signal_type, value, created_at
		FROM signals
		WHERE subscriber_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, subscriberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	signals := make([]domain.Signal, 0)
	for rows.Next() {
		var signal domain.Signal
		if err := rows.Scan(&signal.ID, &signal.SubscriberID, &signal.SignalType, &signal.Value, &signal.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		signals = append(signals, signal)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate signals: %w", rows.Err())
	}
	return signals, nil
}

func (r *PostgresStore) ListRecomputeCandidates(
	ctx context.Context,
	signalsSince time.Time,
	staleBefore time.Time,
	limit int,
) ([]*domain.Subscriber, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers s
		WHERE EXISTS (
				SELECT 1 FROM signals g WHERE g.subscriber_id = s.id AND g.created_at >= $1
			)
			OR s.offer_computed_at IS NULL
			OR s.offer_computed_at < $2
		ORDER BY s.last_signal_at DESC NULLS LAST
		LIMIT $3
	`, signalsSince, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list recompute candidates: %w", err)
	}
	defer rows.Close()

	subscribers := make([]*domain.Subscriber, 0)
	for rows.Next() {
		subscriber, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		subscribers = append(subscribers, subscriber)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate candidates: %w", rows.Err())
	}
	return subscribers, nil
}

func (r *PostgresStore) SaveOfferRecommendation(
	ctx context.Context,
	subscriberID string,
	recommendation json.RawMessage,
	at time.Time,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE subscribers
		SET offer_recommendation = $2, offer_computed_at = $3
		WHERE id = $1
	`, subscriberID, nullableJSON(recommendation), at)
	if err != nil {
		return fmt.Errorf("save offer recommendation: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) CreateQueueItem(ctx context.Context, item *domain.WorkflowQueueItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_queue (`+queueColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		item.ID,
		item.SubscriberID,
		string(item.WorkflowType),
		nullableJSON(item.Payload),
		string(item.Status),
		item.CreatedAt,
		item.UpdatedAt,
		item.ExecutingUntil,
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetQueueItem(ctx context.Context, itemID string) (*domain.WorkflowQueueItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM workflow_queue WHERE id = $1`, itemID)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query queue item: %w", err)
	}
	return item, nil
}

func (r *PostgresStore) TransitionQueueItem(
	ctx context.Context,
	itemID string,
	from []domain.QueueStatus,
	to domain.QueueStatus,
	at time.Time,
) (*domain.WorkflowQueueItem, error) {
	allowed := make([]string, 0, len(from))
	for _, status := range from {
		allowed = append(allowed, string(status))
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE workflow_queue
		SET status = $2, updated_at = $3, executing_until = NULL
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+queueColumns,
		itemID, string(to), at, allowed,
	)
	item, err := scanQueueItem(row)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition queue item: %w", err)
	}

	current, getErr := r.GetQueueItem(ctx, itemID)
	if getErr != nil {
		return nil, getErr
	}
	return current, ErrInvalidTransition
}

func (r *PostgresStore) ClaimQueueItem(
	ctx context.Context,
	itemID string,
	at, until time.Time,
) (*domain.WorkflowQueueItem, error) {
	claimable := make([]string, 0, len(claimableStatuses))
	for _, status := range claimableStatuses {
		claimable = append(claimable, string(status))
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE workflow_queue
		SET status = $2, updated_at = $3, executing_until = $4
		WHERE id = $1
		  AND status = ANY($5)
		  AND (executing_until IS NULL OR executing_until < $3)
		RETURNING `+queueColumns,
		itemID, string(domain.QueueStatusApproved), at, until, claimable,
	)
	item, err := scanQueueItem(row)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim queue item: %w", err)
	}

	current, getErr := r.GetQueueItem(ctx, itemID)
	if getErr != nil {
		return nil, getErr
	}
	if containsStatus(claimableStatuses, current.Status) {
		return current, ErrClaimHeld
	}
	return current, ErrInvalidTransition
}

func (r *PostgresStore) ReleaseQueueItem(ctx context.Context, itemID string, until time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_queue SET executing_until = NULL
		WHERE id = $1 AND executing_until = $2
	`, itemID, until)
	if err != nil {
		return fmt.Errorf("release queue item: %w", err)
	}
	return nil
}

func (r *PostgresStore) ListQueueItems(
	ctx context.Context,
	filter domain.QueueListFilter,
) ([]*domain.WorkflowQueueItem, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + queueColumns + ` FROM workflow_queue`
	args := make([]any, 0, 2)
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, filter.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.WorkflowQueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate queue items: %w", rows.Err())
	}
	return items, nil
}

func (r *PostgresStore) LogActivity(ctx context.Context, record domain.ActivityRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO activity_log (id, subscriber_id, queue_item_id, kind, detail, created_at)
		VALUES ($1,$2,NULLIF($3, ''),$4,$5,$6)
	`,
		record.ID,
		record.SubscriberID,
		record.QueueItemID,
		string(record.Kind),
		nullableJSON(record.Detail),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *PostgresStore) HasActivity(ctx context.Context, queueItemID string, kind domain.ActivityKind) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM activity_log WHERE queue_item_id = $1 AND kind = $2)
	`, queueItemID, string(kind)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query activity: %w", err)
	}
	return exists, nil
}

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var (
		subscriber     domain.Subscriber
		journey        string
		intelligence   []byte
		recommendation []byte
	)
	err := row.Scan(
		&subscriber.ID,
		&subscriber.Email,
		&subscriber.Name,
		&subscriber.IntentScore,
		&journey,
		&subscriber.LastSignalAt,
		&subscriber.FirstHighIntentAt,
		&intelligence,
		&recommendation,
		&subscriber.OfferComputedAt,
		&subscriber.CreatedAt,
		&subscriber.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	subscriber.JourneyPosition = domain.JourneyPosition(journey)
	subscriber.LeadIntelligence = json.RawMessage(intelligence)
	subscriber.OfferRecommendation = json.RawMessage(recommendation)
	return &subscriber, nil
}

func scanQueueItem(row pgx.Row) (*domain.WorkflowQueueItem, error) {
	var (
		item         domain.WorkflowQueueItem
		workflowType string
		status       string
		payload      []byte
	)
	err := row.Scan(
		&item.ID,
		&item.SubscriberID,
		&workflowType,
		&payload,
		&status,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ExecutingUntil,
	)
	if err != nil {
		return nil, err
	}
	item.WorkflowType = domain.WorkflowType(workflowType)
	item.Status = domain.QueueStatus(status)
	item.Payload = json.RawMessage(payload)
	return &item, nil
}

func nullableJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return []byte(value)
}
