package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/repository"
)

const signalsPerRecommendation = 50

type RecomputeConfig struct {
	Window  time.Duration
	Limit   int
	Spacing time.Duration
}

func DefaultRecomputeConfig() RecomputeConfig {
	return RecomputeConfig{
		Window:  24 * time.Hour,
		Limit:   100,
		Spacing: 200 * time.Millisecond,
	}
}

type SubscriberRecommendation struct {
	SubscriberID string `json:"subscriberId"`
	offer.Recommendation
	ComputedAt time.Time `json:"computedAt"`
}

type RecomputeSummary struct {
	Candidates int       `json:"candidates"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	DurationMS int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
}

// OfferService evaluates the offer engine for stored subscribers and runs the
// periodic recompute that caches recommendations on the subscriber row.
type OfferService struct {
	store  repository.Store
	engine *offer.Engine
	config RecomputeConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewOfferService(store repository.Store, engine *offer.Engine, config RecomputeConfig, logger *slog.Logger) *OfferService {
	defaults := DefaultRecomputeConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.Limit <= 0 {
		config.Limit = defaults.Limit
	}
	if config.Spacing < 0 {
		config.Spacing = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OfferService{
		store:  store,
		engine: engine,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *OfferService) Recommend(ctx context.Context, subscriberID string) (SubscriberRecommendation, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return SubscriberRecommendation{}, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	subscriber, err := s.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return SubscriberRecommendation{}, classify(err, "get subscriber")
	}
	return s.compute(ctx, subscriber)
}

func (s *OfferService) compute(ctx context.Context, subscriber *domain.Subscriber) (SubscriberRecommendation, error) {
	signals, err := s.store.ListSignals(ctx, subscriber.ID, signalsPerRecommendation)
	if err != nil {
		return SubscriberRecommendation{}, fmt.Errorf("list signals: %w", err)
	}
	now := s.now()
	return SubscriberRecommendation{
		SubscriberID:   subscriber.ID,
		Recommendation: s.engine.Compute(offer.InputFromSubscriber(subscriber, signals, now)),
		ComputedAt:     now,
	}, nil
}

// Recompute refreshes cached recommendations for subscribers with recent
// signals or stale caches, spacing writes with a rate limiter. Item failures
// are counted and logged; only cancellation stops the run early.
func (s *OfferService) Recompute(ctx context.Context) (RecomputeSummary, error) {
	started := s.now()
	summary := RecomputeSummary{StartedAt: started}
	cutoff := started.Add(-s.config.Window)

	candidates, err := s.store.ListRecomputeCandidates(ctx, cutoff, cutoff, s.config.Limit)
	if err != nil {
		return summary, fmt.Errorf("list recompute candidates: %w", err)
	}
	summary.Candidates = len(candidates)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.config.Spacing > 0 {
		limiter = rate.NewLimiter(rate.Every(s.config.Spacing), 1)
	}

	for _, subscriber := range candidates {
		if err := limiter.Wait(ctx); err != nil {
			summary.DurationMS = s.now().Sub(started).Milliseconds()
			return summary, fmt.Errorf("recompute interrupted: %w", err)
		}
		if err := s.recomputeOne(ctx, subscriber); err != nil {
			summary.Failed++
			s.logger.Error("offer recompute failed", "subscriber_id", subscriber.ID, "error", err)
			continue
		}
		summary.Updated++
	}

	summary.DurationMS = s.now().Sub(started).Milliseconds()
	s.logger.Info("offer recompute finished",
		"candidates", summary.Candidates, "updated", summary.Updated, "failed", summary.Failed,
		"duration_ms", summary.DurationMS)
	return summary, nil
}

func (s *OfferService) recomputeOne(ctx context.Context, subscriber *domain.Subscriber) error {
	computed, err := s.compute(ctx, subscriber)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(computed.Recommendation)
	if err != nil {
		return fmt.Errorf("encode recommendation: %w", err)
	}
	if err := s.store.SaveOfferRecommendation(ctx, subscriber.ID, encoded, computed.ComputedAt); err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}

	detail, _ := json.Marshal(map[string]any{
		"recommendation": computed.Kind(),
		"confidence":     computed.Confidence,
	})
	err = s.store.LogActivity(ctx, domain.ActivityRecord{
		ID:           uuid.NewString(),
		SubscriberID: subscriber.ID,
		Kind:         domain.ActivityOfferRecomputed,
		Detail:       detail,
		CreatedAt:    computed.ComputedAt,
	})
	if err != nil {
		s.logger.Warn("activity log write failed", "subscriber_id", subscriber.ID, "error", err)
	}
	return nil
}
