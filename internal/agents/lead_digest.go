package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/repository"
)

const (
	LeadDigestName      = "lead-digest"
	defaultDigestLimit  = 20
	maxDigestSignalRows = 200
)

type leadDigestInput struct {
	SubscriberID string `json:"subscriberId"`
	Limit        int    `json:"limit"`
}

type DigestSignal struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

type LeadDigest struct {
	SubscriberID    string               `json:"subscriberId"`
	IntentScore     int                  `json:"intentScore"`
	JourneyPosition string               `json:"journeyPosition"`
	Readiness       offer.Readiness      `json:"readinessLabel"`
	HighIntentAt    *time.Time           `json:"firstHighIntentAt,omitempty"`
	SignalCounts    map[string]int       `json:"signalCounts"`
	Latest          map[string]string    `json:"latest"`
	RecentSignals   []DigestSignal       `json:"recentSignals"`
	Recommendation  offer.Recommendation `json:"recommendation"`
}

// LeadDigestAgent summarises one subscriber's signal history for operators.
type LeadDigestAgent struct {
	subscribers         repository.SubscriberRepository
	engine              *offer.Engine
	highIntentThreshold int
	now                 func() time.Time
}

func NewLeadDigest(subscribers repository.SubscriberRepository, engine *offer.Engine, highIntentThreshold int) *LeadDigestAgent {
	return &LeadDigestAgent{
		subscribers:         subscribers,
		engine:              engine,
		highIntentThreshold: domain.HighIntentThreshold(highIntentThreshold),
		now:                 time.Now,
	}
}

func (a *LeadDigestAgent) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:        LeadDigestName,
		Description: "Summarises a subscriber's signals, readiness and current offer.",
		Category:    "insight",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"subscriberId"},
			"properties": map[string]any{
				"subscriberId": map[string]any{"type": "string", "minLength": 1},
				"limit":        map[string]any{"type": "integer", "minimum": 1, "maximum": maxDigestSignalRows},
			},
		},
	}
}

func (a *LeadDigestAgent) Process(ctx context.Context, input json.RawMessage) agent.Result {
	var payload leadDigestInput
	if err := agent.DecodeInput(input, &payload); err != nil {
		return agent.Failed(err)
	}
	if payload.SubscriberID == "" {
		return agent.Failed(fmt.Errorf("%w: subscriberId is required", agent.ErrInvalidInput))
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultDigestLimit
	}

	subscriber, err := a.subscribers.GetSubscriber(ctx, payload.SubscriberID)
	if err != nil {
		return agent.Failed(fmt.Errorf("load subscriber %s: %w", payload.SubscriberID, err))
	}
	signals, err := a.subscribers.ListSignals(ctx, subscriber.ID, maxDigestSignalRows)
	if err != nil {
		return agent.Failed(fmt.Errorf("load signals: %w", err))
	}

	digest := LeadDigest{
		SubscriberID:    subscriber.ID,
		IntentScore:     subscriber.IntentScore,
		JourneyPosition: string(subscriber.JourneyPosition),
		Readiness:       offer.ReadinessFor(subscriber.IntentScore, a.highIntentThreshold),
		HighIntentAt:    subscriber.FirstHighIntentAt,
		SignalCounts:    make(map[string]int),
		Latest:          make(map[string]string),
		RecentSignals:   make([]DigestSignal, 0, payload.Limit),
		Recommendation:  a.engine.Compute(offer.InputFromSubscriber(subscriber, signals, a.now())),
	}

	// Signals arrive newest first, so the first value seen per type is the latest.
	for _, signal := range signals {
		digest.SignalCounts[signal.SignalType]++
		if _, seen := digest.Latest[signal.SignalType]; !seen {
			digest.Latest[signal.SignalType] = signal.Value
		}
	}
	for _, signal := range signals {
		if len(digest.RecentSignals) == payload.Limit {
			break
		}
		digest.RecentSignals = append(digest.RecentSignals, DigestSignal{
			Type:      signal.SignalType,
			Value:     signal.Value,
			CreatedAt: signal.CreatedAt,
		})
	}
	return agent.Succeeded(digest)
}
