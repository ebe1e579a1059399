// Package agents holds the built-in agents registered at startup.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/repository"
)

const (
	OfferPathwayName = "offer-pathway"
	signalHistory    = 50
)

type offerPathwayInput struct {
	SubscriberID    string   `json:"subscriberId"`
	IntentScore     *int     `json:"intentScore"`
	EmailOpens      int      `json:"emailOpens"`
	OfferHistory    []string `json:"offerHistory"`
	JourneyPosition string   `json:"journeyPosition"`
	BlueprintScore  *int     `json:"blueprintScore"`
	BehaviorScore   *int     `json:"behaviorScore"`
	DaysSinceSignup *int     `json:"daysSinceSignup"`
}

// OfferPathway computes an offer recommendation either for a stored
// subscriber or for raw scores supplied in the input.
type OfferPathway struct {
	subscribers repository.SubscriberRepository
	engine      *offer.Engine
	now         func() time.Time
}

func NewOfferPathway(subscribers repository.SubscriberRepository, engine *offer.Engine) *OfferPathway {
	return &OfferPathway{subscribers: subscribers, engine: engine, now: time.Now}
}

func (a *OfferPathway) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:        OfferPathwayName,
		Description: "Recommends the next offer from intent score, engagement and journey position.",
		Category:    "scoring",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subscriberId":    map[string]any{"type": "string", "minLength": 1},
				"intentScore":     map[string]any{"type": "integer"},
				"emailOpens":      map[string]any{"type": "integer", "minimum": 0},
				"offerHistory":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"journeyPosition": map[string]any{"enum": []any{"lead", "nurture", "warm", "hot", "customer"}},
				"blueprintScore":  map[string]any{"type": "integer"},
				"behaviorScore":   map[string]any{"type": "integer"},
				"daysSinceSignup": map[string]any{"type": "integer", "minimum": 0},
			},
			"anyOf": []any{
				map[string]any{"required": []any{"subscriberId"}},
				map[string]any{"required": []any{"intentScore"}},
			},
		},
	}
}

func (a *OfferPathway) Process(ctx context.Context, input json.RawMessage) agent.Result {
	var payload offerPathwayInput
	if err := agent.DecodeInput(input, &payload); err != nil {
		return agent.Failed(err)
	}

	if strings.TrimSpace(payload.SubscriberID) != "" {
		subscriber, err := a.subscribers.GetSubscriber(ctx, payload.SubscriberID)
		if err != nil {
			return agent.Failed(fmt.Errorf("load subscriber %s: %w", payload.SubscriberID, err))
		}
		signals, err := a.subscribers.ListSignals(ctx, subscriber.ID, signalHistory)
		if err != nil {
			return agent.Failed(fmt.Errorf("load signals: %w", err))
		}
		return agent.Succeeded(a.engine.Compute(offer.InputFromSubscriber(subscriber, signals, a.now())))
	}

	if payload.IntentScore == nil {
		return agent.Failed(fmt.Errorf("%w: subscriberId or intentScore is required", agent.ErrInvalidInput))
	}
	position := domain.JourneyPosition(payload.JourneyPosition)
	if position != "" && !position.Valid() {
		return agent.Failed(errors.Join(agent.ErrInvalidInput, fmt.Errorf("unknown journey position %q", position)))
	}
	return agent.Succeeded(a.engine.Compute(offer.Input{
		IntentScore:     *payload.IntentScore,
		EmailOpens:      payload.EmailOpens,
		OfferHistory:    payload.OfferHistory,
		JourneyPosition: position,
		BlueprintScore:  payload.BlueprintScore,
		BehaviorScore:   payload.BehaviorScore,
		DaysSinceSignup: payload.DaysSinceSignup,
	}))
}
