// Package offer implements the offer pathway engine: a pure rule ladder that
// maps a subscriber's accumulated intent into a ranked offer recommendation.
//
// Nothing in this file performs I/O or reads shared state. Identical inputs
// always produce identical recommendations.
package offer

import (
	"fmt"

	"github.com/leadcore/intent-core/internal/domain"
)

type Kind string

const (
	KindMembership Kind = "membership"
	KindCredits    Kind = "credits"
	KindStudio     Kind = "studio"
	KindTrial      Kind = "trial"
	KindNone       Kind = "none"
)

// Recommendation is the engine output. Recommendation is nil when the engine
// advises to keep nurturing instead of presenting an offer.
type Recommendation struct {
	Recommendation *Kind   `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
	NextSequence   []Kind  `json:"nextSequence"`
}

// Kind returns the recommended offer, or KindNone.
func (r Recommendation) Kind() Kind {
	if r.Recommendation == nil {
		return KindNone
	}
	return *r.Recommendation
}

type Input struct {
	IntentScore     int
	Signals         []domain.Signal
	EmailOpens      int
	OfferHistory    []string
	JourneyPosition domain.JourneyPosition
	BlueprintScore  *int
	BehaviorScore   *int
	DaysSinceSignup *int
}

// Thresholds are the ladder cut-offs. They are deliberately unrelated to the
// high-intent notification threshold used by signal ingestion.
type Thresholds struct {
	Membership    int `yaml:"membership"`
	Credits       int `yaml:"credits"`
	EmailOpens    int `yaml:"email_opens"`
	BehaviorScore int `yaml:"behavior_score"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Membership:    70,
		Credits:       40,
		EmailOpens:    3,
		BehaviorScore: 30,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	defaults := DefaultThresholds()
	if t.Membership <= 0 {
		t.Membership = defaults.Membership
	}
	if t.Credits <= 0 || t.Credits > t.Membership {
		t.Credits = defaults.Credits
	}
	if t.EmailOpens <= 0 {
		t.EmailOpens = defaults.EmailOpens
	}
	if t.BehaviorScore <= 0 {
		t.BehaviorScore = defaults.BehaviorScore
	}
	return t
}

// Engine evaluates the ladder with a fixed set of thresholds.
type Engine struct {
	thresholds Thresholds
}

func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{thresholds: thresholds.withDefaults()}
}

func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Compute evaluates the ladder top to bottom; the first matching rung wins.
func (e *Engine) Compute(input Input) Recommendation {
	t := e.thresholds
	behavior := 0
	if input.BehaviorScore != nil {
		behavior = *input.BehaviorScore
	}
	score := input.IntentScore

	switch {
	case input.JourneyPosition == domain.JourneyCustomer:
		return build(KindStudio, 0.9,
			"existing customer: offer studio services as the next step up",
			KindMembership, KindCredits)
	case score >= t.Membership:
		return build(KindMembership, 0.85,
			fmt.Sprintf("intent score %d is at or above %d: ready for a membership offer", score, t.Membership),
			KindCredits, KindTrial)
	case score >= t.Credits:
		return build(KindCredits, 0.75,
			fmt.Sprintf("intent score %d is between %d and %d: offer credits as a lower-commitment entry", score, t.Credits, t.Membership),
			KindMembership, KindTrial)
	case input.EmailOpens >= t.EmailOpens || behavior >= t.BehaviorScore:
		return build(KindTrial, 0.6,
			fmt.Sprintf("low intent score %d but engaged (%d email opens, behavior score %d): offer a trial", score, input.EmailOpens, behavior),
			KindCredits, KindMembership)
	case input.EmailOpens < t.EmailOpens && behavior < t.BehaviorScore:
		return Recommendation{
			Recommendation: nil,
			Confidence:     0.4,
			Rationale:      fmt.Sprintf("low intent score %d and little engagement: continue nurture", score),
			NextSequence:   []Kind{KindTrial, KindCredits},
		}
	default:
		return build(KindTrial, 0.5, "no rule matched: default to trial", KindCredits)
	}
}

// Compute evaluates the ladder with the default thresholds.
func Compute(input Input) Recommendation {
	return NewEngine(DefaultThresholds()).Compute(input)
}

func build(kind Kind, confidence float64, rationale string, next ...Kind) Recommendation {
	recommended := kind
	return Recommendation{
		Recommendation: &recommended,
		Confidence:     confidence,
		Rationale:      rationale,
		NextSequence:   next,
	}
}
