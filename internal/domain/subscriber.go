package domain

import (
	"encoding/json"
	"time"
)

// DefaultHighIntentThreshold is the intent score at which a lead counts as
// high intent when no positive threshold is configured.
const DefaultHighIntentThreshold = 9

// HighIntentThreshold returns configured, or the default when it is not
// positive.
func HighIntentThreshold(configured int) int {
	if configured <= 0 {
		return DefaultHighIntentThreshold
	}
	return configured
}

type JourneyPosition string

const (
	JourneyLead     JourneyPosition = "lead"
	JourneyNurture  JourneyPosition = "nurture"
	JourneyWarm     JourneyPosition = "warm"
	JourneyHot      JourneyPosition = "hot"
	JourneyCustomer JourneyPosition = "customer"
)

func (p JourneyPosition) Valid() bool {
	switch p {
	case JourneyLead, JourneyNurture, JourneyWarm, JourneyHot, JourneyCustomer:
		return true
	}
	return false
}

// Subscriber is a prospective customer tracked by the marketing subsystem.
type Subscriber struct {
	ID                  string
	Email               string
	Name                string
	IntentScore         int
	JourneyPosition     JourneyPosition
	LastSignalAt        *time.Time
	FirstHighIntentAt   *time.Time
	LeadIntelligence    json.RawMessage
	OfferRecommendation json.RawMessage
	OfferComputedAt     *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Intelligence decodes the opaque lead intelligence payload. Malformed or
// empty payloads decode to an empty map.
func (s *Subscriber) Intelligence() map[string]any {
	decoded := make(map[string]any)
	if len(s.LeadIntelligence) == 0 {
		return decoded
	}
	if err := json.Unmarshal(s.LeadIntelligence, &decoded); err != nil || decoded == nil {
		return make(map[string]any)
	}
	return decoded
}

// DaysSinceSignup reports whole days elapsed since the record was created.
func (s *Subscriber) DaysSinceSignup(now time.Time) int {
	if s.CreatedAt.IsZero() || now.Before(s.CreatedAt) {
		return 0
	}
	return int(now.Sub(s.CreatedAt).Hours() / 24)
}

func CloneSubscriber(subscriber *Subscriber) *Subscriber {
	if subscriber == nil {
		return nil
	}
	clone := *subscriber
	clone.LeadIntelligence = append(json.RawMessage(nil), subscriber.LeadIntelligence...)
	clone.OfferRecommendation = append(json.RawMessage(nil), subscriber.OfferRecommendation...)
	clone.LastSignalAt = cloneTime(subscriber.LastSignalAt)
	clone.FirstHighIntentAt = cloneTime(subscriber.FirstHighIntentAt)
	clone.OfferComputedAt = cloneTime(subscriber.OfferComputedAt)
	return &clone
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
