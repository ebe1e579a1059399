package offer

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/leadcore/intent-core/internal/domain"
)

// Keys read from the subscriber's lead intelligence payload.
const (
	intelEmailOpens     = "email_opens"
	intelBehaviorScore  = "behavior_score"
	intelBlueprintScore = "blueprint_score"
	intelOfferHistory   = "offer_history"
)

// InputFromSubscriber assembles engine input from stored subscriber state.
// now is passed in so the result stays a function of its arguments.
func InputFromSubscriber(subscriber *domain.Subscriber, signals []domain.Signal, now time.Time) Input {
	intel := subscriber.Intelligence()
	days := subscriber.DaysSinceSignup(now)

	return Input{
		IntentScore:     subscriber.IntentScore,
		Signals:         signals,
		EmailOpens:      intOrZero(intel[intelEmailOpens]),
		OfferHistory:    stringList(intel[intelOfferHistory]),
		JourneyPosition: subscriber.JourneyPosition,
		BlueprintScore:  optionalInt(intel[intelBlueprintScore]),
		BehaviorScore:   optionalInt(intel[intelBehaviorScore]),
		DaysSinceSignup: &days,
	}
}

func optionalInt(value any) *int {
	parsed, ok := toInt(value)
	if !ok {
		return nil
	}
	return &parsed
}

func intOrZero(value any) int {
	parsed, _ := toInt(value)
	return parsed
}

func toInt(value any) (int, bool) {
	switch typed := value.(type) {
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return 0, false
		}
		return int(typed), true
	case int:
		return typed, true
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0, false
		}
		return int(parsed), true
	case string:
		parsed, err := strconv.Atoi(typed)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func stringList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		if text, ok := item.(string); ok && text != "" {
			result = append(result, text)
		}
	}
	return result
}
