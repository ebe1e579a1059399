package domain

import "time"

// SignalIncrement is the fixed intent score bump applied per recorded signal.
const SignalIncrement = 3

// Signal is an immutable behavioral observation about a subscriber.
type Signal struct {
	ID           string
	SubscriberID string
	SignalType   string
	Value        string
	CreatedAt    time.Time
}

// SignalOutcome is what the store reports after atomically recording a
// signal and bumping the subscriber score.
type SignalOutcome struct {
	Signal            Signal
	IntentScore       int
	FirstHighIntentAt *time.Time
}
