package domain

import (
	"encoding/json"
	"time"
)

type AutomationEventKind string

const (
	AutomationHighIntent        AutomationEventKind = "high_intent"
	AutomationWorkflowProcessed AutomationEventKind = "workflow_processed"
)

// AutomationEvent is the transport format sent to the background event queue.
type AutomationEvent struct {
	EventID      string              `json:"event_id"`
	Kind         AutomationEventKind `json:"kind"`
	SubscriberID string              `json:"subscriber_id"`
	Payload      json.RawMessage     `json:"payload"`
	Attempt      int                 `json:"attempt"`
	RequestedAt  time.Time           `json:"requested_at"`
}
