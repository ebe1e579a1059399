package domain

import (
	"encoding/json"
	"time"
)

type ActivityKind string

const (
	ActivityWorkflowApproved ActivityKind = "workflow_approved"
	ActivityWorkflowExecuted ActivityKind = "workflow_executed"
	ActivityWorkflowRejected ActivityKind = "workflow_rejected"
	ActivityOfferRecomputed  ActivityKind = "offer_recomputed"
)

// ActivityRecord is an append-only audit entry about automation outcomes.
type ActivityRecord struct {
	ID           string
	SubscriberID string
	QueueItemID  string
	Kind         ActivityKind
	Detail       json.RawMessage
	CreatedAt    time.Time
}
