package domain

import (
	"encoding/json"
	"time"
)

type WorkflowType string

const (
	WorkflowWelcome WorkflowType = "welcome"
	WorkflowNurture WorkflowType = "nurture"
	WorkflowUpsell  WorkflowType = "upsell"
)

func (w WorkflowType) Valid() bool {
	switch w {
	case WorkflowWelcome, WorkflowNurture, WorkflowUpsell:
		return true
	}
	return false
}

type LifecycleEvent string

const (
	EventSubscribed         LifecycleEvent = "subscribed"
	EventBlueprintCompleted LifecycleEvent = "blueprint_completed"
	EventCTAClicked         LifecycleEvent = "cta_clicked"
	EventPDFDownloaded      LifecycleEvent = "pdf_downloaded"
)

type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusApproved  QueueStatus = "approved"
	QueueStatusProcessed QueueStatus = "processed"
	QueueStatusRejected  QueueStatus = "rejected"
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusApproved, QueueStatusProcessed, QueueStatusRejected:
		return true
	}
	return false
}

// WorkflowQueueItem is a proposed automation awaiting operator approval.
type WorkflowQueueItem struct {
	ID           string
	SubscriberID string
	WorkflowType WorkflowType
	Payload      json.RawMessage
	Status       QueueStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// ExecutingUntil is the approval lease. While it lies in the future no
	// other approver may run the workflow.
	ExecutingUntil *time.Time
}

func (i *WorkflowQueueItem) Processed() bool {
	return i.Status == QueueStatusProcessed
}

type QueueListFilter struct {
	Status QueueStatus
	Limit  int
}

func CloneQueueItem(item *WorkflowQueueItem) *WorkflowQueueItem {
	if item == nil {
		return nil
	}
	clone := *item
	clone.Payload = append(json.RawMessage(nil), item.Payload...)
	if item.ExecutingUntil != nil {
		until := *item.ExecutingUntil
		clone.ExecutingUntil = &until
	}
	return &clone
}
