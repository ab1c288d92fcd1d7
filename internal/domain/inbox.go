package domain

import (
	"context"
	"encoding/json"
	"time"
)

// InboxStatus tracks processing of an inbound webhook delivery.
type InboxStatus string

const (
	InboxReceived   InboxStatus = "received"
	InboxProcessing InboxStatus = "processing"
	InboxProcessed  InboxStatus = "processed"
	InboxRejected   InboxStatus = "rejected"
)

// InboxEntry records one inbound webhook delivery, deduplicated on
// (Source, ExternalID). Rejected entries never reach InboxProcessed.
type InboxEntry struct {
	ID               ID
	Source           string
	ExternalID       string
	SignatureHash    string
	ReceivedAt       time.Time
	ProcessedAt      *time.Time
	Payload          json.RawMessage
	TaskID           *ID
	Status           InboxStatus
	RejectionReason  string
}

// InboxRepository persists InboxEntry rows. Insert enforces the unique
// constraint on (Source, ExternalID) and returns ErrReplayBlocked on a
// unique-violation.
type InboxRepository interface {
	Insert(ctx context.Context, q Querier, e *InboxEntry) error
	MarkProcessed(ctx context.Context, q Querier, id ID, taskID ID, processedAt time.Time) error
	MarkRejected(ctx context.Context, q Querier, id ID, reason string) error
	SweepOlderThan(ctx context.Context, q Querier, before time.Time) (int64, error)
}
