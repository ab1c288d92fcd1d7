package domain

import (
	"context"
	"encoding/json"
	"time"
)

// OutboxStatus tracks delivery of one side-effect row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEffectType selects which sink transport the relay uses to deliver
// an entry: webhook (signed HTTP POST), kafka, or amqp.
type OutboxEffectType string

const (
	OutboxEffectWebhook OutboxEffectType = "webhook"
	OutboxEffectKafka   OutboxEffectType = "kafka"
	OutboxEffectAMQP    OutboxEffectType = "amqp"
)

// OutboxEntry is a side-effect recorded in the same transaction that
// finalizes the originating Run, delivered later by the relay.
type OutboxEntry struct {
	ID          ID
	TaskID      ID
	EffectType  OutboxEffectType
	Target      string // URL, topic, or exchange name depending on EffectType
	Payload     json.RawMessage
	Status      OutboxStatus
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	DeliveredAt *time.Time
	LastError   string
}

// OutboxEffect is what a Handler declares it wants delivered once its Run
// finalizes successfully; the dispatcher turns these into OutboxEntry rows
// inside the finalize transaction.
type OutboxEffect struct {
	EffectType OutboxEffectType
	Target     string
	Payload    json.RawMessage
	MaxRetries int
}

// OutboxRepository persists and drains OutboxEntry rows.
type OutboxRepository interface {
	Create(ctx context.Context, q Querier, e *OutboxEntry) error
	ClaimPending(ctx context.Context, q Querier, limit int) ([]*OutboxEntry, error)
	MarkDelivered(ctx context.Context, q Querier, id ID, deliveredAt time.Time) error
	MarkRetry(ctx context.Context, q Querier, id ID, lastErr string) error
	MarkFailed(ctx context.Context, q Querier, id ID, lastErr string) error
	PurgeDeliveredBefore(ctx context.Context, q Querier, before time.Time) (int64, error)
}
