// Package outbox implements the Outbox Relay (SPEC_FULL.md §4.5): a poller
// that drains pending outbox entries and delivers each through the sink
// transport matching its EffectType, behind the teacher's
// runtimeutil.EventPublisher abstraction so webhook/Kafka/AMQP delivery all
// look the same to the relay loop.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/infra/resilience"
	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/runtimeutil"
)

// Sinks maps an OutboxEffectType to the publisher responsible for
// delivering it. A nil entry means that effect type has no configured
// transport in this deployment and entries of that type degrade to a
// logged no-op (matching runtimeutil.NopEventPublisher's behavior) rather
// than blocking the relay.
type Sinks map[domain.OutboxEffectType]runtimeutil.EventPublisher

// Relay periodically claims pending outbox entries and delivers them.
type Relay struct {
	repo     domain.OutboxRepository
	txm      domain.TxManager
	sinks    Sinks
	bulkhead resilience.Bulkhead
	logger   observability.Logger
	batch    int
	purgeAge time.Duration
	now      func() time.Time
}

// Config controls Relay batching and retention.
type Config struct {
	BatchSize      int
	PurgeAfter     time.Duration // entries delivered longer ago than this are purged
	MaxConcurrency int           // bulkhead width for concurrent sink deliveries
}

// New creates a Relay. Any OutboxEffectType absent from sinks degrades to a
// no-op delivery (logged, then marked delivered) rather than erroring.
func New(repo domain.OutboxRepository, txm domain.TxManager, sinks Sinks, logger observability.Logger, cfg Config) *Relay {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.PurgeAfter <= 0 {
		cfg.PurgeAfter = 7 * 24 * time.Hour
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 8
	}
	return &Relay{
		repo: repo, txm: txm, sinks: sinks, logger: logger,
		bulkhead: resilience.NewBulkhead("outbox-relay", resilience.BulkheadConfig{MaxConcurrent: cfg.MaxConcurrency, MaxWaiting: cfg.MaxConcurrency * 4}),
		batch:    cfg.BatchSize, purgeAge: cfg.PurgeAfter, now: time.Now,
	}
}

// Run polls every interval until ctx is canceled, draining pending entries
// each tick and purging delivered entries older than PurgeAfter.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil {
				r.logger.Error("outbox drain", "error", err)
			}
			if err := r.purge(ctx); err != nil {
				r.logger.Error("outbox purge", "error", err)
			}
		}
	}
}

// DrainOnce claims up to one batch of pending entries and delivers each.
func (r *Relay) DrainOnce(ctx context.Context) error {
	var entries []*domain.OutboxEntry
	err := r.txm.WithTx(ctx, func(tx domain.Querier) error {
		claimed, err := r.repo.ClaimPending(ctx, tx, r.batch)
		if err != nil {
			return fmt.Errorf("claim pending: %w", err)
		}
		entries = claimed
		return nil
	})
	if err != nil {
		return err
	}

	for _, entry := range entries {
		entry := entry
		if err := r.bulkhead.Do(ctx, func(ctx context.Context) error {
			r.deliver(ctx, entry)
			return nil
		}); err != nil {
			r.logger.Warn("outbox bulkhead rejected delivery", "outbox_id", entry.ID, "error", err)
		}
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, entry *domain.OutboxEntry) {
	sink := r.sinks[entry.EffectType]
	if sink == nil {
		r.logger.Warn("no sink configured for effect type, marking delivered as no-op",
			"outbox_id", entry.ID, "effect_type", entry.EffectType)
		r.markDelivered(ctx, entry)
		return
	}

	event := runtimeutil.Event{
		ID:        entry.ID.String(),
		Type:      string(entry.EffectType),
		Payload:   entry.Payload,
		Timestamp: r.now().UTC(),
	}

	if err := sink.Publish(ctx, entry.Target, event); err != nil {
		r.markRetryOrFailed(ctx, entry, err)
		return
	}
	r.markDelivered(ctx, entry)
}

func (r *Relay) markDelivered(ctx context.Context, entry *domain.OutboxEntry) {
	err := r.txm.WithTx(ctx, func(tx domain.Querier) error {
		return r.repo.MarkDelivered(ctx, tx, entry.ID, r.now().UTC())
	})
	if err != nil {
		r.logger.Error("mark outbox delivered", "outbox_id", entry.ID, "error", err)
	}
}

func (r *Relay) markRetryOrFailed(ctx context.Context, entry *domain.OutboxEntry, deliveryErr error) {
	err := r.txm.WithTx(ctx, func(tx domain.Querier) error {
		if entry.RetryCount+1 >= entry.MaxRetries {
			return r.repo.MarkFailed(ctx, tx, entry.ID, deliveryErr.Error())
		}
		return r.repo.MarkRetry(ctx, tx, entry.ID, deliveryErr.Error())
	})
	if err != nil {
		r.logger.Error("mark outbox retry/failed", "outbox_id", entry.ID, "error", err)
	}
}

func (r *Relay) purge(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-r.purgeAge)
	return r.txm.WithTx(ctx, func(tx domain.Querier) error {
		n, err := r.repo.PurgeDeliveredBefore(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			r.logger.Info("purged delivered outbox entries", "count", n, "before", cutoff)
		}
		return nil
	})
}

var errSinkUnconfigured = errors.New("outbox: no sink configured for effect type")

// SinkFor returns the sink bound to t, or errSinkUnconfigured if none.
func (s Sinks) SinkFor(t domain.OutboxEffectType) (runtimeutil.EventPublisher, error) {
	sink, ok := s[t]
	if !ok || sink == nil {
		return nil, errSinkUnconfigured
	}
	return sink, nil
}
