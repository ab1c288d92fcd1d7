package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycore/orchestrator/internal/domain"
)

// OutboxRepo implements domain.OutboxRepository.
type OutboxRepo struct{}

// NewOutboxRepo creates a new OutboxRepo.
func NewOutboxRepo() *OutboxRepo {
	return &OutboxRepo{}
}

func (r *OutboxRepo) Create(ctx context.Context, q domain.Querier, e *domain.OutboxEntry) error {
	const op = "OutboxRepo.Create"
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_entries (id, task_id, effect_type, target, payload, status,
			retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.TaskID, e.EffectType, e.Target, []byte(e.Payload), e.Status, e.RetryCount, e.MaxRetries, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClaimPending selects up to limit pending entries and locks them with
// SKIP LOCKED so multiple relay instances never double-deliver the same
// row — the same pattern the Queue Broker's LeaseNext uses in memory,
// applied here at the row-lock level because outbox delivery must survive
// an orchestrator restart.
func (r *OutboxRepo) ClaimPending(ctx context.Context, q domain.Querier, limit int) ([]*domain.OutboxEntry, error) {
	const op = "OutboxRepo.ClaimPending"
	rows, err := asRows(q.Query(ctx, `
		SELECT id, task_id, effect_type, target, payload, status, retry_count, max_retries,
			created_at, delivered_at, last_error
		FROM outbox_entries
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []*domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TaskID, &e.EffectType, &e.Target, &payload, &e.Status,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.DeliveredAt, &e.LastError); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		e.Payload = payload
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return entries, nil
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, q domain.Querier, id domain.ID, deliveredAt time.Time) error {
	const op = "OutboxRepo.MarkDelivered"
	_, err := q.Exec(ctx, `
		UPDATE outbox_entries SET status = 'delivered', delivered_at = $2 WHERE id = $1
	`, id, deliveredAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *OutboxRepo) MarkRetry(ctx context.Context, q domain.Querier, id domain.ID, lastErr string) error {
	const op = "OutboxRepo.MarkRetry"
	_, err := q.Exec(ctx, `
		UPDATE outbox_entries SET retry_count = retry_count + 1, last_error = $2 WHERE id = $1
	`, id, lastErr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, q domain.Querier, id domain.ID, lastErr string) error {
	const op = "OutboxRepo.MarkFailed"
	_, err := q.Exec(ctx, `
		UPDATE outbox_entries SET status = 'failed', last_error = $2 WHERE id = $1
	`, id, lastErr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *OutboxRepo) PurgeDeliveredBefore(ctx context.Context, q domain.Querier, before time.Time) (int64, error) {
	const op = "OutboxRepo.PurgeDeliveredBefore"
	tag, err := asCommandTag(q.Exec(ctx, `
		DELETE FROM outbox_entries WHERE status = 'delivered' AND delivered_at < $1
	`, before))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.OutboxRepository = (*OutboxRepo)(nil)
