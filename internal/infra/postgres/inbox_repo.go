package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relaycore/orchestrator/internal/domain"
)

// InboxRepo implements domain.InboxRepository.
type InboxRepo struct{}

// NewInboxRepo creates a new InboxRepo.
func NewInboxRepo() *InboxRepo {
	return &InboxRepo{}
}

// Insert relies on a unique index over (source, external_id) to enforce
// the inbox gate's replay protection; a unique violation is translated to
// domain.ErrReplayBlocked so callers don't need to know the storage detail.
func (r *InboxRepo) Insert(ctx context.Context, q domain.Querier, e *domain.InboxEntry) error {
	const op = "InboxRepo.Insert"
	_, err := q.Exec(ctx, `
		INSERT INTO inbox_entries (id, source, external_id, signature_hash, received_at, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.Source, e.ExternalID, e.SignatureHash, e.ReceivedAt, []byte(e.Payload), e.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return domain.ErrReplayBlocked
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *InboxRepo) MarkProcessed(ctx context.Context, q domain.Querier, id domain.ID, taskID domain.ID, processedAt time.Time) error {
	const op = "InboxRepo.MarkProcessed"
	_, err := q.Exec(ctx, `
		UPDATE inbox_entries SET status = 'processed', task_id = $2, processed_at = $3 WHERE id = $1
	`, id, taskID, processedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *InboxRepo) MarkRejected(ctx context.Context, q domain.Querier, id domain.ID, reason string) error {
	const op = "InboxRepo.MarkRejected"
	_, err := q.Exec(ctx, `
		UPDATE inbox_entries SET status = 'rejected', rejection_reason = $2 WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *InboxRepo) SweepOlderThan(ctx context.Context, q domain.Querier, before time.Time) (int64, error) {
	const op = "InboxRepo.SweepOlderThan"
	tag, err := asCommandTag(q.Exec(ctx, `
		DELETE FROM inbox_entries WHERE received_at < $1 AND status IN ('processed', 'rejected')
	`, before))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.InboxRepository = (*InboxRepo)(nil)
