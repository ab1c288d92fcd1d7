// Package postgres provides PostgreSQL database connectivity and repositories.
// This file implements domain.TaskRepository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/relaycore/orchestrator/internal/domain"
)

// TaskRepo implements domain.TaskRepository against a domain.Querier, so
// the same code path serves both pool reads and in-transaction writes made
// through domain.TxManager.
type TaskRepo struct{}

// NewTaskRepo creates a new TaskRepo.
func NewTaskRepo() *TaskRepo {
	return &TaskRepo{}
}

func (r *TaskRepo) Create(ctx context.Context, q domain.Querier, t *domain.Task) error {
	const op = "TaskRepo.Create"
	var idempotencyKey any
	if t.IdempotencyKey != "" {
		idempotencyKey = t.IdempotencyKey
	}

	_, err := q.Exec(ctx, `
		INSERT INTO tasks (id, type, payload, priority, status, retry_count, max_retries,
			idempotency_key, trace_id, provider, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.Type, []byte(t.Payload), t.Priority, t.Status, t.RetryCount, t.MaxRetries,
		idempotencyKey, t.TraceID, t.Provider, t.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *TaskRepo) GetByID(ctx context.Context, q domain.Querier, id domain.ID) (*domain.Task, error) {
	const op = "TaskRepo.GetByID"
	row, err := asScanner(q.QueryRow(ctx, `
		SELECT id, type, payload, priority, status, retry_count, max_retries,
			coalesce(idempotency_key, ''), trace_id, provider, enqueued_at,
			started_at, completed_at, last_error, lease_deadline
		FROM tasks WHERE id = $1
	`, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (r *TaskRepo) GetByIdempotencyKey(ctx context.Context, q domain.Querier, key string) (*domain.Task, error) {
	const op = "TaskRepo.GetByIdempotencyKey"
	row, err := asScanner(q.QueryRow(ctx, `
		SELECT id, type, payload, priority, status, retry_count, max_retries,
			coalesce(idempotency_key, ''), trace_id, provider, enqueued_at,
			started_at, completed_at, last_error, lease_deadline
		FROM tasks WHERE idempotency_key = $1
	`, key))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func scanTask(row scanner) (*domain.Task, error) {
	var t domain.Task
	var payload []byte
	if err := row.Scan(&t.ID, &t.Type, &payload, &t.Priority, &t.Status, &t.RetryCount, &t.MaxRetries,
		&t.IdempotencyKey, &t.TraceID, &t.Provider, &t.EnqueuedAt,
		&t.StartedAt, &t.CompletedAt, &t.LastError, &t.LeaseDeadline); err != nil {
		return nil, err
	}
	t.Payload = payload
	return &t, nil
}

func (r *TaskRepo) UpdateStatus(ctx context.Context, q domain.Querier, id domain.ID, status domain.TaskStatus, fields domain.TaskStatusUpdate) error {
	const op = "TaskRepo.UpdateStatus"
	_, err := q.Exec(ctx, `
		UPDATE tasks SET
			status = $2,
			retry_count = coalesce($3, retry_count),
			started_at = coalesce($4, started_at),
			completed_at = coalesce($5, completed_at),
			last_error = coalesce($6, last_error),
			lease_deadline = $7
		WHERE id = $1
	`, id, status, fields.RetryCount, fields.StartedAt, fields.CompletedAt, fields.LastError, fields.LeaseDeadline)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *TaskRepo) List(ctx context.Context, q domain.Querier, filter domain.TaskFilter, p domain.ListParams) ([]*domain.Task, int, error) {
	const op = "TaskRepo.List"

	where := "1=1"
	args := []any{}
	argN := 1
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, *filter.Status)
		argN++
	}
	if filter.Type != nil {
		where += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, *filter.Type)
		argN++
	}

	var total int
	countRow, err := asScanner(q.QueryRow(ctx, "SELECT count(*) FROM tasks WHERE "+where, args...))
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: count: %w", op, err)
	}

	args = append(args, p.Limit(), p.Offset())
	rows, err := asRows(q.Query(ctx, fmt.Sprintf(`
		SELECT id, type, payload, priority, status, retry_count, max_retries,
			coalesce(idempotency_key, ''), trace_id, provider, enqueued_at,
			started_at, completed_at, last_error, lease_deadline
		FROM tasks WHERE %s
		ORDER BY enqueued_at DESC
		LIMIT $%d OFFSET $%d
	`, where, argN, argN+1), args...))
	if err != nil {
		return nil, 0, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: scan: %w", op, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: rows: %w", op, err)
	}
	return tasks, total, nil
}

var _ domain.TaskRepository = (*TaskRepo)(nil)
