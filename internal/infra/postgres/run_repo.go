package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/relaycore/orchestrator/internal/domain"
)

// RunRepo implements domain.RunRepository.
type RunRepo struct{}

// NewRunRepo creates a new RunRepo.
func NewRunRepo() *RunRepo {
	return &RunRepo{}
}

func (r *RunRepo) Create(ctx context.Context, q domain.Querier, run *domain.Run) error {
	const op = "RunRepo.Create"
	_, err := q.Exec(ctx, `
		INSERT INTO runs (id, task_id, attempt, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.TaskID, run.Attempt, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RunRepo) Finalize(ctx context.Context, q domain.Querier, id domain.ID, status domain.RunStatus, fields domain.RunFinalize) error {
	const op = "RunRepo.Finalize"
	_, err := q.Exec(ctx, `
		UPDATE runs SET
			status = $2, ended_at = $3, error_details = $4,
			model_used = $5, tokens = $6, cost_usd = $7
		WHERE id = $1
	`, id, status, fields.EndedAt, fields.ErrorDetails, fields.ModelUsed, fields.Tokens, fields.CostUSD)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RunRepo) LatestForTask(ctx context.Context, q domain.Querier, taskID domain.ID) (*domain.Run, error) {
	const op = "RunRepo.LatestForTask"
	row, err := asScanner(q.QueryRow(ctx, `
		SELECT id, task_id, attempt, started_at, ended_at, status,
			error_details, model_used, tokens, cost_usd
		FROM runs WHERE task_id = $1
		ORDER BY attempt DESC LIMIT 1
	`, taskID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var run domain.Run
	if err := row.Scan(&run.ID, &run.TaskID, &run.Attempt, &run.StartedAt, &run.EndedAt, &run.Status,
		&run.ErrorDetails, &run.ModelUsed, &run.Tokens, &run.CostUSD); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &run, nil
}

func (r *RunRepo) NextAttempt(ctx context.Context, q domain.Querier, taskID domain.ID) (int, error) {
	const op = "RunRepo.NextAttempt"
	row, err := asScanner(q.QueryRow(ctx, `
		SELECT coalesce(max(attempt), 0) + 1 FROM runs WHERE task_id = $1
	`, taskID))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	var next int
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return next, nil
}

var _ domain.RunRepository = (*RunRepo)(nil)
