package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/domain/circuit"
)

// CircuitRepo implements domain.CircuitStateRepository. GetForUpdate takes
// a row lock for the duration of the caller's transaction so only one
// in-flight request transitions a given service's circuit at a time.
type CircuitRepo struct{}

// NewCircuitRepo creates a new CircuitRepo.
func NewCircuitRepo() *CircuitRepo {
	return &CircuitRepo{}
}

func (r *CircuitRepo) GetForUpdate(ctx context.Context, q domain.Querier, service string) (*circuit.CircuitState, error) {
	const op = "CircuitRepo.GetForUpdate"
	row, err := asScanner(q.QueryRow(ctx, `
		SELECT service, state, failure_count, success_count, error_rate,
			last_failure_at, last_success_at, opened_at, next_retry_at, current_timeout_seconds
		FROM circuit_states WHERE service = $1
		FOR UPDATE
	`, service))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s, err := scanCircuitState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func scanCircuitState(row scanner) (*circuit.CircuitState, error) {
	var s circuit.CircuitState
	var timeoutSec int64
	if err := row.Scan(&s.Service, &s.State, &s.FailureCount, &s.SuccessCount, &s.ErrorRate,
		&s.LastFailureAt, &s.LastSuccessAt, &s.OpenedAt, &s.NextRetryAt, &timeoutSec); err != nil {
		return nil, err
	}
	s.CurrentTimeout = secondsToDuration(timeoutSec)
	return &s, nil
}

func (r *CircuitRepo) Upsert(ctx context.Context, q domain.Querier, s *circuit.CircuitState) error {
	const op = "CircuitRepo.Upsert"
	_, err := q.Exec(ctx, `
		INSERT INTO circuit_states (service, state, failure_count, success_count, error_rate,
			last_failure_at, last_success_at, opened_at, next_retry_at, current_timeout_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (service) DO UPDATE SET
			state = EXCLUDED.state,
			failure_count = EXCLUDED.failure_count,
			success_count = EXCLUDED.success_count,
			error_rate = EXCLUDED.error_rate,
			last_failure_at = EXCLUDED.last_failure_at,
			last_success_at = EXCLUDED.last_success_at,
			opened_at = EXCLUDED.opened_at,
			next_retry_at = EXCLUDED.next_retry_at,
			current_timeout_seconds = EXCLUDED.current_timeout_seconds
	`, s.Service, s.State, s.FailureCount, s.SuccessCount, s.ErrorRate,
		s.LastFailureAt, s.LastSuccessAt, s.OpenedAt, s.NextRetryAt, int64(s.CurrentTimeout.Seconds()))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *CircuitRepo) List(ctx context.Context, q domain.Querier) ([]*circuit.CircuitState, error) {
	const op = "CircuitRepo.List"
	rows, err := asRows(q.Query(ctx, `
		SELECT service, state, failure_count, success_count, error_rate,
			last_failure_at, last_success_at, opened_at, next_retry_at, current_timeout_seconds
		FROM circuit_states ORDER BY service
	`))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var states []*circuit.CircuitState
	for rows.Next() {
		s, err := scanCircuitState(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return states, nil
}

func secondsToDuration(sec int64) time.Duration {
	return time.Duration(sec) * time.Second
}

var _ domain.CircuitStateRepository = (*CircuitRepo)(nil)
