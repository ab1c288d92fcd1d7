package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaycore/orchestrator/internal/domain"
)

// BudgetRepo implements domain.BudgetRepository. The row per (provider,
// date) is the unit of optimistic concurrency: CompareAndSpend is a CAS
// on spent_usd so concurrent Budget Accountant reservations never lose an
// update without retrying.
type BudgetRepo struct{}

// NewBudgetRepo creates a new BudgetRepo.
func NewBudgetRepo() *BudgetRepo {
	return &BudgetRepo{}
}

func (r *BudgetRepo) GetOrCreate(ctx context.Context, q domain.Querier, provider string, date time.Time, defaultBudget float64) (*domain.BudgetLedger, error) {
	const op = "BudgetRepo.GetOrCreate"
	day := date.UTC().Truncate(24 * time.Hour)

	row, err := asScanner(q.QueryRow(ctx, `
		INSERT INTO budget_ledgers (provider, date, budget_usd, spent_usd, tokens, requests, last_updated)
		VALUES ($1, $2, $3, 0, 0, 0, now())
		ON CONFLICT (provider, date) DO UPDATE SET provider = EXCLUDED.provider
		RETURNING provider, date, budget_usd, spent_usd, tokens, requests, last_updated
	`, provider, day, defaultBudget))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var b domain.BudgetLedger
	if err := row.Scan(&b.Provider, &b.Date, &b.BudgetUSD, &b.SpentUSD, &b.Tokens, &b.Requests, &b.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &b, nil
}

func (r *BudgetRepo) CompareAndSpend(ctx context.Context, q domain.Querier, provider string, date time.Time, expectedSpent, deltaUSD float64, deltaTokens, deltaRequests int64) (bool, error) {
	const op = "BudgetRepo.CompareAndSpend"
	day := date.UTC().Truncate(24 * time.Hour)

	tag, err := asCommandTag(q.Exec(ctx, `
		UPDATE budget_ledgers
		SET spent_usd = spent_usd + $4, tokens = tokens + $5, requests = requests + $6, last_updated = now()
		WHERE provider = $1 AND date = $2 AND spent_usd = $3
	`, provider, day, expectedSpent, deltaUSD, deltaTokens, deltaRequests))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ domain.BudgetRepository = (*BudgetRepo)(nil)
