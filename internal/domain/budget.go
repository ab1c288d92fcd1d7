package domain

import (
	"context"
	"time"
)

// BudgetLedger tracks spend for a single (Provider, Date) pair. Date is
// truncated to a UTC day; rollover creates a new row on first write.
type BudgetLedger struct {
	Provider    string
	Date        time.Time
	BudgetUSD   float64
	SpentUSD    float64
	Tokens      int64
	Requests    int64
	LastUpdated time.Time
}

// Remaining returns the unspent budget for this ledger row. It can go
// negative: over-commit up to 10% of BudgetUSD is tolerated so in-flight
// work is never rejected mid-flight; subsequent Reserve calls see
// Remaining <= 0 and reject with ErrBudgetExceeded.
func (b *BudgetLedger) Remaining() float64 {
	return b.BudgetUSD - b.SpentUSD
}

// BudgetRepository persists per-(provider,date) ledgers with row-level
// locking to support the optimistic-retry Reserve/Commit protocol.
type BudgetRepository interface {
	GetOrCreate(ctx context.Context, q Querier, provider string, date time.Time, defaultBudget float64) (*BudgetLedger, error)
	// CompareAndSpend atomically adds deltaUSD/deltaTokens/deltaRequests iff
	// the row's SpentUSD still equals expectedSpent (optimistic CAS). Returns
	// false, nil if the row moved under the caller (caller should retry).
	CompareAndSpend(ctx context.Context, q Querier, provider string, date time.Time, expectedSpent, deltaUSD float64, deltaTokens, deltaRequests int64) (bool, error)
}
