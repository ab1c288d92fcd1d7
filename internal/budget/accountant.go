// Package budget implements the Budget Accountant (SPEC_FULL.md §4.7):
// per-(provider, day) USD ledgers with optimistic-concurrency Reserve/Commit,
// a 10% over-commit tolerance so in-flight work is never aborted mid-task,
// and a bounded CAS retry loop against domain.BudgetRepository.CompareAndSpend.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/infra/resilience"
)

// OverCommitTolerance is the fraction of BudgetUSD a provider's ledger may
// go over before Reserve starts rejecting new spend.
const OverCommitTolerance = 0.10

// Accountant enforces per-provider daily spend caps.
type Accountant struct {
	txm           domain.TxManager
	repo          domain.BudgetRepository
	retrier       resilience.Retrier
	maxAttempts   int
	defaultBudget float64
	now           func() time.Time
}

// Config configures an Accountant.
type Config struct {
	MaxAttempts   int
	DefaultBudget float64
}

// NewAccountant creates an Accountant. maxAttempts bounds the CAS retry loop
// (config.Config.BudgetCommitMaxAttempts, default 5).
func NewAccountant(txm domain.TxManager, repo domain.BudgetRepository, cfg Config) *Accountant {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	retrier := resilience.NewRetrier("budget-cas", resilience.RetryConfig{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2,
	})
	return &Accountant{
		txm:           txm,
		repo:          repo,
		retrier:       retrier,
		maxAttempts:   cfg.MaxAttempts,
		defaultBudget: cfg.DefaultBudget,
		now:           time.Now,
	}
}

// errCASConflict marks a failed compare-and-swap as retryable for
// resilience.Retrier's DefaultIsRetryable.
type errCASConflict struct{}

func (errCASConflict) Error() string   { return "budget ledger row moved under reservation" }
func (errCASConflict) Retryable() bool { return true }

// Reserve admits a projected spend of estimatedUSD against provider's
// current-day ledger. It returns domain.ErrBudgetExceeded if the ledger's
// Remaining is already <= 0, or if committing estimatedUSD would push the
// ledger more than OverCommitTolerance over BudgetUSD. On success the spend is already recorded — Reserve and Commit
// share one CAS primitive, since the admission check and the write must be
// atomic for the cap to mean anything under concurrency.
func (a *Accountant) Reserve(ctx context.Context, provider string, estimatedUSD float64) error {
	return a.applyDelta(ctx, provider, estimatedUSD, 0, 0, true)
}

// Commit records actual spend for a task that already passed Reserve.
// deltaUSD may be negative (refunding the gap between estimate and actual)
// or positive (overage), and is never checked against the cap: once a task
// has started, the accountant doesn't strand it mid-flight over budget.
func (a *Accountant) Commit(ctx context.Context, provider string, deltaUSD float64, tokens, requests int64) error {
	return a.applyDelta(ctx, provider, deltaUSD, tokens, requests, false)
}

func (a *Accountant) applyDelta(ctx context.Context, provider string, deltaUSD float64, tokens, requests int64, enforceCap bool) error {
	day := a.now().UTC()

	return a.retrier.Do(ctx, func(ctx context.Context) error {
		return a.txm.WithTx(ctx, func(tx domain.Querier) error {
			ledger, err := a.repo.GetOrCreate(ctx, tx, provider, day, a.defaultBudget)
			if err != nil {
				return fmt.Errorf("get ledger: %w", err)
			}

			if enforceCap {
				ceiling := ledger.BudgetUSD * (1 + OverCommitTolerance)
				if ledger.Remaining() <= 0 || ledger.SpentUSD+deltaUSD > ceiling {
					return domain.ErrBudgetExceeded
				}
			}

			ok, err := a.repo.CompareAndSpend(ctx, tx, provider, day, ledger.SpentUSD, deltaUSD, tokens, requests)
			if err != nil {
				return fmt.Errorf("compare and spend: %w", err)
			}
			if !ok {
				return errCASConflict{}
			}
			return nil
		})
	})
}

// Remaining returns the current-day remaining budget for provider, used by
// the admission controller's pre-enqueue check and the admin
// GET /admin/budgets/{provider} endpoint.
func (a *Accountant) Remaining(ctx context.Context, tx domain.Querier, provider string) (float64, error) {
	ledger, err := a.repo.GetOrCreate(ctx, tx, provider, a.now().UTC(), a.defaultBudget)
	if err != nil {
		return 0, err
	}
	return ledger.Remaining(), nil
}

// IsExhausted reports whether err came from the CAS retry loop exhausting
// its attempts rather than a legitimate budget-exceeded rejection.
func IsExhausted(err error) bool {
	var resilienceErr *resilience.ResilienceError
	return errors.As(err, &resilienceErr)
}
