// Package admission implements the pre-enqueue gate (SPEC_FULL.md §4.2):
// queue-depth, budget, and circuit checks a Task must clear before it is
// ever enqueued or given a Run row. A rejected task is never enqueued and
// gets no Task or Run row. Admit does use Postgres: the budget check records
// the estimated spend on the provider's ledger, and the circuit check reads
// (and may create or update) the provider's circuit_states row.
package admission

import (
	"context"
	"errors"

	"github.com/relaycore/orchestrator/internal/budget"
	"github.com/relaycore/orchestrator/internal/circuit"
	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/queue"
)

// Controller gates task submission on queue depth, provider budget, and
// the provider's circuit state, in that order (cheapest check first).
type Controller struct {
	broker    *queue.Broker
	budget    *budget.Accountant
	circuits  *circuit.Registry
	estimator CostEstimator
}

// CostEstimator returns the projected USD cost of dispatching a task, used
// to reserve budget ahead of actual spend. The true cost a handler reports
// in HandlerResult.CostUSD is stored on the Run row only; it is not applied
// to the budget ledger, so the reservation is not reconciled.
type CostEstimator func(t *domain.Task) float64

// New creates a Controller. estimator may be nil, in which case budget
// admission reserves zero and only the queue-depth/circuit checks apply.
func New(broker *queue.Broker, accountant *budget.Accountant, circuits *circuit.Registry, estimator CostEstimator) *Controller {
	if estimator == nil {
		estimator = func(*domain.Task) float64 { return 0 }
	}
	return &Controller{broker: broker, budget: accountant, circuits: circuits, estimator: estimator}
}

// Admit runs the three pre-enqueue checks in order and returns the first
// failure. On success the caller still owns enqueuing t into the broker —
// Admit only validates, it does not mutate queue state, so the caller can
// create the Task/Run rows and enqueue within one transaction boundary.
func (c *Controller) Admit(ctx context.Context, tx domain.Querier, t *domain.Task) error {
	if c.broker.Depth() >= c.broker.MaxDepth() {
		return domain.ErrQueueFull
	}

	if t.Provider != "" && c.budget != nil {
		estimated := c.estimator(t)
		if err := c.budget.Reserve(ctx, t.Provider, estimated); err != nil {
			if errors.Is(err, domain.ErrBudgetExceeded) {
				return domain.ErrBudgetExceeded
			}
			return err
		}
	}

	if t.Provider != "" && c.circuits != nil {
		allowed, err := c.circuits.Allow(ctx, t.Provider)
		if err != nil {
			return err
		}
		if !allowed {
			return domain.ErrCircuitOpen
		}
	}

	return nil
}
