// Package circuit wires the persisted rolling-window gate in
// internal/domain/circuit to sony/gobreaker as the per-process execution
// primitive, per SPEC_FULL.md §4.6. The database row is the source of truth
// for open/half-open/closed; gobreaker only bounds in-flight half-open probes
// within a single process and gives Execute its retry/metrics plumbing.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relaycore/orchestrator/internal/domain"
	domaincircuit "github.com/relaycore/orchestrator/internal/domain/circuit"
	"github.com/relaycore/orchestrator/internal/infra/resilience"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Registry is the process-wide circuit breaker registry keyed by dependency
// service name (e.g. a provider ID from a Task or OutboxEffect).
type Registry struct {
	txm       domain.TxManager
	repo      domain.CircuitStateRepository
	threshold float64
	now       Clock

	mu       sync.Mutex
	breakers map[string]resilience.CircuitBreaker
	windows  map[string]*domaincircuit.Window
}

// NewRegistry creates a Registry. threshold is the rolling-window failure
// rate (0, 1] above which a closed circuit trips open; pass
// domaincircuit.DefaultThreshold absent an override.
func NewRegistry(txm domain.TxManager, repo domain.CircuitStateRepository, threshold float64) *Registry {
	return &Registry{
		txm:       txm,
		repo:      repo,
		threshold: threshold,
		now:       time.Now,
		breakers:  make(map[string]resilience.CircuitBreaker),
		windows:   make(map[string]*domaincircuit.Window),
	}
}

func (r *Registry) breakerFor(service string) resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[service]; ok {
		return cb
	}
	cb := resilience.NewCircuitBreaker(service, resilience.DefaultCircuitBreakerConfig())
	r.breakers[service] = cb
	return cb
}

func (r *Registry) windowFor(service string) *domaincircuit.Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[service]; ok {
		return w
	}
	w := domaincircuit.NewWindow()
	r.windows[service] = w
	return w
}

// Execute runs fn under service's circuit. It returns domain.ErrCircuitOpen
// without calling fn if the persisted state is open and the retry deadline
// hasn't elapsed. Outcome (success/failure) is folded into the rolling
// window and persisted before Execute returns.
func (r *Registry) Execute(ctx context.Context, service string, fn func(ctx context.Context) (any, error)) (any, error) {
	admitted, err := r.admit(ctx, service)
	if err != nil {
		return nil, err
	}
	if !admitted {
		return nil, domain.ErrCircuitOpen
	}

	breaker := r.breakerFor(service)
	result, err := breaker.Execute(ctx, func() (any, error) {
		return fn(ctx)
	})

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, domain.ErrCircuitOpen
	}

	if recErr := r.record(ctx, service, err == nil); recErr != nil {
		return result, fmt.Errorf("circuit record outcome: %w", recErr)
	}
	return result, err
}

// Allow reports whether service's circuit currently admits calls, without
// executing or recording anything. Used by the admission controller (§4.2)
// to reject a task before it is ever enqueued, as distinct from Execute's
// use at dispatch time which also records the outcome.
func (r *Registry) Allow(ctx context.Context, service string) (bool, error) {
	return r.admit(ctx, service)
}

// admit checks (and row-locks) the persisted state, transitioning
// open -> half_open once NextRetryAt has passed.
func (r *Registry) admit(ctx context.Context, service string) (bool, error) {
	admitted := true
	err := r.txm.WithTx(ctx, func(tx domain.Querier) error {
		state, err := r.repo.GetForUpdate(ctx, tx, service)
		if errors.Is(err, domain.ErrNotFound) {
			state = &domaincircuit.CircuitState{
				Service:        service,
				State:          domaincircuit.Closed,
				CurrentTimeout: domaincircuit.DefaultTimeout,
			}
			return r.repo.Upsert(ctx, tx, state)
		}
		if err != nil {
			return err
		}

		switch state.State {
		case domaincircuit.Open:
			if state.NextRetryAt != nil && !r.now().Before(*state.NextRetryAt) {
				state.State = domaincircuit.HalfOpen
				return r.repo.Upsert(ctx, tx, state)
			}
			admitted = false
			return nil
		default:
			return nil
		}
	})
	return admitted, err
}

// record folds the outcome into the in-memory rolling window and persists
// the updated aggregate/state transition.
func (r *Registry) record(ctx context.Context, service string, success bool) error {
	window := r.windowFor(service)
	window.Record(success)

	return r.txm.WithTx(ctx, func(tx domain.Querier) error {
		state, err := r.repo.GetForUpdate(ctx, tx, service)
		if errors.Is(err, domain.ErrNotFound) {
			state = &domaincircuit.CircuitState{Service: service, State: domaincircuit.Closed}
		} else if err != nil {
			return err
		}

		now := r.now()
		if success {
			state.SuccessCount++
			state.LastSuccessAt = &now
			if state.State == domaincircuit.HalfOpen {
				state.State = domaincircuit.Closed
				state.FailureCount = 0
				state.SuccessCount = 0
				state.OpenedAt = nil
				state.NextRetryAt = nil
				state.CurrentTimeout = 0
				r.mu.Lock()
				window = domaincircuit.NewWindow()
				r.windows[service] = window
				r.mu.Unlock()
			}
		} else {
			state.FailureCount++
			state.LastFailureAt = &now
			if state.State == domaincircuit.HalfOpen {
				state.CurrentTimeout = domaincircuit.NextTimeout(state.CurrentTimeout)
				retryAt := now.Add(state.CurrentTimeout)
				state.State = domaincircuit.Open
				state.OpenedAt = &now
				state.NextRetryAt = &retryAt
			}
		}
		state.ErrorRate = window.FailureRate()

		if state.State == domaincircuit.Closed && domaincircuit.Evaluate(window, r.threshold) {
			if state.CurrentTimeout == 0 {
				state.CurrentTimeout = domaincircuit.DefaultTimeout
			}
			retryAt := now.Add(state.CurrentTimeout)
			state.State = domaincircuit.Open
			state.OpenedAt = &now
			state.NextRetryAt = &retryAt
		}

		return r.repo.Upsert(ctx, tx, state)
	})
}

// Snapshot returns every dependency's persisted circuit state, for the
// admin GET /admin/circuits endpoint.
func (r *Registry) Snapshot(ctx context.Context, tx domain.Querier) ([]*domaincircuit.CircuitState, error) {
	return r.repo.List(ctx, tx)
}

// Reset forces a service's circuit back to closed, for the admin
// POST /admin/circuits/{service}/reset endpoint.
func (r *Registry) Reset(ctx context.Context, service string) error {
	r.mu.Lock()
	delete(r.windows, service)
	r.mu.Unlock()

	return r.txm.WithTx(ctx, func(tx domain.Querier) error {
		state, err := r.repo.GetForUpdate(ctx, tx, service)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		state.State = domaincircuit.Closed
		state.FailureCount = 0
		state.SuccessCount = 0
		state.ErrorRate = 0
		state.OpenedAt = nil
		state.NextRetryAt = nil
		state.CurrentTimeout = 0
		return r.repo.Upsert(ctx, tx, state)
	})
}
