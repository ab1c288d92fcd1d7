package dispatch

import (
	"context"

	"github.com/relaycore/orchestrator/internal/domain"
)

// Outcome is what a Handler reports about one execution attempt.
type Outcome string

const (
	// OutcomeSuccess finalizes the Run and Task as done.
	OutcomeSuccess Outcome = "success"
	// OutcomeRetry finalizes the Run as failed but re-enqueues the Task if
	// it still has retry budget, applying the jittered backoff delay.
	OutcomeRetry Outcome = "retry"
	// OutcomeFail finalizes the Run and Task as permanently failed, no
	// retry regardless of remaining budget.
	OutcomeFail Outcome = "fail"
)

// HandlerResult is what a Handler returns for one attempt at a Task.
type HandlerResult struct {
	Outcome         Outcome
	OutboxEffects   []domain.OutboxEffect
	CostUSD         float64
	Tokens          int
	DependencyCalls int
	ModelUsed       string
	ErrorDetails    string
}

// Handler executes one Task attempt. The dispatcher never branches on
// domain.TaskType directly — it looks the handler up in a Registry keyed by
// type and calls it uniformly, per SPEC_FULL.md §4.4.
type Handler interface {
	Handle(ctx context.Context, t *domain.Task) (HandlerResult, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, t *domain.Task) (HandlerResult, error)

func (f HandlerFunc) Handle(ctx context.Context, t *domain.Task) (HandlerResult, error) {
	return f(ctx, t)
}

// Registry maps task types to the Handler that executes them.
type Registry struct {
	handlers map[domain.TaskType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.TaskType]Handler)}
}

// Register binds a Handler to a task type, replacing any existing binding.
func (r *Registry) Register(t domain.TaskType, h Handler) {
	r.handlers[t] = h
}

// Lookup returns the Handler registered for t's type, or ok=false if none.
func (r *Registry) Lookup(t domain.TaskType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}
