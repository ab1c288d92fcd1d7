// Package dispatch implements the Dispatcher/Worker Pool (SPEC_FULL.md
// §4.4): a fixed-size goroutine pool that leases tasks from the Queue
// Broker, carries each through lease -> run row -> handler -> transactional
// finalize, heartbeats the lease for the lifetime of the handler call,
// and applies jittered exponential backoff or DLQ routing on failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/queue"
)

// Config controls pool sizing and backoff, sourced from config.Config's
// MAX_CONCURRENCY, WORKER_REPLICAS, TASK_LEASE_SECONDS, TASK_BACKOFF_MAX_SEC.
type Config struct {
	MaxConcurrency int
	WorkerReplicas int
	LeaseDuration  time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

// Pool drains the broker with a fixed number of worker goroutines, each
// running one task attempt at a time.
type Pool struct {
	broker   *queue.Broker
	registry *Registry
	tasks    domain.TaskRepository
	runs     domain.RunRepository
	outbox   domain.OutboxRepository
	txm      domain.TxManager
	pool     domain.Querier // non-transactional reads (GetByID, NextAttempt, LatestForTask)
	ids      domain.IDGenerator
	logger   observability.Logger
	cfg      Config

	dlq func(ctx context.Context, t *domain.Task, reason string)
}

// New creates a Pool. pool is a non-transactional Querier (e.g.
// postgres.NewPoolQuerier) used for reads outside the finalize transaction.
// dlq is called whenever an attempt ends the task as failed (retry budget
// exhausted, a non-retryable outcome, or no registered handler); it may be nil, in
// which case the task is left in TaskFailed status with no further side
// effect beyond that (§4.4's dlq:{type} routing is then the caller's
// responsibility, e.g. via an outbox effect declared by dlq).
func New(broker *queue.Broker, registry *Registry, tasks domain.TaskRepository, runs domain.RunRepository, outbox domain.OutboxRepository, txm domain.TxManager, pool domain.Querier, ids domain.IDGenerator, logger observability.Logger, cfg Config, dlq func(ctx context.Context, t *domain.Task, reason string)) *Pool {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 10
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 15 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 60 * time.Second
	}
	return &Pool{broker: broker, registry: registry, tasks: tasks, runs: runs, outbox: outbox, txm: txm, pool: pool, ids: ids, logger: logger, cfg: cfg, dlq: dlq}
}

// Run starts MaxConcurrency worker goroutines and blocks until ctx is
// canceled, at which point it waits for in-flight attempts to finish.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, p.cfg.MaxConcurrency)
	for i := 0; i < p.cfg.MaxConcurrency; i++ {
		go func(worker int) {
			p.loop(ctx, worker)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.cfg.MaxConcurrency; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		taskID, token, err := p.broker.LeaseNext(p.cfg.LeaseDuration)
		if errors.Is(err, queue.ErrEmpty) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			p.logger.Error("lease next task", "worker", worker, "error", err)
			continue
		}

		p.attempt(ctx, taskID, token)
	}
}

// attempt runs one Task through its full lifecycle: heartbeat, fetch, hand
// off to the registered Handler, finalize.
func (p *Pool) attempt(ctx context.Context, taskID domain.ID, token string) {
	handlerCtx, cancelHandler := context.WithCancel(ctx)
	defer cancelHandler()
	heartbeatCtx, stopHeartbeat := context.WithCancel(handlerCtx)
	defer stopHeartbeat()
	go p.heartbeat(heartbeatCtx, taskID, token, cancelHandler)

	task, err := p.tasks.GetByID(ctx, p.pool, taskID)
	if err != nil {
		p.logger.Error("fetch leased task", "task_id", taskID, "error", err)
		_ = p.broker.Release(taskID, token)
		return
	}

	handler, ok := p.registry.Lookup(task.Type)
	if !ok {
		p.finalizeFailure(ctx, task, token, fmt.Sprintf("no handler registered for task type %q", task.Type), false)
		return
	}

	now := time.Now()
	attempt, err := p.runs.NextAttempt(ctx, p.pool, taskID)
	if err != nil {
		p.logger.Error("compute next attempt", "task_id", taskID, "error", err)
		_ = p.broker.Release(taskID, token)
		return
	}
	run := &domain.Run{ID: p.ids.NewID(), TaskID: taskID, Attempt: attempt, StartedAt: now, Status: domain.RunStarted}
	if err := p.runs.Create(ctx, p.pool, run); err != nil {
		p.logger.Error("create run", "task_id", taskID, "error", err)
		_ = p.broker.Release(taskID, token)
		return
	}

	result, handlerErr := handler.Handle(handlerCtx, task)
	if handlerErr != nil {
		p.finalizeFailure(ctx, task, token, handlerErr.Error(), task.CanRetry())
		return
	}

	switch result.Outcome {
	case OutcomeSuccess:
		p.finalizeSuccess(ctx, task, run, token, result)
	case OutcomeRetry:
		p.finalizeFailure(ctx, task, token, result.ErrorDetails, task.CanRetry())
	default:
		p.finalizeFailure(ctx, task, token, result.ErrorDetails, false)
	}
}

// heartbeat extends the broker lease every third of the lease duration
// until ctx is canceled by the caller (attempt finishing) or the extend
// itself fails because the lease was already reclaimed, in which case it
// calls cancelHandler so the running handler observes the lost lease.
func (p *Pool) heartbeat(ctx context.Context, taskID domain.ID, token string, cancelHandler context.CancelFunc) {
	interval := p.cfg.LeaseDuration / 3
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.broker.ExtendLease(taskID, token, p.cfg.LeaseDuration); err != nil {
				p.logger.Warn("extend lease failed, canceling handler", "task_id", taskID, "error", err)
				cancelHandler()
				return
			}
		}
	}
}

func (p *Pool) finalizeSuccess(ctx context.Context, task *domain.Task, run *domain.Run, token string, result HandlerResult) {
	now := time.Now()
	costUSD := result.CostUSD
	err := p.txm.WithTx(ctx, func(tx domain.Querier) error {
		if err := p.runs.Finalize(ctx, tx, run.ID, domain.RunSuccess, domain.RunFinalize{
			EndedAt: now, ModelUsed: result.ModelUsed, Tokens: result.Tokens, CostUSD: &costUSD,
		}); err != nil {
			return fmt.Errorf("finalize run: %w", err)
		}
		if err := p.tasks.UpdateStatus(ctx, tx, task.ID, domain.TaskDone, domain.TaskStatusUpdate{CompletedAt: &now}); err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		for _, effect := range result.OutboxEffects {
			entry := &domain.OutboxEntry{
				ID: p.ids.NewID(), TaskID: task.ID, EffectType: effect.EffectType,
				Target: effect.Target, Payload: effect.Payload, Status: domain.OutboxPending,
				MaxRetries: effect.MaxRetries, CreatedAt: now,
			}
			if err := p.outbox.Create(ctx, tx, entry); err != nil {
				return fmt.Errorf("create outbox entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Error("finalize success transaction", "task_id", task.ID, "error", err)
	}
	if err := p.broker.Release(task.ID, token); err != nil {
		p.logger.Warn("release lease after success", "task_id", task.ID, "error", err)
	}
}

func (p *Pool) finalizeFailure(ctx context.Context, task *domain.Task, token, reason string, retryable bool) {
	now := time.Now()
	nextRetry := task.RetryCount + 1

	err := p.txm.WithTx(ctx, func(tx domain.Querier) error {
		run, runErr := p.runs.LatestForTask(ctx, tx, task.ID)
		if runErr == nil && run != nil {
			if fErr := p.runs.Finalize(ctx, tx, run.ID, domain.RunFailed, domain.RunFinalize{EndedAt: now, ErrorDetails: reason}); fErr != nil {
				return fmt.Errorf("finalize run: %w", fErr)
			}
		}

		if retryable {
			return p.tasks.UpdateStatus(ctx, tx, task.ID, domain.TaskQueued, domain.TaskStatusUpdate{
				RetryCount: &nextRetry, LastError: &reason,
			})
		}
		return p.tasks.UpdateStatus(ctx, tx, task.ID, domain.TaskFailed, domain.TaskStatusUpdate{
			CompletedAt: &now, LastError: &reason,
		})
	})
	if err != nil {
		p.logger.Error("finalize failure transaction", "task_id", task.ID, "error", err)
	}

	if retryable {
		delay := Backoff(p.cfg.BackoffBase, p.cfg.BackoffCap, nextRetry)
		time.AfterFunc(delay, func() {
			if err := p.broker.Requeue(task.ID, token, task.Priority); err != nil {
				p.logger.Warn("requeue after backoff", "task_id", task.ID, "error", err)
			}
		})
		return
	}

	if err := p.broker.Release(task.ID, token); err != nil {
		p.logger.Warn("release lease after terminal failure", "task_id", task.ID, "error", err)
	}
	if p.dlq != nil {
		p.dlq(ctx, task, reason)
	}
}

// Backoff computes the jittered exponential delay for retryCount, per
// SPEC_FULL.md §4.4: delay = min(cap, base*2^retryCount) * uniform(0.5, 1.5).
func Backoff(base, ceiling time.Duration, retryCount int) time.Duration {
	raw := float64(base) * pow2(retryCount)
	if ceilingF := float64(ceiling); raw > ceilingF {
		raw = ceilingF
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(raw * jitter)
}

func pow2(n int) float64 {
	if n < 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
		if result > 1e9 {
			return result
		}
	}
	return result
}

// DLQTarget returns the dead-letter topic name for a task type, per
// SPEC_FULL.md §4.4's dlq:{type} convention.
func DLQTarget(t domain.TaskType) string {
	return fmt.Sprintf("dlq:%s", t)
}
