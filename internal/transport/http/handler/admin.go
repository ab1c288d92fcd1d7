package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaycore/orchestrator/internal/budget"
	"github.com/relaycore/orchestrator/internal/circuit"
	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/queue"
	"github.com/relaycore/orchestrator/internal/runtimeutil"
	"github.com/relaycore/orchestrator/internal/transport/http/contract"
)

// AdminHandlers groups the dependencies the /admin endpoints need. Every
// route here is wrapped by middleware.RequireRole(domain.RoleAdmin) in the
// router.
type AdminHandlers struct {
	TxM      domain.TxManager
	PoolQ    domain.Querier
	Tasks    domain.TaskRepository
	Broker   *queue.Broker
	Circuits *circuit.Registry
	Budget   *budget.Accountant
}

// ListDLQ handles GET /admin/dlq/{type}: failed tasks of the given type.
func (h *AdminHandlers) ListDLQ(w http.ResponseWriter, r *http.Request) {
	taskType := domain.TaskType(chi.URLParam(r, "type"))
	status := domain.TaskFailed
	filter := domain.TaskFilter{Status: &status, Type: &taskType}

	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	pageSize := parsePositiveInt(r.URL.Query().Get("page_size"), 50)

	tasks, total, err := h.Tasks.List(r.Context(), h.PoolQ, filter, domain.ListParams{Page: page, PageSize: pageSize})
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}

	resp := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toTaskResponse(t))
	}
	_ = contract.WriteJSON(w, http.StatusOK, dlqListResponse{Tasks: resp, Total: total})
}

type dlqListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

// RetryDLQ handles POST /admin/dlq/{task_id}/retry: resets retry_count=0,
// status=queued, and re-enqueues at original priority.
func (h *AdminHandlers) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "task_id"))

	var task *domain.Task
	err := h.TxM.WithTx(r.Context(), func(tx domain.Querier) error {
		t, err := h.Tasks.GetByID(r.Context(), tx, id)
		if err != nil {
			return err
		}
		task = t
		zero := 0
		return h.Tasks.UpdateStatus(r.Context(), tx, id, domain.TaskQueued, domain.TaskStatusUpdate{RetryCount: &zero})
	})
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}

	if err := h.Broker.Enqueue(task.ID, task.Priority); err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}
	_ = contract.WriteJSON(w, http.StatusOK, SubmitTaskResponse{TaskID: task.ID, Status: domain.TaskQueued})
}

// CancelDLQ handles DELETE /admin/dlq/{task_id}: marks canceled permanently.
func (h *AdminHandlers) CancelDLQ(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "task_id"))
	now := time.Now().UTC()

	err := h.TxM.WithTx(r.Context(), func(tx domain.Querier) error {
		return h.Tasks.UpdateStatus(r.Context(), tx, id, domain.TaskCanceled, domain.TaskStatusUpdate{CompletedAt: &now})
	})
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCircuits handles GET /admin/circuits.
func (h *AdminHandlers) ListCircuits(w http.ResponseWriter, r *http.Request) {
	states, err := h.Circuits.Snapshot(r.Context(), h.PoolQ)
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}
	_ = contract.WriteJSON(w, http.StatusOK, states)
}

// ResetCircuit handles POST /admin/circuits/{service}/reset.
func (h *AdminHandlers) ResetCircuit(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if err := h.Circuits.Reset(r.Context(), service); err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBudget handles GET /admin/budgets/{provider}.
func (h *AdminHandlers) GetBudget(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	remaining, err := h.Budget.Remaining(r.Context(), h.PoolQ, provider)
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}
	_ = contract.WriteJSON(w, http.StatusOK, map[string]any{
		"provider":  provider,
		"remaining": remaining,
	})
}

// GetQueueStats handles GET /admin/queues/stats. It implements
// runtimeutil.QueueInspector's GetQueueStats method against this system's
// single task queue: runtimeutil.QueueInfo's generic job-state counters are
// filled from domain.TaskStatus counts instead of asynq's queue model, and
// the in-memory broker's lease depth stands in for "active".
func (h *AdminHandlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queueStats(r.Context())
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}
	_ = contract.WriteJSON(w, http.StatusOK, stats)
}

func (h *AdminHandlers) queueStats(ctx context.Context) (*runtimeutil.QueueStats, error) {
	counts := map[domain.TaskStatus]int{}
	for _, status := range []domain.TaskStatus{domain.TaskQueued, domain.TaskRunning, domain.TaskDone, domain.TaskFailed, domain.TaskCanceled} {
		s := status
		_, total, err := h.Tasks.List(ctx, h.PoolQ, domain.TaskFilter{Status: &s}, domain.ListParams{Page: 1, PageSize: 1})
		if err != nil {
			return nil, err
		}
		counts[status] = total
	}

	info := runtimeutil.QueueInfo{
		Name:      "tasks",
		Size:      h.Broker.Depth(),
		Active:    counts[domain.TaskRunning],
		Pending:   counts[domain.TaskQueued],
		Retry:     0,
		Archived:  counts[domain.TaskCanceled],
		Completed: counts[domain.TaskDone],
		Processed: counts[domain.TaskDone] + counts[domain.TaskFailed],
		Failed:    counts[domain.TaskFailed],
	}

	return &runtimeutil.QueueStats{
		Aggregate: runtimeutil.AggregateStats{
			TotalEnqueued:  info.Size,
			TotalActive:    info.Active,
			TotalPending:   info.Pending,
			TotalArchived:  info.Archived,
			TotalCompleted: info.Completed,
			TotalProcessed: info.Processed,
			TotalFailed:    info.Failed,
		},
		Queues: []runtimeutil.QueueInfo{info},
	}, nil
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return fallback
	}
	return n
}
