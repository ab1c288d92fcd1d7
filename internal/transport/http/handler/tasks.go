// Package handler implements the §6 HTTP surface's request handlers.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaycore/orchestrator/internal/admission"
	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/idempotency"
	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/queue"
	"github.com/relaycore/orchestrator/internal/transport/http/contract"
)

// SubmitTaskRequest is the POST /tasks request body.
type SubmitTaskRequest struct {
	Type           domain.TaskType `json:"type" validate:"required"`
	Payload        any             `json:"payload"`
	Priority       int             `json:"priority"`
	IdempotencyKey string          `json:"idempotency_key"`
	Provider       string          `json:"provider"`
}

// SubmitTaskResponse is the POST /tasks success response.
type SubmitTaskResponse struct {
	TaskID domain.ID         `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

// TaskResponse is the GET /tasks/{id} response.
type TaskResponse struct {
	ID          domain.ID         `json:"id"`
	Type        domain.TaskType   `json:"type"`
	Status      domain.TaskStatus `json:"status"`
	RetryCount  int               `json:"retry_count"`
	StartedAt   *string           `json:"started_at,omitempty"`
	CompletedAt *string           `json:"completed_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
}

// TaskHandlers groups the dependencies the /tasks endpoints need.
type TaskHandlers struct {
	TxM       domain.TxManager
	PoolQ     domain.Querier
	Tasks     domain.TaskRepository
	Broker    *queue.Broker
	Gate      *idempotency.Gate
	Admission *admission.Controller
	IDs       domain.IDGenerator
	Logger    observability.Logger
}

// SubmitTask handles POST /tasks: admission check, idempotency resolution,
// Task row creation, and enqueue, all in one transaction.
func (h *TaskHandlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if errs := contract.ValidateRequestBody(r, &req); errs != nil {
		contract.WriteProblem(w, contract.FromValidationErrors(r, errs))
		return
	}

	payload, err := marshalPayload(req.Payload)
	if err != nil {
		contract.WriteProblem(w, contract.FromValidationErrors(r, []contract.ValidationError{
			{Field: "payload", Message: "must be valid JSON"},
		}))
		return
	}

	var task *domain.Task
	var duplicate bool

	err = h.TxM.WithTx(r.Context(), func(tx domain.Querier) error {
		existing, isNew, err := h.Gate.ResolveSubmission(r.Context(), tx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if !isNew {
			task = existing
			duplicate = true
			return nil
		}

		task = &domain.Task{
			ID:             h.IDs.NewID(),
			Type:           req.Type,
			Payload:        payload,
			Priority:       req.Priority,
			Status:         domain.TaskQueued,
			MaxRetries:     5,
			IdempotencyKey: req.IdempotencyKey,
			Provider:       req.Provider,
			EnqueuedAt:     timeNow(),
		}

		if err := h.Admission.Admit(r.Context(), tx, task); err != nil {
			return err
		}
		return h.Tasks.Create(r.Context(), tx, task)
	})
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}

	if !duplicate {
		if err := h.Broker.Enqueue(task.ID, task.Priority); err != nil && !errors.Is(err, queue.ErrFull) {
			h.Logger.Error("enqueue after admission", "task_id", task.ID, "error", err)
		}
	}

	status := http.StatusCreated
	if duplicate {
		status = http.StatusConflict
	}
	_ = contract.WriteJSON(w, status, SubmitTaskResponse{TaskID: task.ID, Status: task.Status})
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "id"))
	task, err := h.Tasks.GetByID(r.Context(), h.PoolQ, id)
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}
	_ = contract.WriteJSON(w, http.StatusOK, toTaskResponse(task))
}

func toTaskResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID: t.ID, Type: t.Type, Status: t.Status, RetryCount: t.RetryCount, LastError: t.LastError,
	}
	if t.StartedAt != nil {
		s := t.StartedAt.Format(rfc3339)
		resp.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(rfc3339)
		resp.CompletedAt = &s
	}
	return resp
}
