package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaycore/orchestrator/internal/admission"
	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/idempotency"
	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/queue"
	"github.com/relaycore/orchestrator/internal/transport/http/contract"
)

// webhookBody is the inbound payload for POST /webhooks/{source}. Sources
// are expected to declare which task type and payload the delivery maps to;
// external_id is the source's own delivery id, used for the inbox's
// (source, external_id) dedup key (§4.1, §8 invariant 4).
type webhookBody struct {
	ExternalID string          `json:"external_id" validate:"required"`
	TaskType   domain.TaskType `json:"task_type" validate:"required"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
	Provider   string          `json:"provider"`
}

// WebhookHandlers groups the dependencies the /webhooks/{source} endpoint needs.
// Secret is the single WEBHOOK_SIGNING_SECRET shared by every source, per
// SPEC_FULL.md §4.1 and §4.5 (the same secret the outbox webhook sink signs
// outbound deliveries with).
type WebhookHandlers struct {
	TxM       domain.TxManager
	Tasks     domain.TaskRepository
	Broker    *queue.Broker
	Gate      *idempotency.Gate
	Admission *admission.Controller
	IDs       domain.IDGenerator
	Logger    observability.Logger
	Secret    string
}

// Accept handles POST /webhooks/{source}: signature verification, replay
// window check, inbox insert, and Task creation, all in one transaction.
func (h *WebhookHandlers) Accept(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	secret := h.Secret

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		contract.WriteProblemJSON(w, r, domain.ErrValidation)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	timestampHeader := r.Header.Get("X-Webhook-Timestamp")
	timestamp, err := parseTimestamp(timestampHeader)
	if err != nil {
		contract.WriteProblem(w, contract.FromValidationErrors(r, []contract.ValidationError{
			{Field: "X-Webhook-Timestamp", Message: "must be RFC3339 or unix seconds"},
		}))
		return
	}

	if err := h.Gate.VerifyWebhook([]byte(secret), body, signature, timestamp); err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}

	var decoded webhookBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		contract.WriteProblemJSON(w, r, domain.ErrValidation)
		return
	}
	if decoded.ExternalID == "" || decoded.TaskType == "" {
		contract.WriteProblem(w, contract.FromValidationErrors(r, []contract.ValidationError{
			{Field: "external_id", Message: "required"},
			{Field: "task_type", Message: "required"},
		}))
		return
	}

	var task *domain.Task
	err = h.TxM.WithTx(r.Context(), func(tx domain.Querier) error {
		task = &domain.Task{
			ID:         h.IDs.NewID(),
			Type:       decoded.TaskType,
			Payload:    decoded.Payload,
			Priority:   decoded.Priority,
			Status:     domain.TaskQueued,
			MaxRetries: 5,
			Provider:   decoded.Provider,
			EnqueuedAt: timeNow(),
		}
		if err := h.Admission.Admit(r.Context(), tx, task); err != nil {
			return err
		}
		if err := h.Tasks.Create(r.Context(), tx, task); err != nil {
			return err
		}

		entry := &domain.InboxEntry{
			ID:            h.IDs.NewID(),
			Source:        source,
			ExternalID:    decoded.ExternalID,
			SignatureHash: signature,
			ReceivedAt:    timeNow(),
			Payload:       body,
			TaskID:        &task.ID,
			Status:        domain.InboxReceived,
		}
		return h.Gate.InsertInbox(r.Context(), tx, entry)
	})
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}

	if err := h.Broker.Enqueue(task.ID, task.Priority); err != nil && !errors.Is(err, queue.ErrFull) {
		h.Logger.Error("enqueue webhook task", "task_id", task.ID, "error", err)
	}

	_ = contract.WriteJSON(w, http.StatusAccepted, SubmitTaskResponse{TaskID: task.ID, Status: task.Status})
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, errInvalidTimestamp
}

var errInvalidTimestamp = errors.New("webhook: invalid timestamp header")
