package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/transport/http/contract"
)

// StreamHandlers groups the dependencies GET /stream/{id} needs.
type StreamHandlers struct {
	Tasks  domain.TaskRepository
	PoolQ  domain.Querier
	Logger observability.Logger
	Poll   time.Duration // how often to re-check task status; defaults to 1s
}

// Stream handles GET /stream/{id}: a server-sent events feed of a task's
// status until it reaches a terminal state, at which point it emits a
// final "done" or "error" event and closes.
func (h *StreamHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "id"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		contract.WriteProblemJSON(w, r, domain.ErrInternal)
		return
	}

	task, err := h.Tasks.GetByID(r.Context(), h.PoolQ, id)
	if err != nil {
		contract.WriteProblemJSON(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	poll := h.Poll
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	writeEvent(w, "status", task)
	flusher.Flush()

	lastStatus := task.Status
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			task, err = h.Tasks.GetByID(r.Context(), h.PoolQ, id)
			if err != nil {
				writeRawEvent(w, "error", fmt.Sprintf(`{"message":%q}`, err.Error()))
				flusher.Flush()
				return
			}
			if task.Status == lastStatus {
				continue
			}
			lastStatus = task.Status

			switch task.Status {
			case domain.TaskDone:
				writeEvent(w, "done", task)
				flusher.Flush()
				return
			case domain.TaskFailed, domain.TaskCanceled:
				writeEvent(w, "error", task)
				flusher.Flush()
				return
			default:
				writeEvent(w, "status", task)
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, task *domain.Task) {
	resp := toTaskResponse(task)
	body, err := marshalSSEPayload(resp)
	if err != nil {
		return
	}
	writeRawEvent(w, event, string(body))
}

func writeRawEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
