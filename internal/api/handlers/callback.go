package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// callbackPayload is the inbound shape for an external webhook event.
type callbackPayload struct {
	TaskID    string `json:"taskId"`
	EventType string `json:"eventType"`
	Status    string `json:"status"`
}

// validCallbackStatuses are the statuses the ingest endpoint will accept.
var validCallbackStatuses = map[string]bool{"completed": true, "failed": true, "progress": true}

// Webhook handles POST /callback/webhook: an idempotent external event
// ingest keyed by {taskId}:{eventType}:{status}. A repeat delivery of the
// same key is accepted as a no-op duplicate rather than reprocessed.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	var payload callbackPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if payload.TaskID == "" || payload.EventType == "" || payload.Status == "" {
		writeErr(w, http.StatusBadRequest, "bad_request", "taskId, eventType, and status are required")
		return
	}

	key := fmt.Sprintf("%s:%s:%s", payload.TaskID, payload.EventType, payload.Status)

	ctx := r.Context()
	if existing, err := h.Store.GetReceipt(ctx, key); err == nil && existing != nil {
		writeOK(w, http.StatusOK, map[string]string{"idempotencyKey": key, "outcome": string(models.CallbackDuplicate)})
		return
	}

	if !validCallbackStatuses[payload.Status] {
		receipt := &models.CallbackReceipt{
			IdempotencyKey: key,
			StatusCode:     http.StatusBadRequest,
			Outcome:        models.CallbackRejected,
			CreatedAt:      time.Now().UTC(),
		}
		_ = h.Store.PutReceipt(ctx, receipt)
		writeErr(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unrecognized status %q", payload.Status))
		return
	}

	receipt := &models.CallbackReceipt{
		IdempotencyKey: key,
		StatusCode:     http.StatusAccepted,
		Outcome:        models.CallbackAccepted,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.PutReceipt(ctx, receipt); err != nil {
		writeErr(w, http.StatusInternalServerError, "store_error", "failed to persist callback receipt")
		return
	}
	writeOK(w, http.StatusAccepted, map[string]string{"idempotencyKey": key, "outcome": string(models.CallbackAccepted)})
}
