package handlers

import (
	"net/http"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// IncidentsCurrent handles GET /incidents/current: every incident not yet
// resolved.
func (h *Handlers) IncidentsCurrent(w http.ResponseWriter, r *http.Request) {
	all, err := h.Store.ListIncidents(r.Context())
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, "store_error", err.Error())
		return
	}
	current := make([]models.IncidentRecord, 0, len(all))
	for _, inc := range all {
		if inc.Status != models.IncidentResolved {
			current = append(current, inc)
		}
	}
	writeOK(w, http.StatusOK, current)
}

// IncidentsHistory handles GET /incidents/history: every incident plus its
// timeline, including resolved ones.
func (h *Handlers) IncidentsHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := h.Store.ListIncidents(ctx)
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, "store_error", err.Error())
		return
	}

	type withTimeline struct {
		models.IncidentRecord
		Timeline []models.IncidentTimeline `json:"timeline"`
	}
	out := make([]withTimeline, 0, len(all))
	for _, inc := range all {
		timeline, _ := h.Store.ListIncidentTimeline(ctx, inc.ID, 50)
		out = append(out, withTimeline{IncidentRecord: inc, Timeline: timeline})
	}
	writeOK(w, http.StatusOK, out)
}

// IncidentsEvaluate handles POST /incidents/evaluate: forces one detector
// evaluation cycle instead of waiting for the next scheduled tick.
func (h *Handlers) IncidentsEvaluate(w http.ResponseWriter, r *http.Request) {
	if h.Incident == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "incident manager not configured")
		return
	}
	h.Incident.Evaluate(r.Context())
	writeOK(w, http.StatusOK, map[string]string{"status": "evaluated"})
}
