package handlers

import (
	"net/http"
	"strconv"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// BudgetState handles GET /budget/state.
func (h *Handlers) BudgetState(w http.ResponseWriter, r *http.Request) {
	if h.Budget == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "budget governor not configured")
		return
	}
	writeOK(w, http.StatusOK, h.Budget.State(r.Context()))
}

// BudgetEvents handles GET /budget/events.
func (h *Handlers) BudgetEvents(w http.ResponseWriter, r *http.Request) {
	if h.Budget == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "budget governor not configured")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := h.Budget.Events(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, "store_error", err.Error())
		return
	}
	writeOK(w, http.StatusOK, events)
}

type setProfileRequest struct {
	Profile   string `json:"profile"`
	SessionID string `json:"sessionId,omitempty"`
}

var validProfiles = map[string]bool{
	"":                              true, // clears the override
	string(models.ProfileEconomy):     true,
	string(models.ProfileBalanced):    true,
	string(models.ProfilePerformance): true,
}

// BudgetProfile handles POST /budget/profile: set or clear a manual
// routing profile override, global or session-scoped.
func (h *Handlers) BudgetProfile(w http.ResponseWriter, r *http.Request) {
	if h.Budget == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "budget governor not configured")
		return
	}
	var req setProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if !validProfiles[req.Profile] {
		writeErr(w, http.StatusBadRequest, "bad_request", "profile must be one of economy, balanced, performance, or empty to clear")
		return
	}
	h.Budget.SetManualProfile(r.Context(), models.RoutingStrategy(req.Profile), req.SessionID)
	writeOK(w, http.StatusOK, map[string]string{"profile": req.Profile, "sessionId": req.SessionID})
}
