package handlers

import (
	"net/http"

	"github.com/avimaybee/twinclaw/internal/router"
	"github.com/go-chi/chi/v5"
)

// RoutingTelemetry handles GET /routing/telemetry: the router's capped
// runtime event ring buffer.
func (h *Handlers) RoutingTelemetry(w http.ResponseWriter, r *http.Request) {
	if h.Router == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "model router not configured")
		return
	}
	writeOK(w, http.StatusOK, h.Router.Telemetry())
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

// RoutingMode handles POST /routing/mode: switch the router's fallback
// mode between intelligent_pacing and aggressive_fallback.
func (h *Handlers) RoutingMode(w http.ResponseWriter, r *http.Request) {
	if h.Router == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "model router not configured")
		return
	}
	var req setModeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	mode := router.FallbackMode(req.Mode)
	if mode != router.FallbackIntelligentPacing && mode != router.FallbackAggressiveFallback {
		writeErr(w, http.StatusBadRequest, "bad_request", "mode must be intelligent_pacing or aggressive_fallback")
		return
	}
	h.Router.SetManualFallbackMode(mode)
	writeOK(w, http.StatusOK, map[string]string{"mode": string(mode)})
}

// RoutingTest handles POST /routing/test/{providerId}: a cheap credential
// smoke test against one configured provider.
func (h *Handlers) RoutingTest(w http.ResponseWriter, r *http.Request) {
	if h.Router == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "model router not configured")
		return
	}
	providerID := chi.URLParam(r, "providerId")
	for _, p := range h.Router.Providers() {
		if p.ID == providerID {
			result := h.Router.TestProvider(r.Context(), &p)
			writeOK(w, http.StatusOK, result)
			return
		}
	}
	writeErr(w, http.StatusNotFound, "not_found", "no provider configured with that id")
}
