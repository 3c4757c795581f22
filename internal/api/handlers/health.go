package handlers

import (
	"context"
	"net/http"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// check is one named component of the readiness/doctor report.
type check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handlers) runChecks(ctx context.Context) []check {
	checks := []check{{Name: "store", OK: true}}
	if err := h.Store.Ping(ctx); err != nil {
		checks[0].OK = false
		checks[0].Detail = err.Error()
	}

	incidents, err := h.Store.ListIncidents(ctx)
	active := 0
	for _, inc := range incidents {
		if inc.Status == models.IncidentActive || inc.Status == models.IncidentEscalated {
			active++
		}
	}
	checks = append(checks, check{Name: "incidents", OK: err == nil && active == 0, Detail: incidentDetail(active, err)})

	stats, err := h.Store.QueueStats(ctx)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	checks = append(checks, check{
		Name:   "delivery_queue",
		OK:     err == nil && stats.DeadLetter == 0,
		Detail: detail,
	})

	return checks
}

func incidentDetail(active int, err error) string {
	if err != nil {
		return err.Error()
	}
	if active == 0 {
		return ""
	}
	return "active incidents present"
}

// Health handles GET /health: an aggregated readiness snapshot including
// routing telemetry. Returns 503 only when the store itself is
// unreachable; anything else short of that is reported as "degraded".
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := h.runChecks(ctx)

	status := "ok"
	httpStatus := http.StatusOK
	for _, c := range checks {
		if !c.OK {
			status = "degraded"
		}
	}
	if err := h.Store.Ping(ctx); err != nil {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	var telemetry []models.RoutingTelemetryEvent
	if h.Router != nil {
		telemetry = h.Router.Telemetry()
		if len(telemetry) > 20 {
			telemetry = telemetry[len(telemetry)-20:]
		}
	}

	writeOK(w, httpStatus, map[string]interface{}{
		"status":           status,
		"checks":           checks,
		"routingTelemetry": telemetry,
	})
}

// Readiness handles GET /readiness and GET /doctor: the same structured
// check list, without the routing telemetry tail.
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := h.runChecks(ctx)

	status := http.StatusOK
	for _, c := range checks {
		if !c.OK {
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeOK(w, status, map[string]interface{}{"checks": checks})
}

// Reliability handles GET /reliability: queue and callback counters.
func (h *Handlers) Reliability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.Store.QueueStats(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	settings := h.Store.GetQueueSettings(ctx)
	outcomes := h.Store.RecentOutcomes(ctx, 100)

	accepted, rejected, duplicate := 0, 0, 0
	for _, o := range outcomes {
		switch o {
		case models.CallbackAccepted:
			accepted++
		case models.CallbackRejected:
			rejected++
		case models.CallbackDuplicate:
			duplicate++
		}
	}

	writeOK(w, http.StatusOK, map[string]interface{}{
		"queue": stats,
		"queueMode": settings.Mode,
		"callbacks": map[string]int{
			"accepted":  accepted,
			"rejected":  rejected,
			"duplicate": duplicate,
			"sampled":   len(outcomes),
		},
	})
}
