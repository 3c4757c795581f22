package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/avimaybee/twinclaw/internal/api/handlers"
	"github.com/avimaybee/twinclaw/internal/budget"
	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/delivery"
	"github.com/avimaybee/twinclaw/internal/incident"
	"github.com/avimaybee/twinclaw/internal/router"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
)

func newTestHandlers(t *testing.T) (*handlers.Handlers, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	g := budget.NewGovernor(context.Background(), s, config.BudgetConfig{DailyRequestLimit: 1000, WarningRatio: 0.7, DefaultProfile: string(models.ProfileBalanced)})
	mr := router.NewModelRouter(s, g, nil, router.Config{})
	im := incident.New(s, nil, nil, config.IncidentConfig{})
	dw := delivery.NewWorker(s, delivery.NewRegistry(""), config.QueueConfig{})

	return handlers.New(s, mr, g, im, dw), s
}

func decodeEnvelope(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("failed to decode response envelope: %v\nbody: %s", err, body)
	}
	return env
}

func TestWebhookAcceptsValidCallback(t *testing.T) {
	h, _ := newTestHandlers(t)

	payload := `{"taskId":"t1","eventType":"status","status":"completed"}`
	req := httptest.NewRequest(http.MethodPost, "/callback/webhook", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	env := decodeEnvelope(t, rec.Body.Bytes())
	if env["ok"] != true {
		t.Errorf("envelope ok = %v, want true", env["ok"])
	}
}

func TestWebhookDeduplicatesRepeatDelivery(t *testing.T) {
	h, _ := newTestHandlers(t)
	payload := `{"taskId":"t1","eventType":"status","status":"completed"}`

	first := httptest.NewRequest(http.MethodPost, "/callback/webhook", bytes.NewBufferString(payload))
	h.Webhook(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/callback/webhook", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.Webhook(rec, second)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a deduplicated repeat delivery", rec.Code)
	}
	env := decodeEnvelope(t, rec.Body.Bytes())
	data := env["data"].(map[string]interface{})
	if data["outcome"] != string(models.CallbackDuplicate) {
		t.Errorf("outcome = %v, want duplicate", data["outcome"])
	}
}

func TestWebhookRejectsUnrecognizedStatus(t *testing.T) {
	h, _ := newTestHandlers(t)
	payload := `{"taskId":"t2","eventType":"status","status":"bogus"}`

	req := httptest.NewRequest(http.MethodPost, "/callback/webhook", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an unrecognized status", rec.Code)
	}
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/callback/webhook", bytes.NewBufferString(`{"taskId":"t3"}`))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 when eventType/status are missing", rec.Code)
	}
}

func TestHealthReturnsOKWhenStoreReachable(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec.Body.Bytes())
	data := env["data"].(map[string]interface{})
	if data["status"] != "ok" {
		t.Errorf("status field = %v, want ok", data["status"])
	}
}

func TestReadinessReflectsIncidentChecks(t *testing.T) {
	h, s := newTestHandlers(t)
	s.UpsertIncident(context.Background(), &models.IncidentRecord{ID: "inc-1", Type: models.IncidentQueueBackpressure, Status: models.IncidentActive})

	req := httptest.NewRequest(http.MethodGet, "/readiness", nil)
	rec := httptest.NewRecorder()
	h.Readiness(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with an active incident present", rec.Code)
	}
}

func TestReliabilityReportsQueueAndCallbackCounters(t *testing.T) {
	h, s := newTestHandlers(t)
	s.PutReceipt(context.Background(), &models.CallbackReceipt{IdempotencyKey: "k1", Outcome: models.CallbackAccepted})

	req := httptest.NewRequest(http.MethodGet, "/reliability", nil)
	rec := httptest.NewRecorder()
	h.Reliability(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec.Body.Bytes())
	data := env["data"].(map[string]interface{})
	callbacks := data["callbacks"].(map[string]interface{})
	if callbacks["accepted"].(float64) != 1 {
		t.Errorf("accepted count = %v, want 1", callbacks["accepted"])
	}
}

func TestBudgetStateReturnsCurrentState(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/budget/state", nil)
	rec := httptest.NewRecorder()

	h.BudgetState(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestBudgetProfileRejectsInvalidProfile(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/budget/profile", bytes.NewBufferString(`{"profile":"ultra"}`))
	rec := httptest.NewRecorder()

	h.BudgetProfile(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an invalid profile name", rec.Code)
	}
}

func TestBudgetProfileSetsManualOverride(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/budget/profile", bytes.NewBufferString(`{"profile":"economy"}`))
	rec := httptest.NewRecorder()

	h.BudgetProfile(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	state := h.Budget.State(context.Background())
	if state.ManualProfile != models.ProfileEconomy {
		t.Errorf("ManualProfile = %q, want economy", state.ManualProfile)
	}
}

func TestRoutingModeRejectsUnknownMode(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/routing/mode", bytes.NewBufferString(`{"mode":"chaotic"}`))
	rec := httptest.NewRecorder()

	h.RoutingMode(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an unrecognized fallback mode", rec.Code)
	}
}

func TestRoutingModeAcceptsValidMode(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/routing/mode", bytes.NewBufferString(`{"mode":"aggressive_fallback"}`))
	rec := httptest.NewRecorder()

	h.RoutingMode(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if h.Router.FallbackMode() != router.FallbackAggressiveFallback {
		t.Errorf("FallbackMode() = %q, want aggressive_fallback", h.Router.FallbackMode())
	}
}

func TestRoutingTestReturnsNotFoundForUnknownProvider(t *testing.T) {
	h, _ := newTestHandlers(t)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("providerId", "ghost")
	req := httptest.NewRequest(http.MethodPost, "/routing/test/ghost", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()

	h.RoutingTest(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for a provider id with no matching configured provider", rec.Code)
	}
}

func TestIncidentsCurrentExcludesResolved(t *testing.T) {
	h, s := newTestHandlers(t)
	ctx := context.Background()
	s.UpsertIncident(ctx, &models.IncidentRecord{ID: "inc-1", Type: models.IncidentQueueBackpressure, Status: models.IncidentActive})
	s.UpsertIncident(ctx, &models.IncidentRecord{ID: "inc-2", Type: models.IncidentContextDegradation, Status: models.IncidentResolved})

	req := httptest.NewRequest(http.MethodGet, "/incidents/current", nil)
	rec := httptest.NewRecorder()
	h.IncidentsCurrent(rec, req)

	env := decodeEnvelope(t, rec.Body.Bytes())
	data := env["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("IncidentsCurrent() = %d records, want 1 (resolved excluded)", len(data))
	}
}

func TestIncidentsEvaluateTriggersACycle(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/incidents/evaluate", nil)
	rec := httptest.NewRecorder()

	h.IncidentsEvaluate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
