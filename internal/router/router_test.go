package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/avimaybee/twinclaw/internal/router"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
)

// mockDriver is a test ProviderDriver.
type mockDriver struct {
	kind string
}

func (d *mockDriver) Kind() string { return d.kind }
func (d *mockDriver) Call(ctx context.Context, provider *models.ModelProvider, req *router.ChatRequest) (*models.AssistantMessage, error) {
	return &models.AssistantMessage{
		Content:    "mock response from " + d.kind,
		ProviderID: provider.ID,
		ModelID:    req.Model,
	}, nil
}
func (d *mockDriver) HealthCheck(ctx context.Context, provider *models.ModelProvider) error {
	return nil
}

type mockBudget struct{}

func (mockBudget) GetRoutingDirective(ctx context.Context, sessionID string) models.RoutingDirective {
	return models.RoutingDirective{}
}
func (mockBudget) RecordUsage(ctx context.Context, entry *models.ModelUsageEntry) {}
func (mockBudget) ApplyProviderCooldown(ctx context.Context, providerID string, until time.Time, reason string) {
}

func newTestRouter(t *testing.T, providers []models.ModelProvider) *router.ModelRouter {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return router.NewModelRouter(s, mockBudget{}, providers, router.Config{})
}

func TestBuiltinDriversRegistered(t *testing.T) {
	mr := newTestRouter(t, nil)

	for _, kind := range []string{"openai", "azure-openai", "anthropic", "ollama"} {
		if mr.GetDriver(kind) == nil {
			t.Errorf("expected built-in driver %q to be registered", kind)
		}
	}
}

func TestRegisterAndGetDriver(t *testing.T) {
	mr := newTestRouter(t, nil)

	mock := &mockDriver{kind: "test-provider"}
	mr.RegisterDriver(mock)

	got := mr.GetDriver("test-provider")
	if got == nil {
		t.Fatal("GetDriver() returned nil for registered driver")
	}
	if got.Kind() != "test-provider" {
		t.Errorf("GetDriver().Kind() = %q, want %q", got.Kind(), "test-provider")
	}
}

func TestGetDriver_NotFound(t *testing.T) {
	mr := newTestRouter(t, nil)

	if got := mr.GetDriver("nonexistent"); got != nil {
		t.Errorf("GetDriver() for nonexistent should return nil, got %v", got)
	}
}

func TestRegisterDriver_Overrides(t *testing.T) {
	mr := newTestRouter(t, nil)

	custom := &mockDriver{kind: "openai"}
	mr.RegisterDriver(custom)

	got := mr.GetDriver("openai")
	if got == nil {
		t.Fatal("GetDriver() returned nil after override")
	}

	resp, err := got.Call(context.Background(), &models.ModelProvider{ID: "test"}, &router.ChatRequest{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Content != "mock response from openai" {
		t.Errorf("Call().Content = %q, want %q", resp.Content, "mock response from openai")
	}
}

func TestHealthCheck_NoProviders(t *testing.T) {
	mr := newTestRouter(t, nil)

	result := mr.HealthCheck(context.Background())
	if result == nil {
		t.Error("HealthCheck() should return a non-nil map")
	}
	if len(result) != 0 {
		t.Errorf("HealthCheck() with no configured providers: got %d results, want 0", len(result))
	}
}

func TestHealthCheck_ReportsMissingDriver(t *testing.T) {
	mr := newTestRouter(t, []models.ModelProvider{{ID: "p1", Kind: "nonexistent-kind", Enabled: true}})

	result := mr.HealthCheck(context.Background())
	if status, ok := result["p1"]; !ok || status == "healthy" {
		t.Errorf("expected p1 to report a missing-driver status, got %q (ok=%v)", status, ok)
	}
}

func TestRouteReturnsAssistantMessage(t *testing.T) {
	mr := newTestRouter(t, []models.ModelProvider{{ID: "p1", Kind: "mock", ModelName: "test-model", Enabled: true}})
	mr.RegisterDriver(&mockDriver{kind: "mock"})

	resp, err := mr.Route(context.Background(), &router.ChatRequest{
		SessionID: "s1",
		Messages:  []models.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.Content != "mock response from mock" {
		t.Errorf("Route().Content = %q, want %q", resp.Content, "mock response from mock")
	}
}
