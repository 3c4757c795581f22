package lane_test

import (
	"context"
	"testing"

	"github.com/avimaybee/twinclaw/internal/lane"
	"github.com/avimaybee/twinclaw/internal/policy"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
)

func newTestExecutor(t *testing.T) (*lane.Executor, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return lane.NewExecutor(s, policy.NewEngine()), s
}

func TestDispatchRunsRegisteredTool(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.Register("search_memory", lane.Tool{
		Scope:  models.ScopeReadOnly,
		Source: models.ToolBuiltin,
		Handler: func(ctx context.Context, sessionID string, call models.ToolCall) (string, error) {
			return "found: " + call.Arguments["query"].(string), nil
		},
	})

	results := e.Dispatch(context.Background(), "s1", []models.ToolCall{
		{ID: "call-1", Name: "search_memory", Arguments: map[string]interface{}{"query": "weather"}},
	})
	if len(results) != 1 {
		t.Fatalf("Dispatch() = %d results, want 1", len(results))
	}
	if results[0].IsError {
		t.Errorf("Dispatch() result is an error: %s", results[0].Content)
	}
	if results[0].Content != "found: weather" {
		t.Errorf("Dispatch() content = %q, want %q", results[0].Content, "found: weather")
	}
}

func TestDispatchDeniesByDefault(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.Register("send_email", lane.Tool{
		Scope:  models.ScopeHighRisk,
		Source: models.ToolBuiltin,
		Handler: func(ctx context.Context, sessionID string, call models.ToolCall) (string, error) {
			return "sent", nil
		},
	})

	results := e.Dispatch(context.Background(), "s1", []models.ToolCall{
		{ID: "call-1", Name: "send_email"},
	})
	if !results[0].IsError {
		t.Error("Dispatch() for an unlisted high-risk tool should be denied by the global default")
	}
}

func TestDispatchUnknownToolReportsError(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.Register("noop", lane.Tool{Scope: models.ScopeReadOnly, Source: models.ToolBuiltin, Handler: func(context.Context, string, models.ToolCall) (string, error) { return "", nil }})

	results := e.Dispatch(context.Background(), "s1", []models.ToolCall{
		{ID: "call-1", Name: "search_memory"},
	})
	if !results[0].IsError {
		t.Error("Dispatch() for a tool with no registered handler should report an error")
	}
}

func TestDispatchHandlerErrorSurfacesAsToolResult(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.Register("search_memory", lane.Tool{
		Scope:  models.ScopeReadOnly,
		Source: models.ToolBuiltin,
		Handler: func(ctx context.Context, sessionID string, call models.ToolCall) (string, error) {
			return "", context.DeadlineExceeded
		},
	})

	results := e.Dispatch(context.Background(), "s1", []models.ToolCall{
		{ID: "call-1", Name: "search_memory"},
	})
	if !results[0].IsError {
		t.Error("Dispatch() should surface handler errors as IsError results, not panic or drop them")
	}
}

func TestDispatchWritesAuditTrail(t *testing.T) {
	e, s := newTestExecutor(t)
	e.Register("search_memory", lane.Tool{
		Scope:   models.ScopeReadOnly,
		Source:  models.ToolBuiltin,
		Handler: func(context.Context, string, models.ToolCall) (string, error) { return "ok", nil },
	})

	e.Dispatch(context.Background(), "s1", []models.ToolCall{{ID: "call-1", Name: "search_memory"}})

	events, err := s.ListAuditEvents(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("ListAuditEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("ListAuditEvents() = %d events, want 1", len(events))
	}
	if events[0].ToolName != "search_memory" || events[0].Decision != string(models.ActionAllow) {
		t.Errorf("audit event = %+v, want allow decision for search_memory", events[0])
	}
}
