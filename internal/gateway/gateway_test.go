package gateway_test

import (
	"context"
	"sync"
	"testing"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/delegation"
	"github.com/avimaybee/twinclaw/internal/gateway"
	"github.com/avimaybee/twinclaw/internal/lane"
	"github.com/avimaybee/twinclaw/internal/policy"
	"github.com/avimaybee/twinclaw/internal/reasoning"
	"github.com/avimaybee/twinclaw/internal/router"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/internal/vectorstore"
	"github.com/avimaybee/twinclaw/pkg/models"
)

// mockEmbedding is a deterministic embedding stand-in: every text maps to
// the same fixed 4-dimensional vector, since these tests exercise wiring and
// turn persistence, not similarity ranking.
type mockEmbedding struct{}

func (mockEmbedding) Kind() string { return "mock" }
func (mockEmbedding) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3, 0.4}
	}
	return out, nil
}
func (mockEmbedding) Dimensions() int    { return 4 }
func (mockEmbedding) MaxBatchSize() int  { return 16 }
func (mockEmbedding) HealthCheck(context.Context) error { return nil }

// mockRouter replays one response per call, holding the last response once
// exhausted.
type mockRouter struct {
	mu        sync.Mutex
	responses []*models.AssistantMessage
	calls     int
}

func (r *mockRouter) Route(ctx context.Context, req *router.ChatRequest) (*models.AssistantMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	if idx >= len(r.responses) {
		idx = len(r.responses) - 1
	}
	r.calls++
	return r.responses[idx], nil
}

func newTestGateway(t *testing.T, router *mockRouter) (*gateway.Gateway, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	retriever := reasoning.NewRetriever(s, mockEmbedding{}, vectorstore.NewEmbeddedStore(), config.MemoryConfig{TopK: 3})
	orchestrator := delegation.NewOrchestrator(s, &noopBriefRunner{}, config.DelegationConfig{})
	laneExecutor := lane.NewExecutor(s, policy.NewEngine())

	gw := gateway.New(s, router, retriever, orchestrator, laneExecutor, config.GatewayConfig{MaxToolRounds: 4, DelegationMinScore: 1000})
	return gw, s
}

type noopBriefRunner struct{}

func (noopBriefRunner) RunBrief(ctx context.Context, sessionID string, brief models.DelegationBrief) (string, error) {
	return "", nil
}

func TestProcessMessageReturnsFinalAnswer(t *testing.T) {
	mr := &mockRouter{responses: []*models.AssistantMessage{{Content: "hello there"}}}
	gw, _ := newTestGateway(t, mr)

	reply, err := gw.ProcessMessage(context.Background(), models.InboundMessage{Platform: "telegram", SenderID: "u1", Text: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if reply != "hello there" {
		t.Errorf("ProcessMessage() = %q, want %q", reply, "hello there")
	}
}

func TestProcessMessagePersistsTurns(t *testing.T) {
	mr := &mockRouter{responses: []*models.AssistantMessage{{Content: "ack"}}}
	gw, s := newTestGateway(t, mr)

	_, err := gw.ProcessMessage(context.Background(), models.InboundMessage{Platform: "telegram", SenderID: "u1", Text: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	session, err := s.GetOrCreateSession(context.Background(), "telegram", "u1")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	turns, err := s.ListTurns(context.Background(), session.ID, 0)
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("ListTurns() = %d turns, want 2 (user + assistant)", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[1].Role != models.RoleAssistant {
		t.Errorf("turn roles = [%s %s], want [user assistant]", turns[0].Role, turns[1].Role)
	}
}

func TestProcessMessageDispatchesToolCallsBeforeFinalAnswer(t *testing.T) {
	mr := &mockRouter{responses: []*models.AssistantMessage{
		{Content: "", ToolCalls: []models.ToolCall{{ID: "c1", Name: "search_memory", Arguments: map[string]interface{}{"query": "x"}}}},
		{Content: "final answer"},
	}}
	gw, _ := newTestGateway(t, mr)

	reply, err := gw.ProcessMessage(context.Background(), models.InboundMessage{Platform: "telegram", SenderID: "u1", Text: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if reply != "final answer" {
		t.Errorf("ProcessMessage() = %q, want %q", reply, "final answer")
	}
	if mr.calls != 2 {
		t.Errorf("router calls = %d, want 2 (one tool round, one final)", mr.calls)
	}
}

func TestDegradedSessionCountReflectsFlaggedSessions(t *testing.T) {
	mr := &mockRouter{responses: []*models.AssistantMessage{{Content: "ack"}}}
	gw, s := newTestGateway(t, mr)

	session, _ := s.GetOrCreateSession(context.Background(), "telegram", "u1")
	session.Degraded = true
	s.UpdateSession(context.Background(), session)

	if got := gw.DegradedSessionCount(); got != 1 {
		t.Errorf("DegradedSessionCount() = %d, want 1", got)
	}
}
