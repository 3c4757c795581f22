package delegation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/delegation"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
)

// mockRunner returns a canned output per brief id, or an error for ids
// listed in failIDs.
type mockRunner struct {
	mu      sync.Mutex
	calls   []string
	failIDs map[string]bool
}

func (r *mockRunner) RunBrief(ctx context.Context, sessionID string, brief models.DelegationBrief) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, brief.ID)
	r.mu.Unlock()
	if r.failIDs[brief.ID] {
		return "", fmt.Errorf("brief %s failed", brief.ID)
	}
	return "output for " + brief.ID, nil
}

func newTestOrchestrator(t *testing.T, runner *mockRunner, cfg config.DelegationConfig) (*delegation.Orchestrator, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return delegation.NewOrchestrator(s, runner, cfg), s
}

func TestRunCompletesIndependentBriefs(t *testing.T) {
	runner := &mockRunner{}
	o, _ := newTestOrchestrator(t, runner, config.DelegationConfig{})

	result, err := o.Run(context.Background(), &models.DelegationRequest{
		SessionID: "s1",
		Briefs: []models.DelegationBrief{
			{ID: "a", Title: "first"},
			{ID: "b", Title: "second"},
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.HasFailures {
		t.Error("Run() reported failures, want none")
	}
	if len(result.Jobs) != 2 {
		t.Fatalf("Run() = %d jobs, want 2", len(result.Jobs))
	}
	for _, j := range result.Jobs {
		if j.State != models.JobCompleted {
			t.Errorf("job %s state = %q, want completed", j.BriefID, j.State)
		}
	}
}

func TestRunRespectsDependencyOrder(t *testing.T) {
	runner := &mockRunner{}
	o, _ := newTestOrchestrator(t, runner, config.DelegationConfig{})

	_, err := o.Run(context.Background(), &models.DelegationRequest{
		SessionID: "s1",
		Briefs: []models.DelegationBrief{
			{ID: "a", Title: "first"},
			{ID: "b", Title: "second", DependsOn: []string{"a"}},
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 2 || runner.calls[0] != "a" || runner.calls[1] != "b" {
		t.Errorf("call order = %v, want [a b]", runner.calls)
	}
}

func TestRunRejectsCyclicDAG(t *testing.T) {
	runner := &mockRunner{}
	o, _ := newTestOrchestrator(t, runner, config.DelegationConfig{})

	_, err := o.Run(context.Background(), &models.DelegationRequest{
		SessionID: "s1",
		Briefs: []models.DelegationBrief{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		},
	})
	if err == nil {
		t.Fatal("Run() should reject a cyclic brief DAG")
	}
}

func TestRunCascadesCancellationToDescendants(t *testing.T) {
	runner := &mockRunner{failIDs: map[string]bool{"a": true}}
	o, _ := newTestOrchestrator(t, runner, config.DelegationConfig{MaxRetryAttempts: 0})

	result, err := o.Run(context.Background(), &models.DelegationRequest{
		SessionID: "s1",
		Briefs: []models.DelegationBrief{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"b"}},
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.HasFailures {
		t.Fatal("Run() should report failures when brief a fails")
	}

	states := map[string]models.JobState{}
	for _, j := range result.Jobs {
		states[j.BriefID] = j.State
	}
	if states["a"] != models.JobFailed {
		t.Errorf("a state = %q, want failed", states["a"])
	}
	if states["b"] != models.JobCancelled {
		t.Errorf("b state = %q, want cancelled (transitive dependent of failed a)", states["b"])
	}
	if states["c"] != models.JobCancelled {
		t.Errorf("c state = %q, want cancelled (transitive dependent of failed a)", states["c"])
	}
}

func TestRunRejectsUnknownDependency(t *testing.T) {
	runner := &mockRunner{}
	o, _ := newTestOrchestrator(t, runner, config.DelegationConfig{})

	_, err := o.Run(context.Background(), &models.DelegationRequest{
		SessionID: "s1",
		Briefs:    []models.DelegationBrief{{ID: "a", DependsOn: []string{"ghost"}}},
	})
	if err == nil {
		t.Fatal("Run() should reject a brief depending on an unknown id")
	}
}
