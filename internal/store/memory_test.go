package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateSession_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateSession(ctx, "telegram", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	second, err := s.GetOrCreateSession(ctx, "telegram", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same session id, got %q and %q", first.ID, second.ID)
	}
}

func TestAppendAndListTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, _ := s.GetOrCreateSession(ctx, "telegram", "user-1")
	for i := 0; i < 3; i++ {
		turn := &models.Turn{ID: string(rune('a' + i)), SessionID: session.ID, Role: models.RoleUser, Content: "hi"}
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	turns, err := s.ListTurns(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("ListTurns() = %d turns, want 3", len(turns))
	}

	limited, err := s.ListTurns(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("ListTurns(limit) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListTurns(limit=2) = %d turns, want 2", len(limited))
	}
}

func TestListSessionsReflectsDegradedFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, _ := s.GetOrCreateSession(ctx, "telegram", "user-1")
	session.Degraded = true
	if err := s.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 || !sessions[0].Degraded {
		t.Errorf("ListSessions() = %+v, want one degraded session", sessions)
	}
}

func TestDequeueBatchRespectsNextAttemptAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	ready := now.Add(-time.Minute)

	futureRec := &models.DeliveryRecord{ID: "future", Platform: "webhook", State: models.DeliveryQueued, NextAttemptAt: &future}
	readyRec := &models.DeliveryRecord{ID: "ready", Platform: "webhook", State: models.DeliveryQueued, NextAttemptAt: &ready}
	if err := s.Enqueue(ctx, futureRec); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := s.Enqueue(ctx, readyRec); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	batch, err := s.DequeueBatch(ctx, 10, now)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}
	if len(batch) != 1 || batch[0].ID != "ready" {
		t.Fatalf("DequeueBatch() = %+v, want only the ready record", batch)
	}
	if batch[0].State != models.DeliveryDispatching {
		t.Errorf("DequeueBatch() state = %q, want dispatching", batch[0].State)
	}
	if batch[0].Attempts != 1 {
		t.Errorf("DequeueBatch() attempts = %d, want 1", batch[0].Attempts)
	}
}

func TestIncidentUpsertAndLookupByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &models.IncidentRecord{ID: "inc-1", Type: models.IncidentQueueBackpressure, Status: models.IncidentActive}
	if err := s.UpsertIncident(ctx, rec); err != nil {
		t.Fatalf("UpsertIncident() error = %v", err)
	}

	got, err := s.GetIncidentByType(ctx, models.IncidentQueueBackpressure)
	if err != nil {
		t.Fatalf("GetIncidentByType() error = %v", err)
	}
	if got == nil || got.ID != "inc-1" {
		t.Fatalf("GetIncidentByType() = %+v, want inc-1", got)
	}

	rec.Status = models.IncidentResolved
	if err := s.UpsertIncident(ctx, rec); err != nil {
		t.Fatalf("UpsertIncident() re-upsert error = %v", err)
	}
	got, _ = s.GetIncidentByType(ctx, models.IncidentQueueBackpressure)
	if got.Status != models.IncidentResolved {
		t.Errorf("GetIncidentByType() status = %q, want resolved", got.Status)
	}
}

func TestRecentOutcomesWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.PutReceipt(ctx, &models.CallbackReceipt{IdempotencyKey: string(rune('a' + i)), Outcome: models.CallbackAccepted})
	}

	outcomes := s.RecentOutcomes(ctx, 3)
	if len(outcomes) != 3 {
		t.Errorf("RecentOutcomes(window=3) = %d entries, want 3", len(outcomes))
	}
}

func TestGetReceiptDeduplicatesByIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	receipt := &models.CallbackReceipt{IdempotencyKey: "task-1:completed", Outcome: models.CallbackAccepted}
	if err := s.PutReceipt(ctx, receipt); err != nil {
		t.Fatalf("PutReceipt() error = %v", err)
	}

	got, err := s.GetReceipt(ctx, "task-1:completed")
	if err != nil {
		t.Fatalf("GetReceipt() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetReceipt() = nil, want the persisted receipt")
	}

	if _, err := s.GetReceipt(ctx, "unknown-key"); err == nil {
		t.Error("GetReceipt() for an unknown key should return an error")
	}
}
