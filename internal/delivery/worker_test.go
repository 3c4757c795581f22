package delivery_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/delivery"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
)

// mockChannel records every record it was asked to send and fails sends
// for chat IDs starting with "fail".
type mockChannel struct {
	kind string
	mu   sync.Mutex
	sent []string
}

func (m *mockChannel) Kind() string { return m.kind }
func (m *mockChannel) Send(ctx context.Context, rec *models.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(rec.ChatID) >= 4 && rec.ChatID[:4] == "fail" {
		return fmt.Errorf("simulated send failure")
	}
	m.sent = append(m.sent, rec.ID)
	return nil
}

func newTestWorker(t *testing.T, cfg config.QueueConfig) (*delivery.Worker, store.Store, *mockChannel) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	registry := delivery.NewRegistry("")
	mock := &mockChannel{kind: "mock"}
	registry.Register(mock)
	return delivery.NewWorker(s, registry, cfg), s, mock
}

func runOneCycle(t *testing.T, w *delivery.Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	w.Start(ctx)
}

func TestEnqueueAndDispatchSucceeds(t *testing.T) {
	w, _, mock := newTestWorker(t, config.QueueConfig{PollInterval: time.Hour})

	rec, err := w.Enqueue(context.Background(), "mock", "ok-chat", `{"text":"hi"}`)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	runOneCycle(t, w)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.sent) != 1 || mock.sent[0] != rec.ID {
		t.Errorf("expected %q to be sent, got %v", rec.ID, mock.sent)
	}
}

func TestDispatchFailureSchedulesRetry(t *testing.T) {
	w, s, _ := newTestWorker(t, config.QueueConfig{PollInterval: time.Hour, MaxAttempts: 5, BaseBackoffMs: 10})

	rec, err := w.Enqueue(context.Background(), "mock", "fail-chat", `{"text":"hi"}`)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	runOneCycle(t, w)

	got, err := s.GetDelivery(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetDelivery() error = %v", err)
	}
	if got.State != models.DeliveryFailed {
		t.Errorf("GetDelivery().State = %q, want failed", got.State)
	}
	if got.NextAttemptAt == nil {
		t.Error("GetDelivery().NextAttemptAt should be set after a failed attempt")
	}
}

func TestDispatchDeadLettersAfterMaxAttempts(t *testing.T) {
	w, s, _ := newTestWorker(t, config.QueueConfig{PollInterval: time.Hour, MaxAttempts: 1, BaseBackoffMs: 10})

	rec, err := w.Enqueue(context.Background(), "mock", "fail-chat", `{"text":"hi"}`)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	runOneCycle(t, w)

	got, err := s.GetDelivery(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetDelivery() error = %v", err)
	}
	if got.State != models.DeliveryDeadLetter {
		t.Errorf("GetDelivery().State = %q, want dead_letter once MaxAttempts=1 is exhausted", got.State)
	}
}

func TestDrainModeSkipsDispatch(t *testing.T) {
	w, s, mock := newTestWorker(t, config.QueueConfig{PollInterval: time.Hour})
	s.SetQueueSettings(context.Background(), models.QueueSettings{Mode: models.QueueModeDrain})

	if _, err := w.Enqueue(context.Background(), "mock", "ok-chat", `{"text":"hi"}`); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	runOneCycle(t, w)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.sent) != 0 {
		t.Errorf("drain mode should skip dispatch, but %d records were sent", len(mock.sent))
	}
}
