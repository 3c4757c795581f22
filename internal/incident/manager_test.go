package incident_test

import (
	"context"
	"testing"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/incident"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
)

type mockRouting struct {
	events []models.RoutingTelemetryEvent
}

func (m *mockRouting) Telemetry() []models.RoutingTelemetryEvent { return m.events }

func testConfig() config.IncidentConfig {
	return config.IncidentConfig{
		EvalInterval:                  time.Hour,
		RemediationCooldownMs:         50,
		QueueBackpressureThreshold:    3,
		CallbackFailureBurstThreshold: 2,
		ModelRoutingFailureThreshold:  2,
		ContextDegradationThreshold:   2,
	}
}

func TestQueueBackpressureOpensIncident(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.Enqueue(ctx, &models.DeliveryRecord{ID: string(rune('a' + i)), Platform: "mock", State: models.DeliveryQueued})
	}

	mgr := incident.New(s, &mockRouting{}, func() int { return 0 }, testConfig())
	mgr.Evaluate(ctx)

	got, err := s.GetIncidentByType(ctx, models.IncidentQueueBackpressure)
	if err != nil {
		t.Fatalf("GetIncidentByType() error = %v", err)
	}
	if got.Status != models.IncidentActive {
		t.Errorf("incident status = %q, want active", got.Status)
	}
}

func TestQueueBackpressureResolvesWhenBacklogClears(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		rec := &models.DeliveryRecord{ID: string(rune('a' + i)), Platform: "mock", State: models.DeliveryQueued}
		s.Enqueue(ctx, rec)
	}
	mgr := incident.New(s, &mockRouting{}, func() int { return 0 }, testConfig())
	mgr.Evaluate(ctx)

	batch, _ := s.DequeueBatch(ctx, 10, time.Now().UTC())
	for i := range batch {
		batch[i].State = models.DeliverySent
		s.UpdateDelivery(ctx, &batch[i])
	}

	mgr.Evaluate(ctx)

	got, err := s.GetIncidentByType(ctx, models.IncidentQueueBackpressure)
	if err != nil {
		t.Fatalf("GetIncidentByType() error = %v", err)
	}
	if got.Status != models.IncidentResolved {
		t.Errorf("incident status = %q, want resolved once the backlog clears", got.Status)
	}
}

func TestRemediationThrottlesQueueMode(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.Enqueue(ctx, &models.DeliveryRecord{ID: string(rune('a' + i)), Platform: "mock", State: models.DeliveryQueued})
	}

	mgr := incident.New(s, &mockRouting{}, func() int { return 0 }, testConfig())
	mgr.Evaluate(ctx) // opens

	time.Sleep(60 * time.Millisecond) // past the short cooldown
	mgr.Evaluate(ctx)                 // remediates

	settings := s.GetQueueSettings(ctx)
	if settings.Mode != models.QueueModeThrottled {
		t.Errorf("queue mode = %q, want throttled after remediation", settings.Mode)
	}
}

func TestContextDegradationUsesInjectedCallback(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	mgr := incident.New(s, &mockRouting{}, func() int { return 5 }, testConfig())
	mgr.Evaluate(ctx)

	got, err := s.GetIncidentByType(ctx, models.IncidentContextDegradation)
	if err != nil {
		t.Fatalf("GetIncidentByType() error = %v", err)
	}
	if got.Status != models.IncidentActive {
		t.Errorf("incident status = %q, want active when degradedSessions exceeds threshold", got.Status)
	}
}

func TestNilDetectorSourcesNeverFire(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	mgr := incident.New(s, nil, nil, testConfig())
	mgr.Evaluate(ctx)

	if _, err := s.GetIncidentByType(ctx, models.IncidentModelRoutingInstable); err == nil {
		t.Error("expected no routing-instability incident when routing source is nil")
	}
	if _, err := s.GetIncidentByType(ctx, models.IncidentContextDegradation); err == nil {
		t.Error("expected no context-degradation incident when the callback is nil")
	}
}
