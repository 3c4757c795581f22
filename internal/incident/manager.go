// Package incident implements the Incident Manager: a periodic detector
// loop that watches the delivery queue, inbound callback outcomes, model
// routing telemetry, and session compaction state, opens an
// IncidentRecord when a condition fires, and applies a bounded
// remediation with cooldown discipline and sticky escalation.
package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// escalateAfter is how many consecutive remediation attempts on the same
// open incident before it's marked Escalated instead of Remediating.
const escalateAfter = 3

// Manager runs the detector/remediation loop.
type Manager struct {
	store            store.Store
	routing          RoutingTelemetrySource
	degradedSessions func() int
	cfg              config.IncidentConfig
}

// New wires an Incident Manager. routing and degradedSessions may be nil
// when the caller has nothing to report for that detector yet — the
// corresponding signal simply never fires.
func New(s store.Store, routing RoutingTelemetrySource, degradedSessions func() int, cfg config.IncidentConfig) *Manager {
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = 15 * time.Second
	}
	if cfg.RemediationCooldownMs <= 0 {
		cfg.RemediationCooldownMs = 60_000
	}
	return &Manager{store: s, routing: routing, degradedSessions: degradedSessions, cfg: cfg}
}

// Start runs the evaluation loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.EvalInterval)
	defer ticker.Stop()

	m.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// Evaluate runs one detector/reconcile cycle immediately, outside the
// regular EvalInterval tick — used by the forced-evaluation endpoint.
func (m *Manager) Evaluate(ctx context.Context) {
	m.runCycle(ctx)
}

// runCycle evaluates every detector and reconciles each against its
// IncidentRecord's current state.
func (m *Manager) runCycle(ctx context.Context) {
	for _, detect := range m.detectors() {
		sig, err := detect(ctx)
		if err != nil {
			log.Error().Err(err).Msg("incident detector failed")
			continue
		}
		if err := m.reconcile(ctx, sig); err != nil {
			log.Error().Err(err).Str("type", string(sig.Type)).Msg("incident reconcile failed")
		}
	}
}

// reconcile applies one detector's signal against the incident's stored
// state: open a new incident, remediate an open one past its cooldown,
// leave one alone while its cooldown is still active, or resolve one
// whose condition has cleared.
func (m *Manager) reconcile(ctx context.Context, sig signal) error {
	existing, err := m.store.GetIncidentByType(ctx, sig.Type)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); !ok {
			return fmt.Errorf("get incident: %w", err)
		}
		existing = nil
	}

	if !sig.Firing {
		if existing != nil && existing.Status != models.IncidentResolved {
			return m.resolve(ctx, existing)
		}
		return nil
	}

	if existing == nil || existing.Status == models.IncidentResolved {
		return m.open(ctx, sig)
	}

	now := time.Now().UTC()
	existing.Evidence = sig.Evidence
	existing.RecommendedActions = sig.RecommendedActions
	existing.UpdatedAt = now

	if existing.CooldownUntil != nil && now.Before(*existing.CooldownUntil) {
		if err := m.store.UpsertIncident(ctx, existing); err != nil {
			return fmt.Errorf("touch incident: %w", err)
		}
		return m.timeline(ctx, existing.ID, "cooldown_active", "")
	}

	return m.remediate(ctx, existing, sig)
}

// open creates a brand-new incident in the Active state.
func (m *Manager) open(ctx context.Context, sig signal) error {
	now := time.Now().UTC()
	rec := &models.IncidentRecord{
		ID:                 uuid.NewString(),
		Type:               sig.Type,
		Severity:           sig.Severity,
		Status:             models.IncidentActive,
		Evidence:           sig.Evidence,
		RecommendedActions: sig.RecommendedActions,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.store.UpsertIncident(ctx, rec); err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return m.timeline(ctx, rec.ID, "detected", sig.Severity)
}

// remediate attempts the incident's remediation action, bumps its
// attempt counter, sets a fresh cooldown, and escalates sticky incidents
// that have survived escalateAfter remediation attempts in a row.
func (m *Manager) remediate(ctx context.Context, rec *models.IncidentRecord, sig signal) error {
	rec.Attempts++
	action := m.applyRemediation(ctx, sig)
	rec.RemediationAction = action

	now := time.Now().UTC()
	cooldownUntil := now.Add(time.Duration(m.cfg.RemediationCooldownMs) * time.Millisecond)
	rec.CooldownUntil = &cooldownUntil
	rec.UpdatedAt = now

	kind := "remediated"
	if rec.Attempts >= escalateAfter {
		rec.Status = models.IncidentEscalated
		kind = "escalated"
	} else {
		rec.Status = models.IncidentRemediating
	}

	if err := m.store.UpsertIncident(ctx, rec); err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return m.timeline(ctx, rec.ID, kind, action)
}

// resolve marks an incident resolved once its condition has cleared.
func (m *Manager) resolve(ctx context.Context, rec *models.IncidentRecord) error {
	rec.Status = models.IncidentResolved
	rec.CooldownUntil = nil
	rec.UpdatedAt = time.Now().UTC()
	if err := m.store.UpsertIncident(ctx, rec); err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	return m.timeline(ctx, rec.ID, "resolved", "")
}

// applyRemediation performs the one automated remediation the Incident
// Manager can take on its own — throttling the delivery queue when it's
// backed up. Every other detector only surfaces recommended actions for
// an operator to act on.
func (m *Manager) applyRemediation(ctx context.Context, sig signal) string {
	if sig.Type != models.IncidentQueueBackpressure {
		return "recommended actions surfaced, no automated remediation available"
	}

	mode := models.QueueModeThrottled
	if sig.Severity == "critical" {
		mode = models.QueueModeDrain
	}
	m.store.SetQueueSettings(ctx, models.QueueSettings{Mode: mode, RetryWindowMultiplier: 2.0})
	return fmt.Sprintf("set delivery queue mode to %q", mode)
}

func (m *Manager) timeline(ctx context.Context, incidentID, kind, detail string) error {
	return m.store.AppendIncidentTimeline(ctx, &models.IncidentTimeline{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Kind:       kind,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
}
