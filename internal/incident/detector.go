package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// signal is one detector's verdict for the current evaluation cycle.
type signal struct {
	Type               models.IncidentType
	Firing             bool
	Severity           string
	Evidence           map[string]interface{}
	RecommendedActions []string
}

// RoutingTelemetrySource is the Incident Manager's view of the Model
// Router — just enough to scan recent routing events for instability.
type RoutingTelemetrySource interface {
	Telemetry() []models.RoutingTelemetryEvent
}

// evaluateQueueBackpressure fires when the delivery queue's combined
// queued+dispatching+failed backlog crosses the configured threshold.
func (m *Manager) evaluateQueueBackpressure(ctx context.Context) (signal, error) {
	stats, err := m.store.QueueStats(ctx)
	if err != nil {
		return signal{}, fmt.Errorf("queue stats: %w", err)
	}
	backlog := stats.Queued + stats.Dispatching + stats.Failed
	firing := backlog >= m.cfg.QueueBackpressureThreshold

	severity := "warning"
	if backlog >= m.cfg.QueueBackpressureThreshold*2 {
		severity = "critical"
	}

	return signal{
		Type:     models.IncidentQueueBackpressure,
		Firing:   firing,
		Severity: severity,
		Evidence: map[string]interface{}{
			"backlog":     backlog,
			"queued":      stats.Queued,
			"dispatching": stats.Dispatching,
			"failed":      stats.Failed,
			"deadLetter":  stats.DeadLetter,
		},
		RecommendedActions: []string{"throttle delivery queue", "investigate downstream platform outages"},
	}, nil
}

// evaluateCallbackFailureStorm fires when too many of the most recent
// inbound webhook callbacks were rejected.
func (m *Manager) evaluateCallbackFailureStorm(ctx context.Context) (signal, error) {
	window := m.cfg.CallbackFailureBurstThreshold * 4
	if window < 20 {
		window = 20
	}
	outcomes := m.store.RecentOutcomes(ctx, window)

	rejected := 0
	for _, o := range outcomes {
		if o == models.CallbackRejected {
			rejected++
		}
	}
	firing := rejected >= m.cfg.CallbackFailureBurstThreshold

	return signal{
		Type:     models.IncidentCallbackFailureStorm,
		Firing:   firing,
		Severity: "warning",
		Evidence: map[string]interface{}{
			"rejected": rejected,
			"sampled":  len(outcomes),
		},
		RecommendedActions: []string{"verify webhook signing secret", "check upstream platform callback schema"},
	}, nil
}

// evaluateModelRoutingInstability fires when recent routing telemetry
// shows too many failures, cooldowns, or failovers in the trailing window.
func (m *Manager) evaluateModelRoutingInstability(_ context.Context) (signal, error) {
	if m.routing == nil {
		return signal{Type: models.IncidentModelRoutingInstable}, nil
	}

	events := m.routing.Telemetry()
	cutoff := time.Now().Add(-5 * time.Minute)

	unstable := 0
	for _, e := range events {
		if e.CreatedAt.Before(cutoff) {
			continue
		}
		switch e.Kind {
		case "failure", "cooldown_set", "failover", "rate_limit":
			unstable++
		}
	}
	firing := unstable >= m.cfg.ModelRoutingFailureThreshold

	return signal{
		Type:     models.IncidentModelRoutingInstable,
		Firing:   firing,
		Severity: "warning",
		Evidence: map[string]interface{}{
			"unstableEvents": unstable,
			"windowMinutes":  5,
		},
		RecommendedActions: []string{"review provider cooldown state", "consider manual routing profile override"},
	}, nil
}

// evaluateContextDegradation fires when too many active sessions have
// been flagged Degraded by the Conversation Gateway's compaction.
func (m *Manager) evaluateContextDegradation(_ context.Context) (signal, error) {
	if m.degradedSessions == nil {
		return signal{Type: models.IncidentContextDegradation}, nil
	}

	degraded := m.degradedSessions()
	firing := degraded >= m.cfg.ContextDegradationThreshold

	return signal{
		Type:     models.IncidentContextDegradation,
		Firing:   firing,
		Severity: "info",
		Evidence: map[string]interface{}{
			"degradedSessions": degraded,
		},
		RecommendedActions: []string{"raise compaction threshold", "review memory retrieval quality"},
	}, nil
}

// detectors lists every detector the Incident Manager runs each cycle.
func (m *Manager) detectors() []func(context.Context) (signal, error) {
	return []func(context.Context) (signal, error){
		m.evaluateQueueBackpressure,
		m.evaluateCallbackFailureStorm,
		m.evaluateModelRoutingInstability,
		m.evaluateContextDegradation,
	}
}
