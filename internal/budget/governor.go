// Package budget implements the Runtime Budget Governor: usage accounting
// that mutates the routing directives the Model Router consults before
// every provider selection.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Governor aggregates usage and provider cooldowns into the RoutingDirective
// the Router consults before each request. It is the sole mutator of
// store.BudgetState — readers may see stale but never torn values.
type Governor struct {
	store store.Store
	cfg   config.BudgetConfig

	mu             sync.Mutex
	manualProfile  models.RoutingStrategy
	manualPerSess  map[string]models.RoutingStrategy
	cooldownsMu    sync.RWMutex
	cooldowns      map[string]time.Time
}

// NewGovernor constructs a Governor, restoring manual profile and provider
// cooldowns from the persisted BudgetState.
func NewGovernor(ctx context.Context, s store.Store, cfg config.BudgetConfig) *Governor {
	g := &Governor{
		store:         s,
		cfg:           cfg,
		manualPerSess: make(map[string]models.RoutingStrategy),
		cooldowns:     make(map[string]time.Time),
	}
	state := s.GetBudgetState(ctx)
	g.manualProfile = state.ManualProfile
	now := time.Now()
	for providerID, until := range state.ProviderCooldowns {
		if until.After(now) {
			g.cooldowns[providerID] = until
		}
	}
	return g
}

// GetRoutingDirective computes the Router's per-request instruction from
// current daily/session/provider usage aggregates.
func (g *Governor) GetRoutingDirective(ctx context.Context, sessionID string) models.RoutingDirective {
	severity := g.deriveSeverity(ctx, sessionID)
	profile := g.selectProfile(sessionID, severity)

	directive := models.RoutingDirective{
		Profile:          profile,
		Severity:         severity,
		BlockedProviders: g.blockedProviders(),
	}

	switch severity {
	case models.SeverityWarning:
		directive.PacingDelayMs = g.cfg.ProviderCooldownMs / 10
		directive.Actions = append(directive.Actions, "intelligent_pacing")
	case models.SeverityHardLimit:
		directive.Actions = append(directive.Actions, "fallback_tightening")
		directive.BlockedModelIDs = g.topTierModelIDs(ctx)
	}
	return directive
}

// deriveSeverity aggregates daily + session + per-provider usage counts
// against the configured limits.
func (g *Governor) deriveSeverity(ctx context.Context, sessionID string) models.BudgetSeverity {
	since := g.windowStart(ctx)
	counts := g.store.UsageCounts(ctx, since)

	ratios := []float64{
		ratio(counts.TotalRequests, g.cfg.DailyRequestLimit),
		ratio(counts.TotalTokens, g.cfg.DailyTokenLimit),
		ratio(counts.BySession[sessionID], g.cfg.SessionRequestLimit),
	}
	for _, byProvider := range counts.ByProvider {
		ratios = append(ratios, ratio(byProvider, g.cfg.ProviderRequestLimit))
	}

	worst := 0.0
	for _, r := range ratios {
		if r > worst {
			worst = r
		}
	}

	switch {
	case worst >= 1.0:
		return models.SeverityHardLimit
	case worst >= g.cfg.WarningRatio:
		return models.SeverityWarning
	default:
		return models.SeverityNormal
	}
}

func ratio(count, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(count) / float64(limit)
}

// windowStart reads the budget state's rolling 24h reset boundary, resetting
// it (and the daily counters) if it has elapsed.
func (g *Governor) windowStart(ctx context.Context) time.Time {
	state := g.store.GetBudgetState(ctx)
	now := time.Now().UTC()
	if state.WindowResetAt.IsZero() || now.After(state.WindowResetAt) {
		state.DailyRequestCount = 0
		state.DailyTokenCount = 0
		state.WindowResetAt = now.Add(24 * time.Hour)
		g.store.SaveBudgetState(ctx, state)
		return now.Add(-24 * time.Hour)
	}
	return state.WindowResetAt.Add(-24 * time.Hour)
}

// selectProfile honors a session-scoped manual override, then a global
// manual override, then maps severity to a default profile.
func (g *Governor) selectProfile(sessionID string, severity models.BudgetSeverity) models.RoutingStrategy {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.manualPerSess[sessionID]; ok && p != "" {
		return p
	}
	if g.manualProfile != "" {
		return g.manualProfile
	}
	switch severity {
	case models.SeverityWarning:
		return models.ProfileBalanced
	case models.SeverityHardLimit:
		return models.ProfileEconomy
	default:
		return models.RoutingStrategy(g.cfg.DefaultProfile)
	}
}

// topTierModelIDs returns the model ids the hard_limit directive blocks.
// It always returns nil: the Governor holds no provider list, so a
// hard_limit directive blocks no model ids.
func (g *Governor) topTierModelIDs(ctx context.Context) []string {
	// BlockedProviders carries only providers in cooldown, so premium-tier
	// providers are not blocked under hard_limit either.
	return nil
}

// blockedProviders lists providers currently in cooldown.
func (g *Governor) blockedProviders() []string {
	g.cooldownsMu.RLock()
	defer g.cooldownsMu.RUnlock()
	now := time.Now()
	out := make([]string, 0, len(g.cooldowns))
	for id, until := range g.cooldowns {
		if until.After(now) {
			out = append(out, id)
		}
	}
	return out
}

// RecordUsage appends a usage entry and updates the rolling daily counters.
func (g *Governor) RecordUsage(ctx context.Context, entry *models.ModelUsageEntry) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	if err := g.store.AppendUsage(ctx, entry); err != nil {
		log.Error().Err(err).Str("providerId", entry.ProviderID).Msg("failed to append usage entry")
		return
	}
	if entry.Stage != models.StageSuccess {
		return
	}
	state := g.store.GetBudgetState(ctx)
	state.DailyRequestCount++
	state.DailyTokenCount += int64(entry.RequestTokens + entry.ResponseTokens)
	g.store.SaveBudgetState(ctx, state)
}

// ApplyProviderCooldown marks a provider blocked until `until` and persists
// the cooldown so it survives a restart.
func (g *Governor) ApplyProviderCooldown(ctx context.Context, providerID string, until time.Time, reason string) {
	g.cooldownsMu.Lock()
	g.cooldowns[providerID] = until
	g.cooldownsMu.Unlock()

	state := g.store.GetBudgetState(ctx)
	if state.ProviderCooldowns == nil {
		state.ProviderCooldowns = make(map[string]time.Time)
	}
	state.ProviderCooldowns[providerID] = until
	g.store.SaveBudgetState(ctx, state)

	_ = g.store.AppendBudgetEvent(ctx, &models.BudgetEvent{
		ID:        uuid.NewString(),
		Kind:      models.BudgetEventCooldown,
		Detail:    providerID + ": " + reason,
		CreatedAt: time.Now().UTC(),
	})
}

// SetManualProfile persists a manual profile override, global when
// sessionID is empty, session-scoped otherwise. Passing an empty profile
// clears the override.
func (g *Governor) SetManualProfile(ctx context.Context, profile models.RoutingStrategy, sessionID string) {
	g.mu.Lock()
	if sessionID == "" {
		g.manualProfile = profile
	} else if profile == "" {
		delete(g.manualPerSess, sessionID)
	} else {
		g.manualPerSess[sessionID] = profile
	}
	g.mu.Unlock()

	if sessionID == "" {
		state := g.store.GetBudgetState(ctx)
		state.ManualProfile = profile
		g.store.SaveBudgetState(ctx, state)
	}

	kind := models.BudgetEventProfileSet
	if profile == "" {
		kind = models.BudgetEventProfileClear
	}
	_ = g.store.AppendBudgetEvent(ctx, &models.BudgetEvent{
		ID: uuid.NewString(), Kind: kind, SessionID: sessionID,
		Detail: string(profile), CreatedAt: time.Now().UTC(),
	})
}

// ResetPolicyState clears a session's manual profile override and, when
// sessionID is empty, all provider cooldowns and the global override too.
func (g *Governor) ResetPolicyState(ctx context.Context, sessionID string) {
	g.mu.Lock()
	if sessionID == "" {
		g.manualProfile = ""
		g.manualPerSess = make(map[string]models.RoutingStrategy)
	} else {
		delete(g.manualPerSess, sessionID)
	}
	g.mu.Unlock()

	if sessionID == "" {
		g.cooldownsMu.Lock()
		g.cooldowns = make(map[string]time.Time)
		g.cooldownsMu.Unlock()

		state := g.store.GetBudgetState(ctx)
		state.ManualProfile = ""
		state.ProviderCooldowns = make(map[string]time.Time)
		g.store.SaveBudgetState(ctx, state)
	}

	_ = g.store.AppendBudgetEvent(ctx, &models.BudgetEvent{
		ID: uuid.NewString(), Kind: models.BudgetEventReset, SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	})
}

// State returns a snapshot of the Governor's view for the /budget/state
// control-plane endpoint.
func (g *Governor) State(ctx context.Context) *models.BudgetState {
	return g.store.GetBudgetState(ctx)
}

// Events lists the most recent budget events for /budget/events.
func (g *Governor) Events(ctx context.Context, limit int) ([]models.BudgetEvent, error) {
	return g.store.ListBudgetEvents(ctx, limit)
}
