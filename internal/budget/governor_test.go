package budget_test

import (
	"context"
	"testing"
	"time"

	"github.com/avimaybee/twinclaw/internal/budget"
	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
)

func newTestGovernor(t *testing.T, cfg config.BudgetConfig) (*budget.Governor, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return budget.NewGovernor(context.Background(), s, cfg), s
}

func TestDirectiveNormalBelowAllLimits(t *testing.T) {
	g, _ := newTestGovernor(t, config.BudgetConfig{
		DailyRequestLimit: 1000, DailyTokenLimit: 100000, SessionRequestLimit: 100,
		WarningRatio: 0.7, DefaultProfile: string(models.ProfilePerformance),
	})

	d := g.GetRoutingDirective(context.Background(), "s1")
	if d.Severity != models.SeverityNormal {
		t.Errorf("Severity = %q, want normal", d.Severity)
	}
	if d.Profile != models.ProfilePerformance {
		t.Errorf("Profile = %q, want the configured default", d.Profile)
	}
}

func TestRecordUsageEscalatesSeverityToWarning(t *testing.T) {
	g, _ := newTestGovernor(t, config.BudgetConfig{
		DailyRequestLimit: 10, WarningRatio: 0.5, DefaultProfile: string(models.ProfilePerformance),
	})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		g.RecordUsage(ctx, &models.ModelUsageEntry{SessionID: "s1", ProviderID: "p1", Stage: models.StageSuccess})
	}

	d := g.GetRoutingDirective(ctx, "s1")
	if d.Severity != models.SeverityWarning {
		t.Errorf("Severity = %q, want warning after crossing 50%% of the daily limit", d.Severity)
	}
	if d.Profile != models.ProfileBalanced {
		t.Errorf("Profile = %q, want balanced under warning severity", d.Profile)
	}
}

func TestRecordUsageHardLimitBlocksTopTier(t *testing.T) {
	g, _ := newTestGovernor(t, config.BudgetConfig{
		DailyRequestLimit: 5, WarningRatio: 0.5, DefaultProfile: string(models.ProfilePerformance),
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		g.RecordUsage(ctx, &models.ModelUsageEntry{SessionID: "s1", ProviderID: "p1", Stage: models.StageSuccess})
	}

	d := g.GetRoutingDirective(ctx, "s1")
	if d.Severity != models.SeverityHardLimit {
		t.Errorf("Severity = %q, want hard_limit at 100%% of the daily limit", d.Severity)
	}
	if d.Profile != models.ProfileEconomy {
		t.Errorf("Profile = %q, want economy under hard_limit severity", d.Profile)
	}
}

func TestFailedUsageDoesNotCountTowardLimit(t *testing.T) {
	g, _ := newTestGovernor(t, config.BudgetConfig{DailyRequestLimit: 2, WarningRatio: 0.5})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		g.RecordUsage(ctx, &models.ModelUsageEntry{SessionID: "s1", ProviderID: "p1", Stage: models.StageFailure})
	}

	d := g.GetRoutingDirective(ctx, "s1")
	if d.Severity != models.SeverityNormal {
		t.Errorf("Severity = %q, want normal since only successful calls should count toward usage", d.Severity)
	}
}

func TestApplyProviderCooldownBlocksProvider(t *testing.T) {
	g, _ := newTestGovernor(t, config.BudgetConfig{DailyRequestLimit: 1000, WarningRatio: 0.9})
	ctx := context.Background()

	g.ApplyProviderCooldown(ctx, "p1", time.Now().Add(time.Hour), "rate limited")

	d := g.GetRoutingDirective(ctx, "s1")
	found := false
	for _, p := range d.BlockedProviders {
		if p == "p1" {
			found = true
		}
	}
	if !found {
		t.Errorf("BlockedProviders = %v, want p1 present during its cooldown window", d.BlockedProviders)
	}
}

func TestManualProfileOverridesSeverityDerivedProfile(t *testing.T) {
	g, _ := newTestGovernor(t, config.BudgetConfig{DailyRequestLimit: 1000, WarningRatio: 0.9})
	ctx := context.Background()

	g.SetManualProfile(ctx, models.ProfileEconomy, "")

	d := g.GetRoutingDirective(ctx, "s1")
	if d.Profile != models.ProfileEconomy {
		t.Errorf("Profile = %q, want the manual override economy", d.Profile)
	}
}

func TestSessionScopedManualProfileDoesNotLeak(t *testing.T) {
	g, _ := newTestGovernor(t, config.BudgetConfig{DailyRequestLimit: 1000, WarningRatio: 0.9, DefaultProfile: string(models.ProfilePerformance)})
	ctx := context.Background()

	g.SetManualProfile(ctx, models.ProfileEconomy, "s1")

	if d := g.GetRoutingDirective(ctx, "s1"); d.Profile != models.ProfileEconomy {
		t.Errorf("s1 Profile = %q, want economy", d.Profile)
	}
	if d := g.GetRoutingDirective(ctx, "s2"); d.Profile != models.ProfilePerformance {
		t.Errorf("s2 Profile = %q, want the unaffected default", d.Profile)
	}
}

func TestResetPolicyStateClearsCooldownsAndOverrides(t *testing.T) {
	g, _ := newTestGovernor(t, config.BudgetConfig{DailyRequestLimit: 1000, WarningRatio: 0.9, DefaultProfile: string(models.ProfilePerformance)})
	ctx := context.Background()

	g.ApplyProviderCooldown(ctx, "p1", time.Now().Add(time.Hour), "rate limited")
	g.SetManualProfile(ctx, models.ProfileEconomy, "")

	g.ResetPolicyState(ctx, "")

	d := g.GetRoutingDirective(ctx, "s1")
	if len(d.BlockedProviders) != 0 {
		t.Errorf("BlockedProviders = %v, want empty after reset", d.BlockedProviders)
	}
	if d.Profile != models.ProfilePerformance {
		t.Errorf("Profile = %q, want the default profile restored after reset", d.Profile)
	}
}
