package policy_test

import (
	"testing"

	"github.com/avimaybee/twinclaw/internal/policy"
	"github.com/avimaybee/twinclaw/pkg/models"
)

func TestDefaultDeniesUnknownTool(t *testing.T) {
	e := policy.NewEngine()

	d := e.Evaluate("s1", "send_email")
	if d.Action != models.ActionDeny {
		t.Errorf("Evaluate() action = %q, want deny", d.Action)
	}
}

func TestGlobalRuleAllowsSearchMemory(t *testing.T) {
	e := policy.NewEngine()

	d := e.Evaluate("s1", "search_memory")
	if d.Action != models.ActionAllow {
		t.Errorf("Evaluate() action = %q, want allow", d.Action)
	}
}

func TestSessionRuleTakesPrecedenceOverGlobal(t *testing.T) {
	e := policy.NewEngine()
	e.AddSessionRule("s1", models.PolicyRule{SkillName: "send_email", Action: models.ActionAllow, Reason: "user granted"})

	d := e.Evaluate("s1", "send_email")
	if d.Action != models.ActionAllow {
		t.Errorf("Evaluate() action = %q, want allow from session rule", d.Action)
	}

	other := e.Evaluate("s2", "send_email")
	if other.Action != models.ActionDeny {
		t.Errorf("Evaluate() for unrelated session = %q, want deny (no leakage across sessions)", other.Action)
	}
}

func TestSessionProfileOverridesGlobalWholesale(t *testing.T) {
	e := policy.NewEngine()
	e.SetSessionProfile("s1", models.PolicyProfile{
		ID:            "restricted",
		DefaultAction: models.ActionDeny,
		Rules:         []models.PolicyRule{{SkillName: "search_memory", Action: models.ActionDeny, Reason: "locked down"}},
	})

	d := e.Evaluate("s1", "search_memory")
	if d.Action != models.ActionDeny {
		t.Errorf("Evaluate() action = %q, want deny under session override profile", d.Action)
	}
	if d.ProfileID != "restricted" {
		t.Errorf("Evaluate() profileId = %q, want restricted", d.ProfileID)
	}
}

func TestWildcardRuleMatchesAnyTool(t *testing.T) {
	e := policy.NewEngine()
	e.SetGlobalProfile(models.PolicyProfile{
		ID:            "global",
		DefaultAction: models.ActionDeny,
		Rules:         []models.PolicyRule{{SkillName: "*", Action: models.ActionAllow, Reason: "open"}},
	})

	d := e.Evaluate("s1", "anything")
	if d.Action != models.ActionAllow {
		t.Errorf("Evaluate() action = %q, want allow via wildcard", d.Action)
	}
}

func TestConditionGatesRuleMatch(t *testing.T) {
	e := policy.NewEngine()
	e.AddSessionRule("s1", models.PolicyRule{
		SkillName: "transfer_funds",
		Action:    models.ActionAllow,
		Condition: "arguments.amount < 100",
	})

	allowed := e.EvaluateCall("s1", models.ToolCall{Name: "transfer_funds", Arguments: map[string]interface{}{"amount": 50}})
	if allowed.Action != models.ActionAllow {
		t.Errorf("EvaluateCall() under threshold = %q, want allow", allowed.Action)
	}

	denied := e.EvaluateCall("s1", models.ToolCall{Name: "transfer_funds", Arguments: map[string]interface{}{"amount": 500}})
	if denied.Action != models.ActionDeny {
		t.Errorf("EvaluateCall() over threshold = %q, want deny (falls through to global default)", denied.Action)
	}
}

func TestMalformedConditionFailsClosed(t *testing.T) {
	e := policy.NewEngine()
	e.AddSessionRule("s1", models.PolicyRule{
		SkillName: "search_memory",
		Action:    models.ActionAllow,
		Condition: "not a valid expression &&&",
	})

	d := e.EvaluateCall("s1", models.ToolCall{Name: "search_memory"})
	if d.Action != models.ActionAllow {
		t.Errorf("EvaluateCall() = %q, want allow from the global fallback rule since the malformed session rule fails closed", d.Action)
	}
}
