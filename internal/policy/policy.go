// Package policy implements the Policy Engine consulted by the Lane
// Executor before every tool call: a session can override the global
// profile entirely, override individual rules on top of it, or simply
// inherit it — checked in that order, falling through a global rule list
// to a global default action.
package policy

import (
	"strings"
	"sync"

	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/rs/zerolog/log"
)

// Engine holds the global policy profile and any per-session overrides.
type Engine struct {
	mu             sync.RWMutex
	global         models.PolicyProfile
	sessionProfile map[string]models.PolicyProfile // full override, replaces global
	sessionRules   map[string][]models.PolicyRule   // additive, checked before global rules
}

// NewEngine builds a Policy Engine seeded with a global profile whose one
// rule allows search_memory; every other tool is denied unless a rule says
// otherwise.
func NewEngine() *Engine {
	return &Engine{
		global: models.PolicyProfile{
			ID:            "global",
			DefaultAction: models.ActionDeny,
			Rules: []models.PolicyRule{
				{SkillName: "search_memory", Action: models.ActionAllow, Reason: "read-only"},
			},
		},
		sessionProfile: make(map[string]models.PolicyProfile),
		sessionRules:   make(map[string][]models.PolicyRule),
	}
}

// SetGlobalProfile replaces the global default profile.
func (e *Engine) SetGlobalProfile(p models.PolicyProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global = p
}

// SetSessionProfile installs a full profile override for a session,
// checked before any rule evaluation.
func (e *Engine) SetSessionProfile(sessionID string, p models.PolicyProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionProfile[sessionID] = p
}

// AddSessionRule layers one additional rule on top of the global profile
// for a session, without replacing it outright.
func (e *Engine) AddSessionRule(sessionID string, rule models.PolicyRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionRules[sessionID] = append(e.sessionRules[sessionID], rule)
}

// Evaluate resolves the action for a tool call with no arguments to
// condition on — equivalent to EvaluateCall with an empty argument map.
func (e *Engine) Evaluate(sessionID, toolName string) models.PolicyDecision {
	return e.EvaluateCall(sessionID, models.ToolCall{Name: toolName})
}

// EvaluateCall resolves the action for one (session, tool call) pair.
// Lookup order: session-override profile (if one was set wholesale) →
// session-scoped additive rules → global rules → global default. A rule's
// SkillName of "*" matches any tool name and is only consulted when no
// exact match was found at that tier. A rule carrying a Condition only
// matches when the expression evaluates truthy against the call's
// arguments; a rule with no Condition always matches once its name matches.
func (e *Engine) EvaluateCall(sessionID string, call models.ToolCall) models.PolicyDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if profile, ok := e.sessionProfile[sessionID]; ok {
		if d, matched := matchRules(profile.Rules, call); matched {
			d.ProfileID = profile.ID
			return d
		}
		return models.PolicyDecision{Action: profile.DefaultAction, Reason: "session profile default", ProfileID: profile.ID}
	}

	if d, matched := matchRules(e.sessionRules[sessionID], call); matched {
		d.ProfileID = "session:" + sessionID
		return d
	}

	if d, matched := matchRules(e.global.Rules, call); matched {
		d.ProfileID = e.global.ID
		return d
	}

	return models.PolicyDecision{Action: e.global.DefaultAction, Reason: "global default", ProfileID: e.global.ID}
}

// matchRules scans rules for an exact skill name match first, then a "*"
// wildcard, returning the first rule found at whichever tier matched and
// whose condition (if any) evaluates truthy.
func matchRules(rules []models.PolicyRule, call models.ToolCall) (models.PolicyDecision, bool) {
	for _, r := range rules {
		if strings.EqualFold(r.SkillName, call.Name) && conditionHolds(r, call) {
			return models.PolicyDecision{Action: r.Action, Reason: r.Reason}, true
		}
	}
	for _, r := range rules {
		if r.SkillName == "*" && conditionHolds(r, call) {
			return models.PolicyDecision{Action: r.Action, Reason: r.Reason}, true
		}
	}
	return models.PolicyDecision{}, false
}

// conditionHolds evaluates a rule's optional expr-lang condition against
// the tool call's arguments. A rule with no condition always holds; an
// unevaluable condition is treated as not holding, so a malformed rule
// fails closed rather than silently granting access.
func conditionHolds(r models.PolicyRule, call models.ToolCall) bool {
	if r.Condition == "" {
		return true
	}
	env := map[string]interface{}{"arguments": call.Arguments, "tool": call.Name}
	out, err := expr.Eval(r.Condition, env)
	if err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Str("condition", r.Condition).Msg("policy rule condition failed to evaluate, denying match")
		return false
	}
	truthy, ok := out.(bool)
	return ok && truthy
}
