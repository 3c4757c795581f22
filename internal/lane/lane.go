// Package lane implements the Lane Executor: it dispatches an assistant
// turn's tool calls one at a time — never concurrently, since a policy
// decision or a tool's side effect can depend on the outcome of the call
// immediately before it — gating each one through the Policy Engine and
// logging every decision to the audit trail.
package lane

import (
	"context"
	"fmt"
	"time"

	"github.com/avimaybee/twinclaw/internal/policy"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler executes one tool call's side effect and returns its textual
// result.
type Handler func(ctx context.Context, sessionID string, call models.ToolCall) (string, error)

// Tool describes one registered tool: its handler, scope class and source.
// Dispatch does not read Scope or Source; the Policy Engine decides by tool
// name alone.
type Tool struct {
	Scope   models.ToolScope
	Source  models.ToolSource
	Handler Handler
}

// Executor serially dispatches tool calls through the Policy Engine,
// auditing every decision.
type Executor struct {
	store   store.Store
	policy  *policy.Engine
	tools   map[string]Tool
}

// NewExecutor builds a Lane Executor with an empty tool registry — callers
// register built-in and MCP-discovered tools via Register.
func NewExecutor(s store.Store, p *policy.Engine) *Executor {
	return &Executor{store: s, policy: p, tools: make(map[string]Tool)}
}

// Register adds a tool to the dispatch table, replacing any tool already
// registered under the same name.
func (e *Executor) Register(name string, tool Tool) {
	e.tools[name] = tool
}

// Dispatch runs each call in order, returning one models.ToolResult per
// call regardless of whether it was denied, errored, or succeeded — the
// Conversation Gateway appends each as a tool turn either way.
func (e *Executor) Dispatch(ctx context.Context, sessionID string, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.dispatchOne(ctx, sessionID, call))
	}
	return results
}

func (e *Executor) dispatchOne(ctx context.Context, sessionID string, call models.ToolCall) models.ToolResult {
	decision := e.policy.EvaluateCall(sessionID, call)
	e.audit(ctx, sessionID, call.Name, decision)

	if decision.Action == models.ActionDeny {
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("denied by policy: %s", decision.Reason), IsError: true}
	}

	tool, ok := e.tools[call.Name]
	if !ok {
		if decision.Action == models.ActionFallback {
			return models.ToolResult{ToolCallID: call.ID, Content: "tool unavailable, falling back to no-op", IsError: false}
		}
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("unknown tool: %s", call.Name), IsError: true}
	}

	out, err := tool.Handler(ctx, sessionID, call)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	return models.ToolResult{ToolCallID: call.ID, Content: out}
}

func (e *Executor) audit(ctx context.Context, sessionID, toolName string, decision models.PolicyDecision) {
	event := &models.AuditEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ToolName:  toolName,
		Decision:  string(decision.Action),
		Reason:    decision.Reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateAuditEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("tool", toolName).Msg("failed to persist audit event")
	}
}
