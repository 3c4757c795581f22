// Package gateway implements the Conversation Gateway: the entry point
// that turns one inbound message into a session turn, runs a bounded
// tool-calling loop against the Model Router, and hands off to the
// Delegation Orchestrator when the model calls the "delegate" tool. A high
// complexity score only adds a system-prompt hint suggesting that tool; it
// does not start a delegation by itself. Once a session's history grows
// past compactionThreshold the session is flagged degraded and a marker
// turn is appended; older turns are not summarized.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/delegation"
	"github.com/avimaybee/twinclaw/internal/lane"
	"github.com/avimaybee/twinclaw/internal/reasoning"
	"github.com/avimaybee/twinclaw/internal/router"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// delegateTool is the gateway's own built-in tool name: when the model
// calls it, the Gateway hands the arguments to the Delegation Orchestrator
// instead of routing them through the Lane Executor like any other tool.
const delegateTool = "delegate"

// maxHistoryTurns bounds how many of the most recent turns are loaded into
// the prompt window; older turns are left out, not summarized.
const maxHistoryTurns = 40

// Router is the Gateway's view of the Model Router.
type Router interface {
	Route(ctx context.Context, req *router.ChatRequest) (*models.AssistantMessage, error)
}

// Gateway orchestrates one inbound message end to end.
type Gateway struct {
	store      store.Store
	router     Router
	memory     *reasoning.Retriever
	delegation *delegation.Orchestrator
	lane       *lane.Executor
	cfg        config.GatewayConfig
}

// New wires the Conversation Gateway's collaborators together.
func New(s store.Store, r Router, memory *reasoning.Retriever, delegationOrchestrator *delegation.Orchestrator, laneExecutor *lane.Executor, cfg config.GatewayConfig) *Gateway {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 6
	}
	return &Gateway{store: s, router: r, memory: memory, delegation: delegationOrchestrator, lane: laneExecutor, cfg: cfg}
}

// DegradedSessionCount reports how many sessions compact has flagged
// Degraded — fed to the Incident Manager's context-degradation detector.
func (g *Gateway) DegradedSessionCount() int {
	sessions, err := g.store.ListSessions(context.Background())
	if err != nil {
		return 0
	}
	count := 0
	for _, s := range sessions {
		if s.Degraded {
			count++
		}
	}
	return count
}

// ProcessMessage is the Gateway's single entry point: get-or-create the
// session, append the inbound turn, run the bounded tool-calling loop, and
// return the final assistant reply text.
func (g *Gateway) ProcessMessage(ctx context.Context, msg models.InboundMessage) (string, error) {
	session, err := g.store.GetOrCreateSession(ctx, msg.Platform, msg.SenderID)
	if err != nil {
		return "", fmt.Errorf("get or create session: %w", err)
	}

	userTurn := &models.Turn{ID: uuid.NewString(), SessionID: session.ID, Role: models.RoleUser, Content: msg.Text, CreatedAt: time.Now().UTC()}
	if err := g.store.AppendTurn(ctx, userTurn); err != nil {
		return "", fmt.Errorf("append user turn: %w", err)
	}

	if err := g.compact(ctx, session); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("history compaction failed, continuing with uncompacted history")
	}

	memCtx, err := g.memory.Retrieve(ctx, session.ID, msg.Text)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("memory retrieval failed, continuing without memory context")
		memCtx = &models.MemoryContext{}
	}

	score := complexityScore(msg.Text, memCtx)
	suggestDelegate := score >= g.cfg.DelegationMinScore

	reply, err := g.toolLoop(ctx, session, memCtx, suggestDelegate)
	if err != nil {
		return "", err
	}

	if err := g.memory.Ingest(ctx, session.ID, msg.Text+"\n"+reply); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("memory ingest failed")
	}

	return reply, nil
}

// toolLoop renders the current history plus memory context, calls the
// Model Router, and either returns a final answer or dispatches the
// requested tool calls and loops — bounded by cfg.MaxToolRounds.
func (g *Gateway) toolLoop(ctx context.Context, session *models.Session, memCtx *models.MemoryContext, suggestDelegate bool) (string, error) {
	for round := 0; round < g.cfg.MaxToolRounds; round++ {
		turns, err := g.store.ListTurns(ctx, session.ID, maxHistoryTurns)
		if err != nil {
			return "", fmt.Errorf("list turns: %w", err)
		}

		messages := buildMessages(turns, memCtx, suggestDelegate)
		assistant, err := g.router.Route(ctx, &router.ChatRequest{SessionID: session.ID, Messages: messages})
		if err != nil {
			return "", fmt.Errorf("route: %w", err)
		}

		assistantTurn := &models.Turn{
			ID: uuid.NewString(), SessionID: session.ID, Role: models.RoleAssistant,
			Content: assistant.Content, ToolCalls: assistant.ToolCalls, CreatedAt: time.Now().UTC(),
		}
		if err := g.store.AppendTurn(ctx, assistantTurn); err != nil {
			return "", fmt.Errorf("append assistant turn: %w", err)
		}

		if len(assistant.ToolCalls) == 0 {
			return assistant.Content, nil
		}

		for _, call := range assistant.ToolCalls {
			result := g.dispatchCall(ctx, session, call)
			toolTurn := &models.Turn{
				ID: uuid.NewString(), SessionID: session.ID, Role: models.RoleTool,
				Content: resultContent(result), CreatedAt: time.Now().UTC(),
			}
			if err := g.store.AppendTurn(ctx, toolTurn); err != nil {
				return "", fmt.Errorf("append tool turn: %w", err)
			}
		}
	}

	return fmt.Sprintf("Stopped after %d rounds without a final answer.", g.cfg.MaxToolRounds), nil
}

// dispatchCall routes a "delegate" call to the Delegation Orchestrator and
// everything else through the Lane Executor.
func (g *Gateway) dispatchCall(ctx context.Context, session *models.Session, call models.ToolCall) models.ToolResult {
	if call.Name != delegateTool {
		results := g.lane.Dispatch(ctx, session.ID, []models.ToolCall{call})
		return results[0]
	}

	req, err := parseDelegationRequest(session.ID, call)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	result, err := g.delegation.Run(ctx, req)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	content := result.Summary
	for _, job := range result.Jobs {
		if job.Output != nil {
			content += fmt.Sprintf("\n[%s] %s", job.BriefID, *job.Output)
		}
	}
	return models.ToolResult{ToolCallID: call.ID, Content: content, IsError: result.HasFailures}
}

func resultContent(r models.ToolResult) string {
	if r.IsError {
		return "error: " + r.Content
	}
	return r.Content
}

// buildMessages turns stored turns into the Model Router's wire shape,
// prefacing the history with a system message carrying retrieved memory
// snippets and any contradiction warnings.
func buildMessages(turns []models.Turn, memCtx *models.MemoryContext, suggestDelegate bool) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(turns)+1)

	sys := memorySystemMessage(memCtx)
	if suggestDelegate {
		sys += "This request looks like it has multiple independent sub-tasks. Consider calling the \"delegate\" tool with one brief per sub-task instead of answering everything in one pass."
	}
	if sys != "" {
		messages = append(messages, models.ChatMessage{Role: string(models.RoleSystem), Content: sys})
	}

	for _, t := range turns {
		messages = append(messages, models.ChatMessage{Role: string(t.Role), Content: t.Content, ToolCalls: t.ToolCalls})
	}
	return messages
}

func memorySystemMessage(memCtx *models.MemoryContext) string {
	if memCtx == nil || len(memCtx.Snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memory:\n")
	for _, s := range memCtx.Snippets {
		fmt.Fprintf(&b, "- %s\n", s.Doc.Text)
	}
	for _, c := range memCtx.Contradictions {
		fmt.Fprintf(&b, "Note: conflicting statements were made about claim %s.\n", c.ClaimKey)
	}
	return b.String()
}
