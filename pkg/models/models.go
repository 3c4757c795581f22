// Package models defines the persistent and transient data shapes shared
// across the control plane: sessions and turns, orchestration jobs and
// delegation briefs, the outbound delivery ledger, budget and routing
// telemetry, incidents, and the reasoning graph used by memory retrieval.
package models

import "time"

// ── Session / Turn ──────────────────────────────────────────

// Session is identified by "{platform}:{senderId}" and owns an ordered
// list of conversation turns. Created lazily on first inbound message.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Platform  string    `json:"platform" db:"platform"`
	SenderID  string    `json:"senderId" db:"sender_id"`
	Degraded  bool      `json:"degraded" db:"degraded"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TurnRole identifies who produced a turn.
type TurnRole string

const (
	RoleSystem    TurnRole = "system"
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// ToolCall is a single tool invocation requested by an assistant turn.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Turn is a single message in a session's ordered history.
type Turn struct {
	ID        string     `json:"id" db:"id"`
	SessionID string     `json:"sessionId" db:"session_id"`
	Role      TurnRole   `json:"role" db:"role"`
	Content   string     `json:"content" db:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty" db:"tool_calls"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// InboundMessage is the shape produced by external channel adapters
// (out of scope for this repo — consumed only through this struct).
type InboundMessage struct {
	Platform      string                 `json:"platform"`
	SenderID      string                 `json:"senderId"`
	ChatID        string                 `json:"chatId"`
	Text          string                 `json:"text,omitempty"`
	AudioFilePath string                 `json:"audioFilePath,omitempty"`
	RawPayload    map[string]interface{} `json:"rawPayload,omitempty"`
}

// ── Model Router support types ──────────────────────────────

// ChatMessage is the wire shape sent to a provider's chat completion API.
type ChatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Name      string     `json:"name,omitempty"`
}

// ThinkingBlock carries provider-reported reasoning content, when a
// provider surfaces it, kept separate from the final answer.
type ThinkingBlock struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// TokenUsage reports provider-reported token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// AssistantMessage is the Model Router's return value on success.
type AssistantMessage struct {
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"toolCalls,omitempty"`
	Thinking   []ThinkingBlock `json:"thinking,omitempty"`
	Usage      TokenUsage      `json:"usage"`
	ProviderID string          `json:"providerId"`
	ModelID    string          `json:"modelId"`
}

// StreamChunk is one increment of a streamed assistant reply.
type StreamChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
}

// RoutingStrategy selects the provider ranking table the router applies.
type RoutingStrategy string

const (
	ProfileEconomy     RoutingStrategy = "economy"
	ProfileBalanced    RoutingStrategy = "balanced"
	ProfilePerformance RoutingStrategy = "performance"
)

// ModelProvider is one configured LLM backend in preferred order.
type ModelProvider struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	Kind       string `json:"kind" db:"kind"` // openai, anthropic, azure-openai, ollama, litellm
	ModelName  string `json:"modelName" db:"model_name"`
	Endpoint   string `json:"endpoint" db:"endpoint"`
	APIKeyName string `json:"apiKeyName" db:"api_key_name"`
	Tier       string `json:"tier" db:"tier"` // cheap, mid, premium — used by economy/balanced ranking
	Enabled    bool   `json:"enabled" db:"enabled"`
}

// ProviderUsageRecord is the router's per-provider running counter row.
type ProviderUsageRecord struct {
	ProviderID      string     `json:"providerId"`
	Attempts        int64      `json:"attempts"`
	Successes       int64      `json:"successes"`
	Failures        int64      `json:"failures"`
	RateLimits      int64      `json:"rateLimits"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	CooldownUntilMs int64      `json:"cooldownUntilMs,omitempty"`
	CooldownReason  string     `json:"cooldownReason,omitempty"`
}

// RoutingTelemetryEvent is one entry in the router's capped ring buffer.
type RoutingTelemetryEvent struct {
	Kind       string    `json:"kind"` // attempt, success, failure, rate_limit, cooldown_set, cooldown_wait, cooldown_skip, failover, mode_change, skipped
	ProviderID string    `json:"providerId"`
	ModelID    string    `json:"modelId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ProviderTestResult is the outcome of a cheap credential smoke test.
type ProviderTestResult struct {
	ProviderID string `json:"providerId"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int64  `json:"latencyMs"`
}

// CostSummary reports running estimated spend per provider.
type CostSummary struct {
	TotalUSD     float64            `json:"totalUsd"`
	ByProviderID map[string]float64 `json:"byProviderId"`
}

// ── Runtime Budget Governor ──────────────────────────────────

// BudgetSeverity derives from usage-vs-limit ratios.
type BudgetSeverity string

const (
	SeverityNormal    BudgetSeverity = "normal"
	SeverityWarning   BudgetSeverity = "warning"
	SeverityHardLimit BudgetSeverity = "hard_limit"
)

// RoutingDirective is the Budget Governor's per-request instruction
// to the Model Router.
type RoutingDirective struct {
	Profile          RoutingStrategy `json:"profile"`
	Severity         BudgetSeverity  `json:"severity"`
	PacingDelayMs    int64           `json:"pacingDelayMs"`
	BlockedProviders []string        `json:"blockedProviders"`
	BlockedModelIDs  []string        `json:"blockedModelIds"`
	Actions          []string        `json:"actions,omitempty"` // intelligent_pacing, fallback_tightening
}

// UsageStage classifies a recorded usage event.
type UsageStage string

const (
	StageSuccess UsageStage = "success"
	StageFailure UsageStage = "failure"
	StageSkipped UsageStage = "skipped"
)

// ModelUsageEntry is an append-only usage log row.
type ModelUsageEntry struct {
	ID             string     `json:"id" db:"id"`
	SessionID      string     `json:"sessionId" db:"session_id"`
	ProviderID     string     `json:"providerId" db:"provider_id"`
	ModelID        string     `json:"modelId" db:"model_id"`
	Profile        string     `json:"profile" db:"profile"`
	Stage          UsageStage `json:"stage" db:"stage"`
	RequestTokens  int        `json:"requestTokens" db:"request_tokens"`
	ResponseTokens int        `json:"responseTokens" db:"response_tokens"`
	LatencyMs      int64      `json:"latencyMs" db:"latency_ms"`
	StatusCode     int        `json:"statusCode,omitempty" db:"status_code"`
	Error          string     `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}

// BudgetEventKind classifies a budget state change.
type BudgetEventKind string

const (
	BudgetEventCooldown     BudgetEventKind = "provider_cooldown"
	BudgetEventProfileSet   BudgetEventKind = "manual_profile_set"
	BudgetEventProfileClear BudgetEventKind = "manual_profile_cleared"
	BudgetEventReset        BudgetEventKind = "policy_state_reset"
)

// BudgetEvent is an append-only log of budget governor mutations.
type BudgetEvent struct {
	ID        string          `json:"id" db:"id"`
	Kind      BudgetEventKind `json:"kind" db:"kind"`
	SessionID string          `json:"sessionId,omitempty" db:"session_id"`
	Detail    string          `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// BudgetState is the small KV for manual overrides and cooldown expiries.
type BudgetState struct {
	ManualProfile     RoutingStrategy      `json:"manualProfile,omitempty" db:"manual_profile"`
	ProviderCooldowns map[string]time.Time `json:"providerCooldowns" db:"provider_cooldowns"`
	DailyRequestCount int64                `json:"dailyRequestCount" db:"daily_request_count"`
	DailyTokenCount   int64                `json:"dailyTokenCount" db:"daily_token_count"`
	WindowResetAt     time.Time            `json:"windowResetAt" db:"window_reset_at"`
}

// ── Delegation Orchestrator ──────────────────────────────────

// JobState is an OrchestrationJob's position in its state machine.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// OrchestrationJob is a single scheduled execution of a DelegationBrief.
type OrchestrationJob struct {
	ID            string     `json:"id" db:"id"`
	SessionID     string     `json:"sessionId" db:"session_id"`
	BriefID       string     `json:"briefId" db:"brief_id"`
	ParentMessage string     `json:"parentMessage" db:"parent_message"`
	State         JobState   `json:"state" db:"state"`
	Attempt       int        `json:"attempt" db:"attempt"`
	Output        *string    `json:"output,omitempty" db:"output"`
	Error         string     `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	StartedAt     *time.Time `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
}

// OrchestrationEvent is an append-only per-job timeline entry.
type OrchestrationEvent struct {
	ID        string    `json:"id" db:"id"`
	JobID     string    `json:"jobId" db:"job_id"`
	Kind      string    `json:"kind" db:"kind"`
	Detail    string    `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// BriefConstraints bounds a single delegated job's execution.
type BriefConstraints struct {
	ToolBudget int   `json:"toolBudget"`
	TimeoutMs  int64 `json:"timeoutMs"`
	MaxTurns   int   `json:"maxTurns"`
}

// DelegationBrief is one node in a delegation DAG.
type DelegationBrief struct {
	ID             string           `json:"id"`
	DependsOn      []string         `json:"dependsOn"`
	Title          string           `json:"title"`
	Objective      string           `json:"objective"`
	ScopedContext  string           `json:"scopedContext"`
	ExpectedOutput string           `json:"expectedOutput"`
	Constraints    BriefConstraints `json:"constraints"`
}

// DelegationRequest is runDelegation's input.
type DelegationRequest struct {
	SessionID     string            `json:"sessionId"`
	ParentMessage string            `json:"parentMessage"`
	Scope         string            `json:"scope"`
	Briefs        []DelegationBrief `json:"briefs"`
}

// DelegationResult is runDelegation's output.
type DelegationResult struct {
	Jobs        []OrchestrationJob `json:"jobs"`
	Summary     string             `json:"summary"`
	HasFailures bool               `json:"hasFailures"`
}

// ── Lane Executor & Policy Engine ────────────────────────────

// PolicyAction is a single rule or default outcome.
type PolicyAction string

const (
	ActionAllow    PolicyAction = "allow"
	ActionDeny     PolicyAction = "deny"
	ActionFallback PolicyAction = "fallback"
)

// PolicyRule maps a tool/skill name (or wildcard "*") to an action. An
// optional Condition is an expr-lang expression evaluated against the
// tool call's arguments (e.g. `arguments.amount < 100`) — when present, the
// rule only matches if the condition also evaluates truthy.
type PolicyRule struct {
	SkillName string       `json:"skillName"`
	Action    PolicyAction `json:"action"`
	Reason    string       `json:"reason,omitempty"`
	Condition string       `json:"condition,omitempty"`
}

// PolicyProfile groups a default action and a rule set, at either the
// session-override or global scope.
type PolicyProfile struct {
	ID            string       `json:"id"`
	DefaultAction PolicyAction `json:"defaultAction"`
	Rules         []PolicyRule `json:"rules"`
}

// PolicyDecision is the Policy Engine's verdict for one (session, tool) pair.
type PolicyDecision struct {
	Action    PolicyAction `json:"action"`
	Reason    string       `json:"reason"`
	ProfileID string       `json:"profileId"`
}

// ToolScope classifies the capability class of an MCP-provided tool.
type ToolScope string

const (
	ScopeReadOnly     ToolScope = "read-only"
	ScopeWriteLimited ToolScope = "write-limited"
	ScopeHighRisk     ToolScope = "high-risk"
	ScopeUnclassified ToolScope = "unclassified"
)

// ToolSource distinguishes built-in tools from MCP-registered ones.
type ToolSource string

const (
	ToolBuiltin ToolSource = "builtin"
	ToolMCP     ToolSource = "mcp"
)

// ToolResult is the lane executor's per-call outcome turn content.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError"`
}

// AuditEvent records a scope or policy gating decision.
type AuditEvent struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"sessionId" db:"session_id"`
	ToolName  string    `json:"toolName" db:"tool_name"`
	Decision  string    `json:"decision" db:"decision"` // allow | deny
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ── Delivery Queue ────────────────────────────────────────────

// DeliveryState is a DeliveryRecord's position in its state machine.
type DeliveryState string

const (
	DeliveryQueued      DeliveryState = "queued"
	DeliveryDispatching DeliveryState = "dispatching"
	DeliverySent        DeliveryState = "sent"
	DeliveryFailed      DeliveryState = "failed"
	DeliveryDeadLetter  DeliveryState = "dead_letter"
)

// DeliveryRecord is one outbound message in the persistent queue.
type DeliveryRecord struct {
	ID            string        `json:"id" db:"id"`
	Platform      string        `json:"platform" db:"platform"`
	ChatID        string        `json:"chatId" db:"chat_id"`
	Payload       string        `json:"payload" db:"payload"`
	State         DeliveryState `json:"state" db:"state"`
	Attempts      int           `json:"attempts" db:"attempts"`
	NextAttemptAt *time.Time    `json:"nextAttemptAt,omitempty" db:"next_attempt_at"`
	ResolvedAt    *time.Time    `json:"resolvedAt,omitempty" db:"resolved_at"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
}

// DeliveryAttempt is an append-only per-delivery attempt ledger row.
type DeliveryAttempt struct {
	ID            string     `json:"id" db:"id"`
	DeliveryID    string     `json:"deliveryId" db:"delivery_id"`
	AttemptNumber int        `json:"attemptNumber" db:"attempt_number"`
	StartedAt     time.Time  `json:"startedAt" db:"started_at"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	Error         string     `json:"error,omitempty" db:"error"`
	DurationMs    int64      `json:"durationMs,omitempty" db:"duration_ms"`
}

// QueueMode is the runtime backpressure control the Incident Manager mutates.
type QueueMode string

const (
	QueueModeNormal    QueueMode = "normal"
	QueueModeThrottled QueueMode = "throttled"
	QueueModeDrain     QueueMode = "drain"
)

// QueueSettings are the live, mutable knobs for the delivery worker.
type QueueSettings struct {
	Mode                  QueueMode `json:"mode"`
	RetryWindowMultiplier float64   `json:"retryWindowMultiplier"`
}

// CallbackOutcome classifies a webhook ingest result.
type CallbackOutcome string

const (
	CallbackAccepted  CallbackOutcome = "accepted"
	CallbackDuplicate CallbackOutcome = "duplicate"
	CallbackRejected  CallbackOutcome = "rejected"
)

// CallbackReceipt makes an external webhook at-most-once by idempotency key.
type CallbackReceipt struct {
	IdempotencyKey string          `json:"idempotencyKey" db:"idempotency_key"`
	StatusCode     int             `json:"statusCode" db:"status_code"`
	Outcome        CallbackOutcome `json:"outcome" db:"outcome"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// ── Incident Manager ──────────────────────────────────────────

// IncidentType names a detector.
type IncidentType string

const (
	IncidentQueueBackpressure    IncidentType = "queue_backpressure"
	IncidentCallbackFailureStorm IncidentType = "callback_failure_storm"
	IncidentModelRoutingInstable IncidentType = "model_routing_instability"
	IncidentContextDegradation   IncidentType = "context_degradation_sustained"
)

// IncidentStatus is an IncidentRecord's position in its lifecycle.
type IncidentStatus string

const (
	IncidentActive      IncidentStatus = "active"
	IncidentRemediating IncidentStatus = "remediating"
	IncidentEscalated   IncidentStatus = "escalated"
	IncidentResolved    IncidentStatus = "resolved"
)

// IncidentRecord tracks one detector's open condition and its remediation.
type IncidentRecord struct {
	ID                  string                 `json:"id" db:"id"`
	Type                IncidentType           `json:"type" db:"type"`
	Severity            string                 `json:"severity" db:"severity"`
	Status              IncidentStatus         `json:"status" db:"status"`
	CooldownUntil       *time.Time             `json:"cooldownUntil,omitempty" db:"cooldown_until"`
	RemediationAction   string                 `json:"remediationAction,omitempty" db:"remediation_action"`
	Attempts            int                    `json:"attempts" db:"attempts"`
	Evidence            map[string]interface{} `json:"evidence,omitempty" db:"evidence"`
	RecommendedActions  []string               `json:"recommendedActions,omitempty" db:"recommended_actions"`
	CreatedAt           time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time              `json:"updatedAt" db:"updated_at"`
}

// IncidentTimeline is an append-only per-incident event log.
type IncidentTimeline struct {
	ID         string    `json:"id" db:"id"`
	IncidentID string    `json:"incidentId" db:"incident_id"`
	Kind       string    `json:"kind" db:"kind"` // detected, remediated, cooldown_active, escalated, resolved
	Detail     string    `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// ── Reasoning-Aware Memory Retrieval ─────────────────────────

// ReasoningNode is a claim-keyed node annotating a retrieved memory chunk.
type ReasoningNode struct {
	ID        string    `json:"id" db:"id"`
	ClaimKey  string    `json:"claimKey" db:"claim_key"`
	Polarity  int       `json:"polarity" db:"polarity"` // +1 or -1
	Text      string    `json:"text" db:"text"`
	SessionID string    `json:"sessionId" db:"session_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ReasoningEdgeRelation classifies the relationship between two reasoning nodes.
type ReasoningEdgeRelation string

const (
	RelationSupports    ReasoningEdgeRelation = "supports"
	RelationContradicts ReasoningEdgeRelation = "contradicts"
	RelationDependsOn   ReasoningEdgeRelation = "depends_on"
	RelationDerivedFrom ReasoningEdgeRelation = "derived_from"
)

// ReasoningEdge connects two reasoning nodes.
type ReasoningEdge struct {
	ID        string                `json:"id" db:"id"`
	FromID    string                `json:"fromId" db:"from_id"`
	ToID      string                `json:"toId" db:"to_id"`
	Relation  ReasoningEdgeRelation `json:"relation" db:"relation"`
	UpdatedAt time.Time             `json:"updatedAt" db:"updated_at"`
}

// MemoryProvenance links a vector doc chunk back to the reasoning node it
// was derived from.
type MemoryProvenance struct {
	ID              string `json:"id" db:"id"`
	VectorDocID     string `json:"vectorDocId" db:"vector_doc_id"`
	ReasoningNodeID string `json:"reasoningNodeId" db:"reasoning_node_id"`
	Label           string `json:"label" db:"label"` // e.g. "[#12]"
}

// VectorDoc is one embedded chunk in the memory index.
type VectorDoc struct {
	ID        string            `json:"id" db:"id"`
	Scope     string            `json:"scope" db:"scope"` // session id, or "global"
	Namespace string            `json:"namespace" db:"namespace"`
	Text      string            `json:"text" db:"text"`
	Vector    []float64         `json:"vector" db:"vector"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"createdAt" db:"created_at"`
}

// SearchResult pairs a VectorDoc with its similarity score.
type SearchResult struct {
	Doc   VectorDoc `json:"doc"`
	Score float64   `json:"score"`
}

// ContradictionSignal is raised when retrieved rows share a claimKey with
// opposing polarity.
type ContradictionSignal struct {
	ClaimKey string   `json:"claimKey"`
	NodeIDs  []string `json:"nodeIds"`
}

// MemoryContext is what the Reasoning-Aware retrieval module hands back to
// the Conversation Gateway for prompt assembly.
type MemoryContext struct {
	Snippets       []SearchResult         `json:"snippets"`
	Evidence       []ReasoningEdge        `json:"evidence"`
	Contradictions []ContradictionSignal  `json:"contradictions,omitempty"`
}
