// Package store provides the persistence interface for the control plane.
// The in-memory implementation (memory.go) is used for development and
// tests; it snapshots to disk on a debounced timer so a restart is not
// a full data loss.
package store

import (
	"context"
	"time"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// Store is the primary storage interface for the control plane. Every
// component depends only on the sub-interface(s) it needs.
type Store interface {
	SessionStore
	OrchestrationStore
	DeliveryStore
	CallbackReceiptStore
	UsageStore
	BudgetStore
	IncidentStore
	ReasoningStore
	AuditStore

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Session / Turn Store ─────────────────────────────────────

type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetOrCreateSession(ctx context.Context, platform, senderID string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context) ([]models.Session, error)

	AppendTurn(ctx context.Context, turn *models.Turn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]models.Turn, error)
}

// ── Orchestration (Delegation Orchestrator) Store ────────────

type OrchestrationStore interface {
	CreateJob(ctx context.Context, job *models.OrchestrationJob) error
	UpdateJob(ctx context.Context, job *models.OrchestrationJob) error
	GetJob(ctx context.Context, id string) (*models.OrchestrationJob, error)
	ListJobsBySession(ctx context.Context, sessionID string, limit int) ([]models.OrchestrationJob, error)

	AppendOrchestrationEvent(ctx context.Context, event *models.OrchestrationEvent) error
}

// ── Delivery Queue Store ──────────────────────────────────────

type DeliveryStore interface {
	Enqueue(ctx context.Context, rec *models.DeliveryRecord) error

	// DequeueBatch atomically selects up to n eligible records
	// (state ∈ {queued, failed}, next_attempt_at ≤ now), transitions them
	// to dispatching, and increments their attempt counter — giving
	// at-most-once dispatch per polling cycle.
	DequeueBatch(ctx context.Context, n int, now time.Time) ([]models.DeliveryRecord, error)

	UpdateDelivery(ctx context.Context, rec *models.DeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (*models.DeliveryRecord, error)
	ListDeliveries(ctx context.Context, limit int) ([]models.DeliveryRecord, error)

	CreateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	UpdateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	ListAttempts(ctx context.Context, deliveryID string) ([]models.DeliveryAttempt, error)

	QueueStats(ctx context.Context) (QueueStats, error)
	GetQueueSettings(ctx context.Context) models.QueueSettings
	SetQueueSettings(ctx context.Context, s models.QueueSettings)
}

// QueueStats summarizes the delivery queue for health/reliability reporting.
type QueueStats struct {
	Queued      int
	Dispatching int
	Failed      int
	Sent        int
	DeadLetter  int
	TotalSent   int64
	TotalFailed int64
}

// ── Callback Receipt Store ────────────────────────────────────

type CallbackReceiptStore interface {
	GetReceipt(ctx context.Context, idempotencyKey string) (*models.CallbackReceipt, error)
	PutReceipt(ctx context.Context, receipt *models.CallbackReceipt) error

	// RecentOutcomes returns a bounded sliding window of recent callback
	// outcomes for the incident manager's callback_failure_storm detector;
	// the receipts table itself grows unbounded.
	RecentOutcomes(ctx context.Context, window int) []models.CallbackOutcome
}

// ── Usage Store (Runtime Budget Governor) ────────────────────

type UsageStore interface {
	AppendUsage(ctx context.Context, entry *models.ModelUsageEntry) error

	// UsageCounts aggregates successful requests/tokens for a window, used for
	// severity derivation.
	UsageCounts(ctx context.Context, since time.Time) UsageCounts
}

// UsageCounts is the aggregate the Budget Governor derives severity from.
type UsageCounts struct {
	TotalRequests      int64
	TotalTokens         int64
	BySession           map[string]int64
	ByProvider          map[string]int64
}

// ── Budget Store ───────────────────────────────────────────────

type BudgetStore interface {
	GetBudgetState(ctx context.Context) *models.BudgetState
	SaveBudgetState(ctx context.Context, state *models.BudgetState)

	AppendBudgetEvent(ctx context.Context, event *models.BudgetEvent) error
	ListBudgetEvents(ctx context.Context, limit int) ([]models.BudgetEvent, error)
}

// ── Incident Store ─────────────────────────────────────────────

type IncidentStore interface {
	UpsertIncident(ctx context.Context, incident *models.IncidentRecord) error
	GetIncidentByType(ctx context.Context, t models.IncidentType) (*models.IncidentRecord, error)
	ListIncidents(ctx context.Context) ([]models.IncidentRecord, error)

	AppendIncidentTimeline(ctx context.Context, e *models.IncidentTimeline) error
	ListIncidentTimeline(ctx context.Context, incidentID string, limit int) ([]models.IncidentTimeline, error)
}

// ── Reasoning Graph Store ──────────────────────────────────────

type ReasoningStore interface {
	UpsertReasoningNode(ctx context.Context, node *models.ReasoningNode) error
	GetReasoningNodeByClaimKey(ctx context.Context, claimKey string) (*models.ReasoningNode, error)
	GetReasoningNode(ctx context.Context, id string) (*models.ReasoningNode, error)

	UpsertReasoningEdge(ctx context.Context, edge *models.ReasoningEdge) error
	ListEdgesFrom(ctx context.Context, nodeID string) ([]models.ReasoningEdge, error)

	PutProvenance(ctx context.Context, p *models.MemoryProvenance) error
}

// ── Audit Store (Lane Executor / Policy Engine) ───────────────

type AuditStore interface {
	CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, sessionID string, limit int) ([]models.AuditEvent, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
