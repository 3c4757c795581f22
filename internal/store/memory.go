// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Sessions   map[string]models.Session          `json:"sessions"`
	Turns      map[string][]models.Turn           `json:"turns"`
	Jobs       map[string]models.OrchestrationJob `json:"jobs"`
	Deliveries map[string]models.DeliveryRecord   `json:"deliveries"`
	Receipts   map[string]models.CallbackReceipt  `json:"receipts"`
	Budget     models.BudgetState                 `json:"budget"`
	Incidents  map[string]models.IncidentRecord   `json:"incidents"`
}

// MemoryStore is an in-memory Store implementation with debounced
// file-based snapshot persistence, used for development and tests.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[string]*models.Session
	turns    map[string][]models.Turn

	jobs      map[string]*models.OrchestrationJob
	jobEvents map[string][]models.OrchestrationEvent

	deliveries  map[string]*models.DeliveryRecord
	attempts    map[string][]models.DeliveryAttempt
	queueSet    models.QueueSettings
	totalSent   int64
	totalFailed int64

	receipts       map[string]*models.CallbackReceipt
	recentOutcomes []models.CallbackOutcome

	usage        []models.ModelUsageEntry
	budget       *models.BudgetState
	budgetEvents []models.BudgetEvent

	incidents        map[string]*models.IncidentRecord
	incidentTimeline map[string][]models.IncidentTimeline

	reasoningNodes   map[string]*models.ReasoningNode
	reasoningByClaim map[string]string // claimKey -> node id
	reasoningEdges   map[string][]models.ReasoningEdge
	provenance       []models.MemoryProvenance

	audit map[string][]models.AuditEvent

	snapshotPath string
	saveCh       chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewMemoryStore creates an in-memory store. If GATEWAY_DATA_DIR is set,
// state is periodically snapshotted to "<dir>/data.json" and restored from
// it on startup.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		sessions:         make(map[string]*models.Session),
		turns:            make(map[string][]models.Turn),
		jobs:             make(map[string]*models.OrchestrationJob),
		jobEvents:        make(map[string][]models.OrchestrationEvent),
		deliveries:       make(map[string]*models.DeliveryRecord),
		attempts:         make(map[string][]models.DeliveryAttempt),
		queueSet:         models.QueueSettings{Mode: models.QueueModeNormal, RetryWindowMultiplier: 1.0},
		receipts:         make(map[string]*models.CallbackReceipt),
		budget:           &models.BudgetState{ProviderCooldowns: make(map[string]time.Time), WindowResetAt: time.Now().Add(24 * time.Hour)},
		incidents:        make(map[string]*models.IncidentRecord),
		incidentTimeline: make(map[string][]models.IncidentTimeline),
		reasoningNodes:   make(map[string]*models.ReasoningNode),
		reasoningByClaim: make(map[string]string),
		reasoningEdges:   make(map[string][]models.ReasoningEdge),
		audit:            make(map[string][]models.AuditEvent),
		saveCh:           make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
	}

	if dataDir := os.Getenv("GATEWAY_DATA_DIR"); dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("cannot create data dir, running without persistence")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "data.json")
		}
	}

	if m.snapshotPath != "" {
		m.load()
		m.wg.Add(1)
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("🗄️  in-memory store initialized")
	return m
}

func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests to at most one write per 500ms, and
// forces a periodic snapshot even if nothing requests one.
func (m *MemoryStore) saveLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.save()
		case <-ticker.C:
			m.save()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryStore) save() {
	m.mu.RLock()
	snap := snapshot{
		Sessions:   make(map[string]models.Session, len(m.sessions)),
		Turns:      m.turns,
		Jobs:       make(map[string]models.OrchestrationJob, len(m.jobs)),
		Deliveries: make(map[string]models.DeliveryRecord, len(m.deliveries)),
		Receipts:   make(map[string]models.CallbackReceipt, len(m.receipts)),
		Budget:     *m.budget,
		Incidents:  make(map[string]models.IncidentRecord, len(m.incidents)),
	}
	for k, v := range m.sessions {
		snap.Sessions[k] = *v
	}
	for k, v := range m.jobs {
		snap.Jobs[k] = *v
	}
	for k, v := range m.deliveries {
		snap.Deliveries[k] = *v
	}
	for k, v := range m.receipts {
		snap.Receipts[k] = *v
	}
	for k, v := range m.incidents {
		snap.Incidents[k] = *v
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("snapshot saved")
}

func (m *MemoryStore) load() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("no snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("failed to read snapshot")
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range snap.Sessions {
		v := v
		m.sessions[k] = &v
	}
	if snap.Turns != nil {
		m.turns = snap.Turns
	}
	for k, v := range snap.Jobs {
		v := v
		m.jobs[k] = &v
	}
	for k, v := range snap.Deliveries {
		v := v
		m.deliveries[k] = &v
	}
	for k, v := range snap.Receipts {
		v := v
		m.receipts[k] = &v
	}
	for k, v := range snap.Incidents {
		v := v
		m.incidents[k] = &v
	}
	if snap.Budget.ProviderCooldowns != nil {
		m.budget = &snap.Budget
	}
	log.Info().Str("path", m.snapshotPath).Msg("snapshot restored")
}

// Ping always succeeds — there is no external connection to verify.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
func (m *MemoryStore) Close() error {
	if m.snapshotPath == "" {
		return nil
	}
	close(m.stopCh)
	m.wg.Wait()
	log.Info().Msg("flushing final snapshot before shutdown")
	m.save()
	return nil
}

// ── Session / Turn ───────────────────────────────────────────

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetOrCreateSession(_ context.Context, platform, senderID string) (*models.Session, error) {
	id := fmt.Sprintf("%s:%s", platform, senderID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	now := time.Now().UTC()
	s := &models.Session{ID: id, Platform: platform, SenderID: senderID, CreatedAt: now, UpdatedAt: now}
	m.sessions[id] = s
	m.requestSave()
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	cp.UpdatedAt = time.Now().UTC()
	m.sessions[session.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, turn *models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	m.turns[turn.SessionID] = append(m.turns[turn.SessionID], *turn)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTurns(_ context.Context, sessionID string, limit int) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.turns[sessionID]
	if limit <= 0 || limit >= len(all) {
		out := make([]models.Turn, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]models.Turn, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// ── Orchestration ──────────────────────────────────────────────

func (m *MemoryStore) CreateJob(_ context.Context, job *models.OrchestrationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	cp := *job
	m.jobs[job.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *models.OrchestrationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*models.OrchestrationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "job", Key: id}
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) ListJobsBySession(_ context.Context, sessionID string, limit int) ([]models.OrchestrationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OrchestrationJob
	for _, j := range m.jobs {
		if j.SessionID == sessionID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) AppendOrchestrationEvent(_ context.Context, event *models.OrchestrationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.jobEvents[event.JobID] = append(m.jobEvents[event.JobID], *event)
	return nil
}

// ── Delivery Queue ─────────────────────────────────────────────

func (m *MemoryStore) Enqueue(_ context.Context, rec *models.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.State = models.DeliveryQueued
	cp := *rec
	m.deliveries[rec.ID] = &cp
	m.requestSave()
	return nil
}

// DequeueBatch atomically selects eligible records, transitions them to
// dispatching, and increments their attempt counter, all under a single
// write lock — giving at-most-once dispatch per polling cycle.
func (m *MemoryStore) DequeueBatch(_ context.Context, n int, now time.Time) ([]models.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var eligible []*models.DeliveryRecord
	for _, d := range m.deliveries {
		if d.State != models.DeliveryQueued && d.State != models.DeliveryFailed {
			continue
		}
		if d.NextAttemptAt != nil && d.NextAttemptAt.After(now) {
			continue
		}
		eligible = append(eligible, d)
	}
	sort.Slice(eligible, func(i, k int) bool {
		ai, ak := eligible[i].NextAttemptAt, eligible[k].NextAttemptAt
		switch {
		case ai == nil && ak == nil:
			return eligible[i].CreatedAt.Before(eligible[k].CreatedAt)
		case ai == nil:
			return true
		case ak == nil:
			return false
		case !ai.Equal(*ak):
			return ai.Before(*ak)
		default:
			return eligible[i].CreatedAt.Before(eligible[k].CreatedAt)
		}
	})

	if n > len(eligible) {
		n = len(eligible)
	}
	out := make([]models.DeliveryRecord, 0, n)
	for i := 0; i < n; i++ {
		d := eligible[i]
		d.State = models.DeliveryDispatching
		d.Attempts++
		out = append(out, *d)
	}
	if n > 0 {
		m.requestSave()
	}
	return out, nil
}

func (m *MemoryStore) UpdateDelivery(_ context.Context, rec *models.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.deliveries[rec.ID] = &cp
	switch rec.State {
	case models.DeliverySent:
		m.totalSent++
	case models.DeliveryDeadLetter:
		m.totalFailed++
	}
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id string) (*models.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "delivery", Key: id}
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListDeliveries(_ context.Context, limit int) ([]models.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DeliveryRecord
	for _, d := range m.deliveries {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) CreateAttempt(_ context.Context, attempt *models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	m.attempts[attempt.DeliveryID] = append(m.attempts[attempt.DeliveryID], *attempt)
	return nil
}

func (m *MemoryStore) UpdateAttempt(_ context.Context, attempt *models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.attempts[attempt.DeliveryID]
	for i := range list {
		if list[i].ID == attempt.ID {
			list[i] = *attempt
			return nil
		}
	}
	return &ErrNotFound{Entity: "delivery attempt", Key: attempt.ID}
}

func (m *MemoryStore) ListAttempts(_ context.Context, deliveryID string) ([]models.DeliveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DeliveryAttempt, len(m.attempts[deliveryID]))
	copy(out, m.attempts[deliveryID])
	return out, nil
}

func (m *MemoryStore) QueueStats(_ context.Context) (QueueStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := QueueStats{TotalSent: m.totalSent, TotalFailed: m.totalFailed}
	for _, d := range m.deliveries {
		switch d.State {
		case models.DeliveryQueued:
			stats.Queued++
		case models.DeliveryDispatching:
			stats.Dispatching++
		case models.DeliveryFailed:
			stats.Failed++
		case models.DeliverySent:
			stats.Sent++
		case models.DeliveryDeadLetter:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

func (m *MemoryStore) GetQueueSettings(_ context.Context) models.QueueSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queueSet
}

func (m *MemoryStore) SetQueueSettings(_ context.Context, s models.QueueSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueSet = s
}

// ── Callback Receipts ──────────────────────────────────────────

func (m *MemoryStore) GetReceipt(_ context.Context, idempotencyKey string) (*models.CallbackReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[idempotencyKey]
	if !ok {
		return nil, &ErrNotFound{Entity: "callback receipt", Key: idempotencyKey}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) PutReceipt(_ context.Context, receipt *models.CallbackReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	cp := *receipt
	m.receipts[receipt.IdempotencyKey] = &cp
	const window = 200
	m.recentOutcomes = append(m.recentOutcomes, receipt.Outcome)
	if len(m.recentOutcomes) > window {
		m.recentOutcomes = m.recentOutcomes[len(m.recentOutcomes)-window:]
	}
	m.requestSave()
	return nil
}

func (m *MemoryStore) RecentOutcomes(_ context.Context, window int) []models.CallbackOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.recentOutcomes
	if window <= 0 || window >= len(all) {
		out := make([]models.CallbackOutcome, len(all))
		copy(out, all)
		return out
	}
	out := make([]models.CallbackOutcome, window)
	copy(out, all[len(all)-window:])
	return out
}

// ── Usage ────────────────────────────────────────────────────────

func (m *MemoryStore) AppendUsage(_ context.Context, entry *models.ModelUsageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.usage = append(m.usage, *entry)
	return nil
}

func (m *MemoryStore) UsageCounts(_ context.Context, since time.Time) UsageCounts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := UsageCounts{BySession: map[string]int64{}, ByProvider: map[string]int64{}}
	for _, u := range m.usage {
		if u.CreatedAt.Before(since) || u.Stage != models.StageSuccess {
			continue
		}
		counts.TotalRequests++
		counts.TotalTokens += int64(u.RequestTokens + u.ResponseTokens)
		counts.BySession[u.SessionID]++
		counts.ByProvider[u.ProviderID]++
	}
	return counts
}

// ── Budget ───────────────────────────────────────────────────────

func (m *MemoryStore) GetBudgetState(_ context.Context) *models.BudgetState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.budget
	cooldowns := make(map[string]time.Time, len(m.budget.ProviderCooldowns))
	for k, v := range m.budget.ProviderCooldowns {
		cooldowns[k] = v
	}
	cp.ProviderCooldowns = cooldowns
	return &cp
}

func (m *MemoryStore) SaveBudgetState(_ context.Context, state *models.BudgetState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.budget = &cp
	m.requestSave()
}

func (m *MemoryStore) AppendBudgetEvent(_ context.Context, event *models.BudgetEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.budgetEvents = append(m.budgetEvents, *event)
	const maxEvents = 5000
	if len(m.budgetEvents) > maxEvents {
		m.budgetEvents = m.budgetEvents[len(m.budgetEvents)-maxEvents:]
	}
	return nil
}

func (m *MemoryStore) ListBudgetEvents(_ context.Context, limit int) ([]models.BudgetEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.budgetEvents
	if limit <= 0 || limit >= len(all) {
		out := make([]models.BudgetEvent, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]models.BudgetEvent, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// ── Incidents ──────────────────────────────────────────────────

func (m *MemoryStore) UpsertIncident(_ context.Context, incident *models.IncidentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}
	incident.UpdatedAt = time.Now().UTC()
	cp := *incident
	m.incidents[incident.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetIncidentByType(_ context.Context, t models.IncidentType) (*models.IncidentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inc := range m.incidents {
		if inc.Type == t {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "incident", Key: string(t)}
}

func (m *MemoryStore) ListIncidents(_ context.Context) ([]models.IncidentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.IncidentRecord, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) AppendIncidentTimeline(_ context.Context, e *models.IncidentTimeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.incidentTimeline[e.IncidentID] = append(m.incidentTimeline[e.IncidentID], *e)
	return nil
}

func (m *MemoryStore) ListIncidentTimeline(_ context.Context, incidentID string, limit int) ([]models.IncidentTimeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.incidentTimeline[incidentID]
	if limit <= 0 || limit >= len(all) {
		out := make([]models.IncidentTimeline, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]models.IncidentTimeline, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// ── Reasoning Graph ──────────────────────────────────────────────

func (m *MemoryStore) UpsertReasoningNode(_ context.Context, node *models.ReasoningNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now
	cp := *node
	m.reasoningNodes[node.ID] = &cp
	m.reasoningByClaim[node.ClaimKey] = node.ID
	return nil
}

func (m *MemoryStore) GetReasoningNodeByClaimKey(_ context.Context, claimKey string) (*models.ReasoningNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.reasoningByClaim[claimKey]
	if !ok {
		return nil, &ErrNotFound{Entity: "reasoning node", Key: claimKey}
	}
	cp := *m.reasoningNodes[id]
	return &cp, nil
}

func (m *MemoryStore) GetReasoningNode(_ context.Context, id string) (*models.ReasoningNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.reasoningNodes[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "reasoning node", Key: id}
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) UpsertReasoningEdge(_ context.Context, edge *models.ReasoningEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	edge.UpdatedAt = time.Now().UTC()
	list := m.reasoningEdges[edge.FromID]
	for i := range list {
		if list[i].ToID == edge.ToID && list[i].Relation == edge.Relation {
			list[i] = *edge
			return nil
		}
	}
	m.reasoningEdges[edge.FromID] = append(list, *edge)
	return nil
}

func (m *MemoryStore) ListEdgesFrom(_ context.Context, nodeID string) ([]models.ReasoningEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.reasoningEdges[nodeID]
	out := make([]models.ReasoningEdge, len(list))
	copy(out, list)
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) PutProvenance(_ context.Context, p *models.MemoryProvenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.provenance = append(m.provenance, *p)
	return nil
}

// ── Audit ────────────────────────────────────────────────────────

func (m *MemoryStore) CreateAuditEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.audit[event.SessionID] = append(m.audit[event.SessionID], *event)
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, sessionID string, limit int) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.audit[sessionID]
	if limit <= 0 || limit >= len(all) {
		out := make([]models.AuditEvent, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]models.AuditEvent, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
