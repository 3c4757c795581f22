// Package router implements the Model Router: it selects the
// best-ordered provider for a routing profile, applies rate-limit cooldowns
// with one of two fallback modes, and reports capped telemetry of every
// attempt.
package router

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/rs/zerolog/log"
)

// FallbackMode selects how the router treats a provider that is currently
// in cooldown.
type FallbackMode string

const (
	// FallbackIntelligentPacing waits out a short cooldown rather than
	// skipping straight to the next provider, bounded by a max wait.
	FallbackIntelligentPacing FallbackMode = "intelligent_pacing"
	// FallbackAggressiveFallback always skips a cooled-down provider
	// immediately.
	FallbackAggressiveFallback FallbackMode = "aggressive_fallback"
)

// BudgetGovernor is the Router's view of the Runtime Budget Governor. It is
// an interface, not a concrete import, so the two packages can evolve
// without a dependency cycle — the server composition root wires the
// concrete *budget.Governor in.
type BudgetGovernor interface {
	GetRoutingDirective(ctx context.Context, sessionID string) models.RoutingDirective
	RecordUsage(ctx context.Context, entry *models.ModelUsageEntry)
	ApplyProviderCooldown(ctx context.Context, providerID string, until time.Time, reason string)
}

// ProviderDriver is the interface for model provider integrations.
type ProviderDriver interface {
	Kind() string
	Call(ctx context.Context, provider *models.ModelProvider, req *ChatRequest) (*models.AssistantMessage, error)
	HealthCheck(ctx context.Context, provider *models.ModelProvider) error
}

// StreamingProviderDriver is an OPTIONAL interface a driver can implement to
// support streaming. Checked at runtime via type assertion.
type StreamingProviderDriver interface {
	ProviderDriver
	StreamCall(ctx context.Context, provider *models.ModelProvider, req *ChatRequest, callback func(chunk *models.StreamChunk) error) error
}

// EmbeddingCapableDriver is an OPTIONAL interface a driver can implement to
// support text embeddings, discovered via type assertion — configure a
// provider once and both chat and embeddings are available.
type EmbeddingCapableDriver interface {
	ProviderDriver
	EmbeddingModels() []EmbeddingModelInfo
	Embed(ctx context.Context, provider *models.ModelProvider, model string, texts []string) ([][]float64, error)
}

// EmbeddingModelInfo describes an embedding model available from a provider kind.
type EmbeddingModelInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	MaxBatch   int    `json:"max_batch"`
}

// ModelDiscoveryDriver is an OPTIONAL interface a driver can implement to
// support model discovery.
type ModelDiscoveryDriver interface {
	ProviderDriver
	DiscoverModels(ctx context.Context, provider *models.ModelProvider) ([]DiscoveredModel, error)
}

// DiscoveredModel is one model reported by a provider's discovery endpoint.
type DiscoveredModel struct {
	ID        string            `json:"id"`
	Provider  string            `json:"provider"`
	Kind      string            `json:"kind"`
	OwnedBy   string            `json:"ownedBy,omitempty"`
	CreatedAt int64             `json:"createdAt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ChatRequest is the Model Router's call input.
type ChatRequest struct {
	SessionID string
	Messages  []models.ChatMessage
	Model     string // optional explicit override of the provider's configured model
}

// RateLimitError signals a 429 response, carrying the server's requested
// backoff so the caller can set a precise cooldown.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.Body)
}

// ── ModelRouter ──────────────────────────────────────────────

// ModelRouter routes chat requests across configured providers in preferred
// order, applying cooldowns and the configured fallback mode.
type ModelRouter struct {
	store   store.Store
	budget  BudgetGovernor
	client  *http.Client
	cfg     Config

	providersMu sync.RWMutex
	providers   []models.ModelProvider

	cooldownMu sync.Mutex
	cooldowns  map[string]cooldownEntry // providerID -> entry

	telemetryMu sync.Mutex
	telemetry   []models.RoutingTelemetryEvent

	driversMu sync.RWMutex
	drivers   map[string]ProviderDriver
}

type cooldownEntry struct {
	until  time.Time
	reason string
}

// Config holds the router's tunables, sourced from internal/config.
type Config struct {
	DefaultRateLimitCooldownMs int64
	IntelligentPacingMaxWaitMs int64
	MaxRuntimeEvents           int
	FallbackMode               FallbackMode
}

// ConfigFromRouterConfig adapts the top-level config package's RouterConfig
// into the router's own Config, avoiding a config dependency within
// ModelRouter's public constructor signature.
func ConfigFromRouterConfig(rc config.RouterConfig) Config {
	return Config{
		DefaultRateLimitCooldownMs: rc.DefaultRateLimitCooldownMs,
		IntelligentPacingMaxWaitMs: rc.IntelligentPacingMaxWaitMs,
		MaxRuntimeEvents:           rc.MaxRuntimeEvents,
		FallbackMode:               FallbackMode(rc.FallbackMode),
	}
}

// ProvidersFromConfig converts the static provider list from config into
// the models.ModelProvider shape the router operates on, defaulting
// Enabled to true — a provider is only inert when its API key env var is
// unset, checked per-call rather than at startup.
func ProvidersFromConfig(cfgs []config.ProviderConfig) []models.ModelProvider {
	out := make([]models.ModelProvider, len(cfgs))
	for i, c := range cfgs {
		out[i] = models.ModelProvider{
			ID:         c.ID,
			Name:       c.ID,
			Kind:       c.Kind,
			ModelName:  c.ModelName,
			Endpoint:   c.Endpoint,
			APIKeyName: c.APIKeyName,
			Tier:       c.Tier,
			Enabled:    true,
		}
	}
	return out
}

// NewModelRouter creates a router with built-in drivers registered.
func NewModelRouter(s store.Store, budget BudgetGovernor, providers []models.ModelProvider, cfg Config) *ModelRouter {
	if cfg.MaxRuntimeEvents <= 0 {
		cfg.MaxRuntimeEvents = 500
	}
	if cfg.FallbackMode == "" {
		cfg.FallbackMode = FallbackIntelligentPacing
	}
	mr := &ModelRouter{
		store:     s,
		budget:    budget,
		client:    &http.Client{Timeout: 120 * time.Second},
		cfg:       cfg,
		providers: providers,
		cooldowns: make(map[string]cooldownEntry),
		drivers:   make(map[string]ProviderDriver),
	}
	mr.registerBuiltinDrivers()
	return mr
}

// RegisterDriver adds a provider driver to the registry, replacing any
// driver already registered for the same kind.
func (mr *ModelRouter) RegisterDriver(driver ProviderDriver) {
	mr.driversMu.Lock()
	mr.drivers[driver.Kind()] = driver
	mr.driversMu.Unlock()
	log.Info().Str("kind", driver.Kind()).Msg("provider driver registered")
}

func (mr *ModelRouter) GetDriver(kind string) ProviderDriver {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	return mr.drivers[kind]
}

// ListEmbeddingCapableDrivers returns all registered drivers implementing
// EmbeddingCapableDriver, keyed by kind.
func (mr *ModelRouter) ListEmbeddingCapableDrivers() map[string]EmbeddingCapableDriver {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	out := make(map[string]EmbeddingCapableDriver)
	for kind, d := range mr.drivers {
		if ecd, ok := d.(EmbeddingCapableDriver); ok {
			out[kind] = ecd
		}
	}
	return out
}

// DiscoverEmbeddingsForProvider reports whether a provider's driver
// supports embeddings.
func (mr *ModelRouter) DiscoverEmbeddingsForProvider(provider *models.ModelProvider) (EmbeddingCapableDriver, []EmbeddingModelInfo) {
	driver := mr.GetDriver(provider.Kind)
	if driver == nil {
		return nil, nil
	}
	ecd, ok := driver.(EmbeddingCapableDriver)
	if !ok {
		return nil, nil
	}
	return ecd, ecd.EmbeddingModels()
}

// Providers returns the router's current configured provider list.
func (mr *ModelRouter) Providers() []models.ModelProvider {
	mr.providersMu.RLock()
	defer mr.providersMu.RUnlock()
	out := make([]models.ModelProvider, len(mr.providers))
	copy(out, mr.providers)
	return out
}

// HealthCheck pings all configured providers and returns their status.
func (mr *ModelRouter) HealthCheck(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for _, p := range mr.Providers() {
		driver := mr.GetDriver(p.Kind)
		if driver == nil {
			out[p.ID] = "no driver registered for kind: " + p.Kind
			continue
		}
		if err := driver.HealthCheck(ctx, &p); err != nil {
			out[p.ID] = "unhealthy: " + err.Error()
		} else {
			out[p.ID] = "healthy"
		}
	}
	return out
}

// Telemetry returns a snapshot of the capped runtime event ring buffer.
func (mr *ModelRouter) Telemetry() []models.RoutingTelemetryEvent {
	mr.telemetryMu.Lock()
	defer mr.telemetryMu.Unlock()
	out := make([]models.RoutingTelemetryEvent, len(mr.telemetry))
	copy(out, mr.telemetry)
	return out
}

func (mr *ModelRouter) emit(kind, providerID, modelID, sessionID, detail string) {
	mr.telemetryMu.Lock()
	defer mr.telemetryMu.Unlock()
	mr.telemetry = append(mr.telemetry, models.RoutingTelemetryEvent{
		Kind:       kind,
		ProviderID: providerID,
		ModelID:    modelID,
		SessionID:  sessionID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if over := len(mr.telemetry) - mr.cfg.MaxRuntimeEvents; over > 0 {
		mr.telemetry = mr.telemetry[over:]
	}
}

// SetManualFallbackMode switches between intelligent_pacing and
// aggressive_fallback at runtime (POST /routing/mode).
func (mr *ModelRouter) SetManualFallbackMode(mode FallbackMode) {
	mr.cfg.FallbackMode = mode
	mr.emit("mode_change", "", "", "", string(mode))
}

func (mr *ModelRouter) FallbackMode() FallbackMode { return mr.cfg.FallbackMode }

// ── Cooldown bookkeeping ─────────────────────────────────────

func (mr *ModelRouter) setCooldown(providerID string, until time.Time, reason string) {
	mr.cooldownMu.Lock()
	mr.cooldowns[providerID] = cooldownEntry{until: until, reason: reason}
	mr.cooldownMu.Unlock()
}

func (mr *ModelRouter) clearCooldown(providerID string) {
	mr.cooldownMu.Lock()
	delete(mr.cooldowns, providerID)
	mr.cooldownMu.Unlock()
}

func (mr *ModelRouter) cooldownFor(providerID string) (cooldownEntry, bool) {
	mr.cooldownMu.Lock()
	defer mr.cooldownMu.Unlock()
	e, ok := mr.cooldowns[providerID]
	if !ok || !time.Now().Before(e.until) {
		return cooldownEntry{}, false
	}
	return e, true
}

// ── Ordering ─────────────────────────────────────────────────

// economyRank and balancedRank are the fixed per-tier rank tables the
// profile ordering sorts by; performance keeps the configured preferred
// order untouched.
var economyRank = map[string]int{"cheap": 0, "mid": 1, "premium": 2}
var balancedRank = map[string]int{"mid": 0, "cheap": 1, "premium": 2}

// orderProviders returns eligible providers in profile order, skipping and
// recording a `skipped` usage event for anything blocked or keyless.
// Disabled providers are dropped without an event.
func (mr *ModelRouter) orderProviders(ctx context.Context, sessionID string, directive models.RoutingDirective) []models.ModelProvider {
	providers := mr.Providers()
	blocked := map[string]bool{}
	for _, id := range directive.BlockedProviders {
		blocked[id] = true
	}
	blockedModels := map[string]bool{}
	for _, id := range directive.BlockedModelIDs {
		blockedModels[id] = true
	}

	skip := func(p models.ModelProvider, reason string) {
		mr.emit("skipped", p.ID, p.ModelName, sessionID, reason)
		mr.budget.RecordUsage(ctx, &models.ModelUsageEntry{
			SessionID: sessionID, ProviderID: p.ID, ModelID: p.ModelName,
			Profile: string(directive.Profile), Stage: models.StageSkipped, Error: reason,
		})
	}

	out := make([]models.ModelProvider, 0, len(providers))
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		if blocked[p.ID] || blockedModels[p.ModelName] {
			skip(p, "blocked by routing directive")
			continue
		}
		if p.APIKeyName != "" && resolveAPIKey(&p) == "" {
			skip(p, "no API key configured")
			continue
		}
		out = append(out, p)
	}

	switch directive.Profile {
	case models.ProfileEconomy:
		sort.SliceStable(out, func(i, k int) bool { return economyRank[out[i].Tier] < economyRank[out[k].Tier] })
	case models.ProfileBalanced:
		sort.SliceStable(out, func(i, k int) bool { return balancedRank[out[i].Tier] < balancedRank[out[k].Tier] })
	case models.ProfilePerformance:
		// preserve configured preferred order
	}
	return out
}

// ── Route ────────────────────────────────────────────────────

// Route sends req to the best available provider, applying the Budget
// Governor's directive, cooldown skipping/waiting, and recording usage and
// telemetry for every attempt.
func (mr *ModelRouter) Route(ctx context.Context, req *ChatRequest) (*models.AssistantMessage, error) {
	directive := mr.budget.GetRoutingDirective(ctx, req.SessionID)

	if directive.PacingDelayMs > 0 {
		mr.emit("cooldown_wait", "", "", req.SessionID, fmt.Sprintf("pacing delay %dms", directive.PacingDelayMs))
		select {
		case <-time.After(time.Duration(directive.PacingDelayMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ordered := mr.orderProviders(ctx, req.SessionID, directive)
	if len(ordered) == 0 {
		return nil, fmt.Errorf("no eligible model providers for profile %q", directive.Profile)
	}

	var lastErr error
	for i := range ordered {
		provider := ordered[i]

		if entry, cooling := mr.cooldownFor(provider.ID); cooling {
			if mr.cfg.FallbackMode != FallbackIntelligentPacing {
				mr.emit("cooldown_skip", provider.ID, provider.ModelName, req.SessionID, entry.reason)
				continue
			}
			maxWait := time.Duration(mr.cfg.IntelligentPacingMaxWaitMs) * time.Millisecond
			wait := time.Until(entry.until)
			if wait > maxWait {
				wait = maxWait
			}
			mr.emit("cooldown_wait", provider.ID, provider.ModelName, req.SessionID, entry.reason)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if _, stillCooling := mr.cooldownFor(provider.ID); stillCooling {
				mr.emit("cooldown_skip", provider.ID, provider.ModelName, req.SessionID, entry.reason)
				continue
			}
		}

		msg, err := mr.attempt(ctx, &provider, req, directive)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if i < len(ordered)-1 {
			mr.emit("failover", provider.ID, provider.ModelName, req.SessionID, err.Error())
		}
	}

	return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// attempt issues one HTTP call to provider, and — in intelligent_pacing
// mode, on a 429 whose parsed wait is short enough — one same-provider
// retry before reporting failure back to Route for failover.
func (mr *ModelRouter) attempt(ctx context.Context, provider *models.ModelProvider, req *ChatRequest, directive models.RoutingDirective) (*models.AssistantMessage, error) {
	msg, err := mr.callOnce(ctx, provider, req, directive)

	var rle *RateLimitError
	if errAsRateLimit(err, &rle) && mr.cfg.FallbackMode == FallbackIntelligentPacing {
		maxWait := time.Duration(mr.cfg.IntelligentPacingMaxWaitMs) * time.Millisecond
		if rle.RetryAfter > 0 && rle.RetryAfter <= maxWait {
			select {
			case <-time.After(rle.RetryAfter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return mr.callOnce(ctx, provider, req, directive)
		}
	}
	return msg, err
}

func (mr *ModelRouter) callOnce(ctx context.Context, provider *models.ModelProvider, req *ChatRequest, directive models.RoutingDirective) (*models.AssistantMessage, error) {
	start := time.Now()
	mr.emit("attempt", provider.ID, provider.ModelName, req.SessionID, "")

	driver := mr.GetDriver(provider.Kind)
	if driver == nil {
		return nil, fmt.Errorf("no driver registered for provider kind: %s", provider.Kind)
	}

	dReq := *req
	if dReq.Model == "" {
		dReq.Model = provider.ModelName
	}

	msg, err := driver.Call(ctx, provider, &dReq)
	latency := time.Since(start).Milliseconds()

	var rle *RateLimitError
	switch {
	case errAsRateLimit(err, &rle):
		until := time.Now().Add(rle.RetryAfter)
		if rle.RetryAfter <= 0 {
			until = time.Now().Add(time.Duration(mr.cfg.DefaultRateLimitCooldownMs) * time.Millisecond)
		}
		mr.setCooldown(provider.ID, until, "rate limited")
		mr.budget.ApplyProviderCooldown(ctx, provider.ID, until, "rate limited")
		mr.emit("rate_limit", provider.ID, provider.ModelName, req.SessionID, rle.Error())
		mr.emit("cooldown_set", provider.ID, provider.ModelName, req.SessionID, until.Format(time.RFC3339))
		mr.budget.RecordUsage(ctx, &models.ModelUsageEntry{
			SessionID: req.SessionID, ProviderID: provider.ID, ModelID: provider.ModelName,
			Profile: string(directive.Profile), Stage: models.StageFailure, LatencyMs: latency,
			StatusCode: http.StatusTooManyRequests, Error: rle.Error(),
		})
		return nil, err

	case err != nil:
		mr.emit("failure", provider.ID, provider.ModelName, req.SessionID, err.Error())
		mr.budget.RecordUsage(ctx, &models.ModelUsageEntry{
			SessionID: req.SessionID, ProviderID: provider.ID, ModelID: provider.ModelName,
			Profile: string(directive.Profile), Stage: models.StageFailure, LatencyMs: latency, Error: err.Error(),
		})
		return nil, err
	}

	mr.clearCooldown(provider.ID)
	mr.emit("success", provider.ID, provider.ModelName, req.SessionID, "")
	mr.budget.RecordUsage(ctx, &models.ModelUsageEntry{
		SessionID: req.SessionID, ProviderID: provider.ID, ModelID: provider.ModelName,
		Profile: string(directive.Profile), Stage: models.StageSuccess, LatencyMs: latency,
		RequestTokens: msg.Usage.PromptTokens, ResponseTokens: msg.Usage.CompletionTokens, StatusCode: http.StatusOK,
	})
	return msg, nil
}

func errAsRateLimit(err error, target **RateLimitError) bool {
	if err == nil {
		return false
	}
	rle, ok := err.(*RateLimitError)
	if !ok {
		return false
	}
	*target = rle
	return true
}

// TestProvider performs a cheap credential-validating call (POST
// /routing/test/{providerId}).
func (mr *ModelRouter) TestProvider(ctx context.Context, provider *models.ModelProvider) *models.ProviderTestResult {
	result := &models.ProviderTestResult{ProviderID: provider.ID}
	testCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	start := time.Now()
	driver := mr.GetDriver(provider.Kind)
	if driver == nil {
		result.Error = fmt.Sprintf("no driver registered for kind: %s", provider.Kind)
		return result
	}
	if err := driver.HealthCheck(testCtx, provider); err != nil {
		result.Error = err.Error()
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}
	result.OK = true
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

func (mr *ModelRouter) registerBuiltinDrivers() {
	mr.RegisterDriver(&OpenAIDriver{router: mr})
	mr.RegisterDriver(&AzureOpenAIDriver{router: mr})
	mr.RegisterDriver(&AnthropicDriver{router: mr})
	mr.RegisterDriver(&OllamaDriver{router: mr})
	mr.RegisterDriver(&LiteLLMDriver{router: mr})
}
