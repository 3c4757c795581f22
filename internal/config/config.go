package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the gateway control plane.
type Config struct {
	Port       int
	Version    string
	APISecret  string
	Telemetry  TelemetryConfig
	Providers  []ProviderConfig
	Gateway    GatewayConfig
	Budget     BudgetConfig
	Router     RouterConfig
	Delegation DelegationConfig
	Queue      QueueConfig
	Incident   IncidentConfig
	Memory     MemoryConfig
}

// ProviderConfig names the env var holding a provider's API key, matched
// against internal/router's built-in driver list by Kind.
type ProviderConfig struct {
	ID         string
	Kind       string
	ModelName  string
	Endpoint   string
	APIKeyName string
	Tier       string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// GatewayConfig bounds the Conversation Gateway's tool-calling loop.
type GatewayConfig struct {
	MaxToolRounds      int
	DelegationMinScore int
}

// BudgetConfig bounds the Runtime Budget Governor.
type BudgetConfig struct {
	DailyRequestLimit    int64
	DailyTokenLimit      int64
	SessionRequestLimit  int64
	ProviderRequestLimit int64
	WarningRatio         float64
	ProviderCooldownMs   int64
	DefaultProfile       string
}

// RouterConfig configures the Model Router.
type RouterConfig struct {
	DefaultRateLimitCooldownMs int64
	IntelligentPacingMaxWaitMs int64
	MaxRuntimeEvents           int
	MaxPersistedEvents         int
	FallbackMode               string
}

// DelegationConfig bounds the Delegation Orchestrator.
type DelegationConfig struct {
	MaxConcurrentJobs              int
	MaxRetryAttempts               int
	FailureCircuitBreakerThreshold int
}

// QueueConfig bounds the Delivery Queue.
type QueueConfig struct {
	MaxAttempts   int
	BaseBackoffMs int64
	PollInterval  time.Duration
}

// IncidentConfig bounds the Incident Manager.
type IncidentConfig struct {
	EvalInterval                   time.Duration
	RemediationCooldownMs          int64
	CallbackFailureBurstThreshold  int
	ModelRoutingFailureThreshold   int
	QueueBackpressureThreshold     int
	ContextDegradationThreshold    int
}

// MemoryConfig configures the Reasoning-Aware Memory Retrieval module.
type MemoryConfig struct {
	EmbeddingDim      int
	TopK              int
	MaxTraversalDepth int
	MaxTraversalEdges int
	PgvectorURL       string
}

// Load reads configuration from environment variables with sensible
// defaults — the gateway boots with zero configuration, same as the
// predecessor's config.Load().
func Load() *Config {
	return &Config{
		Port:      envInt("GATEWAY_PORT", 8080),
		Version:   envStr("GATEWAY_VERSION", "0.1.0"),
		APISecret: envStr("GATEWAY_API_SECRET", ""),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "twinclaw-gateway"),
		},
		Providers: defaultProviders(),
		Gateway: GatewayConfig{
			MaxToolRounds:      envInt("GATEWAY_MAX_TOOL_ROUNDS", 6),
			DelegationMinScore: envInt("GATEWAY_DELEGATION_MIN_SCORE", 2),
		},
		Budget: BudgetConfig{
			DailyRequestLimit:    int64(envInt("BUDGET_DAILY_REQUEST_LIMIT", 500)),
			DailyTokenLimit:      int64(envInt("BUDGET_DAILY_TOKEN_LIMIT", 2_000_000)),
			SessionRequestLimit:  int64(envInt("BUDGET_SESSION_REQUEST_LIMIT", 200)),
			ProviderRequestLimit: int64(envInt("BUDGET_PROVIDER_REQUEST_LIMIT", 300)),
			WarningRatio:         envFloat("BUDGET_WARNING_RATIO", 0.8),
			ProviderCooldownMs:   int64(envInt("BUDGET_PROVIDER_COOLDOWN_MS", 30_000)),
			DefaultProfile:       envStr("BUDGET_DEFAULT_PROFILE", "balanced"),
		},
		Router: RouterConfig{
			DefaultRateLimitCooldownMs: int64(envInt("ROUTER_DEFAULT_RATE_LIMIT_COOLDOWN_MS", 1000)),
			IntelligentPacingMaxWaitMs: int64(envInt("ROUTER_INTELLIGENT_PACING_MAX_WAIT_MS", 3000)),
			MaxRuntimeEvents:           envInt("ROUTER_MAX_RUNTIME_EVENTS", 500),
			MaxPersistedEvents:         envInt("ROUTER_MAX_PERSISTED_EVENTS", 5000),
			FallbackMode:               envStr("ROUTER_FALLBACK_MODE", "intelligent_pacing"),
		},
		Delegation: DelegationConfig{
			MaxConcurrentJobs:              envInt("DELEGATION_MAX_CONCURRENT_JOBS", 4),
			MaxRetryAttempts:               envInt("DELEGATION_MAX_RETRY_ATTEMPTS", 2),
			FailureCircuitBreakerThreshold: envInt("DELEGATION_CIRCUIT_BREAKER_THRESHOLD", 5),
		},
		Queue: QueueConfig{
			MaxAttempts:   envInt("QUEUE_MAX_ATTEMPTS", 5),
			BaseBackoffMs: int64(envInt("QUEUE_BASE_BACKOFF_MS", 500)),
			PollInterval:  envDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
		},
		Incident: IncidentConfig{
			EvalInterval:                  envDuration("INCIDENT_EVAL_INTERVAL", 15*time.Second),
			RemediationCooldownMs:         int64(envInt("INCIDENT_REMEDIATION_COOLDOWN_MS", 60_000)),
			CallbackFailureBurstThreshold: envInt("INCIDENT_CALLBACK_FAILURE_BURST_THRESHOLD", 5),
			ModelRoutingFailureThreshold:  envInt("INCIDENT_MODEL_ROUTING_FAILURE_THRESHOLD", 3),
			QueueBackpressureThreshold:    envInt("INCIDENT_QUEUE_BACKPRESSURE_THRESHOLD", 50),
			ContextDegradationThreshold:   envInt("INCIDENT_CONTEXT_DEGRADATION_THRESHOLD", 3),
		},
		Memory: MemoryConfig{
			EmbeddingDim:      envInt("MEMORY_EMBEDDING_DIM", 1536),
			TopK:              envInt("MEMORY_TOP_K", 6),
			MaxTraversalDepth: envInt("MEMORY_MAX_TRAVERSAL_DEPTH", 2),
			MaxTraversalEdges: envInt("MEMORY_MAX_TRAVERSAL_EDGES", 25),
			PgvectorURL:       envStr("MEMORY_PGVECTOR_URL", ""),
		},
	}
}

// defaultProviders mirrors the predecessor's generous-fallback style: a
// reasonable preferred order ships out of the box, each provider simply
// inert until its API key env var is actually set.
func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{ID: "primary", Kind: "openai", ModelName: envStr("PROVIDER_PRIMARY_MODEL", "gpt-4o"), Endpoint: envStr("PROVIDER_PRIMARY_ENDPOINT", "https://api.openai.com/v1/chat/completions"), APIKeyName: "OPENAI_API_KEY", Tier: "premium"},
		{ID: "fallback_1", Kind: "anthropic", ModelName: envStr("PROVIDER_FALLBACK1_MODEL", "claude-3-5-sonnet-20241022"), Endpoint: envStr("PROVIDER_FALLBACK1_ENDPOINT", "https://api.anthropic.com/v1/messages"), APIKeyName: "ANTHROPIC_API_KEY", Tier: "mid"},
		{ID: "fallback_2", Kind: "ollama", ModelName: envStr("PROVIDER_FALLBACK2_MODEL", "llama3.1"), Endpoint: envStr("PROVIDER_FALLBACK2_ENDPOINT", "http://localhost:11434/v1/chat/completions"), APIKeyName: "", Tier: "cheap"},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
