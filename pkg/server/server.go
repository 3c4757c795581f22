// Package server provides the public entry point for initializing the
// personal AI gateway's control plane.
//
// This package exists in pkg/ (not internal/) so that a downstream binary
// can import it and compose the full server with its own overrides.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"

	"net/http"

	"github.com/avimaybee/twinclaw/internal/api"
	"github.com/avimaybee/twinclaw/internal/api/handlers"
	"github.com/avimaybee/twinclaw/internal/auth"
	"github.com/avimaybee/twinclaw/internal/budget"
	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/delegation"
	"github.com/avimaybee/twinclaw/internal/delivery"
	"github.com/avimaybee/twinclaw/internal/embeddings"
	"github.com/avimaybee/twinclaw/internal/gateway"
	"github.com/avimaybee/twinclaw/internal/incident"
	"github.com/avimaybee/twinclaw/internal/lane"
	"github.com/avimaybee/twinclaw/internal/policy"
	"github.com/avimaybee/twinclaw/internal/reasoning"
	modelrouter "github.com/avimaybee/twinclaw/internal/router"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/internal/telemetry"
	"github.com/avimaybee/twinclaw/internal/vectorstore"
	"github.com/avimaybee/twinclaw/pkg/contracts"
	"github.com/avimaybee/twinclaw/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the fully wired control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the persistence layer backing every subsystem.
	Store store.Store

	// Gateway is exposed directly so a channel adapter embedding this
	// package can call ProcessMessage without going through HTTP.
	Gateway *gateway.Gateway

	Port    int
	Version string

	// ShutdownFunc stops the background delivery and incident loops and
	// flushes telemetry. Call it once, after the HTTP server stops
	// accepting connections.
	ShutdownFunc func(context.Context) error
}

// New builds a Server from config.Load()'s environment-derived defaults.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds a Server from an explicit configuration, wiring the
// Conversation Gateway, Delegation Orchestrator, Lane Executor, Policy
// Engine, Reasoning-Aware Memory Retrieval, Delivery Queue, Incident
// Manager, and the authenticated HTTP surface around a shared store.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	s := store.NewMemoryStore()

	providers := modelrouter.ProvidersFromConfig(cfg.Providers)
	budgetGov := budget.NewGovernor(ctx, s, cfg.Budget)
	router := modelrouter.NewModelRouter(s, budgetGov, providers, modelrouter.ConfigFromRouterConfig(cfg.Router))

	retriever, err := buildRetriever(ctx, s, router, cfg)
	if err != nil {
		return nil, fmt.Errorf("build reasoning retriever: %w", err)
	}

	delegationOrchestrator := delegation.NewOrchestrator(s, &routerBriefRunner{router: router}, cfg.Delegation)

	policyEngine := policy.NewEngine()
	laneExecutor := lane.NewExecutor(s, policyEngine)
	registerBuiltinTools(laneExecutor, retriever)

	gw := gateway.New(s, router, retriever, delegationOrchestrator, laneExecutor, cfg.Gateway)

	deliveryRegistry := delivery.NewRegistry(cfg.APISecret)
	deliveryWorker := delivery.NewWorker(s, deliveryRegistry, cfg.Queue)

	incidentManager := incident.New(s, router, gw.DegradedSessionCount, cfg.Incident)

	authChain := auth.NewProviderChain()
	if cfg.APISecret != "" {
		authChain.RegisterProvider(auth.NewHMACProvider(cfg.APISecret))
	}
	authChain.RegisterProvider(auth.NewAPIKeyProvider())

	h := handlers.New(s, router, budgetGov, incidentManager, deliveryWorker)
	handler := api.NewRouter(cfg, h, authChain)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	go deliveryWorker.Start(workerCtx)
	go incidentManager.Start(workerCtx)

	shutdown := func(shutdownCtx context.Context) error {
		cancelWorkers()
		return shutdownTelemetry(shutdownCtx)
	}

	log.Info().Int("port", cfg.Port).Int("providers", len(providers)).Msg("control plane wired")

	return &Server{
		Handler:      handler,
		Store:        s,
		Gateway:      gw,
		Port:         cfg.Port,
		Version:      cfg.Version,
		ShutdownFunc: shutdown,
	}, nil
}

// buildRetriever assembles the embedding + vector store pair backing
// reasoning.Retriever. An explicit pgvector URL upgrades the vector store
// from the embedded brute-force index; embeddings come from a configured
// provider whose driver exposes EmbeddingCapableDriver, and without one
// buildRetriever returns an error.
func buildRetriever(ctx context.Context, s store.Store, router *modelrouter.ModelRouter, cfg *config.Config) (*reasoning.Retriever, error) {
	embReg := embeddings.NewRegistry()
	for _, p := range router.Providers() {
		p := p
		embeddingDriver, embModels := router.DiscoverEmbeddingsForProvider(&p)
		if embeddingDriver == nil || len(embModels) == 0 {
			continue
		}
		embReg.Register(p.ID, embeddings.NewProviderEmbeddingAdapter(embeddingDriver, &p, embModels[0]))
	}

	var embDriver contracts.EmbeddingDriver
	for _, name := range embReg.List() {
		d, _ := embReg.Get(name)
		embDriver = d
		break
	}
	if embDriver == nil {
		return nil, fmt.Errorf("no embedding-capable provider configured: reasoning retrieval needs at least one")
	}

	vsReg := vectorstore.NewRegistry()
	embeddedVS := vectorstore.NewEmbeddedStore()
	vsReg.Register("embedded", embeddedVS)

	vsName := "embedded"
	if cfg.Memory.PgvectorURL != "" {
		pgvs, err := vectorstore.NewPgvectorStore(ctx, cfg.Memory.PgvectorURL, cfg.Memory.EmbeddingDim)
		if err != nil {
			log.Warn().Err(err).Msg("pgvector unavailable, falling back to the embedded vector store")
		} else {
			vsReg.Register("pgvector", pgvs)
			vsName = "pgvector"
		}
	}
	vsDriver, err := vsReg.Get(vsName)
	if err != nil {
		return nil, err
	}

	return reasoning.NewRetriever(s, embDriver, vsDriver, cfg.Memory), nil
}

// registerBuiltinTools wires the Lane Executor's built-in tool table.
func registerBuiltinTools(executor *lane.Executor, retriever *reasoning.Retriever) {
	executor.Register("search_memory", lane.Tool{
		Scope:  models.ScopeReadOnly,
		Source: models.ToolBuiltin,
		Handler: func(ctx context.Context, sessionID string, call models.ToolCall) (string, error) {
			query, _ := call.Arguments["query"].(string)
			if query == "" {
				return "", fmt.Errorf("search_memory requires a query argument")
			}
			memCtx, err := retriever.Retrieve(ctx, sessionID, query)
			if err != nil {
				return "", err
			}
			return reasoning.FormatMemoryContext(memCtx), nil
		},
	})
}

// routerBriefRunner adapts the Model Router into delegation.BriefRunner: a
// delegated brief becomes a one-shot chat request scoped to the parent
// session, with the brief's objective and context as the user turn.
type routerBriefRunner struct {
	router *modelrouter.ModelRouter
}

func (r *routerBriefRunner) RunBrief(ctx context.Context, sessionID string, brief models.DelegationBrief) (string, error) {
	prompt := fmt.Sprintf("Objective: %s\n\nContext:\n%s\n\nExpected output:\n%s", brief.Objective, brief.ScopedContext, brief.ExpectedOutput)
	resp, err := r.router.Route(ctx, &modelrouter.ChatRequest{
		SessionID: sessionID,
		Messages: []models.ChatMessage{
			{Role: string(models.RoleUser), Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
