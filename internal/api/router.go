package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/avimaybee/twinclaw/internal/api/handlers"
	"github.com/avimaybee/twinclaw/internal/api/middleware"
	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the control plane's HTTP surface: webhook ingest plus
// the operator-facing health/budget/routing/incident endpoints, behind the
// pluggable auth provider chain.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authChain contracts.AuthProviderChain) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Signature", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/readiness", h.Readiness)
	r.Get("/doctor", h.Readiness)
	r.Get("/reliability", h.Reliability)
	r.Get("/version", versionHandler(cfg))

	r.Route("/callback", func(r chi.Router) {
		r.Post("/webhook", h.Webhook)
	})

	r.Route("/budget", func(r chi.Router) {
		r.Get("/state", h.BudgetState)
		r.Get("/events", h.BudgetEvents)
		r.Post("/profile", h.BudgetProfile)
	})

	r.Route("/routing", func(r chi.Router) {
		r.Get("/telemetry", h.RoutingTelemetry)
		r.Post("/mode", h.RoutingMode)
		r.Post("/test/{providerId}", h.RoutingTest)
	})

	r.Route("/incidents", func(r chi.Router) {
		r.Get("/current", h.IncidentsCurrent)
		r.Get("/history", h.IncidentsHistory)
		r.Post("/evaluate", h.IncidentsEvaluate)
	})

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard (open access, no credentials).
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("GATEWAY_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"` + cfg.Version + `"}`))
	}
}
