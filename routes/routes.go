package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/llm-cascade/app"
	"github.com/upb/llm-cascade/auth"
	"github.com/upb/llm-cascade/handlers"
	"github.com/upb/llm-cascade/middleware"
	"github.com/upb/llm-cascade/repositories"
	"github.com/upb/llm-cascade/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout(deps)))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Burst"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(healthDeps(deps), logger)
	route := handlers.NewRouteHandler(deps.Engine, logger)
	cands := handlers.NewCandidatesHandler(
		deps.Candidates,
		deps.Providers,
		deps.Ranker,
		refresher(deps),
		deps.Config.Discovery.RefreshTimeout,
		logger,
	)
	logs := handlers.NewRoutingLogsHandler(routingLogs(deps), logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", health.HandleStatus)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			// Routing (rate limited per user)
			r.With(deps.RateLimitMiddleware.Limit).Post("/route", route.HandleRoute)
			r.Post("/classify", route.HandleClassify)

			r.Get("/candidates/{tier}", cands.HandleList)
			r.Get("/ranker/{tier}", cands.HandleRanking)
			r.Get("/routing/logs", logs.HandleList)

			// Admin only
			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole(auth.RoleAdmin))
				r.Post("/candidates/refresh", cands.HandleRefresh)
				r.Get("/routing/stats", logs.HandleStats)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

// requestTimeout leaves room for a full cascade; discovery refreshes run on
// their own deadline.
func requestTimeout(deps *app.Dependencies) time.Duration {
	if wt := deps.Config.Server.WriteTimeout; wt > 0 {
		return wt
	}
	return 120 * time.Second
}

func healthDeps(deps *app.Dependencies) handlers.HealthDeps {
	hd := handlers.HealthDeps{
		Engines:     deps.Providers,
		Candidates:  deps.Candidates,
		Ranker:      deps.Ranker,
		Environment: deps.Config.Environment,
	}
	if deps.DB != nil {
		hd.DB = deps.DB.DB
	}
	if deps.Scheduler != nil {
		hd.Discovery = deps.Scheduler
	}
	if deps.Audit != nil {
		hd.Audit = deps.Audit
	}
	return hd
}

// refresher goes through the scheduler so manual runs show up in its history
func refresher(deps *app.Dependencies) handlers.Refresher {
	if deps.Scheduler == nil {
		return nil
	}
	return handlers.RefreshFunc(deps.Scheduler.RunNow)
}

func routingLogs(deps *app.Dependencies) repositories.RoutingLogRepository {
	if deps.Repos == nil {
		return nil
	}
	return deps.Repos.RoutingLogs
}
