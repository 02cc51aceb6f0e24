package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/omnichat-gateway/app"
	"github.com/upb/omnichat-gateway/config"
	"github.com/upb/omnichat-gateway/handlers"
	"github.com/upb/omnichat-gateway/middleware"
	"github.com/upb/omnichat-gateway/utils"
)

// maxRequestTimeout caps a request when the server has no write deadline
const maxRequestTimeout = 120 * time.Second

// requestTimeout ends a request before the server write deadline, leaving a
// tenth of it to write the 504.
func requestTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.WriteTimeout <= 0 {
		return maxRequestTimeout
	}
	return min(cfg.WriteTimeout-cfg.WriteTimeout/10, maxRequestTimeout)
}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout(deps.Config.Server)))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			middleware.HeaderChallenge,
			middleware.HeaderTimestamp,
			middleware.HeaderSignature,
			middleware.HeaderClientContext,
		},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	health := handlers.NewHealthHandler(deps.Store, deps.Providers.Len, deps.Logger)
	challenges := handlers.NewChallengeHandler(deps.Challenges, deps.Logger)
	chat := handlers.NewChatHandler(deps.Orchestrator, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// Public challenge issuance, throttled per client IP
	r.With(middleware.RateLimitByIP(deps.ChallengeLimiter, deps.Logger)).
		Get("/challenge", challenges.HandleIssue)

	// Signed routes. Auth is attached per route so unknown paths 404 before
	// a challenge is consumed.
	signed := r.With(deps.AuthMiddleware.RequireSignature)
	signed.Post("/chat", chat.HandleChat)
	signed.Post("/api/chat", chat.HandleChat)
	signed.Get("/api/providers", chat.HandleProviders)

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error: "method not allowed",
		})
	})

	return r
}
