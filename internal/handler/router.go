package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/model-middleware/internal/middleware"
	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
)

// RouterConfig holds what the router needs besides the handlers.
type RouterConfig struct {
	JWTSecret         string
	DefaultExpertise  model.ExpertiseLevel
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter wires the handlers into the API routes.
func NewRouter(cfg RouterConfig, health *HealthHandler, chat *ChatHandler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, cfg.DefaultExpertise))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chat.Chat)
		r.Post("/tools/{name}/authorize", chat.AuthorizeTool)
		r.Get("/stats", chat.Stats)
		r.Get("/events", chat.Events)
		r.Delete("/session", chat.Reset)
	})

	return r
}
