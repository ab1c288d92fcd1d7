// Package http provides HTTP transport layer components.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaycore/orchestrator/internal/domain"
	"github.com/relaycore/orchestrator/internal/transport/http/handler"
	"github.com/relaycore/orchestrator/internal/transport/http/middleware"
)

// RouterConfig carries everything NewRouter needs to wire the full §6
// surface: health checks, task submission/inspection/streaming, inbound
// webhooks, admin operations, and Prometheus metrics.
type RouterConfig struct {
	Logger *slog.Logger

	HealthHandler http.Handler
	ReadyHandler  http.Handler

	Tasks    *handler.TaskHandlers
	Webhooks *handler.WebhookHandlers
	Stream   *handler.StreamHandlers
	Admin    *handler.AdminHandlers

	Auth                 middleware.ApiKeyAuthConfig
	RateLimitRPS         int
	IdempotencyKeyConfig middleware.IdempotencyConfig
}

// NewRouter creates the chi router for the orchestrator's HTTP surface.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.RequestLogger(cfg.Logger))

	r.Get("/health", cfg.HealthHandler.ServeHTTP)
	r.Get("/ready", cfg.ReadyHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Webhooks authenticate themselves via HMAC signature (§4.1), never via
	// the Bearer API-key scheme, so this route sits outside the ApiKeyAuth
	// group entirely.
	r.Post("/webhooks/{source}", cfg.Webhooks.Accept)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ApiKeyAuth(cfg.Auth))
		r.Use(middleware.RateLimiter(middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, Window: time.Second}))

		r.Route("/tasks", func(r chi.Router) {
			r.With(middleware.Idempotency(cfg.IdempotencyKeyConfig)).Post("/", cfg.Tasks.SubmitTask)
			r.Get("/{id}", cfg.Tasks.GetTask)
		})

		r.Get("/stream/{id}", cfg.Stream.Stream)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Get("/dlq/{type}", cfg.Admin.ListDLQ)
			r.Post("/dlq/{task_id}/retry", cfg.Admin.RetryDLQ)
			r.Delete("/dlq/{task_id}", cfg.Admin.CancelDLQ)
			r.Get("/circuits", cfg.Admin.ListCircuits)
			r.Post("/circuits/{service}/reset", cfg.Admin.ResetCircuit)
			r.Get("/budgets/{provider}", cfg.Admin.GetBudget)
			r.Get("/queues/stats", cfg.Admin.GetQueueStats)
		})
	})

	return r
}
