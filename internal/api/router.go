package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/auth"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Service MessagingService
	Log     zerolog.Logger
	// Auth validates bearer tokens. Nil leaves the API open.
	Auth   auth.TokenValidator
	Checks []HealthCheck
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))

	// Probes and metrics are never authenticated.
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.Checks...))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.BearerAuth(cfg.Auth))

		r.Post("/send-message", SendMessageHandler(cfg.Service))
		r.Post("/bulk-message", BulkMessageHandler(cfg.Service))
		r.Get("/templates", ListTemplatesHandler(cfg.Service))
		r.Post("/templates", CreateTemplateHandler(cfg.Service))
		r.Get("/message-history/{booking_id}", MessageHistoryHandler(cfg.Service))
		r.Get("/stats", StatsHandler(cfg.Service))
		r.Post("/dlq/reprocess", DLQReprocessHandler(cfg.Service))
	})

	return r
}
