package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxpert/fanout/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the dispatcher HTTP API
func NewRouter(handlers *Handlers, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handlers.handleHealth)
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(secret))
		r.Post("/batches", handlers.handleBatch)
		r.Post("/deadletters/replay", handlers.handleReplay)
	})

	log.Info().
		Bool("auth", secret != "").
		Bool("replay", handlers.replayer != nil).
		Msg("HTTP endpoints enabled")

	return r
}
