// Package http assembles the service's router from the feature handlers.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"commhub/internal/platform/middleware"
	"commhub/pkg/platform/httputil"
)

// Registrar is implemented by each feature handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck probes one dependency. A nil map value is skipped so optional
// backends (redis, kafka) drop out of the report when unconfigured.
type HealthCheck func(ctx context.Context) error

// NewRouter builds the full HTTP surface: feature routes, health, and
// metrics.
func NewRouter(logger *slog.Logger, checks map[string]HealthCheck, handlers ...Registrar) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.ContentTypeJSON)

	for _, h := range handlers {
		h.Register(r)
	}

	r.Get("/healthz", handleHealth(checks))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				report[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}

		body := map[string]any{"status": "ok"}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		if len(report) > 0 {
			body["checks"] = report
		}
		httputil.WriteJSON(w, status, body)
	}
}
