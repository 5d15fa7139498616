package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type RouterConfig struct {
	Appointments *AppointmentHandler
	Allocations  *AllocationHandler
	// Authenticate guards every route except the health and metrics endpoints.
	Authenticate func(http.Handler) http.Handler
	Metrics      http.Handler
	Health       func(ctx context.Context) error
	Logger       *slog.Logger
	Middleware   []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	api := http.NewServeMux()

	if cfg.Appointments != nil {
		h := cfg.Appointments
		api.HandleFunc("POST /appointment-series", h.CreateSeries)
		api.HandleFunc("GET /appointment-series/{id}", h.GetSeries)
		api.HandleFunc("GET /appointment-series/{id}/occurrences", h.ListSeriesOccurrences)
		api.HandleFunc("GET /occurrences/{id}", h.GetOccurrence)
		api.HandleFunc("PATCH /occurrences/{id}", h.UpdateOccurrence)
		api.HandleFunc("PUT /occurrences/{id}/cancel", h.CancelOccurrence)
		api.HandleFunc("PUT /occurrences/{id}/uncancel", h.UncancelOccurrence)
		api.HandleFunc("PUT /occurrences/{id}/attendance", h.MarkAttendance)
	}

	if cfg.Allocations != nil {
		h := cfg.Allocations
		api.HandleFunc("POST /allocations", h.Create)
		api.HandleFunc("GET /allocations/{id}", h.Get)
		api.HandleFunc("PUT /allocations/{id}/suspend", h.Suspend)
		api.HandleFunc("PUT /allocations/{id}/reactivate", h.Reactivate)
		api.HandleFunc("PUT /allocations/{id}/deallocate", h.Deallocate)
	}

	var protected http.Handler = api
	if cfg.Authenticate != nil {
		protected = cfg.Authenticate(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler(cfg.Health, newResponder(cfg.Logger)))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	mux.Handle("/", protected)

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}

type healthResponse struct {
	Status string `json:"status"`
}

func healthHandler(check func(ctx context.Context) error, responder responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				responder.loggerFor(r.Context()).WarnContext(r.Context(), "health check failed", "error", err)
				responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
