/**
 * @description
 * This file sets up the HTTP router for the entitlement service. It defines the
 * staff API endpoints, associates them with their handlers, and applies the
 * standard middleware stack.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the staff console.
 * - github.com/prometheus/client_golang: /metrics exposition.
 */
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	StaffJWTSecret string
	RequestTimeout time.Duration
	MetricsEnabled bool
}

// NewRouter creates a new Chi router and registers the ledger routes.
func NewRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthHandler)
	if opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(StaffAuthMiddleware([]byte(opts.StaffJWTSecret)))

		r.Route("/credits", func(r chi.Router) {
			r.Post("/deposits", h.DepositHandler)
			r.Post("/withdrawals", h.WithdrawHandler)
			r.Get("/balance/{userID}", h.BalanceHandler)
			r.Get("/consumptions/{userID}", h.ConsumptionHistoryHandler)
			r.Get("/consumptions/{userID}/export", h.ExportConsumptionsHandler)
		})

		r.Route("/entitlements", func(r chi.Router) {
			r.Post("/grants", h.GrantHandler)
			r.Post("/consume", h.ConsumeHandler)
			r.Get("/{holderType}/{holderID}/{kind}", h.RemainingHandler)
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Post("/materialize", h.MaterializeHandler)
			r.Post("/templates", h.CreateTemplateHandler)
			r.Put("/templates/{templateID}/coach", h.ReassignCoachHandler)
			r.Post("/occurrences", h.ScheduleOccurrenceHandler)
			r.Post("/occurrences/{occurrenceID}/cancel", h.CancelOccurrenceHandler)
		})

		r.Post("/attendance", h.MarkAttendanceHandler)
		r.Post("/enrollments", h.EnrollHandler)
	})

	return r
}
