/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from configured origins

ROUTE GROUPS:
  /api/entries/*          Entry lifecycle
  /api/counterparties/*   Statements
  /api/receipts           Receipt batches
  /api/contracts/*        Contract accrual
  /api/cash-accounts/*    Cash accounts
  /api/scenarios/*        Demo scenarios
  /api/admin/*            Admin operations (dev only)
  /healthz, /readyz       Probes
  /metrics                Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cli/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/rent-ledger/observability"
)

// RouterOptions carries the optional pieces of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Health         *observability.HealthChecker
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	if opts.Health != nil {
		r.Get("/healthz", opts.Health.LivenessHandler)
		r.Get("/readyz", opts.Health.ReadinessHandler)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		// Entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Get("/{id}", h.GetEntry)
			r.Post("/{id}/payments", h.RegisterPayment)
			r.Post("/{id}/settlements", h.SettleCreditor)
			r.Post("/{id}/forgive", h.ForgiveDebt)
			r.Post("/{id}/void", h.VoidEntry)
			r.Post("/{id}/adjust", h.ApplyIndexAdjustment)
			r.Post("/{id}/invoice", h.Invoice)
		})

		r.Get("/counterparties/{id}/statement", h.GetStatement)
		r.Post("/receipts", h.ProcessReceipt)
		r.Get("/receipts/{id}", h.GetReceipt)
		r.Post("/contracts/accrue", h.AccrueContract)

		// Cash routes
		r.Route("/cash-accounts", func(r chi.Router) {
			r.Post("/", h.OpenCashAccount)
			r.Get("/{id}", h.GetCashAccount)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reset", h.ResetLedger)
		})
	})

	return r
}
