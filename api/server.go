/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/resources/*      Per-resource reconciliation
  /api/commitments/*    Capacity recalculation
  /api/sweeps           Full sweep trigger
  /api/variances/*      Ad hoc detection
  /api/alerts/*         Alert listing and acknowledgement
  /api/projects/*       Ledger and P&L
  /api/thresholds/*     Threshold overrides

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Resource routes
		r.Route("/resources", func(r chi.Router) {
			r.Post("/{id}/reconcile", h.ReconcileResource)
		})

		// Commitment routes
		r.Route("/commitments", func(r chi.Router) {
			r.Post("/{id}/recalculate", h.RecalculateCapacity)
		})

		// Sweep routes
		r.Post("/sweeps", h.RunSweep)

		// Variance detection routes
		r.Route("/variances", func(r chi.Router) {
			r.Post("/detect", h.DetectVariances)
		})

		// Alert routes
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Post("/{id}/acknowledge", h.AcknowledgeAlert)
		})

		// Project ledger and P&L routes
		r.Route("/projects", func(r chi.Router) {
			r.Post("/{id}/ledger", h.BuildLedger)
			r.Get("/{id}/ledger", h.ListLedger)
			r.Get("/{id}/pnl", h.CalculatePnL)
		})

		// Threshold routes
		r.Route("/thresholds", func(r chi.Router) {
			r.Get("/{scope}", h.GetThreshold)
			r.Get("/{scope}/{entityID}", h.GetThreshold)
			r.Put("/{scope}/{entityID}", h.PutThreshold)
			r.Delete("/{scope}/{entityID}", h.DeleteThreshold)
		})
	})

	return r
}
