/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/winloss/*        Win/loss events
  /api/ledger/*         Ledger entries
  /api/reconcile        Manual reconciliation
  /api/rebates/*        Rebate runs, approvals, exports
  /api/audit            Audit trail
  /api/stream           Server-sent ledger changes
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus
  /healthz              Liveness

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/winloss", func(r chi.Router) {
			r.Post("/", h.CreateWinLoss)
			r.Get("/{id}", h.GetWinLoss)
			r.Put("/{id}", h.EditWinLoss)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", h.ListLedger)
			r.Get("/{customer}/{game}", h.GetLedgerEntry)
		})

		r.Post("/reconcile", h.Reconcile)

		r.Route("/rebates", func(r chi.Router) {
			r.Get("/", h.ListRebates)
			r.Post("/run", h.RunRebates)
			r.Get("/preview", h.PreviewRebates)
			r.Get("/runs", h.ListRuns)
			r.Get("/export.xlsx", h.ExportXLSX)
			r.Get("/export.pdf", h.ExportPDF)
			r.Post("/{id}/approve", h.ApproveRebate)
			r.Post("/{id}/reject", h.RejectRebate)
		})

		r.Get("/audit", h.ListAudit)
		r.Get("/stream", h.Stream)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
