/**
 * @description
 * HTTP router for the payroll-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter registers the payroll, investment and internal routes.
func NewRouter(h *Handler, auth AuthConfig, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", InternalAPIKeyHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payroll service is healthy"))
	})

	r.Route("/internal/payroll", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		// A sweep walks every active stream and runs longer than user requests.
		r.Use(middleware.Timeout(4 * time.Minute))
		r.Post("/sync", h.handleSyncActiveStreams)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(auth))
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/payroll", func(r chi.Router) {
			r.Post("/organizations/{orgID}/streams", h.handleCreateStream)
			r.Get("/organizations/{orgID}/streams", h.handleListStreams)
			r.Get("/organizations/{orgID}/treasury", h.handleGetTreasury)

			r.Get("/streams/{streamID}", h.handleGetStream)
			r.Delete("/streams/{streamID}", h.handleStopStream)
			r.Post("/streams/{streamID}/pause", h.handlePauseStream)
			r.Post("/streams/{streamID}/resume", h.handleResumeStream)
			r.Post("/streams/{streamID}/stop", h.handleStopStream)
			r.Post("/streams/{streamID}/sync", h.handleSyncStream)
			r.Get("/streams/{streamID}/runs", h.handleListRuns)
		})

		r.Route("/investments", func(r chi.Router) {
			r.Post("/stake", h.handleStake)
			r.Post("/unstake", h.handleUnstake)
			r.Get("/ledger", h.handleListLedger)
			r.Post("/ledger/{ledgerID}/execute", h.handleExecuteLedger)
			r.Post("/ledger/{ledgerID}/confirm", h.handleConfirmLedger)
		})
	})

	return r
}
