// Package httpapi is the thin HTTP transport over the governance services.
// Handlers decode, delegate, and translate domain errors; no business logic
// lives here.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proveniq-ops/internal/attestation"
	"proveniq-ops/internal/audittrace"
	"proveniq-ops/internal/bishop"
	"proveniq-ops/internal/events"
	"proveniq-ops/internal/trust"
	"proveniq-ops/pkg/platform/httputil"
)

// Services bundles the domain services the transport exposes.
type Services struct {
	Events       *events.Service
	Trust        *trust.Service
	Attestations *attestation.Service
	Audit        *audittrace.Service
	Orchestrator *bishop.Orchestrator
}

// Handler carries the services plus transport-level collaborators.
type Handler struct {
	svc    Services
	logger *slog.Logger
}

// NewRouter wires every endpoint.
func NewRouter(svc Services, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.handleAppendEvent)
			r.Get("/stats", h.handleEventStats)
			r.Get("/search", h.handleSearchEvents)
			r.Get("/timeline", h.handleTimeline)
			r.Get("/correlation/{correlation_id}", h.handleEventsByCorrelation)
			r.Get("/type/{event_type}", h.handleEventsByType)
			r.Get("/{event_id}", h.handleGetEvent)
		})

		r.Route("/assets/{asset_id}", func(r chi.Router) {
			r.Post("/verify-chain", h.handleVerifyChain)
			r.Post("/trust-tier/calculate", h.handleCalculateTier)
			r.Get("/trust-tier", h.handleGetTier)
			r.Get("/trust-tier/history", h.handleTierHistory)
		})

		r.Get("/orgs/{org_id}/trust-distribution", h.handleTierDistribution)
		r.Get("/trust/thresholds", h.handleThresholds)

		r.Route("/attestations", func(r chi.Router) {
			r.Post("/", h.handleIssueAttestation)
			r.Get("/", h.handleListAttestations)
			r.Post("/eligibility", h.handleEligibility)
			r.Get("/{attestation_id}", h.handleGetAttestation)
			r.Post("/{attestation_id}/verify", h.handleVerifyAttestation)
			r.Get("/{attestation_id}/export", h.handleExportAttestation)
		})

		r.Route("/dag", func(r chi.Router) {
			r.Get("/status", h.handleDAGStatus)
			r.Get("/health", h.handleDAGHealth)
			r.Get("/mermaid", h.handleDAGMermaid)
			r.Post("/execute", h.handleExecuteDAG)
			r.Post("/nodes/{node_id}/execute", h.handleExecuteNode)
			r.Post("/cache/invalidate", h.handleInvalidateCache)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/trace/{trace_id}", h.handleGetTrace)
			r.Get("/proposals", h.handleListProposals)
			r.Get("/overrides", h.handleListOverrides)
			r.Get("/blocks", h.handleListBlocks)
			r.Get("/executions", h.handleListExecutions)
			r.Get("/summary", h.handleAuditSummary)
			r.Post("/overrides/{log_id}/outcome", h.handleOverrideOutcome)
			r.Post("/blocks/{log_id}/resolve", h.handleResolveBlock)
		})
	})

	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
