package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"proveniq-ops/internal/audittrace/models"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
	"proveniq-ops/pkg/platform/httputil"
)

func (h *Handler) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID, err := id.ParseTraceID(chi.URLParam(r, "trace_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	trace, err := h.svc.Audit.GetTrace(r.Context(), traceID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trace)
}

func (h *Handler) handleListProposals(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Audit.ListProposals(r.Context(),
		models.ProposalEventType(r.URL.Query().Get("event_type")), pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"proposals": list, "count": len(list)})
}

func (h *Handler) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Audit.ListOverrides(r.Context(),
		r.URL.Query().Get("override_type"), pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"overrides": list, "count": len(list)})
}

func (h *Handler) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	switch r.URL.Query().Get("resolved") {
	case "true":
		v := true
		resolved = &v
	case "false":
		v := false
		resolved = &v
	}
	list, err := h.svc.Audit.ListBlocks(r.Context(), resolved, pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"blocks": list, "count": len(list)})
}

func (h *Handler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Audit.ListExecutions(r.Context(), pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"executions": list, "count": len(list)})
}

func (h *Handler) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Audit.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

type overrideOutcomeRequest struct {
	WasCorrect bool   `json:"was_correct"`
	Notes      string `json:"notes,omitempty"`
}

func (h *Handler) handleOverrideOutcome(w http.ResponseWriter, r *http.Request) {
	logID, err := uuid.Parse(chi.URLParam(r, "log_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "log_id must be a valid UUID"))
		return
	}
	req, ok := httputil.Decode[overrideOutcomeRequest](w, r)
	if !ok {
		return
	}
	record, err := h.svc.Audit.UpdateOverrideOutcome(r.Context(), logID, req.WasCorrect, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

type resolveBlockRequest struct {
	ResolutionType string `json:"resolution_type"`
	ResolvedBy     string `json:"resolved_by"`
}

func (h *Handler) handleResolveBlock(w http.ResponseWriter, r *http.Request) {
	logID, err := uuid.Parse(chi.URLParam(r, "log_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "log_id must be a valid UUID"))
		return
	}
	req, ok := httputil.Decode[resolveBlockRequest](w, r)
	if !ok {
		return
	}
	resolvedBy, err := id.ParseUserID(req.ResolvedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := h.svc.Audit.ResolveBlock(r.Context(), logID, req.ResolutionType, resolvedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func pageFrom(r *http.Request) models.Page {
	return models.Page{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
}
