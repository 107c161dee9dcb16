package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	attmodels "proveniq-ops/internal/attestation/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/httputil"
)

func (h *Handler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[attmodels.Request](w, r)
	if !ok {
		return
	}
	result, err := h.svc.Attestations.CheckEligibility(r.Context(),
		req.AssetID, req.OrgID, req.Type, req.TimeWindowStart, req.TimeWindowEnd)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleIssueAttestation(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[attmodels.Request](w, r)
	if !ok {
		return
	}
	attestation, err := h.svc.Attestations.Issue(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, attestation)
}

func (h *Handler) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	attestation, err := h.svc.Attestations.Get(r.Context(), chi.URLParam(r, "attestation_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, attestation)
}

func (h *Handler) handleListAttestations(w http.ResponseWriter, r *http.Request) {
	filter := attmodels.ListFilter{
		Type:   attmodels.Type(r.URL.Query().Get("type")),
		Status: attmodels.Status(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit"),
	}
	if raw := r.URL.Query().Get("asset_id"); raw != "" {
		assetID, err := id.ParseAssetID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.AssetID = assetID
	}
	if raw := r.URL.Query().Get("org_id"); raw != "" {
		orgID, err := id.ParseOrgID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.OrgID = orgID
	}

	list, err := h.svc.Attestations.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"attestations": list, "count": len(list)})
}

func (h *Handler) handleVerifyAttestation(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Attestations.Verify(r.Context(), chi.URLParam(r, "attestation_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleExportAttestation(w http.ResponseWriter, r *http.Request) {
	export, err := h.svc.Attestations.Export(r.Context(), chi.URLParam(r, "attestation_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, export)
}
