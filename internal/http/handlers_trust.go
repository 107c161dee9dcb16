package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/httputil"
)

type calculateTierRequest struct {
	OrgID string `json:"org_id"`
}

func (h *Handler) handleCalculateTier(w http.ResponseWriter, r *http.Request) {
	assetID, err := id.ParseAssetID(chi.URLParam(r, "asset_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	req, ok := httputil.Decode[calculateTierRequest](w, r)
	if !ok {
		return
	}
	orgID, err := id.ParseOrgID(req.OrgID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.Trust.CalculateTier(r.Context(), assetID, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetTier(w http.ResponseWriter, r *http.Request) {
	assetID, err := id.ParseAssetID(chi.URLParam(r, "asset_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.svc.Trust.GetTier(r.Context(), assetID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTierHistory(w http.ResponseWriter, r *http.Request) {
	assetID, err := id.ParseAssetID(chi.URLParam(r, "asset_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.svc.Trust.GetHistory(r.Context(), assetID, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}

func (h *Handler) handleTierDistribution(w http.ResponseWriter, r *http.Request) {
	orgID, err := id.ParseOrgID(chi.URLParam(r, "org_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	distribution, err := h.svc.Trust.GetDistribution(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"distribution": distribution})
}

func (h *Handler) handleThresholds(w http.ResponseWriter, r *http.Request) {
	thresholds, err := h.svc.Trust.GetThresholds(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, thresholds)
}
