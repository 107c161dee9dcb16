package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"proveniq-ops/internal/events"
	eventmodels "proveniq-ops/internal/events/models"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
	"proveniq-ops/pkg/platform/httputil"
)

type appendEventRequest struct {
	EventType      string         `json:"event_type"`
	AssetID        string         `json:"asset_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func (h *Handler) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[appendEventRequest](w, r)
	if !ok {
		return
	}

	input := events.AppendInput{
		EventType:      req.EventType,
		Payload:        req.Payload,
		CorrelationID:  req.CorrelationID,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.AssetID != "" {
		assetID, err := id.ParseAssetID(req.AssetID)
		if err != nil {
			writeError(w, err)
			return
		}
		input.AssetID = assetID
	}

	event, err := h.svc.Events.Append(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, event)
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "event_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	event, err := h.svc.Events.GetByID(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, event)
}

func (h *Handler) handleEventsByCorrelation(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Events.GetByCorrelation(r.Context(), chi.URLParam(r, "correlation_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

func (h *Handler) handleEventsByType(w http.ResponseWriter, r *http.Request) {
	since, until, err := timeRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.svc.Events.GetByType(r.Context(),
		chi.URLParam(r, "event_type"), since, until, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

func (h *Handler) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	since, _, err := timeRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter := eventmodels.SearchFilter{
		Query: r.URL.Query().Get("q"),
		Since: since,
		Limit: queryInt(r, "limit"),
	}
	if types := r.URL.Query()["event_type"]; len(types) > 0 {
		filter.EventTypes = types
	}
	list, err := h.svc.Events.Search(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	since, until, err := timeRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter := eventmodels.TimelineFilter{
		LocationID: r.URL.Query().Get("location_id"),
		Since:      since,
		Until:      until,
		Limit:      queryInt(r, "limit"),
	}
	if raw := r.URL.Query().Get("asset_id"); raw != "" {
		assetID, err := id.ParseAssetID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.AssetID = assetID
	}
	list, err := h.svc.Events.ForensicTimeline(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

func (h *Handler) handleEventStats(w http.ResponseWriter, r *http.Request) {
	since, _, err := timeRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := h.svc.Events.CountByType(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"counts_by_type": counts})
}

func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	assetID, err := id.ParseAssetID(chi.URLParam(r, "asset_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.svc.Events.VerifyChain(r.Context(), assetID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, key string) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}

func timeRange(r *http.Request) (since, until *time.Time, err error) {
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			return nil, nil, badTime("since")
		}
		since = &t
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		t, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			return nil, nil, badTime("until")
		}
		until = &t
	}
	return since, until, nil
}

func badTime(field string) error {
	return dErrors.Newf(dErrors.CodeBadRequest, "%s must be an RFC3339 timestamp", field)
}
