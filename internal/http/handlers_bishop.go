package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"proveniq-ops/pkg/platform/httputil"
)

type executeNodeRequest struct {
	Context map[string]any `json:"context"`
	Force   bool           `json:"force"`
}

func (h *Handler) handleExecuteNode(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[executeNodeRequest](w, r)
	if !ok {
		return
	}
	output, err := h.svc.Orchestrator.ExecuteNode(r.Context(),
		chi.URLParam(r, "node_id"), req.Context, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"output": output})
}

func (h *Handler) handleExecuteDAG(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[executeNodeRequest](w, r)
	if !ok {
		return
	}
	final, err := h.svc.Orchestrator.ExecuteDAG(r.Context(), req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"context": final})
}

func (h *Handler) handleDAGStatus(w http.ResponseWriter, r *http.Request) {
	dag := h.svc.Orchestrator.DAG()

	type nodeStatus struct {
		NodeID      string   `json:"node_id"`
		Layer       int      `json:"layer"`
		Status      string   `json:"status"`
		DependsOn   []string `json:"depends_on,omitempty"`
		Cacheable   bool     `json:"cacheable"`
		SideEffects []string `json:"side_effects,omitempty"`
	}

	nodes := make([]nodeStatus, 0, len(dag.NodeIDs()))
	for _, nodeID := range dag.NodeIDs() {
		node := dag.Node(nodeID)
		nodes = append(nodes, nodeStatus{
			NodeID:      nodeID,
			Layer:       node.Layer,
			Status:      string(h.svc.Orchestrator.NodeStatus(nodeID)),
			DependsOn:   node.DependsOn,
			Cacheable:   node.Cacheable,
			SideEffects: node.SideEffects,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"dag":   dag.Name,
		"nodes": nodes,
	})
}

func (h *Handler) handleDAGHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Orchestrator.Health())
}

func (h *Handler) handleDAGMermaid(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.svc.Orchestrator.DAG().Mermaid()))
}

type invalidateCacheRequest struct {
	NodeID string `json:"node_id,omitempty"`
}

func (h *Handler) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[invalidateCacheRequest](w, r)
	if !ok {
		return
	}
	invalidated := h.svc.Orchestrator.InvalidateCache(req.NodeID)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"invalidated": invalidated})
}
