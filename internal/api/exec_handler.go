package api

import (
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
)

func (s *Server) handleExecTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	trace, err := s.store.GetTrace(r.Context(), traceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	nodes, err := s.store.TraceNodes(r.Context(), traceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	edges, err := s.store.TraceEdges(r.Context(), traceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	calls, err := s.store.ListToolCalls(r.Context(), traceID, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trace":      trace,
		"nodes":      nodes,
		"edges":      edges,
		"tool_calls": calls,
	})
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	calls, err := s.store.ListToolCalls(r.Context(), query.Get("trace_id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tool_calls": calls})
}
