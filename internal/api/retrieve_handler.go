package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/retrieval"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/tools"
)

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query   string            `json:"query"`
		TopK    int               `json:"top_k"`
		Filters retrieval.Filters `json:"filters"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errQueryRequired)
		return
	}
	logger := common.Logger()
	traceID, err := s.store.CreateTrace(r.Context(), "", `{"kind":"retrieve"}`)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out, _, err := s.registry.Dispatch(r.Context(), "retrieval", tools.Inputs{
		"query":   body.Query,
		"top_k":   body.TopK,
		"filters": body.Filters,
	}, traceID)
	if err != nil {
		if finishErr := s.store.FinishTrace(r.Context(), traceID, store.TraceError); finishErr != nil {
			logger.Warn("api: trace finish failed", "trace", traceID, "error", finishErr)
		}
		writeServiceError(w, err)
		return
	}
	results, _ := out["results"].([]retrieval.Hit)
	degraded, _ := out["trace"].(string)
	if err := s.store.FinishTrace(r.Context(), traceID, store.TraceOK); err != nil {
		logger.Warn("api: trace finish failed", "trace", traceID, "error", err)
	}

	filtersJSON, _ := json.Marshal(body.Filters)
	if err := s.store.LogSearch(r.Context(), store.SearchQuery{
		QueryText:   body.Query,
		Filters:     string(filtersJSON),
		ResultCount: len(results),
		TraceID:     traceID,
	}); err != nil {
		logger.Warn("api: search history log failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"trace_id": traceID,
		"trace":    degraded,
	})
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.store.SearchHistory(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queries": history})
}
