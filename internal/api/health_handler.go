package api

import (
	"context"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/nicodishanthj/echogarden/internal/tools"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	dbOK := s.store.Ping(ctx) == nil
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"db":           dbOK,
		"vector_index": s.vector != nil && s.vector.Available(),
		"llm":          s.provider != nil && s.provider.Name() != "local",
	})
}

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": s.registry.Names()})
}

func (s *Server) handleToolSchema(w http.ResponseWriter, r *http.Request) {
	spec, err := s.registry.Schema(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, KindNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// handleToolRun is the dev-mode direct dispatch endpoint.
func (s *Server) handleToolRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Inputs map[string]interface{} `json:"inputs"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	name := chi.URLParam(r, "name")
	out, callID, err := s.registry.Dispatch(r.Context(), name, tools.Inputs(body.Inputs), "")
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidInput, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outputs": out,
		"call_id": callID,
	})
}
