package api

import (
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"github.com/nicodishanthj/echogarden/internal/chat"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chat.Request
	if !decodeBody(w, r, &body) {
		return
	}
	resp, err := s.chat.Handle(r.Context(), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	conversations, err := s.store.ListConversations(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

func (s *Server) handleConversationDetail(w http.ResponseWriter, r *http.Request) {
	turns, err := s.store.ConversationTurns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
}
