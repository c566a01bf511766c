package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"github.com/nicodishanthj/echogarden/internal/store"
)

// cardView renders a card with its metadata decoded.
type cardView struct {
	store.MemoryCard
	Metadata map[string]interface{} `json:"metadata"`
}

func viewCard(card store.MemoryCard) cardView {
	meta := map[string]interface{}{}
	if card.Metadata != "" {
		_ = json.Unmarshal([]byte(card.Metadata), &meta)
	}
	return cardView{MemoryCard: card, Metadata: meta}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text     string                 `json:"text"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errTextRequired)
		return
	}
	result, err := s.orchestrator.IngestText(r.Context(), body.Text, "note", body.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"memory_id": result.MemoryID,
		"trace_id":  result.TraceID,
	})
}

func (s *Server) handleCardList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	filter := store.CardFilter{
		CardType:   query.Get("card_type"),
		SourceType: query.Get("source_type"),
	}

	if q := query.Get("q"); q != "" {
		hits, err := s.store.SearchCards(r.Context(), q, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		ids := make([]string, 0, len(hits))
		for _, hit := range hits {
			ids = append(ids, hit.MemoryID)
		}
		cardsByID, err := s.store.GetCards(r.Context(), ids)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		views := make([]cardView, 0, len(hits))
		for _, hit := range hits {
			if card, ok := cardsByID[hit.MemoryID]; ok {
				views = append(views, viewCard(card))
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"cards": views})
		return
	}

	cards, err := s.store.ListCards(r.Context(), filter, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]cardView, 0, len(cards))
	for _, card := range cards {
		views = append(views, viewCard(card))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cards": views})
}

func (s *Server) handleCardDetail(w http.ResponseWriter, r *http.Request) {
	card, err := s.store.GetCard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewCard(card))
}

// handleCardOpen streams the original bytes behind a card.
func (s *Server) handleCardOpen(w http.ResponseWriter, r *http.Request) {
	card, err := s.store.GetCard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if card.BlobID == "" {
		writeError(w, http.StatusNotFound, KindNotFound, errNoBlob)
		return
	}
	s.streamBlob(w, r, card.BlobID)
}

func (s *Server) handleBlobStream(w http.ResponseWriter, r *http.Request) {
	s.streamBlob(w, r, chi.URLParam(r, "id"))
}

func (s *Server) streamBlob(w http.ResponseWriter, r *http.Request, blobID string) {
	blob, err := s.store.GetBlob(r.Context(), blobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", blob.Mime)
	http.ServeFile(w, r, blob.Path)
}
