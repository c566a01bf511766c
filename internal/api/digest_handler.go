package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nicodishanthj/echogarden/internal/store"
)

func windowDuration(window string) (time.Duration, error) {
	switch window {
	case "", "24h":
		return 24 * time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, nil
	case "30d":
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown window %q (want 24h, 7d or 30d)", window)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	duration, err := windowDuration(query.Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidInput, err)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	since := time.Now().UTC().Add(-duration).Format(time.RFC3339Nano)

	cards, err := s.store.ListCards(r.Context(), store.CardFilter{TimeMin: since}, limit, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	entities, err := s.store.TopMentionedEntities(r.Context(), since, 10)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]cardView, 0, len(cards))
	for _, card := range cards {
		views = append(views, viewCard(card))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"window":    query.Get("window"),
		"cards":     views,
		"entities":  entities,
		"reminders": remindersFrom(cards),
		"clusters":  clustersFrom(views),
	})
}

func (s *Server) handleFeedToday(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour).Format(time.RFC3339Nano)
	cards, err := s.store.ListCards(r.Context(), store.CardFilter{TimeMin: since}, 20, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	entities, err := s.store.TopMentionedEntities(r.Context(), since, 5)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]cardView, 0, len(cards))
	for _, card := range cards {
		views = append(views, viewCard(card))
	}
	topics := make([]string, 0, len(entities))
	for _, entity := range entities {
		topics = append(topics, entity.Label)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":             now.Format("2006-01-02"),
		"reminders":        remindersFrom(cards),
		"recent_memories":  views,
		"emerging_topics":  topics,
		"activity_summary": fmt.Sprintf("%d memories captured in the last 24 hours", len(cards)),
	})
}

// remindersFrom harvests extractor action items out of card metadata.
func remindersFrom(cards []store.MemoryCard) []string {
	var reminders []string
	for _, card := range cards {
		var meta struct {
			Actions []string `json:"actions"`
		}
		if card.Metadata == "" {
			continue
		}
		if err := json.Unmarshal([]byte(card.Metadata), &meta); err != nil {
			continue
		}
		reminders = append(reminders, meta.Actions...)
		if len(reminders) >= 10 {
			return reminders[:10]
		}
	}
	return reminders
}

// clustersFrom groups the window's cards by their leading tag.
func clustersFrom(views []cardView) []map[string]interface{} {
	groups := make(map[string][]string)
	var order []string
	for _, view := range views {
		rawTags, ok := view.Metadata["tags"].([]interface{})
		if !ok || len(rawTags) == 0 {
			continue
		}
		tag, ok := rawTags[0].(string)
		if !ok || tag == "" {
			continue
		}
		if _, seen := groups[tag]; !seen {
			order = append(order, tag)
		}
		groups[tag] = append(groups[tag], view.MemoryID)
	}
	clusters := make([]map[string]interface{}, 0, len(order))
	for _, tag := range order {
		clusters = append(clusters, map[string]interface{}{
			"tag":        tag,
			"memory_ids": groups[tag],
		})
	}
	return clusters
}
