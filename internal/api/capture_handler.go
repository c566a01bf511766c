package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/common"
)

const captureKeyHeader = "X-EG-KEY"

// requireCaptureKey guards the browser capture endpoints.
func (s *Server) requireCaptureKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := strings.TrimSpace(s.cfg.CaptureAPIKey)
		if configured == "" || r.Header.Get(captureKeyHeader) != configured {
			writeError(w, http.StatusUnauthorized, KindUnauthorized, errCaptureKey)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	fileCount, err := s.store.CountFileStates(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	blobCount, err := s.store.CountBlobs(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	jobCounts, err := s.store.JobCounts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	payload := map[string]interface{}{
		"counts": map[string]interface{}{
			"files": fileCount,
			"blobs": blobCount,
			"jobs":  jobCounts,
		},
	}
	if s.watcher != nil {
		status := s.watcher.Status()
		payload["roots"] = status.Roots
		payload["poll_interval"] = status.PollInterval
		payload["scans"] = status.Scans
	} else {
		payload["roots"] = []string{}
		payload["poll_interval"] = ""
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleCaptureJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	jobs, err := s.store.ListJobs(r.Context(), query.Get("status"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

type browserCapture struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Selection string   `json:"selection"`
	Note      string   `json:"note"`
	Topic     string   `json:"topic"`
	URLs      []string `json:"urls"`
}

func (s *Server) handleBrowserHighlight(w http.ResponseWriter, r *http.Request) {
	var body browserCapture
	if !decodeBody(w, r, &body) {
		return
	}
	text := body.Text
	if text == "" {
		text = body.Selection
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errTextRequired)
		return
	}
	if body.Note != "" {
		text += "\n\nNote: " + body.Note
	}
	s.commitBrowserCard(w, r, text, "browser_highlight", body.URL, body.Title)
}

func (s *Server) handleBrowserBookmark(w http.ResponseWriter, r *http.Request) {
	var body browserCapture
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errURLRequired)
		return
	}
	text := body.Title
	if text == "" {
		text = body.URL
	}
	if body.Note != "" {
		text += "\n" + body.Note
	}
	s.commitBrowserCard(w, r, text, "browser_bookmark", body.URL, body.Title)
}

func (s *Server) handleBrowserResearchSession(w http.ResponseWriter, r *http.Request) {
	var body browserCapture
	if !decodeBody(w, r, &body) {
		return
	}
	topic := body.Topic
	if topic == "" {
		topic = body.Title
	}
	if strings.TrimSpace(topic) == "" && len(body.URLs) == 0 {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errTextRequired)
		return
	}
	var builder strings.Builder
	builder.WriteString("Research session: " + topic + "\n")
	for _, url := range body.URLs {
		builder.WriteString("- " + url + "\n")
	}
	if body.Note != "" {
		builder.WriteString("\n" + body.Note)
	}
	s.commitBrowserCard(w, r, builder.String(), "research_session", body.URL, topic)
}

func (s *Server) handleBrowserVisit(w http.ResponseWriter, r *http.Request) {
	var body browserCapture
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errURLRequired)
		return
	}
	text := body.Title
	if text == "" {
		text = body.URL
	}
	s.commitBrowserCard(w, r, text, "browser_visit", body.URL, body.Title)
}

func (s *Server) handleBrowserImportHistory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visits []browserCapture `json:"visits"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	logger := common.Logger()
	imported := 0
	for _, visit := range body.Visits {
		if strings.TrimSpace(visit.URL) == "" {
			continue
		}
		text := visit.Title
		if text == "" {
			text = visit.URL
		}
		_, err := s.orchestrator.IngestText(r.Context(), text, "browser_visit", map[string]interface{}{
			"url":         visit.URL,
			"title":       visit.Title,
			"source_type": "browser",
		})
		if err != nil {
			logger.Warn("capture: history import entry failed", "url", visit.URL, "error", err)
			continue
		}
		imported++
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

func (s *Server) commitBrowserCard(w http.ResponseWriter, r *http.Request, text, cardType, url, title string) {
	result, err := s.orchestrator.IngestText(r.Context(), text, cardType, map[string]interface{}{
		"url":         url,
		"title":       title,
		"source_type": "browser",
	})
	if err != nil {
		writeServiceError(w, fmt.Errorf("browser capture: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"memory_id": result.MemoryID,
		"trace_id":  result.TraceID,
	})
}
