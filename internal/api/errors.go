package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nicodishanthj/echogarden/internal/chat"
	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/store"
)

// Error kinds surfaced to API callers.
const (
	KindInvalidInput          = "invalid_input"
	KindNotFound              = "not_found"
	KindUnauthorized          = "unauthorized"
	KindConflict              = "conflict"
	KindDependencyUnavailable = "dependency_unavailable"
	KindTimeout               = "timeout"
	KindInternal              = "internal"
)

// Shared request-validation sentinels.
var (
	errTextRequired  = errors.New("text required")
	errQueryRequired = errors.New("query required")
	errURLRequired   = errors.New("url required")
	errNodeRequired  = errors.New("node_id required")
	errSeedRequired  = errors.New("seed required")
	errNoBlob        = errors.New("card has no backing blob")
	errCaptureKey    = errors.New("missing or invalid " + captureKeyHeader + " header")
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "kind", kind, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "kind", kind, "error", err)
	}
	writeJSON(w, status, map[string]string{"kind": kind, "error": err.Error()})
}

// writeServiceError maps sentinel errors onto the typed kinds; everything
// else is internal.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, KindNotFound, err)
	case errors.Is(err, chat.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, KindInvalidInput, err)
	default:
		writeError(w, http.StatusInternalServerError, KindInternal, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidInput, err)
		return false
	}
	return true
}
