// Package handler exposes the sync repository and delivery engine over
// JSON HTTP for the presentation layer and the push transport.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/prefsync"
	"github.com/dukerupert/stormsync/internal/store"
)

const maxBodyBytes = 64 << 10

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// statusFor maps repository errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, prefsync.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, prefsync.ErrNotificationNotFound),
		errors.Is(err, store.ErrLocationNotTracked):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNoEventTypes):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
