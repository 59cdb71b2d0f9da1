package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/stormsync/internal/auth"
	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/prefsync"
)

// PreferenceService is the part of the repository the preference routes use.
type PreferenceService interface {
	GetPreferences(ctx context.Context, userID string) (model.PreferenceSet, error)
	UpdatePreferences(ctx context.Context, set model.PreferenceSet) (prefsync.Outcome, error)
	SyncPreferences(ctx context.Context, userID string) error
}

type PreferencesHandler struct {
	svc    PreferenceService
	logger *slog.Logger
}

func NewPreferencesHandler(svc PreferenceService, logger *slog.Logger) *PreferencesHandler {
	return &PreferencesHandler{svc: svc, logger: logger}
}

// Get handles GET /api/preferences
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.svc.GetPreferences(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get preferences", "error", err)
		writeError(w, statusFor(err), "failed to load preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type updateResponse struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Update handles PUT /api/preferences. The outcome is reported in the body:
// synced → 200, queued or failed → 202, rejected → 400.
func (h *PreferencesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var set model.PreferenceSet
	if !decodeJSON(w, r, &set) {
		return
	}
	set.UserID = auth.UserID(r.Context())

	outcome, err := h.svc.UpdatePreferences(r.Context(), set)
	resp := updateResponse{Outcome: outcome.String()}
	if err != nil {
		resp.Error = err.Error()
	}

	switch outcome {
	case prefsync.OutcomeSynced:
		writeJSON(w, http.StatusOK, resp)
	case prefsync.OutcomeQueued, prefsync.OutcomeFailed:
		writeJSON(w, http.StatusAccepted, resp)
	case prefsync.OutcomeRejected:
		writeJSON(w, http.StatusBadRequest, resp)
	default:
		h.logger.Error("update preferences", "error", err)
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// Sync handles POST /api/preferences/sync
func (h *PreferencesHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if err := h.svc.SyncPreferences(r.Context(), userID); err != nil {
		h.logger.Warn("sync preferences", "error", err)
		writeError(w, statusFor(err), "sync failed")
		return
	}
	prefs, err := h.svc.GetPreferences(r.Context(), userID)
	if err != nil {
		writeError(w, statusFor(err), "failed to load preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
