package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/stormsync/internal/auth"
	"github.com/dukerupert/stormsync/internal/model"
)

// LocationService is the part of the repository the location routes use.
type LocationService interface {
	TrackLocation(ctx context.Context, userID, locationID, name string) (*model.TrackedLocation, error)
	UntrackLocation(ctx context.Context, userID, locationID string) error
	ListTrackedLocations(ctx context.Context, userID string) ([]model.TrackedLocation, error)
	ListLocationPreferences(ctx context.Context, userID string) ([]model.LocationPreference, error)
	GetLocationPreference(ctx context.Context, userID, locationID string) (*model.LocationPreference, error)
	UpdateLocationPreferences(ctx context.Context, userID, locationID string, enabled bool) error
}

type LocationHandler struct {
	svc    LocationService
	logger *slog.Logger
}

func NewLocationHandler(svc LocationService, logger *slog.Logger) *LocationHandler {
	return &LocationHandler{svc: svc, logger: logger}
}

type locationView struct {
	model.TrackedLocation
	NotificationsEnabled bool `json:"notifications_enabled"`
}

// List handles GET /api/locations
func (h *LocationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	locs, err := h.svc.ListTrackedLocations(r.Context(), userID)
	if err != nil {
		h.logger.Error("list locations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list locations")
		return
	}
	prefs, err := h.svc.ListLocationPreferences(r.Context(), userID)
	if err != nil {
		h.logger.Error("list location preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list locations")
		return
	}
	enabled := make(map[string]bool, len(prefs))
	for _, p := range prefs {
		enabled[p.LocationID] = p.NotificationsEnabled
	}

	views := make([]locationView, 0, len(locs))
	for _, l := range locs {
		views = append(views, locationView{TrackedLocation: l, NotificationsEnabled: enabled[l.LocationID]})
	}
	writeJSON(w, http.StatusOK, views)
}

type trackRequest struct {
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
}

// Track handles POST /api/locations
func (h *LocationHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.LocationID = strings.TrimSpace(req.LocationID)
	if req.LocationID == "" {
		writeError(w, http.StatusBadRequest, "location_id is required")
		return
	}

	loc, err := h.svc.TrackLocation(r.Context(), auth.UserID(r.Context()), req.LocationID, strings.TrimSpace(req.Name))
	if err != nil {
		h.logger.Error("track location", "location_id", req.LocationID, "error", err)
		writeError(w, statusFor(err), "failed to track location")
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

// Untrack handles DELETE /api/locations/{id}
func (h *LocationHandler) Untrack(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UntrackLocation(r.Context(), auth.UserID(r.Context()), r.PathValue("id")); err != nil {
		h.logger.Error("untrack location", "error", err)
		writeError(w, statusFor(err), "failed to untrack location")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPreference handles GET /api/locations/{id}/preferences
func (h *LocationHandler) GetPreference(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetLocationPreference(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.logger.Error("get location preference", "error", err)
		writeError(w, statusFor(err), "failed to load location preference")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "location preference not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type locationPreferenceRequest struct {
	NotificationsEnabled *bool `json:"notifications_enabled"`
}

// UpdatePreference handles PUT /api/locations/{id}/preferences. A write the
// backend could not confirm is queued and still reported as success.
func (h *LocationHandler) UpdatePreference(w http.ResponseWriter, r *http.Request) {
	var req locationPreferenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NotificationsEnabled == nil {
		writeError(w, http.StatusBadRequest, "notifications_enabled is required")
		return
	}

	userID, locationID := auth.UserID(r.Context()), r.PathValue("id")
	if err := h.svc.UpdateLocationPreferences(r.Context(), userID, locationID, *req.NotificationsEnabled); err != nil {
		h.logger.Error("update location preference", "location_id", locationID, "error", err)
		writeError(w, statusFor(err), "failed to update location preference")
		return
	}
	p, err := h.svc.GetLocationPreference(r.Context(), userID, locationID)
	if err != nil || p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
