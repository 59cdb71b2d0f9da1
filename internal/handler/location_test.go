package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/store"
)

type fakeLocations struct {
	tracked map[string]model.TrackedLocation
	prefs   map[string]model.LocationPreference
}

func newFakeLocations() *fakeLocations {
	return &fakeLocations{
		tracked: map[string]model.TrackedLocation{},
		prefs:   map[string]model.LocationPreference{},
	}
}

func (f *fakeLocations) TrackLocation(_ context.Context, userID, locationID, name string) (*model.TrackedLocation, error) {
	loc := model.TrackedLocation{UserID: userID, LocationID: locationID, Name: name}
	f.tracked[locationID] = loc
	f.prefs[locationID] = model.LocationPreference{UserID: userID, LocationID: locationID, NotificationsEnabled: true}
	return &loc, nil
}

func (f *fakeLocations) UntrackLocation(_ context.Context, _, locationID string) error {
	delete(f.tracked, locationID)
	delete(f.prefs, locationID)
	return nil
}

func (f *fakeLocations) ListTrackedLocations(context.Context, string) ([]model.TrackedLocation, error) {
	var out []model.TrackedLocation
	for _, l := range f.tracked {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeLocations) ListLocationPreferences(context.Context, string) ([]model.LocationPreference, error) {
	var out []model.LocationPreference
	for _, p := range f.prefs {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeLocations) GetLocationPreference(_ context.Context, _, locationID string) (*model.LocationPreference, error) {
	p, ok := f.prefs[locationID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeLocations) UpdateLocationPreferences(_ context.Context, userID, locationID string, enabled bool) error {
	if _, ok := f.tracked[locationID]; !ok {
		return fmt.Errorf("put location preference %q: %w", locationID, store.ErrLocationNotTracked)
	}
	f.prefs[locationID] = model.LocationPreference{UserID: userID, LocationID: locationID, NotificationsEnabled: enabled}
	return nil
}

func TestTrackAndListLocations(t *testing.T) {
	svc := newFakeLocations()
	h := NewLocationHandler(svc, discardLogger)

	rec := serve(t, "POST /api/locations", h.Track, http.MethodPost, "/api/locations", `{"location_id":" loc-1 ","name":"Home"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("track status = %d", rec.Code)
	}
	if got := decodeBody[model.TrackedLocation](t, rec); got.LocationID != "loc-1" || got.UserID != "user-1" {
		t.Errorf("tracked %+v", got)
	}

	rec = serve(t, "GET /api/locations", h.List, http.MethodGet, "/api/locations", "")
	views := decodeBody[[]locationView](t, rec)
	if len(views) != 1 || !views[0].NotificationsEnabled || views[0].Name != "Home" {
		t.Errorf("list = %+v", views)
	}
}

func TestTrackRequiresLocationID(t *testing.T) {
	h := NewLocationHandler(newFakeLocations(), discardLogger)
	rec := serve(t, "POST /api/locations", h.Track, http.MethodPost, "/api/locations", `{"name":"Home"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateLocationPreference(t *testing.T) {
	svc := newFakeLocations()
	svc.TrackLocation(context.Background(), "user-1", "loc-1", "Home")
	h := NewLocationHandler(svc, discardLogger)

	rec := serve(t, "PUT /api/locations/{id}/preferences", h.UpdatePreference, http.MethodPut,
		"/api/locations/loc-1/preferences", `{"notifications_enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody[model.LocationPreference](t, rec); got.NotificationsEnabled {
		t.Error("expected notifications disabled")
	}

	rec = serve(t, "PUT /api/locations/{id}/preferences", h.UpdatePreference, http.MethodPut,
		"/api/locations/loc-1/preferences", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing field status = %d, want 400", rec.Code)
	}

	rec = serve(t, "PUT /api/locations/{id}/preferences", h.UpdatePreference, http.MethodPut,
		"/api/locations/nowhere/preferences", `{"notifications_enabled":true}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("untracked status = %d, want 404", rec.Code)
	}
}

func TestGetAndUntrackLocation(t *testing.T) {
	svc := newFakeLocations()
	svc.TrackLocation(context.Background(), "user-1", "loc-1", "Home")
	h := NewLocationHandler(svc, discardLogger)

	rec := serve(t, "GET /api/locations/{id}/preferences", h.GetPreference, http.MethodGet, "/api/locations/loc-1/preferences", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = serve(t, "DELETE /api/locations/{id}", h.Untrack, http.MethodDelete, "/api/locations/loc-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("untrack status = %d", rec.Code)
	}

	rec = serve(t, "GET /api/locations/{id}/preferences", h.GetPreference, http.MethodGet, "/api/locations/loc-1/preferences", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("after untrack status = %d, want 404", rec.Code)
	}
}
