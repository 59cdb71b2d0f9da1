package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/prefsync"
)

type fakePrefs struct {
	prefs   model.PreferenceSet
	getErr  error
	updated *model.PreferenceSet
	outcome prefsync.Outcome
	updErr  error
	syncErr error
	synced  string
}

func (f *fakePrefs) GetPreferences(_ context.Context, userID string) (model.PreferenceSet, error) {
	if f.getErr != nil {
		return model.PreferenceSet{}, f.getErr
	}
	p := f.prefs
	p.UserID = userID
	return p, nil
}

func (f *fakePrefs) UpdatePreferences(_ context.Context, set model.PreferenceSet) (prefsync.Outcome, error) {
	f.updated = &set
	return f.outcome, f.updErr
}

func (f *fakePrefs) SyncPreferences(_ context.Context, userID string) error {
	f.synced = userID
	return f.syncErr
}

func TestGetPreferences(t *testing.T) {
	svc := &fakePrefs{prefs: model.DefaultPreferences("")}
	h := NewPreferencesHandler(svc, discardLogger)

	rec := serve(t, "GET /api/preferences", h.Get, http.MethodGet, "/api/preferences", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[model.PreferenceSet](t, rec)
	if got.UserID != "user-1" || got.Schedule != model.ScheduleDaytimeOnly {
		t.Errorf("got %+v", got)
	}
}

func TestGetPreferencesOffline(t *testing.T) {
	svc := &fakePrefs{getErr: prefsync.ErrOffline}
	h := NewPreferencesHandler(svc, discardLogger)

	rec := serve(t, "GET /api/preferences", h.Get, http.MethodGet, "/api/preferences", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestUpdatePreferencesOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		outcome prefsync.Outcome
		err     error
		want    int
	}{
		{"synced", prefsync.OutcomeSynced, nil, http.StatusOK},
		{"queued", prefsync.OutcomeQueued, prefsync.ErrOffline, http.StatusAccepted},
		{"failed", prefsync.OutcomeFailed, &prefsync.SyncError{Op: "update preferences", Err: errors.New("boom")}, http.StatusAccepted},
		{"rejected", prefsync.OutcomeRejected, model.ErrNoEventTypes, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakePrefs{outcome: tt.outcome, updErr: tt.err}
			h := NewPreferencesHandler(svc, discardLogger)

			body := `{"user_id":"someone-else","notifications_enabled":true,"enabled_event_types":["SNOW"],"schedule":"FULL_24_7"}`
			rec := serve(t, "PUT /api/preferences", h.Update, http.MethodPut, "/api/preferences", body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			resp := decodeBody[updateResponse](t, rec)
			if resp.Outcome != tt.outcome.String() {
				t.Errorf("outcome = %q, want %q", resp.Outcome, tt.outcome)
			}
			if (tt.err != nil) != (resp.Error != "") {
				t.Errorf("error = %q, want error %v", resp.Error, tt.err)
			}
			if svc.updated == nil || svc.updated.UserID != "user-1" {
				t.Errorf("update must use the signed-in user, got %+v", svc.updated)
			}
		})
	}
}

func TestSyncPreferences(t *testing.T) {
	svc := &fakePrefs{prefs: model.DefaultPreferences("")}
	h := NewPreferencesHandler(svc, discardLogger)

	rec := serve(t, "POST /api/preferences/sync", h.Sync, http.MethodPost, "/api/preferences/sync", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.synced != "user-1" {
		t.Errorf("synced user = %q", svc.synced)
	}

	svc.syncErr = prefsync.ErrOffline
	rec = serve(t, "POST /api/preferences/sync", h.Sync, http.MethodPost, "/api/preferences/sync", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("offline status = %d", rec.Code)
	}
}
