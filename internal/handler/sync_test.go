package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dukerupert/stormsync/internal/pending"
	"github.com/dukerupert/stormsync/internal/prefsync"
)

type fakeSync struct {
	entries []pending.Entry
	res     prefsync.DrainResult
	err     error
}

func (f *fakeSync) PendingUpdates() []pending.Entry { return f.entries }

func (f *fakeSync) ManualSync(context.Context) (prefsync.DrainResult, error) {
	return f.res, f.err
}

func TestPendingList(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeSync{entries: []pending.Entry{
		{Seq: 1, Intent: pending.LocationPreferenceWrite{UserID: "user-1", LocationID: "loc-1", Enabled: true, CreatedAt: created}},
	}}
	h := NewSyncHandler(svc, discardLogger)

	rec := serve(t, "GET /api/sync/pending", h.Pending, http.MethodGet, "/api/sync/pending", "")
	got := decodeBody[struct {
		Count   int           `json:"count"`
		Pending []pendingView `json:"pending"`
	}](t, rec)
	if got.Count != 1 || len(got.Pending) != 1 {
		t.Fatalf("got %+v", got)
	}
	p := got.Pending[0]
	if p.Kind != pending.KindLocationPreference || p.LocationID != "loc-1" || !p.CreatedAt.Equal(created) {
		t.Errorf("pending = %+v", p)
	}

	var intent struct {
		Kind    pending.Kind `json:"kind"`
		Enabled bool         `json:"enabled"`
	}
	if err := json.Unmarshal(p.Intent, &intent); err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	if intent.Kind != pending.KindLocationPreference || !intent.Enabled {
		t.Errorf("intent = %+v", intent)
	}
}

func TestManualSyncStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"drained", nil, http.StatusOK},
		{"offline", prefsync.ErrOffline, http.StatusServiceUnavailable},
		{"partial", errors.New("replay failed"), http.StatusMultiStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeSync{res: prefsync.DrainResult{Attempted: 2, Succeeded: 1, Remaining: 1}, err: tt.err}
			h := NewSyncHandler(svc, discardLogger)
			rec := serve(t, "POST /api/sync", h.Sync, http.MethodPost, "/api/sync", "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			got := decodeBody[struct {
				Result prefsync.DrainResult `json:"result"`
			}](t, rec)
			if got.Result.Remaining != 1 {
				t.Errorf("result = %+v", got.Result)
			}
		})
	}
}
