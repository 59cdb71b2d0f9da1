package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/prefsync"
)

type fakeHistory struct {
	filter    model.HistoryFilter
	recs      []model.NotificationRecord
	remoteErr error
	read      []int64
	unread    int
}

func (f *fakeHistory) GetHistory(_ context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error) {
	f.filter = filter
	return f.recs, nil
}

func (f *fakeHistory) RemoteHistory(_ context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error) {
	f.filter = filter
	return f.recs, f.remoteErr
}

func (f *fakeHistory) MarkAsRead(_ context.Context, id int64) error {
	if id != 7 {
		return fmt.Errorf("mark notification %d read: %w", id, prefsync.ErrNotificationNotFound)
	}
	f.read = append(f.read, id)
	return nil
}

func (f *fakeHistory) MarkAllAsRead(context.Context, string) (int64, error) {
	return 3, nil
}

func (f *fakeHistory) UnreadCount(context.Context, string) (int, error) {
	return f.unread, nil
}

func TestListHistoryFilter(t *testing.T) {
	svc := &fakeHistory{}
	h := NewHistoryHandler(svc, discardLogger)

	rec := serve(t, "GET /api/history", h.List, http.MethodGet,
		"/api/history?type=ALERT&location_id=loc-1&unread=true&since=2024-05-01T00:00:00Z&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "[]\n" {
		t.Errorf("empty history body = %q", rec.Body.String())
	}

	want := model.HistoryFilter{
		UserID:     "user-1",
		Type:       model.NotifTypeAlert,
		LocationID: "loc-1",
		UnreadOnly: true,
		Since:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Limit:      5,
	}
	if !svc.filter.Since.Equal(want.Since) {
		t.Errorf("since = %v", svc.filter.Since)
	}
	svc.filter.Since, want.Since = time.Time{}, time.Time{}
	if svc.filter != want {
		t.Errorf("filter = %+v, want %+v", svc.filter, want)
	}
}

func TestListHistoryBadQuery(t *testing.T) {
	h := NewHistoryHandler(&fakeHistory{}, discardLogger)
	for _, q := range []string{"unread=maybe", "since=yesterday", "limit=-1"} {
		rec := serve(t, "GET /api/history", h.List, http.MethodGet, "/api/history?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestRemoteHistoryOffline(t *testing.T) {
	h := NewHistoryHandler(&fakeHistory{remoteErr: prefsync.ErrOffline}, discardLogger)
	rec := serve(t, "GET /api/history/remote", h.Remote, http.MethodGet, "/api/history/remote", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMarkRead(t *testing.T) {
	svc := &fakeHistory{}
	h := NewHistoryHandler(svc, discardLogger)

	rec := serve(t, "POST /api/history/{id}/read", h.MarkRead, http.MethodPost, "/api/history/7/read", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = serve(t, "POST /api/history/{id}/read", h.MarkRead, http.MethodPost, "/api/history/8/read", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
	rec = serve(t, "POST /api/history/{id}/read", h.MarkRead, http.MethodPost, "/api/history/abc/read", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestMarkAllReadAndUnreadCount(t *testing.T) {
	svc := &fakeHistory{unread: 2}
	h := NewHistoryHandler(svc, discardLogger)

	rec := serve(t, "POST /api/history/read-all", h.MarkAllRead, http.MethodPost, "/api/history/read-all", "")
	if got := decodeBody[map[string]int64](t, rec)["updated"]; got != 3 {
		t.Errorf("updated = %d", got)
	}
	rec = serve(t, "GET /api/history/unread-count", h.UnreadCount, http.MethodGet, "/api/history/unread-count", "")
	if got := decodeBody[map[string]int](t, rec)["unread"]; got != 2 {
		t.Errorf("unread = %d", got)
	}
}
