package prefsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/stormsync/internal/model"
)

func recvCount(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unread count")
	}
	return -1
}

func TestObserveUnreadCount(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	counts, cancel, err := h.repo.ObserveUnreadCount(ctx, "u1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	defer cancel()
	if n := recvCount(t, counts); n != 0 {
		t.Errorf("initial = %d, want 0", n)
	}

	rec, err := h.repo.RecordNotification(ctx, model.NotificationRecord{
		UserID: "u1", Type: model.NotifTypeAlert, Title: "Storm", Priority: model.PriorityHigh, ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if n := recvCount(t, counts); n != 1 {
		t.Errorf("after record = %d, want 1", n)
	}

	// A second observer gets the current value straight away.
	late, cancelLate, _ := h.repo.ObserveUnreadCount(ctx, "u1")
	defer cancelLate()
	if n := recvCount(t, late); n != 1 {
		t.Errorf("replayed = %d, want 1", n)
	}

	if err := h.repo.MarkAsRead(ctx, rec.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n := recvCount(t, counts); n != 0 {
		t.Errorf("after read = %d, want 0", n)
	}
}

func TestMarkAsReadUnknown(t *testing.T) {
	h := newHarness(t, true)
	if err := h.repo.MarkAsRead(context.Background(), 404); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("err = %v, want ErrNotificationNotFound", err)
	}
}

func TestMarkAllAsRead(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.repo.RecordNotification(ctx, model.NotificationRecord{UserID: "u1", Type: model.NotifTypeAlert, Priority: model.PriorityHigh})
	}

	n, err := h.repo.MarkAllAsRead(ctx, "u1")
	if err != nil || n != 3 {
		t.Fatalf("got (%d, %v), want 3", n, err)
	}
	if c, _ := h.repo.UnreadCount(ctx, "u1"); c != 0 {
		t.Errorf("unread = %d, want 0", c)
	}
}

func TestRemoteHistory(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.remote.history = []model.NotificationRecord{{ID: 1, UserID: "u1", Title: "From server"}}

	recs, err := h.repo.RemoteHistory(ctx, model.HistoryFilter{UserID: "u1"})
	if err != nil || len(recs) != 1 {
		t.Fatalf("got (%v, %v)", recs, err)
	}
	local, _ := h.repo.GetHistory(ctx, model.HistoryFilter{UserID: "u1"})
	if len(local) != 0 {
		t.Error("remote history must not be stored locally")
	}

	h.monitor.Set(false)
	if _, err := h.repo.RemoteHistory(ctx, model.HistoryFilter{UserID: "u1"}); !errors.Is(err, ErrOffline) {
		t.Errorf("err = %v, want ErrOffline", err)
	}
}
