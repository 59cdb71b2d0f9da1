package prefsync

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/pending"
)

func TestDrainEmptyQueue(t *testing.T) {
	h := newHarness(t, true)

	res, err := h.repo.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res != (DrainResult{}) {
		t.Errorf("result = %+v, want zero", res)
	}
	if len(h.remote.Calls()) != 0 {
		t.Error("empty drain contacted the backend")
	}
}

func TestDrainPartialFailureLeavesFailuresUnchanged(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.locs.Track(ctx, "u1", "paris", "Paris")
	h.locs.Track(ctx, "u1", "oslo", "Oslo")

	h.repo.UpdatePreferences(ctx, prefsWith("u1", model.EventFog))
	h.repo.UpdateLocationPreferences(ctx, "u1", "paris", false)
	h.repo.UpdateLocationPreferences(ctx, "u1", "oslo", false)
	before := h.repo.PendingUpdates()
	if len(before) != 3 {
		t.Fatalf("pending = %d, want 3", len(before))
	}

	h.monitor.Set(true)
	h.remote.setFailWrite(func(call string) error {
		if call == "write_location:u1/paris" {
			return errConnReset
		}
		return nil
	})

	res, err := h.repo.ManualSync(ctx)
	if err == nil {
		t.Fatal("expected drain error")
	}
	if n := len(multierr.Errors(err)); n != 1 {
		t.Errorf("errors = %d, want 1", n)
	}
	if !errors.Is(err, errConnReset) {
		t.Errorf("err = %v, want cause preserved", err)
	}
	if res.Attempted != 3 || res.Succeeded != 2 || res.Remaining != 1 {
		t.Errorf("result = %+v", res)
	}

	after := h.repo.PendingUpdates()
	if len(after) != 1 {
		t.Fatalf("pending = %d, want 1", len(after))
	}
	if !reflect.DeepEqual(after[0], before[1]) {
		t.Errorf("remaining entry changed: %+v, want %+v", after[0], before[1])
	}
}

func TestDrainReplaysInQueueOrder(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.locs.Track(ctx, "u1", "paris", "Paris")

	h.repo.UpdateLocationPreferences(ctx, "u1", "paris", false)
	h.repo.UpdatePreferences(ctx, prefsWith("u1", model.EventFog))
	h.repo.OnDeviceTokenRotated(ctx, "tok")

	h.monitor.Set(true)
	if _, err := h.repo.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	want := []string{"write_location:u1/paris", "write_prefs:u1", "register_token:u1"}
	if got := h.remote.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if h.repo.PendingUpdateCount() != 0 {
		t.Errorf("pending = %d, want 0", h.repo.PendingUpdateCount())
	}
}

func TestDrainConfirmsLocally(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.locs.Track(ctx, "u1", "paris", "Paris")
	set := prefsWith("u1", model.EventSnow)

	h.repo.UpdatePreferences(ctx, set)
	h.repo.UpdateLocationPreferences(ctx, "u1", "paris", false)
	h.monitor.Set(true)
	h.repo.Drain(ctx)

	got, _ := h.prefs.Get(ctx, "u1")
	if got == nil || !got.Equal(set) || got.LastSyncedAt.IsZero() {
		t.Errorf("preferences after drain = %+v", got)
	}
	lp, _ := h.locs.GetPreference(ctx, "u1", "paris")
	if lp == nil || lp.LastSyncedAt.IsZero() {
		t.Errorf("location preference not marked synced: %+v", lp)
	}
}

func TestManualSyncOffline(t *testing.T) {
	h := newHarness(t, false)
	h.repo.UpdatePreferences(context.Background(), prefsWith("u1", model.EventFog))

	res, err := h.repo.ManualSync(context.Background())
	if !errors.Is(err, ErrOffline) {
		t.Errorf("err = %v, want ErrOffline", err)
	}
	if res.Remaining != 1 {
		t.Errorf("remaining = %d, want 1", res.Remaining)
	}
}

func TestDrainSkipsSupersededRemove(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.repo.UpdatePreferences(ctx, prefsWith("u1", model.EventFog))

	// Replace the queued edit while the drain is talking to the backend.
	newer := prefsWith("u1", model.EventSnow)
	h.remote.setFailWrite(func(call string) error {
		h.repo.queue.Enqueue(pending.PreferenceWrite{UserID: "u1", Preferences: newer})
		return nil
	})
	h.monitor.Set(true)
	if _, err := h.repo.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	i, ok := h.repo.queue.Get(pending.Key{Kind: pending.KindPreference, UserID: "u1"})
	if !ok {
		t.Fatal("newer edit was removed by the drain")
	}
	if w := i.(pending.PreferenceWrite); !w.Preferences.Equal(newer) {
		t.Errorf("queued = %v, want newer edit", w.Preferences.EnabledEventTypes)
	}
}

func TestDrainReplayDoesNotOverwriteNewerWrite(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.repo.UpdatePreferences(ctx, prefsWith("u1", model.EventFog))
	h.monitor.Set(true)

	paused, release := pauseFirstWrite(h.remote)
	drained := make(chan error, 1)
	go func() {
		_, err := h.repo.Drain(ctx)
		drained <- err
	}()
	<-paused

	newer := prefsWith("u1", model.EventSnow)
	updated := make(chan Outcome, 1)
	go func() {
		outcome, _ := h.repo.UpdatePreferences(ctx, newer)
		updated <- outcome
	}()
	select {
	case <-updated:
		t.Fatal("update finished while a replay of the same record was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	if err := <-drained; err != nil {
		t.Fatalf("drain: %v", err)
	}
	if outcome := <-updated; outcome != OutcomeSynced {
		t.Fatalf("outcome = %v, want synced", outcome)
	}

	remote, _ := h.remote.prefsFor("u1")
	if !remote.Equal(newer) {
		t.Errorf("remote = %v, want %v", remote.EnabledEventTypes, newer.EnabledEventTypes)
	}
	local, _ := h.prefs.Get(ctx, "u1")
	if local == nil || !local.Equal(newer) {
		t.Errorf("local = %+v, want %v", local, newer.EnabledEventTypes)
	}
	if h.repo.PendingUpdateCount() != 0 {
		t.Errorf("pending = %d, want 0", h.repo.PendingUpdateCount())
	}
}

func TestDrainSkipsWriteSettledByForeground(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.repo.UpdatePreferences(ctx, prefsWith("u2", model.EventFog))
	h.repo.UpdatePreferences(ctx, prefsWith("u1", model.EventFog))
	h.monitor.Set(true)

	// The drain stops after replaying u2; u1 is settled in the meantime.
	paused, release := pauseFirstWrite(h.remote)
	type result struct {
		res DrainResult
		err error
	}
	drained := make(chan result, 1)
	go func() {
		res, err := h.repo.Drain(ctx)
		drained <- result{res, err}
	}()
	<-paused

	newer := prefsWith("u1", model.EventSnow)
	if outcome, err := h.repo.UpdatePreferences(ctx, newer); outcome != OutcomeSynced {
		t.Fatalf("update: %v %v", outcome, err)
	}
	close(release)

	got := <-drained
	if got.err != nil {
		t.Fatalf("drain: %v", got.err)
	}
	if got.res.Attempted != 1 || got.res.Succeeded != 1 || got.res.Remaining != 0 {
		t.Errorf("result = %+v, want only the u2 write", got.res)
	}
	if n := h.remote.countCalls("write_prefs:u1"); n != 1 {
		t.Errorf("remote u1 writes = %d, want 1", n)
	}
	remote, _ := h.remote.prefsFor("u1")
	if !remote.Equal(newer) {
		t.Errorf("remote = %v, want %v", remote.EnabledEventTypes, newer.EnabledEventTypes)
	}
}

func TestDrainOutlivesCancelledCaller(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	set := prefsWith("u1", model.EventFog)
	h.repo.UpdatePreferences(ctx, set)
	h.monitor.Set(true)

	paused, release := pauseFirstWrite(h.remote)
	callerCtx, cancel := context.WithCancel(ctx)
	first := make(chan error, 1)
	go func() {
		_, err := h.repo.Drain(callerCtx)
		first <- err
	}()
	<-paused
	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(release)
	if _, err := h.repo.Drain(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if h.repo.PendingUpdateCount() != 0 {
		t.Errorf("pending = %d, want 0", h.repo.PendingUpdateCount())
	}
	local, _ := h.prefs.Get(ctx, "u1")
	if local == nil || !local.Equal(set) {
		t.Errorf("local = %+v, want confirmed set cached", local)
	}
	if n := h.remote.countCalls("write_prefs:u1"); n != 1 {
		t.Errorf("remote writes = %d, want 1", n)
	}
}

func TestConcurrentDrainsReplayEachIntentOnce(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.locs.Track(ctx, "u1", "paris", "Paris")
	h.repo.UpdatePreferences(ctx, prefsWith("u1", model.EventFog))
	h.repo.UpdateLocationPreferences(ctx, "u1", "paris", false)
	h.monitor.Set(true)

	paused, release := pauseFirstWrite(h.remote)
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.repo.Drain(ctx)
		errs <- err
	}()
	<-paused

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.repo.ManualSync(ctx)
		errs <- err
	}()
	sup := NewSupervisor(h.repo, h.monitor, nil)
	sup.Start(ctx)
	defer sup.Stop()

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("drain: %v", err)
		}
	}

	waitFor(t, "queue to drain", func() bool { return h.repo.PendingUpdateCount() == 0 })
	if n := h.remote.countCalls("write_prefs:u1"); n != 1 {
		t.Errorf("remote preference writes = %d, want 1", n)
	}
	if n := h.remote.countCalls("write_location:u1/paris"); n != 1 {
		t.Errorf("remote location writes = %d, want 1", n)
	}
}

func TestCloseStopsFurtherReplays(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.repo.UpdatePreferences(ctx, prefsWith("u1", model.EventFog))
	h.monitor.Set(true)

	h.repo.Close()
	if _, err := h.repo.Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if h.repo.PendingUpdateCount() != 1 {
		t.Errorf("pending = %d, want 1", h.repo.PendingUpdateCount())
	}
	if n := h.remote.countCalls("write_prefs:u1"); n != 0 {
		t.Errorf("remote writes = %d, want 0", n)
	}
}
