package prefsync

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/pending"
)

// DrainResult summarizes one pass over the pending-write queue.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Remaining int `json:"remaining"`
}

// ManualSync replays the pending-write queue now. It fails with ErrOffline
// when the network is unusable.
func (r *Repository) ManualSync(ctx context.Context) (DrainResult, error) {
	if !r.conn.CurrentlyUsable() {
		return DrainResult{Remaining: r.queue.Count()}, ErrOffline
	}
	return r.Drain(ctx)
}

// Drain replays every queued write in queue order. Each write that the
// backend confirms is removed on its own; failures stay queued unchanged and
// are returned together. Concurrent callers share a single in-flight drain,
// which runs to completion even if the caller that started it gives up.
func (r *Repository) Drain(ctx context.Context) (DrainResult, error) {
	ch := r.drains.DoChan("drain", func() (any, error) {
		return r.drain(r.base)
	})
	select {
	case res := <-ch:
		v, _ := res.Val.(DrainResult)
		return v, res.Err
	case <-ctx.Done():
		return DrainResult{Remaining: r.queue.Count()}, ctx.Err()
	}
}

func (r *Repository) drain(ctx context.Context) (DrainResult, error) {
	entries := r.queue.Snapshot()
	if len(entries) == 0 {
		r.metrics.Drain("empty")
		return DrainResult{}, nil
	}

	r.logger.Info("draining pending writes", "count", len(entries))
	var (
		res  DrainResult
		errs error
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		attempted, err := r.replayEntry(ctx, e.Intent.Key())
		if !attempted {
			continue
		}
		res.Attempted++
		if err != nil {
			r.logger.Warn("replay failed", "key", e.Intent.Key().String(), "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		res.Succeeded++
	}
	res.Remaining = r.queue.Count()

	if errs != nil {
		r.metrics.Drain("partial")
	} else {
		r.metrics.Drain("ok")
	}
	r.logger.Info("drain finished", "succeeded", res.Succeeded, "remaining", res.Remaining)
	return res, errs
}

// replayEntry replays whatever is queued under k now, holding the key lock
// across the remote write and the local confirm. A key that a foreground
// write settled since the snapshot is skipped. The entry leaves the queue
// only once both sides are applied.
func (r *Repository) replayEntry(ctx context.Context, k pending.Key) (bool, error) {
	unlock := r.writes.lock(k)
	defer unlock()

	e, ok := r.queue.Lookup(k)
	if !ok {
		return false, nil
	}
	if err := r.replay(ctx, e.Intent); err != nil {
		return true, fmt.Errorf("replay %s: %w", k, err)
	}
	if err := r.afterReplay(ctx, e.Intent); err != nil {
		// Still queued; replaying a confirmed write again is idempotent.
		return true, fmt.Errorf("apply replayed %s: %w", k, err)
	}
	r.queue.Remove(e)
	return true, nil
}

// replay sends one intent through the same remote helpers the foreground
// writes use.
func (r *Repository) replay(ctx context.Context, i pending.Intent) error {
	switch w := i.(type) {
	case pending.PreferenceWrite:
		return r.writePreferences(ctx, w.Preferences)
	case pending.LocationPreferenceWrite:
		return r.writeLocationPreference(ctx, w.UserID, w.LocationID, w.Enabled)
	case pending.DeviceTokenWrite:
		return r.registerToken(ctx, w.UserID, w.Token)
	default:
		return fmt.Errorf("unknown intent %T", i)
	}
}

// afterReplay applies the local side of a confirmed write.
func (r *Repository) afterReplay(ctx context.Context, i pending.Intent) error {
	switch w := i.(type) {
	case pending.PreferenceWrite:
		return r.confirmPreferences(ctx, w.Preferences)
	case pending.LocationPreferenceWrite:
		return r.locs.MarkSynced(ctx, w.UserID, w.LocationID, r.now())
	case pending.DeviceTokenWrite:
		current, err := r.settings.Get(ctx, model.SettingDeviceToken)
		if err != nil || current != w.Token {
			return err
		}
		return r.settings.Set(ctx, model.SettingDeviceTokenSynced, "true")
	}
	return nil
}
