package prefsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/pending"
	"github.com/dukerupert/stormsync/internal/remote"
)

// TrackLocation starts tracking a location with notifications enabled. When
// the backend already holds a preference for it, that value is adopted.
func (r *Repository) TrackLocation(ctx context.Context, userID, locationID, name string) (*model.TrackedLocation, error) {
	loc, err := r.locs.Track(ctx, userID, locationID, name)
	if err != nil {
		return nil, err
	}
	if !r.conn.CurrentlyUsable() {
		return loc, nil
	}
	if _, queued := r.queue.Get(locationKey(userID, locationID)); queued {
		return loc, nil
	}

	lp, err := r.fetchLocationPreference(ctx, userID, locationID)
	switch {
	case errors.Is(err, remote.ErrNotFound):
	case err != nil:
		r.logger.Warn("fetch remote location preference", "location_id", locationID, "error", err)
	default:
		lp.LastSyncedAt = r.now()
		if err := r.locs.PutPreference(ctx, lp); err != nil {
			return nil, err
		}
	}
	return loc, nil
}

// UntrackLocation stops tracking a location. Its preference goes with it,
// along with any queued write for it.
func (r *Repository) UntrackLocation(ctx context.Context, userID, locationID string) error {
	if err := r.locs.Untrack(ctx, userID, locationID); err != nil {
		return err
	}
	r.queue.Drop(locationKey(userID, locationID))
	return nil
}

func (r *Repository) ListTrackedLocations(ctx context.Context, userID string) ([]model.TrackedLocation, error) {
	return r.locs.ListTracked(ctx, userID)
}

func (r *Repository) ListLocationPreferences(ctx context.Context, userID string) ([]model.LocationPreference, error) {
	return r.locs.ListPreferences(ctx, userID)
}

// GetLocationPreference returns the cached preference, falling back to the
// backend for a location that has none cached. It returns nil when neither
// side knows the location.
func (r *Repository) GetLocationPreference(ctx context.Context, userID, locationID string) (*model.LocationPreference, error) {
	local, err := r.locs.GetPreference(ctx, userID, locationID)
	if err != nil || local != nil {
		return local, err
	}
	if !r.conn.CurrentlyUsable() {
		return nil, nil
	}

	lp, err := r.fetchLocationPreference(ctx, userID, locationID)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch location preference %q: %w", locationID, err)
	}
	lp.LastSyncedAt = r.now()
	return &lp, nil
}

// UpdateLocationPreferences toggles alerts for a tracked location. Unlike
// preference writes this is local-first: the cache changes immediately and
// a failed backend write is queued without being reported.
func (r *Repository) UpdateLocationPreferences(ctx context.Context, userID, locationID string, enabled bool) error {
	unlock := r.writes.lock(locationKey(userID, locationID))
	defer unlock()

	existing, err := r.locs.GetPreference(ctx, userID, locationID)
	if err != nil {
		return err
	}
	lp := model.LocationPreference{UserID: userID, LocationID: locationID, NotificationsEnabled: enabled}
	if existing != nil {
		lp.LastSyncedAt = existing.LastSyncedAt
	}
	if err := r.locs.PutPreference(ctx, lp); err != nil {
		return err
	}

	intent := pending.LocationPreferenceWrite{UserID: userID, LocationID: locationID, Enabled: enabled, CreatedAt: r.now()}
	if !r.conn.CurrentlyUsable() {
		r.queue.Enqueue(intent)
		r.metrics.SyncOperation("update_location_preference", OutcomeQueued.String())
		return nil
	}
	if err := r.writeLocationPreference(ctx, userID, locationID, enabled); err != nil {
		r.queue.Enqueue(intent)
		r.logger.Info("location preference write failed, queued", "location_id", locationID, "error", err)
		r.metrics.SyncOperation("update_location_preference", OutcomeFailed.String())
		return nil
	}

	r.queue.Drop(intent.Key())
	r.metrics.SyncOperation("update_location_preference", OutcomeSynced.String())
	if err := r.locs.MarkSynced(ctx, userID, locationID, r.now()); err != nil {
		r.logger.Warn("mark location preference synced", "location_id", locationID, "error", err)
	}
	return nil
}

func (r *Repository) writeLocationPreference(ctx context.Context, userID, locationID string, enabled bool) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.remote.WriteLocationPreference(ctx, userID, locationID, enabled)
	})
}

func (r *Repository) fetchLocationPreference(ctx context.Context, userID, locationID string) (model.LocationPreference, error) {
	var lp model.LocationPreference
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		lp, err = r.remote.FetchLocationPreference(ctx, userID, locationID)
		return err
	})
	return lp, err
}

func locationKey(userID, locationID string) pending.Key {
	return pending.Key{Kind: pending.KindLocationPreference, UserID: userID, LocationID: locationID}
}
