package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/stormsync/internal/database"
	"github.com/dukerupert/stormsync/internal/model"
)

// ErrLocationNotTracked is returned when writing a preference for a location
// the user does not track.
var ErrLocationNotTracked = errors.New("location not tracked")

type LocationStore struct {
	db *sql.DB
}

func NewLocationStore(db *sql.DB) *LocationStore {
	return &LocationStore{db: db}
}

// Track records a tracked location and creates its default preference
// (notifications enabled). Tracking an already tracked location only
// updates its name.
func (s *LocationStore) Track(ctx context.Context, userID, locationID, name string) (*model.TrackedLocation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin track location: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tracked_locations (user_id, location_id, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, location_id) DO UPDATE SET name = excluded.name`,
		userID, locationID, name, database.UnixNano(now),
	); err != nil {
		return nil, fmt.Errorf("track location %q: %w", locationID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO location_preferences (user_id, location_id, notifications_enabled, last_synced_at)
		 VALUES (?, ?, 1, 0)`,
		userID, locationID,
	); err != nil {
		return nil, fmt.Errorf("create location preference %q: %w", locationID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit track location: %w", err)
	}
	return s.GetTracked(ctx, userID, locationID)
}

// Untrack deletes a tracked location. Its preference row is removed by the
// foreign key cascade.
func (s *LocationStore) Untrack(ctx context.Context, userID, locationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tracked_locations WHERE user_id = ? AND location_id = ?`, userID, locationID)
	if err != nil {
		return fmt.Errorf("untrack location %q: %w", locationID, err)
	}
	return nil
}

func (s *LocationStore) GetTracked(ctx context.Context, userID, locationID string) (*model.TrackedLocation, error) {
	var (
		loc     model.TrackedLocation
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, location_id, name, created_at FROM tracked_locations
		 WHERE user_id = ? AND location_id = ?`, userID, locationID,
	).Scan(&loc.UserID, &loc.LocationID, &loc.Name, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked location %q: %w", locationID, err)
	}
	loc.CreatedAt = database.FromUnixNano(created)
	return &loc, nil
}

func (s *LocationStore) ListTracked(ctx context.Context, userID string) ([]model.TrackedLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, location_id, name, created_at FROM tracked_locations
		 WHERE user_id = ? ORDER BY created_at, location_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tracked locations: %w", err)
	}
	defer rows.Close()

	var locs []model.TrackedLocation
	for rows.Next() {
		var (
			loc     model.TrackedLocation
			created int64
		)
		if err := rows.Scan(&loc.UserID, &loc.LocationID, &loc.Name, &created); err != nil {
			return nil, fmt.Errorf("scan tracked location: %w", err)
		}
		loc.CreatedAt = database.FromUnixNano(created)
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

// GetPreference returns the cached preference for a location, or nil.
func (s *LocationStore) GetPreference(ctx context.Context, userID, locationID string) (*model.LocationPreference, error) {
	var (
		p          model.LocationPreference
		enabled    int
		lastSynced int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, location_id, notifications_enabled, last_synced_at FROM location_preferences
		 WHERE user_id = ? AND location_id = ?`, userID, locationID,
	).Scan(&p.UserID, &p.LocationID, &enabled, &lastSynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location preference %q: %w", locationID, err)
	}
	p.NotificationsEnabled = enabled != 0
	p.LastSyncedAt = database.FromUnixNano(lastSynced)
	return &p, nil
}

func (s *LocationStore) ListPreferences(ctx context.Context, userID string) ([]model.LocationPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, location_id, notifications_enabled, last_synced_at FROM location_preferences
		 WHERE user_id = ? ORDER BY location_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list location preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.LocationPreference
	for rows.Next() {
		var (
			p          model.LocationPreference
			enabled    int
			lastSynced int64
		)
		if err := rows.Scan(&p.UserID, &p.LocationID, &enabled, &lastSynced); err != nil {
			return nil, fmt.Errorf("scan location preference: %w", err)
		}
		p.NotificationsEnabled = enabled != 0
		p.LastSyncedAt = database.FromUnixNano(lastSynced)
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// PutPreference upserts a location preference. The location must be tracked.
func (s *LocationStore) PutPreference(ctx context.Context, p model.LocationPreference) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put location preference: %w", err)
	}
	defer tx.Rollback()

	var tracked int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracked_locations WHERE user_id = ? AND location_id = ?`,
		p.UserID, p.LocationID,
	).Scan(&tracked); err != nil {
		return fmt.Errorf("check tracked location %q: %w", p.LocationID, err)
	}
	if tracked == 0 {
		return fmt.Errorf("put location preference %q: %w", p.LocationID, ErrLocationNotTracked)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO location_preferences (user_id, location_id, notifications_enabled, last_synced_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, location_id) DO UPDATE SET
		        notifications_enabled = excluded.notifications_enabled,
		        last_synced_at = excluded.last_synced_at`,
		p.UserID, p.LocationID, boolInt(p.NotificationsEnabled), database.UnixNano(p.LastSyncedAt),
	); err != nil {
		return fmt.Errorf("put location preference %q: %w", p.LocationID, err)
	}
	return tx.Commit()
}

// MarkSynced stamps last_synced_at without changing the enabled flag.
func (s *LocationStore) MarkSynced(ctx context.Context, userID, locationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE location_preferences SET last_synced_at = ? WHERE user_id = ? AND location_id = ?`,
		database.UnixNano(at), userID, locationID)
	if err != nil {
		return fmt.Errorf("mark location preference synced %q: %w", locationID, err)
	}
	return nil
}
