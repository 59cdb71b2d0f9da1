package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/stormsync/internal/database"
	"github.com/dukerupert/stormsync/internal/model"
)

type PreferenceStore struct {
	db *sql.DB
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns the cached preference set for userID, or nil if none is cached.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (*model.PreferenceSet, error) {
	var (
		p                                  model.PreferenceSet
		typesJSON                          string
		enabled, morning, tomorrow, weekly int
		lastSynced                         int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, notifications_enabled, enabled_event_types, schedule,
		        morning_summary_enabled, tomorrow_forecast_enabled, weekly_summary_enabled,
		        timezone, last_synced_at
		 FROM preferences WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &enabled, &typesJSON, &p.Schedule, &morning, &tomorrow, &weekly, &p.Timezone, &lastSynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences %q: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(typesJSON), &p.EnabledEventTypes); err != nil {
		return nil, fmt.Errorf("decode event types for %q: %w", userID, err)
	}
	p.NotificationsEnabled = enabled != 0
	p.MorningSummaryEnabled = morning != 0
	p.TomorrowForecastEnabled = tomorrow != 0
	p.WeeklySummaryEnabled = weekly != 0
	p.LastSyncedAt = database.FromUnixNano(lastSynced)
	return &p, nil
}

// Put replaces the cached preference set for p.UserID.
func (s *PreferenceStore) Put(ctx context.Context, p model.PreferenceSet) error {
	p = p.Normalized()
	typesJSON, err := json.Marshal(p.EnabledEventTypes)
	if err != nil {
		return fmt.Errorf("encode event types: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO preferences (user_id, notifications_enabled, enabled_event_types, schedule,
		        morning_summary_enabled, tomorrow_forecast_enabled, weekly_summary_enabled,
		        timezone, last_synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		        notifications_enabled = excluded.notifications_enabled,
		        enabled_event_types = excluded.enabled_event_types,
		        schedule = excluded.schedule,
		        morning_summary_enabled = excluded.morning_summary_enabled,
		        tomorrow_forecast_enabled = excluded.tomorrow_forecast_enabled,
		        weekly_summary_enabled = excluded.weekly_summary_enabled,
		        timezone = excluded.timezone,
		        last_synced_at = excluded.last_synced_at`,
		p.UserID, boolInt(p.NotificationsEnabled), string(typesJSON), p.Schedule,
		boolInt(p.MorningSummaryEnabled), boolInt(p.TomorrowForecastEnabled), boolInt(p.WeeklySummaryEnabled),
		p.Timezone, database.UnixNano(p.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("put preferences %q: %w", p.UserID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
