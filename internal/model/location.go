package model

import "time"

type TrackedLocation struct {
	UserID     string    `json:"user_id"`
	LocationID string    `json:"location_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// LocationPreference overrides whether alerts fire for one tracked location.
type LocationPreference struct {
	UserID               string    `json:"user_id"`
	LocationID           string    `json:"location_id"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	LastSyncedAt         time.Time `json:"last_synced_at"`
}
