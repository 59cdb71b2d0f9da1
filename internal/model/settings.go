package model

import "time"

// Device setting keys.
const (
	SettingDeviceToken       = "device_token"
	SettingDeviceTokenSynced = "device_token_synced"
)

// DeviceSetting is a key/value pair scoped to this installation.
type DeviceSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
