package pending

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/stormsync/internal/model"
)

// Kind discriminates the intent variants.
type Kind string

const (
	KindPreference         Kind = "preference"
	KindLocationPreference Kind = "location_preference"
	KindDeviceToken        Kind = "device_token"
)

// Key identifies the record an intent writes. Intents with equal keys coalesce.
type Key struct {
	Kind       Kind
	UserID     string
	LocationID string
}

func (k Key) String() string {
	if k.LocationID != "" {
		return fmt.Sprintf("%s/%s/%s", k.Kind, k.UserID, k.LocationID)
	}
	return fmt.Sprintf("%s/%s", k.Kind, k.UserID)
}

// Intent is a write awaiting remote confirmation. The set of implementations
// is closed: PreferenceWrite, LocationPreferenceWrite and DeviceTokenWrite.
type Intent interface {
	Key() Key
	Created() time.Time
	intent()
}

type PreferenceWrite struct {
	UserID      string
	Preferences model.PreferenceSet
	CreatedAt   time.Time
}

func (w PreferenceWrite) Key() Key           { return Key{Kind: KindPreference, UserID: w.UserID} }
func (w PreferenceWrite) Created() time.Time { return w.CreatedAt }
func (PreferenceWrite) intent()              {}

type LocationPreferenceWrite struct {
	UserID     string
	LocationID string
	Enabled    bool
	CreatedAt  time.Time
}

func (w LocationPreferenceWrite) Key() Key {
	return Key{Kind: KindLocationPreference, UserID: w.UserID, LocationID: w.LocationID}
}
func (w LocationPreferenceWrite) Created() time.Time { return w.CreatedAt }
func (LocationPreferenceWrite) intent()              {}

// DeviceTokenWrite registers a rotated push token with the backend.
type DeviceTokenWrite struct {
	UserID    string
	Token     string
	CreatedAt time.Time
}

func (w DeviceTokenWrite) Key() Key           { return Key{Kind: KindDeviceToken, UserID: w.UserID} }
func (w DeviceTokenWrite) Created() time.Time { return w.CreatedAt }
func (DeviceTokenWrite) intent()              {}

// envelope is the on-disk form of an intent.
type envelope struct {
	Kind        Kind                 `json:"kind"`
	UserID      string               `json:"user_id"`
	LocationID  string               `json:"location_id,omitempty"`
	Preferences *model.PreferenceSet `json:"preferences,omitempty"`
	Enabled     bool                 `json:"enabled,omitempty"`
	Token       string               `json:"token,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func encodeIntent(i Intent) (envelope, error) {
	switch w := i.(type) {
	case PreferenceWrite:
		prefs := w.Preferences
		return envelope{Kind: KindPreference, UserID: w.UserID, Preferences: &prefs, CreatedAt: w.CreatedAt}, nil
	case LocationPreferenceWrite:
		return envelope{Kind: KindLocationPreference, UserID: w.UserID, LocationID: w.LocationID, Enabled: w.Enabled, CreatedAt: w.CreatedAt}, nil
	case DeviceTokenWrite:
		return envelope{Kind: KindDeviceToken, UserID: w.UserID, Token: w.Token, CreatedAt: w.CreatedAt}, nil
	default:
		return envelope{}, fmt.Errorf("unknown intent type %T", i)
	}
}

func (e envelope) decode() (Intent, error) {
	switch e.Kind {
	case KindPreference:
		if e.Preferences == nil {
			return nil, fmt.Errorf("preference intent for %q has no preferences", e.UserID)
		}
		return PreferenceWrite{UserID: e.UserID, Preferences: *e.Preferences, CreatedAt: e.CreatedAt}, nil
	case KindLocationPreference:
		return LocationPreferenceWrite{UserID: e.UserID, LocationID: e.LocationID, Enabled: e.Enabled, CreatedAt: e.CreatedAt}, nil
	case KindDeviceToken:
		return DeviceTokenWrite{UserID: e.UserID, Token: e.Token, CreatedAt: e.CreatedAt}, nil
	default:
		return nil, fmt.Errorf("unknown intent kind %q", e.Kind)
	}
}

// MarshalIntent encodes an intent for logging or transport.
func MarshalIntent(i Intent) ([]byte, error) {
	env, err := encodeIntent(i)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
