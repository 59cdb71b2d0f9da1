package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PushSubscription is a Web Push endpoint. On web installs the device token
// handed to the sync layer is the browser's subscription JSON.
type PushSubscription struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

// Configured reports whether all subscription fields are present.
func (s PushSubscription) Configured() bool {
	return s.Endpoint != "" && s.P256dhKey != "" && s.AuthKey != ""
}

// ParsePushSubscription decodes a subscription in the browser's
// PushSubscription.toJSON() shape.
func ParsePushSubscription(token string) (PushSubscription, error) {
	var raw struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := json.Unmarshal([]byte(token), &raw); err != nil {
		return PushSubscription{}, fmt.Errorf("decode push subscription: %w", err)
	}
	sub := PushSubscription{Endpoint: raw.Endpoint, P256dhKey: raw.Keys.P256dh, AuthKey: raw.Keys.Auth}
	if !sub.Configured() {
		return PushSubscription{}, errors.New("push subscription is missing endpoint or keys")
	}
	return sub, nil
}
