package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
	_ "time/tzdata"
)

// ErrNoEventTypes is returned when a preference set would enable no event types.
var ErrNoEventTypes = errors.New("at least one event type must be enabled")

// EventType is a class of severe-weather event a user can subscribe to.
type EventType string

const (
	EventHeavyRain    EventType = "HEAVY_RAIN"
	EventThunderstorm EventType = "THUNDERSTORM"
	EventSnow         EventType = "SNOW"
	EventFreezingRain EventType = "FREEZING_RAIN"
	EventExtremeHeat  EventType = "EXTREME_HEAT"
	EventExtremeCold  EventType = "EXTREME_COLD"
	EventStrongWind   EventType = "STRONG_WIND"
	EventFog          EventType = "FOG"
	EventUVIndex      EventType = "UV_INDEX"
)

// AllEventTypes lists every known event type in display order.
var AllEventTypes = []EventType{
	EventHeavyRain,
	EventThunderstorm,
	EventSnow,
	EventFreezingRain,
	EventExtremeHeat,
	EventExtremeCold,
	EventStrongWind,
	EventFog,
	EventUVIndex,
}

func (e EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if e == known {
			return true
		}
	}
	return false
}

// Schedule controls when alerts may be delivered.
type Schedule string

const (
	ScheduleDaytimeOnly Schedule = "DAYTIME_ONLY"
	ScheduleFull247     Schedule = "FULL_24_7"
)

func (s Schedule) Valid() bool {
	return s == ScheduleDaytimeOnly || s == ScheduleFull247
}

// PreferenceSet is a user's global notification configuration.
type PreferenceSet struct {
	UserID                  string      `json:"user_id"`
	NotificationsEnabled    bool        `json:"notifications_enabled"`
	EnabledEventTypes       []EventType `json:"enabled_event_types"`
	Schedule                Schedule    `json:"schedule"`
	MorningSummaryEnabled   bool        `json:"morning_summary_enabled"`
	TomorrowForecastEnabled bool        `json:"tomorrow_forecast_enabled"`
	WeeklySummaryEnabled    bool        `json:"weekly_summary_enabled"`
	Timezone                string      `json:"timezone"`
	LastSyncedAt            time.Time   `json:"last_synced_at"`
}

// DefaultPreferences returns the preference set assigned on first login.
func DefaultPreferences(userID string) PreferenceSet {
	return PreferenceSet{
		UserID:                  userID,
		NotificationsEnabled:    true,
		EnabledEventTypes:       []EventType{EventHeavyRain, EventThunderstorm, EventStrongWind},
		Schedule:                ScheduleDaytimeOnly,
		MorningSummaryEnabled:   true,
		TomorrowForecastEnabled: true,
		WeeklySummaryEnabled:    false,
		Timezone:                "UTC",
	}.Normalized()
}

// Validate checks the set before it is allowed anywhere near storage or the network.
func (p PreferenceSet) Validate() error {
	if p.UserID == "" {
		return errors.New("user id is required")
	}
	if len(p.EnabledEventTypes) == 0 {
		return ErrNoEventTypes
	}
	for _, et := range p.EnabledEventTypes {
		if !et.Valid() {
			return fmt.Errorf("unknown event type %q", et)
		}
	}
	if !p.Schedule.Valid() {
		return fmt.Errorf("unknown schedule %q", p.Schedule)
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q", p.Timezone)
		}
	}
	return nil
}

// Normalized returns a copy with the event types sorted and de-duplicated.
func (p PreferenceSet) Normalized() PreferenceSet {
	seen := make(map[EventType]struct{}, len(p.EnabledEventTypes))
	types := make([]EventType, 0, len(p.EnabledEventTypes))
	for _, et := range p.EnabledEventTypes {
		if _, ok := seen[et]; ok {
			continue
		}
		seen[et] = struct{}{}
		types = append(types, et)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	p.EnabledEventTypes = types
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	p.LastSyncedAt = p.LastSyncedAt.UTC()
	return p
}

// Equal compares the user-editable content of two sets, ignoring LastSyncedAt.
func (p PreferenceSet) Equal(o PreferenceSet) bool {
	a, b := p.Normalized(), o.Normalized()
	if a.UserID != b.UserID ||
		a.NotificationsEnabled != b.NotificationsEnabled ||
		a.Schedule != b.Schedule ||
		a.MorningSummaryEnabled != b.MorningSummaryEnabled ||
		a.TomorrowForecastEnabled != b.TomorrowForecastEnabled ||
		a.WeeklySummaryEnabled != b.WeeklySummaryEnabled ||
		a.Timezone != b.Timezone ||
		len(a.EnabledEventTypes) != len(b.EnabledEventTypes) {
		return false
	}
	for i := range a.EnabledEventTypes {
		if a.EnabledEventTypes[i] != b.EnabledEventTypes[i] {
			return false
		}
	}
	return true
}

// HasEventType reports whether et is enabled.
func (p PreferenceSet) HasEventType(et EventType) bool {
	for _, e := range p.EnabledEventTypes {
		if e == et {
			return true
		}
	}
	return false
}
