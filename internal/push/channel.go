package push

import (
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/stormsync/internal/model"
)

// Channel is a delivery channel identifier.
type Channel string

const (
	ChannelHighPriority Channel = "weather_alerts_high"
	ChannelScheduled    Channel = "weather_scheduled"
	ChannelGeneral      Channel = "weather_general"
)

// ChannelProfile describes how notifications on a channel are presented.
type ChannelProfile struct {
	ID          Channel         `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Importance  string          `json:"importance"`
	Sound       bool            `json:"sound"`
	Vibration   []time.Duration `json:"vibration,omitempty"`
	BypassDND   bool            `json:"bypass_dnd"`
	Urgency     webpush.Urgency `json:"urgency"`
}

var profiles = map[Channel]ChannelProfile{
	ChannelHighPriority: {
		ID:          ChannelHighPriority,
		Name:        "Severe weather alerts",
		Description: "Urgent alerts for severe weather at your locations",
		Importance:  "high",
		Sound:       true,
		Vibration:   []time.Duration{0, 500 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond},
		BypassDND:   true,
		Urgency:     webpush.UrgencyHigh,
	},
	ChannelScheduled: {
		ID:          ChannelScheduled,
		Name:        "Forecast summaries",
		Description: "Morning, tomorrow and weekly forecast summaries",
		Importance:  "default",
		Sound:       true,
		Urgency:     webpush.UrgencyNormal,
	},
	ChannelGeneral: {
		ID:          ChannelGeneral,
		Name:        "General",
		Description: "Other weather updates",
		Importance:  "low",
		Urgency:     webpush.UrgencyLow,
	},
}

// Channels returns every channel profile, highest priority first.
func Channels() []ChannelProfile {
	return []ChannelProfile{
		profiles[ChannelHighPriority],
		profiles[ChannelScheduled],
		profiles[ChannelGeneral],
	}
}

// ChannelFor maps a priority to its delivery channel.
func ChannelFor(p model.Priority) Channel {
	switch p {
	case model.PriorityMedium:
		return ChannelScheduled
	case model.PriorityLow:
		return ChannelGeneral
	default:
		return ChannelHighPriority
	}
}

// Profile returns the presentation profile for c. Unknown channels get the
// general profile.
func Profile(c Channel) ChannelProfile {
	if p, ok := profiles[c]; ok {
		return p
	}
	return profiles[ChannelGeneral]
}

// Grouping keys.
const (
	GroupAlerts    = "alerts"
	GroupScheduled = "scheduled"
)

// GroupFor returns the grouping key for a notification type.
func GroupFor(t model.NotificationType) string {
	if t.Scheduled() {
		return GroupScheduled
	}
	return GroupAlerts
}
