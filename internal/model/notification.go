package model

import "time"

// NotificationType identifies the kind of inbound push message.
type NotificationType string

const (
	NotifTypeAlert            NotificationType = "ALERT"
	NotifTypeMorningSummary   NotificationType = "MORNING_SUMMARY"
	NotifTypeTomorrowForecast NotificationType = "TOMORROW_FORECAST"
	NotifTypeWeeklySummary    NotificationType = "WEEKLY_SUMMARY"
)

// Scheduled reports whether the type is one of the periodic summaries.
func (t NotificationType) Scheduled() bool {
	switch t {
	case NotifTypeMorningSummary, NotifTypeTomorrowForecast, NotifTypeWeeklySummary:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// NotificationRecord is an append-only history entry. Only Read may change
// after the record is created.
type NotificationRecord struct {
	ID         int64             `json:"id"`
	UserID     string            `json:"user_id"`
	LocationID string            `json:"location_id,omitempty"`
	Type       NotificationType  `json:"notification_type"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Priority   Priority          `json:"priority"`
	ReceivedAt time.Time         `json:"received_at"`
	Payload    map[string]string `json:"payload"`
	Read       bool              `json:"read"`
}

// HistoryFilter narrows a history listing. Zero values mean "no filter".
type HistoryFilter struct {
	UserID     string           `json:"user_id"`
	Type       NotificationType `json:"notification_type,omitempty"`
	LocationID string           `json:"location_id,omitempty"`
	UnreadOnly bool             `json:"unread_only,omitempty"`
	Since      time.Time        `json:"since,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}
