package push

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/stormsync/internal/metrics"
	"github.com/dukerupert/stormsync/internal/model"
)

// Payload keys read from inbound push messages.
const (
	KeyNotificationType = "notification_type"
	KeyPriority         = "priority"
	KeyTitle            = "title"
	KeyBody             = "body"
	KeyLocationID       = "location_id"
	KeyUserID           = "user_id"
)

// MaxTrackedPerGroup bounds the IDs remembered per group.
const MaxTrackedPerGroup = 10

// Summary slots are fixed per group so a refreshed summary replaces the last.
var summarySlots = map[string]int64{
	GroupAlerts:    1,
	GroupScheduled: 2,
}

const firstNotificationID = 1000

// HistoryRecorder persists notification records.
type HistoryRecorder interface {
	RecordNotification(ctx context.Context, rec model.NotificationRecord) (*model.NotificationRecord, error)
}

// UserSource reports the signed-in user.
type UserSource interface {
	CurrentUser() (string, bool)
}

type EngineConfig struct {
	History  HistoryRecorder
	Users    UserSource
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Delivery describes what the engine did with one inbound message.
type Delivery struct {
	Discarded      bool                   `json:"discarded"`
	Type           model.NotificationType `json:"notification_type,omitempty"`
	Priority       model.Priority         `json:"priority,omitempty"`
	Channel        Channel                `json:"channel,omitempty"`
	Group          string                 `json:"group,omitempty"`
	NotificationID int64                  `json:"notification_id,omitempty"`
	RecordID       int64                  `json:"record_id,omitempty"`
	Summarized     bool                   `json:"summarized,omitempty"`
}

type tracked struct {
	id    int64
	title string
}

// Engine classifies inbound push messages, records them in history and
// hands them to the platform notifier.
type Engine struct {
	history  HistoryRecorder
	users    UserSource
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	nextID int64
	groups map[string][]tracked
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		history:  cfg.History,
		users:    cfg.Users,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "push"),
		now:      cfg.Now,
		nextID:   firstNotificationID,
		groups:   make(map[string][]tracked),
	}
	if e.notifier == nil {
		e.notifier = NewLogNotifier(logger)
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Classify returns the notification type and priority for a payload. Unknown
// or missing types are treated as alerts; alerts default to HIGH priority and
// scheduled summaries are always MEDIUM.
func Classify(payload map[string]string) (model.NotificationType, model.Priority) {
	t := model.NotificationType(strings.ToUpper(strings.TrimSpace(payload[KeyNotificationType])))
	switch t {
	case model.NotifTypeAlert, model.NotifTypeMorningSummary, model.NotifTypeTomorrowForecast, model.NotifTypeWeeklySummary:
	default:
		t = model.NotifTypeAlert
	}
	if t.Scheduled() {
		return t, model.PriorityMedium
	}

	switch p := model.Priority(strings.ToUpper(strings.TrimSpace(payload[KeyPriority]))); p {
	case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		return t, p
	default:
		return t, model.PriorityHigh
	}
}

func defaultTitle(t model.NotificationType) string {
	switch t {
	case model.NotifTypeMorningSummary:
		return "Morning summary"
	case model.NotifTypeTomorrowForecast:
		return "Tomorrow's forecast"
	case model.NotifTypeWeeklySummary:
		return "Weekly summary"
	default:
		return "Weather alert"
	}
}

// OnMessageReceived processes one inbound push message. The history record
// is written before the notifier is called, and neither failure is returned
// to the transport.
func (e *Engine) OnMessageReceived(ctx context.Context, payload map[string]string) Delivery {
	if len(payload) == 0 {
		e.logger.Warn("discarding empty push payload")
		e.metrics.NotificationDiscarded()
		return Delivery{Discarded: true}
	}

	notifType, priority := Classify(payload)
	d := Delivery{
		Type:     notifType,
		Priority: priority,
		Channel:  ChannelFor(priority),
		Group:    GroupFor(notifType),
	}
	e.metrics.NotificationReceived(string(notifType), string(priority))

	title := strings.TrimSpace(payload[KeyTitle])
	if title == "" {
		title = defaultTitle(notifType)
	}
	body := payload[KeyBody]
	locationID := payload[KeyLocationID]

	d.RecordID = e.record(ctx, model.NotificationRecord{
		UserID:     e.userFor(payload),
		LocationID: locationID,
		Type:       notifType,
		Title:      title,
		Body:       body,
		Priority:   priority,
		ReceivedAt: e.now(),
		Payload:    maps.Clone(payload),
	})

	id, summary := e.track(d.Group, title)
	d.NotificationID = id

	n := Notification{
		ID:         id,
		Channel:    d.Channel,
		Group:      d.Group,
		Title:      title,
		Body:       body,
		Type:       notifType,
		Priority:   priority,
		LocationID: locationID,
		Data:       maps.Clone(payload),
	}
	e.notify(ctx, n)
	if summary != nil {
		e.notify(ctx, *summary)
		d.Summarized = true
	}
	return d
}

func (e *Engine) userFor(payload map[string]string) string {
	if u := payload[KeyUserID]; u != "" {
		return u
	}
	if e.users != nil {
		if u, ok := e.users.CurrentUser(); ok {
			return u
		}
	}
	return ""
}

func (e *Engine) record(ctx context.Context, rec model.NotificationRecord) int64 {
	if e.history == nil {
		return 0
	}
	if rec.UserID == "" {
		e.logger.Warn("recording notification without a user", "type", rec.Type)
	}
	stored, err := e.history.RecordNotification(ctx, rec)
	if err != nil {
		e.logger.Error("record notification", "type", rec.Type, "error", err)
		e.metrics.HistoryWriteFailure()
		return 0
	}
	return stored.ID
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notifier failed", "id", n.ID, "channel", n.Channel, "summary", n.Summary, "error", err)
		e.metrics.NotifierFailure()
	}
}

// track assigns a notification ID, adds it to its group and returns the
// group summary to (re)issue when more than one notification is live.
func (e *Engine) track(group, title string) (int64, *Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++

	live := append(e.groups[group], tracked{id: id, title: title})
	if len(live) > MaxTrackedPerGroup {
		live = live[len(live)-MaxTrackedPerGroup:]
	}
	e.groups[group] = live

	if len(live) <= 1 {
		return id, nil
	}
	return id, e.summaryLocked(group, live)
}

func (e *Engine) summaryLocked(group string, live []tracked) *Notification {
	lines := make([]string, 0, len(live))
	for i := len(live) - 1; i >= 0; i-- {
		lines = append(lines, live[i].title)
	}
	var title string
	switch group {
	case GroupScheduled:
		title = fmt.Sprintf("%d forecast summaries", len(live))
	default:
		title = fmt.Sprintf("%d weather alerts", len(live))
	}
	channel := ChannelHighPriority
	if group == GroupScheduled {
		channel = ChannelScheduled
	}
	return &Notification{
		ID:      summarySlots[group],
		Channel: channel,
		Group:   group,
		Summary: true,
		Title:   title,
		Body:    lines[0],
		Lines:   lines,
	}
}

// Dismiss stops tracking a notification the user has dismissed. It reports
// whether the ID was tracked.
func (e *Engine) Dismiss(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for group, live := range e.groups {
		for i, t := range live {
			if t.id != id {
				continue
			}
			e.groups[group] = append(live[:i:i], live[i+1:]...)
			return true
		}
	}
	return false
}

// GroupSize returns the number of live notifications tracked for group.
func (e *Engine) GroupSize(group string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.groups[group])
}
