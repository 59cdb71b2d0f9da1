package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/stormsync/internal/model"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// ErrNoSubscription is returned when no push subscription is registered.
var ErrNoSubscription = errors.New("no push subscription")

// Notification is a rendered notification handed to the platform.
type Notification struct {
	ID         int64                  `json:"id"`
	Channel    Channel                `json:"channel"`
	Group      string                 `json:"group"`
	Summary    bool                   `json:"summary,omitempty"`
	Title      string                 `json:"title"`
	Body       string                 `json:"body"`
	Type       model.NotificationType `json:"notification_type,omitempty"`
	Priority   model.Priority         `json:"priority,omitempty"`
	LocationID string                 `json:"location_id,omitempty"`
	Lines      []string               `json:"lines,omitempty"`
	Data       map[string]string      `json:"data,omitempty"`
}

// Notifier displays notifications on the platform.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It is used when no platform
// notifier is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"id", n.ID,
		"channel", n.Channel,
		"group", n.Group,
		"summary", n.Summary,
		"title", n.Title,
	)
	return nil
}

// WebPushConfig holds VAPID configuration.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
	HTTPClient      webpush.HTTPClient
}

// SubscriptionSource returns the subscription to deliver to.
type SubscriptionSource func(ctx context.Context) (model.PushSubscription, error)

// WebPushNotifier delivers notifications as Web Push messages.
type WebPushNotifier struct {
	cfg    WebPushConfig
	source SubscriptionSource
}

func NewWebPushNotifier(cfg WebPushConfig, source SubscriptionSource) *WebPushNotifier {
	if cfg.Subscriber == "" {
		cfg.Subscriber = "noreply@stormsync.local"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 86400
	}
	return &WebPushNotifier{cfg: cfg, source: source}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (w *WebPushNotifier) VAPIDPublicKey() string {
	return w.cfg.VAPIDPublicKey
}

func (w *WebPushNotifier) Notify(ctx context.Context, n Notification) error {
	sub, err := w.source(ctx)
	if err != nil {
		return err
	}
	if !sub.Configured() {
		return ErrNoSubscription
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	opts := &webpush.Options{
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		Subscriber:      w.cfg.Subscriber,
		TTL:             w.cfg.TTL,
		Urgency:         Profile(n.Channel).Urgency,
		HTTPClient:      w.cfg.HTTPClient,
	}
	if n.Summary {
		// Summaries replace each other in the push service's queue.
		opts.Topic = "summary-" + n.Group
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, opts)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys generates a new P-256 key pair for VAPID, both halves
// base64url encoded.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
