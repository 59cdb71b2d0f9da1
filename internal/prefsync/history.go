package prefsync

import (
	"context"
	"fmt"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/stream"
)

// GetHistory lists locally stored notifications.
func (r *Repository) GetHistory(ctx context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error) {
	return r.history.List(ctx, filter)
}

// RemoteHistory reads the backend's notification history. Results are not
// stored locally.
func (r *Repository) RemoteHistory(ctx context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error) {
	if !r.conn.CurrentlyUsable() {
		return nil, ErrOffline
	}
	var recs []model.NotificationRecord
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		recs, err = r.remote.FetchHistory(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch remote history: %w", err)
	}
	return recs, nil
}

// RecordNotification appends a record to the local history.
func (r *Repository) RecordNotification(ctx context.Context, rec model.NotificationRecord) (*model.NotificationRecord, error) {
	stored, err := r.history.Insert(ctx, rec)
	if err != nil {
		return nil, err
	}
	r.publishUnread(ctx, stored.UserID)
	return stored, nil
}

func (r *Repository) MarkAsRead(ctx context.Context, id int64) error {
	userID, err := r.history.MarkRead(ctx, id)
	if err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("mark notification %d read: %w", id, ErrNotificationNotFound)
	}
	r.publishUnread(ctx, userID)
	return nil
}

func (r *Repository) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	n, err := r.history.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.publishUnread(ctx, userID)
	}
	return n, nil
}

func (r *Repository) UnreadCount(ctx context.Context, userID string) (int, error) {
	return r.history.UnreadCount(ctx, userID)
}

// ObserveUnreadCount streams the number of unread notifications for userID,
// starting with the current count.
func (r *Repository) ObserveUnreadCount(ctx context.Context, userID string) (<-chan int, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.unreadSub[userID]
	if !ok {
		count, err := r.history.UnreadCount(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		sub = stream.NewReplay[int]()
		sub.Publish(count)
		r.unreadSub[userID] = sub
	}
	ch, cancel := sub.Subscribe()
	return ch, cancel, nil
}

// publishUnread recounts under r.mu so concurrent updates publish in the
// order the counts were taken.
func (r *Repository) publishUnread(ctx context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.unreadSub[userID]
	if !ok {
		return
	}
	count, err := r.history.UnreadCount(ctx, userID)
	if err != nil {
		r.logger.Error("count unread notifications", "user_id", userID, "error", err)
		return
	}
	sub.Publish(count)
}
