package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukerupert/stormsync/internal/database"
	"github.com/dukerupert/stormsync/internal/model"
)

const defaultHistoryLimit = 100

// HistoryStore persists notification history. Records are append-only; the
// read flag is the only mutable column.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Insert appends rec and returns it with its assigned ID. Read is always
// stored as false.
func (s *HistoryStore) Insert(ctx context.Context, rec model.NotificationRecord) (*model.NotificationRecord, error) {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode notification payload: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_history
		        (user_id, location_id, notification_type, title, body, priority, received_at, payload, read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		rec.UserID, rec.LocationID, rec.Type, rec.Title, rec.Body, rec.Priority,
		database.UnixNano(rec.ReceivedAt), string(payloadJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("notification record id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *HistoryStore) GetByID(ctx context.Context, id int64) (*model.NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, location_id, notification_type, title, body, priority, received_at, payload, read
		 FROM notification_history WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification record %d: %w", id, err)
	}
	return rec, nil
}

// List returns records matching f, newest first.
func (s *HistoryStore) List(ctx context.Context, f model.HistoryFilter) ([]model.NotificationRecord, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{f.UserID}
	)
	if f.Type != "" {
		where = append(where, "notification_type = ?")
		args = append(args, f.Type)
	}
	if f.LocationID != "" {
		where = append(where, "location_id = ?")
		args = append(args, f.LocationID)
	}
	if f.UnreadOnly {
		where = append(where, "read = 0")
	}
	if !f.Since.IsZero() {
		where = append(where, "received_at >= ?")
		args = append(args, database.UnixNano(f.Since))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, location_id, notification_type, title, body, priority, received_at, payload, read
		 FROM notification_history WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY received_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list notification history: %w", err)
	}
	defer rows.Close()

	var recs []model.NotificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// MarkRead flips the read flag and returns the owning user ID. It returns
// ("", nil) when no record has that ID.
func (s *HistoryStore) MarkRead(ctx context.Context, id int64) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE notification_history SET read = 1 WHERE id = ? RETURNING user_id`, id,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mark notification %d read: %w", id, err)
	}
	return userID, nil
}

func (s *HistoryStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notification_history SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}

func (s *HistoryStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_history WHERE user_id = ? AND read = 0`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.NotificationRecord, error) {
	var (
		rec         model.NotificationRecord
		receivedAt  int64
		payloadJSON string
		read        int
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.LocationID, &rec.Type, &rec.Title, &rec.Body,
		&rec.Priority, &receivedAt, &payloadJSON, &read); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	rec.ReceivedAt = database.FromUnixNano(receivedAt)
	rec.Read = read != 0
	return &rec, nil
}
