package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/stormsync/internal/auth"
	"github.com/dukerupert/stormsync/internal/model"
)

// HistoryService is the part of the repository the history routes use.
type HistoryService interface {
	GetHistory(ctx context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error)
	RemoteHistory(ctx context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error)
	MarkAsRead(ctx context.Context, id int64) error
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type HistoryHandler struct {
	svc    HistoryService
	logger *slog.Logger
}

func NewHistoryHandler(svc HistoryService, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{svc: svc, logger: logger}
}

// parseFilter reads type, location_id, unread, since (RFC 3339) and limit
// from the query string.
func parseFilter(r *http.Request) (model.HistoryFilter, error) {
	q := r.URL.Query()
	f := model.HistoryFilter{
		UserID:     auth.UserID(r.Context()),
		Type:       model.NotificationType(q.Get("type")),
		LocationID: q.Get("location_id"),
	}
	if v := q.Get("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("unread must be a boolean")
		}
		f.UnreadOnly = unread
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = limit
	}
	return f, nil
}

// List handles GET /api/history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.svc.GetHistory)
}

// Remote handles GET /api/history/remote
func (h *HistoryHandler) Remote(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.svc.RemoteHistory)
}

func (h *HistoryHandler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, model.HistoryFilter) ([]model.NotificationRecord, error)) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := fetch(r.Context(), f)
	if err != nil {
		h.logger.Error("list history", "error", err)
		writeError(w, statusFor(err), "failed to list history")
		return
	}
	if recs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// MarkRead handles POST /api/history/{id}/read
func (h *HistoryHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.svc.MarkAsRead(r.Context(), id); err != nil {
		writeError(w, statusFor(err), "failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/history/read-all
func (h *HistoryHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkAllAsRead(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("mark all read", "error", err)
		writeError(w, statusFor(err), "failed to mark notifications read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// UnreadCount handles GET /api/history/unread-count
func (h *HistoryHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.UnreadCount(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("unread count", "error", err)
		writeError(w, statusFor(err), "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}
