package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/stormsync/internal/pending"
	"github.com/dukerupert/stormsync/internal/prefsync"
)

// SyncService is the part of the repository the sync routes use.
type SyncService interface {
	PendingUpdates() []pending.Entry
	ManualSync(ctx context.Context) (prefsync.DrainResult, error)
}

type SyncHandler struct {
	svc    SyncService
	logger *slog.Logger
}

func NewSyncHandler(svc SyncService, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, logger: logger}
}

type pendingView struct {
	Seq        uint64       `json:"seq"`
	Kind       pending.Kind `json:"kind"`
	UserID     string       `json:"user_id"`
	LocationID string       `json:"location_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	// Intent is the full queued write as it would be replayed.
	Intent json.RawMessage `json:"intent,omitempty"`
}

// Pending handles GET /api/sync/pending
func (h *SyncHandler) Pending(w http.ResponseWriter, r *http.Request) {
	entries := h.svc.PendingUpdates()
	views := make([]pendingView, 0, len(entries))
	for _, e := range entries {
		k := e.Intent.Key()
		view := pendingView{
			Seq:        e.Seq,
			Kind:       k.Kind,
			UserID:     k.UserID,
			LocationID: k.LocationID,
			CreatedAt:  e.Intent.Created(),
		}
		if raw, err := pending.MarshalIntent(e.Intent); err != nil {
			h.logger.Warn("encode pending intent", "seq", e.Seq, "error", err)
		} else {
			view.Intent = raw
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "pending": views})
}

// Sync handles POST /api/sync. A partial drain answers 207 with the result
// so the caller can see how many writes remain queued.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ManualSync(r.Context())
	switch {
	case errors.Is(err, prefsync.ErrOffline):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "result": res})
	case err != nil:
		h.logger.Warn("manual sync incomplete", "remaining", res.Remaining, "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]any{"error": err.Error(), "result": res})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"result": res})
	}
}
