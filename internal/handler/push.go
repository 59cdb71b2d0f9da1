package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/stormsync/internal/push"
)

// Deliverer hands push payloads to the delivery engine.
type Deliverer interface {
	OnMessageReceived(ctx context.Context, payload map[string]string) push.Delivery
	Dismiss(id int64) bool
}

// TokenRegistrar stores a rotated push token.
type TokenRegistrar interface {
	OnDeviceTokenRotated(ctx context.Context, token string) error
}

type PushHandler struct {
	engine   Deliverer
	tokens   TokenRegistrar
	vapidKey string
	logger   *slog.Logger
}

// NewPushHandler creates the push transport handler. vapidKey may be empty
// when web push is not configured.
func NewPushHandler(engine Deliverer, tokens TokenRegistrar, vapidKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{engine: engine, tokens: tokens, vapidKey: vapidKey, logger: logger}
}

// Message handles POST /api/push/messages. The body is the raw push data
// payload as a flat JSON string map.
func (h *PushHandler) Message(w http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if !decodeJSON(w, r, &payload) {
		return
	}
	d := h.engine.OnMessageReceived(r.Context(), payload)
	writeJSON(w, http.StatusAccepted, d)
}

type tokenRequest struct {
	Token string `json:"token"`
}

// Token handles POST /api/push/token. For web push the token is the
// browser's PushSubscription JSON.
func (h *PushHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := h.tokens.OnDeviceTokenRotated(r.Context(), req.Token); err != nil {
		h.logger.Error("store device token", "error", err)
		writeError(w, statusFor(err), "failed to store token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Dismiss handles POST /api/push/dismiss/{id}
func (h *PushHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !h.engine.Dismiss(id) {
		writeError(w, http.StatusNotFound, "notification not active")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidKey == "" {
		writeError(w, http.StatusNotFound, "web push not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}
