package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/stormsync/internal/auth"
	"github.com/dukerupert/stormsync/internal/connectivity"
	"github.com/dukerupert/stormsync/internal/handler"
	"github.com/dukerupert/stormsync/internal/metrics"
	"github.com/dukerupert/stormsync/internal/middleware"
	"github.com/dukerupert/stormsync/internal/prefsync"
	"github.com/dukerupert/stormsync/internal/push"
	ws "github.com/dukerupert/stormsync/internal/websocket"
)

// Config collects what the HTTP surface needs.
type Config struct {
	Repository   *prefsync.Repository
	Engine       *push.Engine
	Hub          *ws.Hub
	Session      auth.Session
	Connectivity connectivity.Observer
	Metrics      *metrics.Metrics

	// PushToken guards the push intake routes. Empty disables the check.
	PushToken      string
	VAPIDPublicKey string
	// PushRateLimit caps push intake requests per remote IP per minute.
	PushRateLimit int
}

type Server struct {
	repo        *prefsync.Repository
	hub         *ws.Hub
	session     auth.Session
	conn        connectivity.Observer
	metrics     *metrics.Metrics
	pushToken   string
	rateLimiter *middleware.RateLimiter
	preferences *handler.PreferencesHandler
	locations   *handler.LocationHandler
	history     *handler.HistoryHandler
	sync        *handler.SyncHandler
	push        *handler.PushHandler
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.PushRateLimit <= 0 {
		cfg.PushRateLimit = 120
	}
	return &Server{
		repo:        cfg.Repository,
		hub:         cfg.Hub,
		session:     cfg.Session,
		conn:        cfg.Connectivity,
		metrics:     cfg.Metrics,
		pushToken:   cfg.PushToken,
		rateLimiter: middleware.NewRateLimiter(cfg.PushRateLimit, time.Minute),
		preferences: handler.NewPreferencesHandler(cfg.Repository, logger.With("component", "preferences")),
		locations:   handler.NewLocationHandler(cfg.Repository, logger.With("component", "locations")),
		history:     handler.NewHistoryHandler(cfg.Repository, logger.With("component", "history")),
		sync:        handler.NewSyncHandler(cfg.Repository, logger.With("component", "sync")),
		push:        handler.NewPushHandler(cfg.Engine, cfg.Repository, cfg.VAPIDPublicKey, logger.With("component", "push_handler")),
		logger:      logger,
	}
}

// RateLimiter returns the push intake rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	if s.metrics != nil {
		outerMux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Push transport intake, guarded by a shared token and a rate limit
	pushMux := http.NewServeMux()
	pushMux.HandleFunc("POST /api/push/messages", s.push.Message)
	pushMux.HandleFunc("POST /api/push/dismiss/{id}", s.push.Dismiss)
	pushMux.HandleFunc("POST /api/push/token", s.push.Token)
	limit := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	outerMux.Handle("/api/push/", limit(middleware.RequireToken(s.pushToken)(pushMux)))
	outerMux.HandleFunc("GET /api/push/vapid-key", s.push.VAPIDKey)

	// Signed-in routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)
	outerMux.Handle("/", middleware.RequireSession(s.session)(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"), "/health", "/metrics")(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Preferences
	mux.HandleFunc("GET /api/preferences", s.preferences.Get)
	mux.HandleFunc("PUT /api/preferences", s.preferences.Update)
	mux.HandleFunc("POST /api/preferences/sync", s.preferences.Sync)

	// Locations
	mux.HandleFunc("GET /api/locations", s.locations.List)
	mux.HandleFunc("POST /api/locations", s.locations.Track)
	mux.HandleFunc("DELETE /api/locations/{id}", s.locations.Untrack)
	mux.HandleFunc("GET /api/locations/{id}/preferences", s.locations.GetPreference)
	mux.HandleFunc("PUT /api/locations/{id}/preferences", s.locations.UpdatePreference)

	// History
	mux.HandleFunc("GET /api/history", s.history.List)
	mux.HandleFunc("GET /api/history/remote", s.history.Remote)
	mux.HandleFunc("POST /api/history/{id}/read", s.history.MarkRead)
	mux.HandleFunc("POST /api/history/read-all", s.history.MarkAllRead)
	mux.HandleFunc("GET /api/history/unread-count", s.history.UnreadCount)

	// Pending writes
	mux.HandleFunc("GET /api/sync/pending", s.sync.Pending)
	mux.HandleFunc("POST /api/sync", s.sync.Sync)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.repo))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if s.conn != nil {
		status["network_usable"] = s.conn.CurrentlyUsable()
	}
	if s.repo != nil {
		status["pending_writes"] = s.repo.PendingUpdateCount()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
