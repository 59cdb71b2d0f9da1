package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/stormsync/internal/auth"
	"github.com/dukerupert/stormsync/internal/connectivity"
	"github.com/dukerupert/stormsync/internal/database"
	"github.com/dukerupert/stormsync/internal/logging"
	"github.com/dukerupert/stormsync/internal/metrics"
	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/prefsync"
	"github.com/dukerupert/stormsync/internal/push"
	"github.com/dukerupert/stormsync/internal/remote"
	"github.com/dukerupert/stormsync/internal/server"
	"github.com/dukerupert/stormsync/internal/store"
	ws "github.com/dukerupert/stormsync/internal/websocket"
)

func main() {
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	flag.Parse()

	envErr := godotenv.Load()
	logger := logging.Setup(os.Getenv("STORMSYNC_LOG_LEVEL"), os.Getenv("STORMSYNC_LOG_FORMAT"))
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		slog.Warn("load .env", "error", envErr)
	}

	if *genVAPID {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			slog.Error("generate VAPID keys", "error", err)
			os.Exit(1)
		}
		fmt.Printf("STORMSYNC_VAPID_PUBLIC_KEY=%s\nSTORMSYNC_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	addr := envOr("STORMSYNC_ADDR", ":8080")
	dbPath := envOr("STORMSYNC_DB_PATH", "stormsync.db")
	apiURL := os.Getenv("STORMSYNC_API_URL")
	if apiURL == "" {
		slog.Error("STORMSYNC_API_URL is required")
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	settingsStore := store.NewSettingsStore(db)
	m := metrics.New()
	hub := ws.NewHub(logger)
	session := auth.NewStaticSession(os.Getenv("STORMSYNC_USER_ID"), os.Getenv("STORMSYNC_API_TOKEN"))

	// Connectivity: assume usable until the first probe says otherwise.
	monitor := connectivity.NewMonitor(true, logger)
	monitor.OnChange(func(usable bool) {
		m.SetNetworkUsable(usable)
		hub.Broadcast(ws.NewMessage(ws.TypeConnectivity, map[string]bool{"usable": usable}))
	})
	m.SetNetworkUsable(monitor.CurrentlyUsable())
	prober := connectivity.NewProber(connectivity.ProberConfig{
		URL:      envOr("STORMSYNC_PROBE_URL", apiURL+"/health"),
		Interval: envDuration("STORMSYNC_PROBE_INTERVAL", 15*time.Second),
	}, monitor, logger)

	repo, err := prefsync.New(prefsync.Config{
		Remote: remote.NewHTTPClient(remote.Config{
			BaseURL: apiURL,
			Token:   os.Getenv("STORMSYNC_API_TOKEN"),
		}, logger),
		Connectivity: monitor,
		Preferences:  store.NewPreferenceStore(db),
		Locations:    store.NewLocationStore(db),
		History:      store.NewHistoryStore(db),
		Settings:     settingsStore,
		Session:      session,
		QueuePath:    os.Getenv("STORMSYNC_QUEUE_PATH"),
		OnPendingChange: func(n int) {
			hub.Broadcast(ws.NewMessage(ws.TypePendingCount, n))
		},
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("failed to create repository", "error", err)
		os.Exit(1)
	}
	supervisor := prefsync.NewSupervisor(repo, monitor, logger)

	var (
		notifier    push.Notifier = push.NewLogNotifier(logger)
		vapidPublic string
	)
	if pub, priv := os.Getenv("STORMSYNC_VAPID_PUBLIC_KEY"), os.Getenv("STORMSYNC_VAPID_PRIVATE_KEY"); pub != "" && priv != "" {
		webPush := push.NewWebPushNotifier(push.WebPushConfig{
			VAPIDPublicKey:  pub,
			VAPIDPrivateKey: priv,
			Subscriber:      os.Getenv("STORMSYNC_VAPID_SUBSCRIBER"),
		}, func(ctx context.Context) (model.PushSubscription, error) {
			token, err := settingsStore.Get(ctx, model.SettingDeviceToken)
			if err != nil {
				return model.PushSubscription{}, err
			}
			if token == "" {
				return model.PushSubscription{}, push.ErrNoSubscription
			}
			return model.ParsePushSubscription(token)
		})
		notifier = webPush
		vapidPublic = webPush.VAPIDPublicKey()
		slog.Info("web push enabled")
	}
	engine := push.NewEngine(push.EngineConfig{
		History:  repo,
		Users:    repo,
		Notifier: notifier,
		Metrics:  m,
		Logger:   logger,
	})

	var link *ws.Link
	if gatewayURL := os.Getenv("STORMSYNC_PUSH_GATEWAY_URL"); gatewayURL != "" {
		link = ws.NewLink(ws.LinkConfig{
			URL:   gatewayURL,
			Token: os.Getenv("STORMSYNC_PUSH_GATEWAY_TOKEN"),
		}, func(ctx context.Context, payload map[string]string) {
			engine.OnMessageReceived(ctx, payload)
		}, logger)
	}

	srv := server.New(server.Config{
		Repository:     repo,
		Engine:         engine,
		Hub:            hub,
		Session:        session,
		Connectivity:   monitor,
		Metrics:        m,
		PushToken:      os.Getenv("STORMSYNC_PUSH_TOKEN"),
		VAPIDPublicKey: vapidPublic,
		PushRateLimit:  envInt("STORMSYNC_PUSH_RATE_LIMIT", 120),
	}, logger)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober.Start(ctx)
	supervisor.Start(ctx)
	if link != nil {
		link.Start(ctx)
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("stormsync starting", "addr", addr, "pending_writes", repo.PendingUpdateCount())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	if link != nil {
		link.Stop()
	}
	supervisor.Stop()
	repo.Close()
	prober.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
