package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
	goretry "github.com/sethvargo/go-retry"
)

// MessageHandler receives one decoded push payload.
type MessageHandler func(ctx context.Context, payload map[string]string)

// LinkConfig configures the outbound push gateway connection.
type LinkConfig struct {
	URL        string
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Link holds a WebSocket connection to the push gateway and hands every
// text frame to a MessageHandler. It redials with capped, jittered
// exponential backoff; the backoff resets after a connection succeeds.
type Link struct {
	cfg       LinkConfig
	handle    MessageHandler
	logger    *slog.Logger
	connected atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewLink(cfg LinkConfig, handle MessageHandler, logger *slog.Logger) *Link {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		cfg:    cfg,
		handle: handle,
		logger: logger.With("component", "push_link"),
	}
}

// Connected reports whether a gateway connection is currently open.
func (l *Link) Connected() bool {
	return l.connected.Load()
}

// Start runs the link in the background until Stop or ctx is done. Calling
// Start on a running link is a no-op.
func (l *Link) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.stopped = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		l.run(ctx)
	}(l.stopped)

	l.logger.Info("push link started", "url", l.cfg.URL)
}

func (l *Link) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.stopped
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Link) backoff() goretry.Backoff {
	b := goretry.NewExponential(l.cfg.MinBackoff)
	b = goretry.WithJitterPercent(10, b)
	return goretry.WithCappedDuration(l.cfg.MaxBackoff, b)
}

func (l *Link) run(ctx context.Context) {
	b := l.backoff()
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b = l.backoff()
		}
		delay, _ := b.Next()
		l.logger.Warn("push link disconnected", "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials once and reads until the connection fails. It reports
// whether the dial succeeded.
func (l *Link) session(ctx context.Context) (bool, error) {
	header := http.Header{}
	if l.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+l.cfg.Token)
	}
	conn, _, err := ws.Dial(ctx, l.cfg.URL, &ws.DialOptions{HTTPHeader: header})
	if err != nil {
		return false, fmt.Errorf("dial push gateway: %w", err)
	}
	defer conn.CloseNow()

	l.connected.Store(true)
	defer l.connected.Store(false)
	l.logger.Info("push link connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("read push message: %w", err)
		}
		if typ != ws.MessageText {
			continue
		}
		var payload map[string]string
		if err := json.Unmarshal(data, &payload); err != nil {
			l.logger.Warn("discard undecodable push message", "error", err)
			continue
		}
		if l.handle != nil {
			l.handle(ctx, payload)
		}
	}
}
