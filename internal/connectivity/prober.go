package connectivity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProberConfig holds health probe configuration.
type ProberConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

// Prober periodically requests a health URL and reports the result to a
// Monitor. Any 2xx or 3xx response counts as usable.
type Prober struct {
	cfg        ProberConfig
	monitor    *Monitor
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewProber(cfg ProberConfig, monitor *Monitor, logger *slog.Logger) *Prober {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		cfg:        cfg,
		monitor:    monitor,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "prober"),
	}
}

// Probe performs one health check and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	usable, err := p.check(ctx)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.cfg.URL, "error", err)
	}
	p.monitor.Set(usable)
	return usable
}

func (p *Prober) check(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("probe: status %d", resp.StatusCode)
	}
	return true, nil
}

// Start probes immediately and then on every interval until Stop or ctx is
// done. Calling Start on a running prober is a no-op.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopped = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		p.Probe(ctx)

		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Probe(ctx)
			case <-ctx.Done():
				return
			}
		}
	}(p.stopped)

	p.logger.Info("prober started", "url", p.cfg.URL, "interval", p.cfg.Interval)
}

// Stop halts the background probe goroutine.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.stopped
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
