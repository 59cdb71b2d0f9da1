package prefsync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukerupert/stormsync/internal/connectivity"
)

// Supervisor drains the pending-write queue whenever the network becomes
// usable. The first time the network is usable after Start it also pulls the
// signed-in user's preferences. Only one supervisor loop runs per instance.
type Supervisor struct {
	repo   *Repository
	conn   connectivity.Observer
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(repo *Repository, conn connectivity.Observer, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		repo:   repo,
		conn:   conn,
		logger: logger.With("component", "supervisor"),
	}
}

// Start launches the supervisor loop. It reports false if the loop is
// already running.
func (s *Supervisor) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	// Subscribe before checking the current state so a transition between
	// the two is not missed.
	changes, unsubscribe := s.conn.Observe()
	go s.run(ctx, changes, unsubscribe, s.done)

	s.logger.Info("supervisor started")
	return true
}

func (s *Supervisor) run(ctx context.Context, changes <-chan bool, unsubscribe func(), done chan struct{}) {
	defer close(done)
	defer unsubscribe()

	pulled := false
	catchUp := func() {
		s.drain(ctx)
		if !pulled {
			pulled = s.pullPreferences(ctx)
		}
	}

	if s.conn.CurrentlyUsable() {
		catchUp()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case usable, ok := <-changes:
			if !ok {
				return
			}
			if usable {
				catchUp()
			}
		}
	}
}

func (s *Supervisor) drain(ctx context.Context) {
	if s.repo.PendingUpdateCount() == 0 {
		return
	}
	if _, err := s.repo.Drain(ctx); err != nil {
		s.logger.Warn("auto-sync left writes queued", "error", err, "remaining", s.repo.PendingUpdateCount())
	}
}

// pullPreferences runs the startup sync for the signed-in user. It reports
// false when the sync should be tried again on the next reconnect.
func (s *Supervisor) pullPreferences(ctx context.Context) bool {
	userID, ok := s.repo.CurrentUser()
	if !ok {
		return true
	}
	if err := s.repo.SyncPreferences(ctx, userID); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("startup preference sync failed", "user_id", userID, "error", err)
		}
		return false
	}
	s.logger.Debug("startup preference sync done", "user_id", userID)
	return true
}

// Stop cancels the loop and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("supervisor stopped")
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
