package connectivity

import (
	"log/slog"
	"sync"

	"github.com/dukerupert/stormsync/internal/stream"
)

// Observer reports whether the network is usable.
type Observer interface {
	CurrentlyUsable() bool
	// Observe streams transitions. Only changes published after the call are
	// delivered; the current state is not replayed.
	Observe() (<-chan bool, func())
}

// Monitor is an Observer fed by an external signal such as a Prober or the
// platform's network callbacks.
type Monitor struct {
	mu       sync.Mutex
	usable   bool
	changes  *stream.Subject[bool]
	onChange func(bool)
	logger   *slog.Logger
}

func NewMonitor(initial bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		usable:  initial,
		changes: stream.New[bool](),
		logger:  logger.With("component", "connectivity"),
	}
}

// OnChange registers fn to be called after every transition.
func (m *Monitor) OnChange(fn func(usable bool)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Monitor) CurrentlyUsable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usable
}

func (m *Monitor) Observe() (<-chan bool, func()) {
	return m.changes.Subscribe()
}

// Set records the latest signal and reports whether it was a transition.
// Repeated values are not published.
func (m *Monitor) Set(usable bool) bool {
	m.mu.Lock()
	if m.usable == usable {
		m.mu.Unlock()
		return false
	}
	m.usable = usable
	m.changes.Publish(usable)
	fn := m.onChange
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "usable", usable)
	if fn != nil {
		fn(usable)
	}
	return true
}
