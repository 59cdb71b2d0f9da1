// Package metrics exposes Prometheus instrumentation for the sync engine and
// the notification pipeline. All collectors live on a per-process registry.
// Methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stormsync"

type Metrics struct {
	registry *prometheus.Registry

	// SyncOperations counts sync-layer operations by name and outcome.
	SyncOperations *prometheus.CounterVec
	// PendingWrites is the current length of the pending-write queue.
	PendingWrites prometheus.Gauge
	// Drains counts queue drains by result (ok, partial, skipped).
	Drains *prometheus.CounterVec
	// RemoteRetries counts retry waits taken against the backend.
	RemoteRetries prometheus.Counter
	// NetworkUsable is 1 while the connectivity observer reports usable.
	NetworkUsable prometheus.Gauge

	// NotificationsReceived counts inbound push messages by type and priority.
	NotificationsReceived *prometheus.CounterVec
	// NotificationsDiscarded counts payloads rejected before classification.
	NotificationsDiscarded prometheus.Counter
	// NotifierFailures counts platform notifier errors.
	NotifierFailures prometheus.Counter
	// HistoryWriteFailures counts history records that could not be stored.
	HistoryWriteFailures prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SyncOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_total",
			Help:      "Total number of sync operations by outcome",
		}, []string{"operation", "outcome"}),
		PendingWrites: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_writes",
			Help:      "Number of write intents awaiting remote confirmation",
		}),
		Drains: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drains_total",
			Help:      "Total number of pending queue drains by result",
		}, []string{"result"}),
		RemoteRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_retries_total",
			Help:      "Total number of retried remote calls",
		}),
		NetworkUsable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_usable",
			Help:      "1 when the network is usable, 0 otherwise",
		}),
		NotificationsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_received_total",
			Help:      "Total number of push messages classified",
		}, []string{"type", "priority"}),
		NotificationsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_discarded_total",
			Help:      "Total number of empty push payloads discarded",
		}),
		NotifierFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_failures_total",
			Help:      "Total number of platform notifier failures",
		}),
		HistoryWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_write_failures_total",
			Help:      "Total number of notification records that failed to persist",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SyncOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.SyncOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) SetPendingWrites(n int) {
	if m == nil {
		return
	}
	m.PendingWrites.Set(float64(n))
}

func (m *Metrics) Drain(result string) {
	if m == nil {
		return
	}
	m.Drains.WithLabelValues(result).Inc()
}

func (m *Metrics) RemoteRetry() {
	if m == nil {
		return
	}
	m.RemoteRetries.Inc()
}

func (m *Metrics) SetNetworkUsable(usable bool) {
	if m == nil {
		return
	}
	if usable {
		m.NetworkUsable.Set(1)
	} else {
		m.NetworkUsable.Set(0)
	}
}

func (m *Metrics) NotificationReceived(notificationType, priority string) {
	if m == nil {
		return
	}
	m.NotificationsReceived.WithLabelValues(notificationType, priority).Inc()
}

func (m *Metrics) NotificationDiscarded() {
	if m == nil {
		return
	}
	m.NotificationsDiscarded.Inc()
}

func (m *Metrics) NotifierFailure() {
	if m == nil {
		return
	}
	m.NotifierFailures.Inc()
}

func (m *Metrics) HistoryWriteFailure() {
	if m == nil {
		return
	}
	m.HistoryWriteFailures.Inc()
}
