package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the realtime server.
// A nil *Metrics is valid and records nothing, which keeps tests and
// embedded uses free of a registry.
type Metrics struct {
	connectionsActive prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	unknownMessages   prometheus.Counter
	broadcastsTotal   *prometheus.CounterVec
	storageErrors     prometheus.Counter
	reconcileDuration prometheus.Histogram
	reconcileFailures prometheus.Counter
}

// NewMetrics registers the server metrics with the given registry.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "saintlive",
			Name:      "connections_active",
			Help:      "Currently registered WebSocket connections",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saintlive",
			Name:      "messages_total",
			Help:      "Inbound messages dispatched, by type",
		}, []string{"type"}),
		unknownMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "saintlive",
			Name:      "unknown_messages_total",
			Help:      "Inbound messages dropped for an unrecognized type",
		}),
		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saintlive",
			Name:      "broadcasts_total",
			Help:      "Broadcast fan-outs issued, by audience",
		}, []string{"audience"}),
		storageErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "saintlive",
			Name:      "storage_errors_total",
			Help:      "Handler storage writes that failed and were dropped",
		}),
		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "saintlive",
			Name:      "reconcile_duration_seconds",
			Help:      "Time to rebuild and rebroadcast the full snapshot",
			Buckets:   prometheus.DefBuckets,
		}),
		reconcileFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "saintlive",
			Name:      "reconcile_failures_total",
			Help:      "Reconciliation passes that failed to read the store",
		}),
	}
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connectionsActive.Set(float64(n))
}

func (m *Metrics) incMessage(msgType string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) incUnknown() {
	if m == nil {
		return
	}
	m.unknownMessages.Inc()
}

func (m *Metrics) incBroadcast(audience string) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(audience).Inc()
}

func (m *Metrics) incStorageError() {
	if m == nil {
		return
	}
	m.storageErrors.Inc()
}

func (m *Metrics) observeReconcile(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(d.Seconds())
}

func (m *Metrics) incReconcileFailure() {
	if m == nil {
		return
	}
	m.reconcileFailures.Inc()
}
