package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "feedstream"

// Metrics holds every collector the service exports.
type Metrics struct {
	// Ingestion
	messagesReceived *prometheus.CounterVec // By ingester
	updatesApplied   *prometheus.CounterVec // By ingester
	staleRejected    *prometheus.CounterVec // By ingester
	decodeErrors     *prometheus.CounterVec // By ingester
	reconnects       *prometheus.CounterVec // By ingester
	subscribeBatches *prometheus.CounterVec // By ingester and op (subscribe/unsubscribe)
	subscribedKeys   *prometheus.CounterVec // By ingester
	connectionState  *prometheus.GaugeVec   // By ingester, value is the State ordinal
	cachedKeys       *prometheus.GaugeVec   // By ingester

	// Snapshots
	snapshotRequests *prometheus.CounterVec // By status (ok/error)
	snapshotDuration prometheus.Histogram   // Request latency
	snapshotFeeds    *prometheus.CounterVec // By status (decoded/dropped)

	// Writers and sinks
	writerFlushes *prometheus.CounterVec // By table and status (ok/error)
	writerRows    *prometheus.CounterVec // By table
	sinkErrors    *prometheus.CounterVec // By sink
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Total number of text frames received from the stream",
		}, []string{"ingester"}),

		updatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "updates_applied_total",
			Help:      "Total number of updates written to the latest-value cache",
		}, []string{"ingester"}),

		staleRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stale_updates_total",
			Help:      "Total number of updates rejected as older than the cached entry",
		}, []string{"ingester"}),

		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Total number of stream messages that failed to decode",
		}, []string{"ingester"}),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "reconnects_total",
			Help:      "Total number of stream sessions that ended and were retried",
		}, []string{"ingester"}),

		subscribeBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "control_messages_total",
			Help:      "Total number of subscribe/unsubscribe control messages sent",
		}, []string{"ingester", "op"}),

		subscribedKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "subscribed_keys_total",
			Help:      "Total number of keys sent in subscribe control messages",
		}, []string{"ingester"}),

		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "connection_state",
			Help:      "Current state: 0=disconnected 1=connecting 2=subscribing 3=streaming",
		}, []string{"ingester"}),

		cachedKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cached_keys",
			Help:      "Number of keys held in the latest-value cache",
		}, []string{"ingester"}),

		snapshotRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "requests_total",
			Help:      "Total number of snapshot requests",
		}, []string{"status"}),

		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "request_duration_seconds",
			Help:      "Snapshot request duration in seconds, including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		snapshotFeeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "feeds_total",
			Help:      "Total number of snapshot feed records by decode outcome",
		}, []string{"status"}),

		writerFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "flushes_total",
			Help:      "Total number of batch flushes",
		}, []string{"table", "status"}),

		writerRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "rows_total",
			Help:      "Total number of rows sent in batches",
		}, []string{"table"}),

		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Total number of updates a sink failed to accept",
		}, []string{"sink"}),
	}

	collectors := []prometheus.Collector{
		m.messagesReceived, m.updatesApplied, m.staleRejected, m.decodeErrors,
		m.reconnects, m.subscribeBatches, m.subscribedKeys, m.connectionState, m.cachedKeys,
		m.snapshotRequests, m.snapshotDuration, m.snapshotFeeds,
		m.writerFlushes, m.writerRows, m.sinkErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// MessageReceived counts one text frame.
func (m *Metrics) MessageReceived(ingester string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(ingester).Inc()
}

// UpdateApplied counts one cache write and records the new cache size.
func (m *Metrics) UpdateApplied(ingester string, cached int) {
	if m == nil {
		return
	}
	m.updatesApplied.WithLabelValues(ingester).Inc()
	m.cachedKeys.WithLabelValues(ingester).Set(float64(cached))
}

// StaleRejected counts one update dropped by the out-of-order guard.
func (m *Metrics) StaleRejected(ingester string) {
	if m == nil {
		return
	}
	m.staleRejected.WithLabelValues(ingester).Inc()
}

// DecodeError counts one undecodable message.
func (m *Metrics) DecodeError(ingester string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(ingester).Inc()
}

// Reconnect counts one session retry.
func (m *Metrics) Reconnect(ingester string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(ingester).Inc()
}

// ControlSent counts one control message. op is "subscribe" or "unsubscribe".
func (m *Metrics) ControlSent(ingester, op string, keys int) {
	if m == nil {
		return
	}
	m.subscribeBatches.WithLabelValues(ingester, op).Inc()
	if op == "subscribe" {
		m.subscribedKeys.WithLabelValues(ingester).Add(float64(keys))
	}
}

// SetState records the ingester's state ordinal.
func (m *Metrics) SetState(ingester string, state int) {
	if m == nil {
		return
	}
	m.connectionState.WithLabelValues(ingester).Set(float64(state))
}

// SetCachedKeys records the cache size.
func (m *Metrics) SetCachedKeys(ingester string, n int) {
	if m == nil {
		return
	}
	m.cachedKeys.WithLabelValues(ingester).Set(float64(n))
}

// SnapshotRequest records one snapshot call (after any retries).
func (m *Metrics) SnapshotRequest(err error, duration time.Duration, decoded, dropped int) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.snapshotRequests.WithLabelValues(status).Inc()
	m.snapshotDuration.Observe(duration.Seconds())
	m.snapshotFeeds.WithLabelValues("decoded").Add(float64(decoded))
	m.snapshotFeeds.WithLabelValues("dropped").Add(float64(dropped))
}

// WriterFlush records one batch flush.
func (m *Metrics) WriterFlush(table string, rows int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.writerFlushes.WithLabelValues(table, status).Inc()
	if err == nil {
		m.writerRows.WithLabelValues(table).Add(float64(rows))
	}
}

// SinkError counts one rejected sink delivery.
func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}
