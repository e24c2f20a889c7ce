package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the sync engine and the
// subscriber gateway. A nil *Metrics is valid and records nothing.
type Metrics struct {
	windowsCommitted  prometheus.Counter
	eventsPersisted   *prometheus.CounterVec
	cursor            *prometheus.GaugeVec
	chainHead         prometheus.Gauge
	targetHeight      prometheus.Gauge
	sessions          prometheus.Gauge
	sessionsDropped   *prometheus.CounterVec
	messagesDelivered prometheus.Counter
	alertsSent        prometheus.Counter
	alertsDropped     prometheus.Counter
	errors            *prometheus.CounterVec
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			windowsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "nft_stream_windows_committed_total",
				Help: "Total number of block windows committed",
			}),
			eventsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nft_stream_events_persisted_total",
				Help: "Domain events folded into the projections",
			}, []string{"kind"}),
			cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "nft_stream_cursor_block",
				Help: "Last synced block per contract",
			}, []string{"contract"}),
			chainHead: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "nft_stream_chain_head",
				Help: "Latest observed chain height",
			}),
			targetHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "nft_stream_target_height",
				Help: "Chain height minus confirmation depth",
			}),
			sessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "nft_stream_sessions_connected",
				Help: "Connected subscriber sessions",
			}),
			sessionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nft_stream_sessions_dropped_total",
				Help: "Sessions closed by the server",
			}, []string{"reason"}),
			messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "nft_stream_messages_delivered_total",
				Help: "Event messages queued to sessions",
			}),
			alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "nft_stream_alerts_sent_total",
				Help: "Total number of alerts sent to sinks",
			}),
			alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "nft_stream_alerts_dropped_total",
				Help: "Total number of alerts that failed to send",
			}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nft_stream_errors_total",
				Help: "Errors encountered, by class",
			}, []string{"class"}),
		}
		prometheus.MustRegister(
			metrics.windowsCommitted,
			metrics.eventsPersisted,
			metrics.cursor,
			metrics.chainHead,
			metrics.targetHeight,
			metrics.sessions,
			metrics.sessionsDropped,
			metrics.messagesDelivered,
			metrics.alertsSent,
			metrics.alertsDropped,
			metrics.errors,
		)
	})
	return metrics
}

// WindowCommitted records a committed window and its events by kind.
func (m *Metrics) WindowCommitted(kinds map[string]int) {
	if m == nil {
		return
	}
	m.windowsCommitted.Inc()
	for k, n := range kinds {
		m.eventsPersisted.WithLabelValues(k).Add(float64(n))
	}
}

// Cursor sets the cursor gauge for a contract.
func (m *Metrics) Cursor(contract string, block uint64) {
	if m != nil {
		m.cursor.WithLabelValues(contract).Set(float64(block))
	}
}

// Heights records the chain head and the confirmed target height.
func (m *Metrics) Heights(head, target uint64) {
	if m != nil {
		m.chainHead.Set(float64(head))
		m.targetHeight.Set(float64(target))
	}
}

// SessionOpened increments the connected sessions gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

// SessionClosed decrements the connected sessions gauge.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

// SessionDropped counts a server-initiated disconnect.
func (m *Metrics) SessionDropped(reason string) {
	if m != nil {
		m.sessionsDropped.WithLabelValues(reason).Inc()
	}
}

// Delivered counts event messages queued to sessions.
func (m *Metrics) Delivered(n int) {
	if m != nil {
		m.messagesDelivered.Add(float64(n))
	}
}

// AlertsSent increments the alerts sent counter.
func (m *Metrics) AlertsSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// AlertsDropped increments the alerts dropped counter.
func (m *Metrics) AlertsDropped() {
	if m != nil {
		m.alertsDropped.Inc()
	}
}

// Errors increments the errors counter for class (transient, integrity,
// protocol).
func (m *Metrics) Errors(class string) {
	if m != nil {
		m.errors.WithLabelValues(class).Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
