package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sync core's Prometheus instruments.
type Metrics struct {
	AlertsReceived     prometheus.Counter
	AlertsDeduplicated prometheus.Counter
	PollFailures       *prometheus.CounterVec
	StreamReconnects   prometheus.Counter
	ConnectionState    prometheus.Gauge
	NotificationsSent  *prometheus.CounterVec
}

// New registers and returns the sync core's metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AlertsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentry_alerts_received_total",
			Help: "Alerts received from any transport, before deduplication.",
		}),
		AlertsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentry_alerts_deduplicated_total",
			Help: "Alert redeliveries dropped by the dedup store.",
		}),
		PollFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_poll_failures_total",
			Help: "Terminal polling failures after retry exhaustion, by operation.",
		}, []string{"op"}),
		StreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentry_stream_reconnects_total",
			Help: "Push-channel reconnect attempts.",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentry_connection_state",
			Help: "Push-channel state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_notifications_sent_total",
			Help: "Notification side effects dispatched, by sink.",
		}, []string{"sink"}),
	}
}
