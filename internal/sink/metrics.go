package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the sink's Prometheus instruments. Each Server owns
// its own registry so repeated construction never trips duplicate
// registration.
type metrics struct {
	registry *prometheus.Registry

	connectedClients prometheus.Gauge
	messagesTotal    *prometheus.CounterVec
	eventsTotal      prometheus.Counter
	authFailures     prometheus.Counter
	payloadBytes     prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,

		connectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sight",
			Subsystem: "sink",
			Name:      "connected_clients",
			Help:      "Number of authenticated WebSocket clients",
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sight",
			Subsystem: "sink",
			Name:      "messages_total",
			Help:      "Inbound messages by type",
		}, []string{"type"}),

		eventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sight",
			Subsystem: "sink",
			Name:      "events_total",
			Help:      "Events recorded and broadcast to clients",
		}),

		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sight",
			Subsystem: "sink",
			Name:      "auth_failures_total",
			Help:      "Connections rejected during authentication",
		}),

		payloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sight",
			Subsystem: "sink",
			Name:      "message_payload_bytes",
			Help:      "Size of inbound text frames in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}
}
