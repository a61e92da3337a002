package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes the relay's operational counters. It satisfies
// the signal server's Metrics interface.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	roomsActive       prometheus.Gauge
	roomsCreatedTotal prometheus.Counter

	messagesRouted *prometheus.CounterVec

	negotiationDuration prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_signal_connections_active",
			Help: "Number of currently open signaling connections",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_signal_connections_total",
			Help: "Total number of signaling connections accepted",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_rooms_active",
			Help: "Number of rooms with at least one participant",
		}),

		roomsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_rooms_created_total",
			Help: "Total number of rooms created",
		}),

		messagesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_signal_messages_total",
			Help: "Signaling messages routed, by event type",
		}, []string{"type"}),

		negotiationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pairlink_negotiation_duration_seconds",
			Help:    "Time from a room filling to its answer being relayed",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) MessageRouted(kind string) {
	p.messagesRouted.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordRoomCreated() {
	p.roomsCreatedTotal.Inc()
}

func (p *PrometheusCollector) RecordRoomOccupied() {
	p.roomsActive.Inc()
}

func (p *PrometheusCollector) RecordRoomVacated() {
	p.roomsActive.Dec()
}

func (p *PrometheusCollector) RecordNegotiationDuration(duration time.Duration) {
	p.negotiationDuration.Observe(duration.Seconds())
}
