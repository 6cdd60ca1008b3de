package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the realtime Prometheus collectors.
type Metrics struct {
	Connections   prometheus.Gauge
	Rooms         prometheus.Gauge
	InboundEvents *prometheus.CounterVec
	Deliveries    prometheus.Counter
	Drops         prometheus.Counter
	BrokerErrors  *prometheus.CounterVec
}

// NewMetrics builds collectors and registers them with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lostfound",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lostfound",
			Subsystem: "realtime",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		InboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lostfound",
			Subsystem: "realtime",
			Name:      "inbound_events_total",
			Help:      "Client events received, by type.",
		}, []string{"type"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lostfound",
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Envelopes enqueued to connections.",
		}),
		Drops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lostfound",
			Subsystem: "realtime",
			Name:      "drops_total",
			Help:      "Envelopes dropped because a connection queue was full or closing.",
		}),
		BrokerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lostfound",
			Subsystem: "realtime",
			Name:      "broker_errors_total",
			Help:      "Broker failures, by operation.",
		}, []string{"op"}),
	}
}
