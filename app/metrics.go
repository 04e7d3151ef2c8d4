package teamboard

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	WsConnections    prometheus.Gauge
	EventsDispatched *prometheus.CounterVec
	MessagesRelayed  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_ws_connections",
			Help: "Current number of active websocket connections",
		}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Total number of relay events received, by type",
		}, []string{"type"}),
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of chat messages relayed",
		}),
	}
	reg.MustRegister(m.WsConnections, m.EventsDispatched, m.MessagesRelayed)
	return m
}
