// Package metrics holds the server's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	MessagesSent  prometheus.Counter
	InboxChanges  *prometheus.CounterVec
	SendsLimited  prometheus.Counter
	FramesDropped prometheus.Counter
	Sockets       prometheus.Gauge
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "messages_sent_total",
			Help:      "Messages accepted for delivery.",
		}),
		InboxChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "inbox_changes_published_total",
			Help:      "Inbox change events pushed to sockets, by kind.",
		}, []string{"kind"}),
		SendsLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "sends_rate_limited_total",
			Help:      "Send requests rejected by the per-user rate limit.",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because a socket buffer was full.",
		}),
		Sockets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "courier",
			Name:      "connected_sockets",
			Help:      "Open websocket connections.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
