package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the dev backend collectors. Each instance owns its registry so several
// servers can run in one process.
type Metrics struct {
	Registry        *prometheus.Registry
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	RealtimeClients prometheus.Gauge
	RealtimeEvents  *prometheus.CounterVec
	BrokerPublished *prometheus.CounterVec
	Uploads         prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RealtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbox_realtime_clients",
			Help: "Connected websocket clients.",
		}),
		RealtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_realtime_events_total",
			Help: "Realtime events by type and direction.",
		}, []string{"type", "direction"}),
		BrokerPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_broker_published_total",
			Help: "Chat events handed to the broker by outcome.",
		}, []string{"outcome"}),
		Uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inbox_uploaded_files_total",
			Help: "Attachment files stored.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.RealtimeClients,
		m.RealtimeEvents,
		m.BrokerPublished,
		m.Uploads,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
