package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus instruments for the HTTP surface and the
// registry itself. Each Server carries its own registry so multiple
// instances never fight over metric registration.
type metrics struct {
	registry *prometheus.Registry

	inFlightGauge prometheus.Gauge
	requestCount  *prometheus.CounterVec
	durationVec   *prometheus.HistogramVec
	documentCount *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{registry: prometheus.NewRegistry()}

	m.inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "archivedb_http_requests_in_flight",
		Help: "A gauge of requests currently being served.",
	})

	m.requestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archivedb_http_requests_total",
			Help: "A counter for requests to the registry server.",
		},
		[]string{"code", "method"},
	)

	m.durationVec = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archivedb_http_request_duration_seconds",
			Help:    "A histogram of request latencies.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{},
	)

	m.documentCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archivedb_documents_created_total",
			Help: "A counter of registry cards created, by document type.",
		},
		[]string{"type"},
	)

	m.registry.MustRegister(m.inFlightGauge, m.requestCount, m.durationVec, m.documentCount)
	return m
}

// instrument wraps a handler with the in-flight, count and duration chain.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(m.inFlightGauge,
		promhttp.InstrumentHandlerCounter(m.requestCount,
			promhttp.InstrumentHandlerDuration(m.durationVec, next)))
}

// handler exposes the registry in the Prometheus text format.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
