// Package metrics exposes Prometheus instrumentation. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	transmissions    *prometheus.CounterVec
	transmitDuration *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	availability     *prometheus.GaugeVec
	stateChanges     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rf4ch_transmissions_total",
			Help: "RF codes handed to the transmission service, by switcher and result.",
		}, []string{"switcher", "result"}),
		transmitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rf4ch_transmit_duration_seconds",
			Help:    "Time spent in the transmission service per code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"switcher"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rf4ch_queue_depth",
			Help: "Codes waiting in the transmission queue.",
		}, []string{"switcher"}),
		availability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rf4ch_availability",
			Help: "Switcher availability (0 unknown, 1 available, 2 unavailable).",
		}, []string{"switcher"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rf4ch_state_changes_total",
			Help: "Channel state changes by switcher and operation.",
		}, []string{"switcher", "operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rf4ch_http_requests_total",
			Help: "HTTP API requests by route and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		m.transmissions,
		m.transmitDuration,
		m.queueDepth,
		m.availability,
		m.stateChanges,
		m.httpRequests,
	)

	return m
}

func (m *Metrics) Transmission(switcher string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transmissions.WithLabelValues(switcher, result).Inc()
	m.transmitDuration.WithLabelValues(switcher).Observe(took.Seconds())
}

func (m *Metrics) QueueDepth(switcher string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(switcher).Set(float64(depth))
}

func (m *Metrics) Availability(switcher string, status int) {
	if m == nil {
		return
	}
	m.availability.WithLabelValues(switcher).Set(float64(status))
}

func (m *Metrics) StateChange(switcher, operation string) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(switcher, operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
