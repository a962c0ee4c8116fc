// Package metrics exposes Prometheus counters for deliveries and
// notifications plus the HTTP instrumentation middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	keepsakesDelivered     *prometheus.CounterVec
	notificationsScheduled *prometheus.CounterVec
	notificationsDeduped   *prometheus.CounterVec
	notificationsSent      *prometheus.CounterVec
	notificationsFailed    *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them in a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		keepsakesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_deliveries_total",
			Help: "Keepsakes transitioned to delivered.",
		}, []string{"trigger"}),
		notificationsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_notifications_scheduled_total",
			Help: "Notification jobs enqueued.",
		}, []string{"type"}),
		notificationsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_notifications_deduplicated_total",
			Help: "Recipients skipped because a notification was already in flight.",
		}, []string{"type"}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_notifications_sent_total",
			Help: "Notifications sent successfully.",
		}, []string{"type"}),
		notificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_notifications_failed_total",
			Help: "Notification send failures.",
		}, []string{"type", "terminal"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.keepsakesDelivered, m.notificationsScheduled, m.notificationsDeduped,
		m.notificationsSent, m.notificationsFailed,
		m.httpRequestsTotal, m.httpRequestDuration,
	)
	return m
}

func (m *Metrics) KeepsakeDelivered(trigger string) {
	if m == nil {
		return
	}
	m.keepsakesDelivered.WithLabelValues(trigger).Inc()
}

func (m *Metrics) NotificationScheduled(typ string) {
	if m == nil {
		return
	}
	m.notificationsScheduled.WithLabelValues(typ).Inc()
}

func (m *Metrics) NotificationDeduplicated(typ string) {
	if m == nil {
		return
	}
	m.notificationsDeduped.WithLabelValues(typ).Inc()
}

func (m *Metrics) NotificationSent(typ string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(typ).Inc()
}

func (m *Metrics) NotificationFailed(typ string, terminal bool) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(typ, strconv.FormatBool(terminal)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records request count and latency. route returns the label
// for a request; pass the router's pattern to keep cardinality bounded.
func (m *Metrics) Instrument(route func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)

			if m == nil {
				return
			}
			status := strconv.Itoa(sw.code)
			label := route(r)
			m.httpRequestDuration.WithLabelValues(r.Method, label, status).Observe(time.Since(start).Seconds())
			m.httpRequestsTotal.WithLabelValues(r.Method, label, status).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
