package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the HTTP API.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sseClients      prometheus.Gauge
	broadcastDrops  prometheus.Counter
	rateLimited     prometheus.Counter
	messagesSent    prometheus.Counter
	feedMessages    prometheus.Counter
	feedDeletions   prometheus.Counter
	dbWriteErrors   prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rumblechat",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rumblechat",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rumblechat",
			Name:      "sse_clients",
			Help:      "Current connected SSE clients",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rumblechat",
			Name:      "broadcast_drops_total",
			Help:      "Number of messages dropped due to slow clients",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rumblechat",
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rumblechat",
			Name:      "messages_sent_total",
			Help:      "Number of chat messages delivered to SSE clients",
		}),
		feedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rumblechat",
			Name:      "feed_messages_total",
			Help:      "Number of chat messages received from the Rumble feed",
		}),
		feedDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rumblechat",
			Name:      "feed_deletions_total",
			Help:      "Number of message deletions received from the Rumble feed",
		}),
		dbWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rumblechat",
			Name:      "db_write_errors_total",
			Help:      "Number of database write errors reported",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.sseClients,
		m.broadcastDrops,
		m.rateLimited,
		m.messagesSent,
		m.feedMessages,
		m.feedDeletions,
		m.dbWriteErrors,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncSSEClients adjusts the SSE client gauge by delta.
func (m *Metrics) IncSSEClients(delta float64) {
	if m == nil {
		return
	}
	m.sseClients.Add(delta)
}

// IncBroadcastDrops increments the drop counter.
func (m *Metrics) IncBroadcastDrops() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// IncMessagesSent increments the delivered counter.
func (m *Metrics) IncMessagesSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

// IncFeedMessages increments the received-from-feed counter.
func (m *Metrics) IncFeedMessages() {
	if m == nil {
		return
	}
	m.feedMessages.Inc()
}

// IncFeedDeletions increments the deletion counter.
func (m *Metrics) IncFeedDeletions() {
	if m == nil {
		return
	}
	m.feedDeletions.Inc()
}

// IncDBWriteErrors increments the DB write error counter.
func (m *Metrics) IncDBWriteErrors() {
	if m == nil {
		return
	}
	m.dbWriteErrors.Inc()
}
