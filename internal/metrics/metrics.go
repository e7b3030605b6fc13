// Package metrics exposes Prometheus collectors for the relay service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	relayClients               prometheus.Gauge
	relayRequestsTotal         *prometheus.CounterVec
	relayPublishedTotal        prometheus.Counter
	relayDeliveriesTotal       prometheus.Counter
	relayDroppedTotal          prometheus.Counter
	relayFeedMessagesTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		relayClients = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_clients",
				Help: "Number of websocket clients currently connected.",
			},
		)

		relayRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_requests_total",
				Help: "Total number of client requests, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		relayPublishedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_published_total",
				Help: "Total number of task updates published to groups.",
			},
		)

		relayDeliveriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_deliveries_total",
				Help: "Total number of task updates queued to followers.",
			},
		)

		relayDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_dropped_total",
				Help: "Total number of task updates dropped because a client fell behind.",
			},
		)

		relayFeedMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_feed_messages_total",
				Help: "Total number of update feed messages, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncClients increments the connected clients gauge.
func IncClients() {
	relayClients.Inc()
}

// DecClients decrements the connected clients gauge.
func DecClients() {
	relayClients.Dec()
}

// ObserveRequest counts one client request. outcome is "ok" or "error".
func ObserveRequest(requestType, outcome string) {
	if requestType == "" {
		requestType = "none"
	}
	relayRequestsTotal.WithLabelValues(requestType, outcome).Inc()
}

// ObservePublish records one published update and how it was delivered.
func ObservePublish(delivered, dropped int) {
	relayPublishedTotal.Inc()
	relayDeliveriesTotal.Add(float64(delivered))
	relayDroppedTotal.Add(float64(dropped))
}

// ObserveFeedMessage counts one update feed message by outcome.
func ObserveFeedMessage(outcome string) {
	relayFeedMessagesTotal.WithLabelValues(outcome).Inc()
}
