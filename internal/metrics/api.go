package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// API/HTTP subsystem metrics
var (
	// HTTPRequestDuration tracks HTTP request latency
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestsTotal tracks total HTTP requests by route, method, status
	HTTPRequestsTotal *prometheus.CounterVec

	// WebsocketClients tracks connected event stream clients
	WebsocketClients prometheus.Gauge
)

func initAPIMetrics() {
	HTTPRequestDuration = NewHistogramVec(
		"sdlauncher_api_request_duration_seconds",
		"HTTP request duration in seconds.",
		APIBuckets,
		[]string{"route", "method", "status"},
	)

	HTTPRequestsTotal = NewCounterVec(
		"sdlauncher_api_requests_total",
		"Total HTTP requests processed by the sd-launcher API.",
		[]string{"route", "method", "status"},
	)

	WebsocketClients = NewGauge(
		"sdlauncher_websocket_clients",
		"Connected websocket event clients.",
	)
}

func registerAPIMetrics() {
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(WebsocketClients)
}

func RecordRequest(route, method, status string, seconds float64) {
	if HTTPRequestsTotal == nil {
		return
	}
	HTTPRequestDuration.WithLabelValues(route, method, status).Observe(seconds)
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
}

func SetWebsocketClients(n int) {
	if WebsocketClients == nil {
		return
	}
	WebsocketClients.Set(float64(n))
}
