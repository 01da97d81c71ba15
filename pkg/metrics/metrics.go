package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Events    *prometheus.CounterVec
}

func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenn",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "greenn",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenn",
		Subsystem: service,
		Name:      "webhook_events_total",
		Help:      "Processed webhook events by outcome.",
	}, []string{"outcome"})

	prometheus.MustRegister(requests, latency, events)
	return &ServerMetrics{Requests: requests, LatencyMS: latency, Events: events}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
