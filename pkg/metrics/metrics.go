// Package metrics registers the service's prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_http_requests_total",
		Help: "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campus_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	likeToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_like_toggles_total",
		Help: "Settled like toggles by phase.",
	}, []string{"phase"})

	backendCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_backend_calls_total",
		Help: "Calls to the hosted backend by API and outcome.",
	}, []string{"api", "outcome"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campus_backend_latency_seconds",
		Help:    "Hosted backend response latency by API, method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"api", "method", "status"})
)

func ObserveRequest(route, method string, status int, took time.Duration) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route, method).Observe(took.Seconds())
}

func ObserveLikeToggle(phase string) {
	likeToggles.WithLabelValues(phase).Inc()
}

// ObserveBackendCall counts a call against the hosted backend ("rest", "auth", "storage").
func ObserveBackendCall(api string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	backendCalls.WithLabelValues(api, outcome).Inc()
}

func ObserveBackendLatency(api, method string, status int, took time.Duration) {
	backendLatency.WithLabelValues(api, method, strconv.Itoa(status)).Observe(took.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
