package client

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for platform client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagger_requests_total",
		Help: "Total platform API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagger_request_duration_seconds",
		Help:    "Platform API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagger_errors_total",
		Help: "Total platform API errors by class",
	}, []string{"class"})
)

// observe records one request. status is the HTTP status or a failure label.
func observe(method, path, status string, start time.Time) {
	endpoint := method + " " + endpointLabel(path)
	requestsTotal.WithLabelValues(endpoint, status).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}

// endpointLabel reduces a request path to a route template so metric
// cardinality does not grow with owners, repositories or ids.
func endpointLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, segment := range segments {
		switch {
		case i > 0 && segments[0] == "repos" && i == 1:
			segments[i] = "{owner}"
		case i > 0 && segments[0] == "repos" && i == 2:
			segments[i] = "{repo}"
		case i > 0 && segments[i-1] == "contents":
			return "/" + strings.Join(append(segments[:i], "{path}"), "/")
		case isNumeric(segment):
			segments[i] = "{id}"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
