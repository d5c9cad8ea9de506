// Package metrics exposes the Prometheus registry used by ticket-tagger.
// Metrics are defined in their owning packages (cache, client, ratelimit,
// webhook, tagger) via promauto and register with the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all ticket-tagger metrics use.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer in the
// Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache, pkg/client):
//   - tagger_cache_hits_total{layer} (Counter): records found by the store
//   - tagger_cache_misses_total (Counter): lookups without a live record
//   - tagger_cache_errors_total{operation} (Counter): store failures (find, upsert, clear, codec)
//   - tagger_conditional_requests_total (Counter): GETs sent with If-None-Match
//   - tagger_304_responses_total (Counter): cached payloads served after 304
//   - tagger_uncacheable_responses_total (Counter): 2xx responses without ETag
//
// Request Metrics (pkg/client):
//   - tagger_requests_total{endpoint, status} (Counter)
//   - tagger_request_duration_seconds{endpoint} (Histogram)
//   - tagger_errors_total{class} (Counter): failed requests by error class
//
// Rate Limit Metrics (pkg/ratelimit):
//   - tagger_rate_limit_remaining{bucket} (Gauge): last seen X-RateLimit-Remaining
//   - tagger_rate_limit_blocks_total (Counter): outbound requests refused
//   - tagger_inbound_rejections_total (Counter): inbound requests over the window limit
//
// Webhook Metrics (pkg/webhook, pkg/tagger):
//   - tagger_webhooks_total{event, outcome} (Counter)
//   - tagger_labels_applied_total{label} (Counter)
//
// Example Prometheus Queries:
//
//	# Conditional hit rate
//	rate(tagger_304_responses_total[5m]) / rate(tagger_conditional_requests_total[5m])
//
//	# Remaining API budget per installation bucket
//	min by (bucket) (tagger_rate_limit_remaining)
