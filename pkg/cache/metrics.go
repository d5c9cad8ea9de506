package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (redis, memory)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagger_cache_hits_total",
			Help: "Total number of HTTP cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks lookups without a live record
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagger_cache_misses_total",
			Help: "Total number of HTTP cache misses",
		},
	)

	// CacheErrors tracks store failures
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagger_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "upsert", "encode", "decode", "clear"
	)

	// ConditionalRequestsSent tracks requests sent with If-None-Match
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagger_conditional_requests_total",
			Help: "Total number of conditional requests sent to the platform",
		},
	)

	// NotModifiedResponses tracks 304 responses answered from the cache
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagger_304_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// UncacheableResponses tracks 2xx responses that carried no ETag
	UncacheableResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagger_uncacheable_responses_total",
			Help: "Total number of successful responses without an ETag",
		},
	)
)
