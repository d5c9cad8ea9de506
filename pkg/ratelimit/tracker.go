package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrRateLimited is returned when a bucket's budget is exhausted. The request
// is not sent and is not retried.
var ErrRateLimited = errors.New("rate limit exhausted")

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tagger_rate_limit_remaining",
		Help: "Calls remaining in the current platform rate limit window",
	}, []string{"bucket"})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_rate_limit_blocks_total",
		Help: "Total number of outbound requests refused due to an exhausted rate limit",
	})
)

// Tracker records per-bucket rate limit state and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

func stateKey(bucket string) string {
	return RedisKeyPrefix + bucket
}

// GetState retrieves the rate limit state of bucket from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context, bucket string) (*RateLimitState, error) {
	fields, err := t.redis.HGetAll(ctx, stateKey(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		t.logger.Debug().Str("bucket", bucket).Msg("No rate limit state in Redis, returning default state")
		return defaultState(bucket), nil
	}

	state := &RateLimitState{Bucket: bucket}
	if state.Limit, err = strconv.Atoi(fields[fieldLimit]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldLimit, err)
	}
	if state.Remaining, err = strconv.Atoi(fields[fieldRemaining]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldRemaining, err)
	}
	reset, err := strconv.ParseInt(fields[fieldReset], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldReset, err)
	}
	state.ResetAt = time.Unix(reset, 0)
	updated, err := strconv.ParseInt(fields[fieldLastUpdate], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldLastUpdate, err)
	}
	state.LastUpdate = time.Unix(0, updated)

	return state, nil
}

// ParseHeaders extracts rate limit state from response headers. ok is false
// when the response carries no rate limit headers.
func ParseHeaders(bucket string, headers http.Header, now time.Time) (state *RateLimitState, ok bool, err error) {
	remainStr := headers.Get("X-RateLimit-Remaining")
	if remainStr == "" {
		return nil, false, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
	}

	resetStr := headers.Get("X-RateLimit-Reset")
	if resetStr == "" {
		return nil, false, fmt.Errorf("X-RateLimit-Reset header missing")
	}
	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("parse X-RateLimit-Reset header: %w", err)
	}

	limit := DefaultLimit
	if limitStr := headers.Get("X-RateLimit-Limit"); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return nil, false, fmt.Errorf("parse X-RateLimit-Limit header: %w", err)
		}
	}

	return &RateLimitState{
		Bucket:     bucket,
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    time.Unix(reset, 0),
		LastUpdate: now,
	}, true, nil
}

// UpdateFromHeaders parses rate limit headers and stores the bucket's state.
// The Redis hash expires shortly after the window resets.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, bucket string, headers http.Header) error {
	state, ok, err := ParseHeaders(bucket, headers, time.Now())
	if err != nil || !ok {
		return err
	}

	key := stateKey(bucket)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldLimit, state.Limit,
		fieldRemaining, state.Remaining,
		fieldReset, state.ResetAt.Unix(),
		fieldLastUpdate, state.LastUpdate.UnixNano(),
	)
	pipe.ExpireAt(ctx, key, state.ResetAt.Add(time.Minute))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.WithLabelValues(bucket).Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Str("bucket", bucket).
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit CRITICAL - requests will be refused until reset")
	case state.NeedsWarning():
		t.logger.Warn().
			Str("bucket", bucket).
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit WARNING - budget running low")
	default:
		t.logger.Debug().
			Str("bucket", bucket).
			Int("remaining", state.Remaining).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request on bucket may be sent.
// It never sleeps: an exhausted bucket is refused outright.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, bucket string) (bool, error) {
	state, err := t.GetState(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Warn().
			Str("bucket", bucket).
			Int("remaining", state.Remaining).
			Dur("reset_in", state.TimeUntilReset()).
			Msg("Rate limit exhausted - refusing request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	return true, nil
}
