// Package ratelimit tracks the platform's REST rate limit and gates
// outbound requests. It reads the X-RateLimit-Limit, X-RateLimit-Remaining
// and X-RateLimit-Reset response headers, keeps one state per bucket in
// Redis so every replica sees the same budget, and refuses requests while a
// bucket is exhausted. It also provides a fixed-window limiter for inbound
// traffic.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix namespaces per-bucket state hashes.
const RedisKeyPrefix = "tagger:ratelimit:"

// Hash fields of a bucket's state.
const (
	fieldLimit      = "limit"
	fieldRemaining  = "remaining"
	fieldReset      = "reset"
	fieldLastUpdate = "last_update"
)

// Thresholds for rate limit decisions.
const (
	// RemainingThresholdCritical blocks requests when fewer calls than this
	// remain before the reset.
	RemainingThresholdCritical = 10

	// RemainingThresholdWarning logs a warning when fewer calls than this
	// remain.
	RemainingThresholdWarning = 100
)

// DefaultLimit is assumed for buckets that have not reported headers yet.
// It matches the platform's budget for installation tokens.
const DefaultLimit = 5000

// RateLimitState is the last reported budget of one bucket. It is shared
// across replicas via Redis.
type RateLimitState struct {
	// Bucket identifies the credential the budget belongs to.
	Bucket string `json:"bucket"`

	// Limit is the budget per window (X-RateLimit-Limit).
	Limit int `json:"limit"`

	// Remaining is the number of calls left in the window
	// (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (X-RateLimit-Reset, epoch seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be refused until reset.
// A window that has already reset never blocks.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < RemainingThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsWarning returns true when the budget is low but not exhausted.
func (s *RateLimitState) NeedsWarning() bool {
	return s.Remaining < RemainingThresholdWarning && !s.NeedsCriticalBlock()
}

// IsHealthy reports whether no restriction or warning applies.
func (s *RateLimitState) IsHealthy() bool {
	return !s.NeedsCriticalBlock() && !s.NeedsWarning()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// defaultState is returned for buckets without recorded headers.
func defaultState(bucket string) *RateLimitState {
	now := time.Now()
	return &RateLimitState{
		Bucket:     bucket,
		Limit:      DefaultLimit,
		Remaining:  DefaultLimit,
		ResetAt:    now.Add(time.Hour),
		LastUpdate: now,
	}
}
