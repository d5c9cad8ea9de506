package cache

import (
	"encoding/json"
	"time"
)

// Record is a cached platform API response.
type Record struct {
	// Key is the computed cache key (see KeyComputer).
	Key string `json:"key"`

	// ETag is the validator returned with the most recent full response.
	ETag string `json:"etag"`

	// Payload is the last known-good response body.
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is when the store last wrote this record.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the record becomes eligible for eviction.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the record has expired.
func (r *Record) IsExpired() bool {
	return r.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the record is expired at the given instant.
func (r *Record) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (r *Record) TTL() time.Duration {
	ttl := time.Until(r.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// clone returns a copy whose payload does not alias r's.
func (r Record) clone() Record {
	if r.Payload != nil {
		r.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return r
}
