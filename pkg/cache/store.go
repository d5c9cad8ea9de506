package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL bounds how long a record may be served before the store drops
// it, whether or not it was revalidated in the meantime.
const DefaultTTL = time.Hour

var (
	// ErrCacheMiss indicates no live record exists for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrMissingETag is returned by Upsert for records without a validator.
	ErrMissingETag = errors.New("cache: record has no etag")

	// ErrInvalidRecord indicates a stored record could not be decoded.
	ErrInvalidRecord = errors.New("invalid cache record")
)

// Store is TTL-bounded storage of cache records. Implementations hold at
// most one record per key and must be safe for concurrent use.
type Store interface {
	// FindByKey returns the live record for key or ErrCacheMiss.
	FindByKey(ctx context.Context, key string) (*Record, error)

	// Upsert replaces any record stored under record.Key. The store sets
	// CreatedAt and ExpiresAt.
	Upsert(ctx context.Context, record Record) error

	// Clear removes every record held by the store.
	Clear(ctx context.Context) error
}

func validate(record Record) error {
	if record.Key == "" {
		return fmt.Errorf("cache: record key cannot be empty")
	}
	if record.ETag == "" {
		return ErrMissingETag
	}
	return nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
