package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces RedisStore keys.
const DefaultPrefix = "tagger:cache:"

// clearBatch is the SCAN page size used by Clear.
const clearBatch = 500

// RedisStore stores records in Redis. Each record is one string value
// written with SET EX, so expiry is handled by Redis.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	cipher FieldCipher
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithCipher seals record payloads at rest.
func WithCipher(cipher FieldCipher) RedisOption {
	return func(s *RedisStore) {
		s.cipher = cipher
	}
}

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed store. A non-positive ttl selects
// DefaultTTL.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	s := &RedisStore{
		redis:  redisClient,
		ttl:    ttlOrDefault(ttl),
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindByKey implements Store.
func (s *RedisStore) FindByKey(ctx context.Context, key string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	record, err := decodeRecord(data, s.cipher)
	if err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		return nil, err
	}

	// Redis expiry has second granularity.
	if record.ExpiredAt(s.now()) {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	return &record, nil
}

// Upsert implements Store.
func (s *RedisStore) Upsert(ctx context.Context, record Record) error {
	if err := validate(record); err != nil {
		CacheErrors.WithLabelValues("upsert").Inc()
		return err
	}

	now := s.now()
	record.CreatedAt = now
	record.ExpiresAt = now.Add(s.ttl)

	data, err := encodeRecord(record, s.cipher)
	if err != nil {
		CacheErrors.WithLabelValues("encode").Inc()
		return fmt.Errorf("encode cache record: %w", err)
	}

	if err := s.redis.Set(ctx, s.prefix+record.Key, data, s.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear implements Store. It removes every key under the store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.clear(ctx)
	return err
}

// ClearCount is Clear that also reports how many keys were removed.
func (s *RedisStore) ClearCount(ctx context.Context) (int, error) {
	return s.clear(ctx)
}

func (s *RedisStore) clear(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"*", clearBatch).Result()
		if err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.redis.Unlink(ctx, keys...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("clear").Inc()
				return removed, fmt.Errorf("redis unlink: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
