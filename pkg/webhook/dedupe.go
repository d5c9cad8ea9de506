package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryKeyPrefix namespaces delivery ids in Redis.
const DeliveryKeyPrefix = "tagger:delivery:"

// DefaultDeliveryTTL is how long a delivery id is remembered.
const DefaultDeliveryTTL = time.Hour

// Deduper remembers delivery ids so redeliveries are acknowledged without
// being handled twice.
type Deduper interface {
	// Claim records id and reports whether it was new.
	Claim(ctx context.Context, id string) (bool, error)

	// Release forgets id so a redelivery is handled again.
	Release(ctx context.Context, id string) error
}

// RedisDeduper claims delivery ids with SET NX.
type RedisDeduper struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper. A non-positive ttl
// selects DefaultDeliveryTTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &RedisDeduper{redis: client, ttl: ttl}
}

// Claim implements Deduper.
func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	claimed, err := d.redis.SetNX(ctx, DeliveryKeyPrefix+id, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", id, err)
	}
	return claimed, nil
}

// Release implements Deduper.
func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	if err := d.redis.Del(ctx, DeliveryKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("release delivery %s: %w", id, err)
	}
	return nil
}
