// Package cache provides the conditional HTTP cache used for every read
// against the platform REST API.
//
// The package has three parts:
//
//   - Record: the cached unit (key, etag, payload, timestamps)
//   - KeyComputer: deterministic mapping from (URL, request headers) to a
//     cache key. URLKey hashes only the URL; IdentityKey also folds in the
//     Authorization header so responses scoped to one identity are never
//     served to another.
//   - Store: TTL-bounded storage of records. RedisStore is the shared,
//     persistent implementation; MemoryStore serves single-process
//     deployments and tests.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewRedisStore(redisClient, cache.DefaultTTL, cache.WithCipher(cipher))
//
//	keys := cache.IdentityKey{Namespace: cache.DefaultNamespace}
//	key, err := keys.ComputeKey(url, req.Header)
//	if err != nil {
//		return err // no Authorization header: never fall back to the URL key
//	}
//
//	record, err := store.FindByKey(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch unconditionally
//	}
//
// # Records
//
// A store holds at most one record per key; Upsert replaces. Records
// without an ETag are rejected, since they cannot be revalidated. The TTL is
// fixed per store and is not extended by reads: the origin may rotate a
// resource without changing anything the cache can observe, so staleness is
// bounded by wall-clock age alone.
//
// # Encryption at Rest
//
// RedisStore seals the payload field through a FieldCipher (see package
// sealed) while encoding the record envelope and opens it while decoding.
// Record values in memory always carry plaintext. Payloads of 1 KiB or more
// are zstd-compressed before sealing when that makes them smaller.
//
// # Metrics
//
//   - tagger_cache_hits_total{layer} - records found
//   - tagger_cache_misses_total - lookups without a live record
//   - tagger_cache_errors_total{operation} - store failures
//   - tagger_conditional_requests_total - requests sent with If-None-Match
//   - tagger_304_responses_total - cached payloads reused after a 304
//   - tagger_uncacheable_responses_total - 2xx responses without an ETag
package cache
