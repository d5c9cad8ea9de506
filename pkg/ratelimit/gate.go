package ratelimit

import (
	"context"
	"fmt"
	"net/http"
)

// DefaultBucket is used for requests whose context names no bucket.
const DefaultBucket = "app"

type bucketKey struct{}

// WithBucket tags ctx with the rate limit bucket of the credential used for
// requests made under it.
func WithBucket(ctx context.Context, bucket string) context.Context {
	return context.WithValue(ctx, bucketKey{}, bucket)
}

// BucketFrom returns the bucket stored in ctx, or DefaultBucket.
func BucketFrom(ctx context.Context) string {
	if bucket, ok := ctx.Value(bucketKey{}).(string); ok && bucket != "" {
		return bucket
	}
	return DefaultBucket
}

// Gate is an http.RoundTripper that consults the Tracker before each request
// and records the budget reported by each response.
type Gate struct {
	base    http.RoundTripper
	tracker *Tracker
}

// NewGate wraps base. A nil base selects http.DefaultTransport.
func NewGate(base http.RoundTripper, tracker *Tracker) *Gate {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Gate{base: base, tracker: tracker}
}

// RoundTrip implements http.RoundTripper. If the tracker's store is
// unreachable the request is sent anyway.
func (g *Gate) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	bucket := BucketFrom(ctx)

	allowed, err := g.tracker.ShouldAllowRequest(ctx, bucket)
	if err != nil {
		g.tracker.logger.Warn().Err(err).Str("bucket", bucket).Msg("Rate limit check failed, sending request")
	} else if !allowed {
		return nil, fmt.Errorf("%w: bucket %s", ErrRateLimited, bucket)
	}

	resp, err := g.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := g.tracker.UpdateFromHeaders(ctx, bucket, resp.Header); err != nil {
		g.tracker.logger.Warn().Err(err).Str("bucket", bucket).Msg("Failed to record rate limit headers")
	}
	return resp, nil
}
