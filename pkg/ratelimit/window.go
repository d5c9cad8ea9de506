package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// WindowKeyPrefix namespaces inbound limiter counters.
const WindowKeyPrefix = "tagger:window:"

var inboundRejections = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "tagger_inbound_rejections_total",
		Help: "Inbound requests rejected by the fixed window limiter",
	},
)

// FixedWindow limits inbound requests to Max per Window for each client id.
// Counters live in Redis so the limit holds across replicas.
type FixedWindow struct {
	redis  *redis.Client
	window time.Duration
	max    int64
	logger zerolog.Logger
	now    func() time.Time
}

// NewFixedWindow creates an inbound limiter. A non-positive window selects
// one minute.
func NewFixedWindow(redisClient *redis.Client, window time.Duration, max int, logger zerolog.Logger) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindow{
		redis:  redisClient,
		window: window,
		max:    int64(max),
		logger: logger,
		now:    time.Now,
	}
}

func (w *FixedWindow) key(id string) string {
	slot := w.now().UnixNano() / int64(w.window)
	return WindowKeyPrefix + id + ":" + strconv.FormatInt(slot, 10)
}

// Allow counts one request for id and reports whether it fits in the current
// window.
func (w *FixedWindow) Allow(ctx context.Context, id string) (bool, error) {
	key := w.key(id)

	pipe := w.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("increment window counter: %w", err)
	}
	return incr.Val() <= w.max, nil
}

// Middleware rejects requests over the limit with 429. Clients are
// identified by remote IP. Limiter errors let the request through.
func (w *FixedWindow) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		id := clientID(r)
		allowed, err := w.Allow(r.Context(), id)
		if err != nil {
			w.logger.Warn().Err(err).Str("client", id).Msg("Inbound rate limit check failed")
			next.ServeHTTP(rw, r)
			return
		}
		if !allowed {
			inboundRejections.Inc()
			w.logger.Warn().Str("client", id).Str("path", r.URL.Path).Msg("Inbound rate limit exceeded")
			rw.Header().Set("Retry-After", strconv.Itoa(int(w.window.Seconds())))
			http.Error(rw, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
