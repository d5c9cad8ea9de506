package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis on DB 15 and skips the test when
// none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func rateHeaders(limit, remaining int, reset time.Time) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	return h
}

func TestParseHeaders(t *testing.T) {
	now := time.Unix(1_790_000_000, 0)
	reset := now.Add(30 * time.Minute)

	tests := []struct {
		name          string
		headers       http.Header
		wantOK        bool
		wantErr       bool
		wantRemaining int
		wantLimit     int
	}{
		{
			name:          "complete headers",
			headers:       rateHeaders(5000, 4321, reset),
			wantOK:        true,
			wantRemaining: 4321,
			wantLimit:     5000,
		},
		{
			name: "limit header absent",
			headers: http.Header{
				"X-Ratelimit-Remaining": {"12"},
				"X-Ratelimit-Reset":     {strconv.FormatInt(reset.Unix(), 10)},
			},
			wantOK:        true,
			wantRemaining: 12,
			wantLimit:     DefaultLimit,
		},
		{name: "no rate limit headers", headers: http.Header{}, wantOK: false},
		{
			name:    "invalid remaining",
			headers: http.Header{"X-Ratelimit-Remaining": {"many"}, "X-Ratelimit-Reset": {"1"}},
			wantErr: true,
		},
		{
			name:    "missing reset",
			headers: http.Header{"X-Ratelimit-Remaining": {"10"}},
			wantErr: true,
		},
		{
			name:    "invalid reset",
			headers: http.Header{"X-Ratelimit-Remaining": {"10"}, "X-Ratelimit-Reset": {"soon"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, ok, err := ParseHeaders("b", tt.headers, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHeaders() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("ParseHeaders() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if state.Remaining != tt.wantRemaining || state.Limit != tt.wantLimit {
				t.Errorf("state = %d/%d, want %d/%d", state.Remaining, state.Limit, tt.wantRemaining, tt.wantLimit)
			}
			if !state.ResetAt.Equal(reset) {
				t.Errorf("ResetAt = %v, want %v", state.ResetAt, reset)
			}
			if !state.LastUpdate.Equal(now) {
				t.Errorf("LastUpdate = %v, want %v", state.LastUpdate, now)
			}
		})
	}
}

func TestBucketFrom(t *testing.T) {
	if got := BucketFrom(context.Background()); got != DefaultBucket {
		t.Errorf("BucketFrom(empty) = %q, want %q", got, DefaultBucket)
	}
	ctx := WithBucket(context.Background(), "installation:42")
	if got := BucketFrom(ctx); got != "installation:42" {
		t.Errorf("BucketFrom() = %q", got)
	}
}

func TestTracker_GetState_Default(t *testing.T) {
	client := setupTestRedis(t)
	tracker := NewTracker(client, zerolog.Nop())

	state, err := tracker.GetState(context.Background(), "installation:1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != DefaultLimit {
		t.Errorf("Remaining = %d, want %d", state.Remaining, DefaultLimit)
	}
}

func TestTracker_UpdateAndGetState(t *testing.T) {
	client := setupTestRedis(t)
	tracker := NewTracker(client, zerolog.Nop())
	ctx := context.Background()

	reset := time.Now().Add(20 * time.Minute).Truncate(time.Second)
	if err := tracker.UpdateFromHeaders(ctx, "installation:1", rateHeaders(5000, 77, reset)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, err := tracker.GetState(ctx, "installation:1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 77 || state.Limit != 5000 {
		t.Errorf("state = %d/%d, want 77/5000", state.Remaining, state.Limit)
	}
	if !state.ResetAt.Equal(reset) {
		t.Errorf("ResetAt = %v, want %v", state.ResetAt, reset)
	}

	other, _ := tracker.GetState(ctx, "installation:2")
	if other.Remaining != DefaultLimit {
		t.Error("buckets must not share state")
	}

	ttl := client.TTL(ctx, stateKey("installation:1")).Val()
	if ttl <= 0 {
		t.Errorf("state key TTL = %v, want positive", ttl)
	}
}

func TestTracker_ShouldAllowRequest(t *testing.T) {
	client := setupTestRedis(t)
	tracker := NewTracker(client, zerolog.Nop())
	ctx := context.Background()
	reset := time.Now().Add(10 * time.Minute)

	tests := []struct {
		name      string
		remaining int
		want      bool
	}{
		{name: "healthy", remaining: 4000, want: true},
		{name: "warning still allowed", remaining: 50, want: true},
		{name: "critical refused", remaining: 2, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tracker.UpdateFromHeaders(ctx, "b", rateHeaders(5000, tt.remaining, reset)); err != nil {
				t.Fatalf("UpdateFromHeaders: %v", err)
			}
			got, err := tracker.ShouldAllowRequest(ctx, "b")
			if err != nil {
				t.Fatalf("ShouldAllowRequest: %v", err)
			}
			if got != tt.want {
				t.Errorf("ShouldAllowRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_RefusesExhaustedBucket(t *testing.T) {
	client := setupTestRedis(t)
	tracker := NewTracker(client, zerolog.Nop())

	calls := 0
	reset := time.Now().Add(10 * time.Minute)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		for k, v := range rateHeaders(5000, 1, reset) {
			w.Header()[k] = v
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	httpClient := &http.Client{Transport: NewGate(nil, tracker)}
	ctx := WithBucket(context.Background(), "installation:9")

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()

	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err = httpClient.Do(req)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second request err = %v, want ErrRateLimited", err)
	}
	if calls != 1 {
		t.Errorf("origin calls = %d, want 1 (refused request must not be sent)", calls)
	}

	// Another bucket is unaffected.
	req, _ = http.NewRequestWithContext(WithBucket(context.Background(), "installation:10"), http.MethodGet, server.URL, nil)
	resp, err = httpClient.Do(req)
	if err != nil {
		t.Fatalf("other bucket: %v", err)
	}
	resp.Body.Close()
}

func TestGate_FailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	tracker := NewTracker(client, zerolog.Nop())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	httpClient := &http.Client{Transport: NewGate(nil, tracker)}
	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("request should be sent when Redis is down: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}
