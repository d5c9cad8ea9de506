package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestMemoryStore(ttl time.Duration) (*MemoryStore, *time.Time) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(ttl)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestMemoryStore_UpsertAndFind(t *testing.T) {
	store, now := newTestMemoryStore(time.Hour)
	ctx := context.Background()

	record := Record{Key: "k1", ETag: `"v1"`, Payload: json.RawMessage(`{"id":1}`)}
	if err := store.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.FindByKey(ctx, "k1")
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if got.ETag != `"v1"` || string(got.Payload) != `{"id":1}` {
		t.Errorf("FindByKey() = %+v", got)
	}
	if !got.CreatedAt.Equal(*now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, *now)
	}
	if !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, now.Add(time.Hour))
	}
}

func TestMemoryStore_Miss(t *testing.T) {
	store, _ := newTestMemoryStore(time.Hour)
	_, err := store.FindByKey(context.Background(), "absent")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("err = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryStore_ReplaceOnWrite(t *testing.T) {
	store, _ := newTestMemoryStore(time.Hour)
	ctx := context.Background()

	_ = store.Upsert(ctx, Record{Key: "k", ETag: `"v1"`, Payload: json.RawMessage(`1`)})
	_ = store.Upsert(ctx, Record{Key: "k", ETag: `"v2"`, Payload: json.RawMessage(`2`)})

	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
	got, err := store.FindByKey(ctx, "k")
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if got.ETag != `"v2"` || string(got.Payload) != `2` {
		t.Errorf("record not replaced: %+v", got)
	}
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	store, _ := newTestMemoryStore(time.Hour)
	ctx := context.Background()

	if err := store.Upsert(ctx, Record{Key: "k", Payload: json.RawMessage(`{}`)}); !errors.Is(err, ErrMissingETag) {
		t.Errorf("Upsert without etag: err = %v, want ErrMissingETag", err)
	}
	if err := store.Upsert(ctx, Record{ETag: `"v"`}); err == nil {
		t.Error("Upsert without key should fail")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestMemoryStore_TTLNotExtendedByReads(t *testing.T) {
	store, now := newTestMemoryStore(time.Hour)
	ctx := context.Background()

	_ = store.Upsert(ctx, Record{Key: "k", ETag: `"v"`, Payload: json.RawMessage(`{}`)})

	*now = now.Add(59 * time.Minute)
	if _, err := store.FindByKey(ctx, "k"); err != nil {
		t.Fatalf("record should still be live: %v", err)
	}

	*now = now.Add(time.Minute)
	if _, err := store.FindByKey(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("err = %v, want ErrCacheMiss after TTL", err)
	}
	if store.Len() != 0 {
		t.Error("expired record should be dropped on read")
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	store, now := newTestMemoryStore(10 * time.Minute)
	ctx := context.Background()

	_ = store.Upsert(ctx, Record{Key: "old", ETag: `"v"`})
	*now = now.Add(5 * time.Minute)
	_ = store.Upsert(ctx, Record{Key: "new", ETag: `"v"`})
	*now = now.Add(6 * time.Minute)

	if removed := store.Sweep(); removed != 1 {
		t.Errorf("Sweep() = %d, want 1", removed)
	}
	if _, err := store.FindByKey(ctx, "new"); err != nil {
		t.Errorf("new record should survive sweep: %v", err)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	store, _ := newTestMemoryStore(time.Hour)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_ = store.Upsert(ctx, Record{Key: key, ETag: `"v"`})
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after Clear", store.Len())
	}
}

func TestMemoryStore_CopiesPayload(t *testing.T) {
	store, _ := newTestMemoryStore(time.Hour)
	ctx := context.Background()

	payload := json.RawMessage(`{"a":1}`)
	_ = store.Upsert(ctx, Record{Key: "k", ETag: `"v"`, Payload: payload})
	payload[2] = 'z'

	got, _ := store.FindByKey(ctx, "k")
	got.Payload[2] = 'y'

	again, _ := store.FindByKey(ctx, "k")
	if string(again.Payload) != `{"a":1}` {
		t.Errorf("stored payload aliased: %s", again.Payload)
	}
}

func TestMemoryStore_DefaultTTL(t *testing.T) {
	store := NewMemoryStore(0)
	if store.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", store.ttl, DefaultTTL)
	}
}

func TestMemoryStore_ConcurrentUpsert(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Upsert(ctx, Record{Key: "shared", ETag: `"v"`, Payload: json.RawMessage(`{}`)})
			_, _ = store.FindByKey(ctx, "shared")
		}()
	}
	wg.Wait()

	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_RunStopsOnCancel(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
