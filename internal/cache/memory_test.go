package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Put(ctx, "k", "payload", 60*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}

	val, ok, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || val != "payload" {
		t.Errorf("get = (%q, %v), want (%q, true)", val, ok, "payload")
	}
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Put(ctx, "k", "payload", 60*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Just before expiry the payload is still readable.
	now = now.Add(59 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}

	// At expiry the entry behaves as absent and is evicted.
	now = now.Add(1 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("entry readable past TTL")
	}
	if store.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", store.Len())
	}
}

func TestMemoryOverwrite(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	_ = store.Put(ctx, "k", "first", time.Minute)
	_ = store.Put(ctx, "k", "second", time.Minute)

	val, _, _ := store.Get(ctx, "k")
	if val != "second" {
		t.Errorf("get after overwrite = %q, want %q", val, "second")
	}
}

func TestMemoryDeleteAbsent(t *testing.T) {
	store := NewMemory()
	if err := store.Delete(context.Background(), "missing"); err != nil {
		t.Errorf("delete absent key: %v", err)
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	_ = store.Put(ctx, "k", "v", 0)
	now = now.Add(24 * time.Hour)

	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Error("zero-TTL entry expired")
	}
}
