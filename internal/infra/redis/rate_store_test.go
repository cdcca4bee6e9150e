package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRateStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewRateStore(newClient(mr), time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := store.Hit(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("hit: %v", err)
		}
		if n != i {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}
	if !mr.Exists("ratelimit:10.0.0.1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("ratelimit:10.0.0.1"); ttl != time.Minute {
		t.Fatalf("expected window ttl, got %v", ttl)
	}

	if err := store.Reset(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists("ratelimit:10.0.0.1") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestRateStoreWindowRollsOver(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewRateStore(newClient(mr), time.Minute)
	ctx := context.Background()

	_, _ = store.Hit(ctx, "origin")
	_, _ = store.Hit(ctx, "origin")
	mr.FastForward(61 * time.Second)

	n, err := store.Hit(ctx, "origin")
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected new window, got count %d", n)
	}
}

func TestRateStoreRestoresMissingExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	if err := mr.Set("ratelimit:stuck", "7"); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	store := NewRateStore(newClient(mr), time.Minute)
	n, err := store.Hit(context.Background(), "stuck")
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected count 8, got %d", n)
	}
	if ttl := mr.TTL("ratelimit:stuck"); ttl != time.Minute {
		t.Fatalf("expected expiry restored to the window, got %v", ttl)
	}

	mr.FastForward(61 * time.Second)
	if n, _ := store.Hit(context.Background(), "stuck"); n != 1 {
		t.Fatalf("expected a fresh window after expiry, got %d", n)
	}
}
