package rolecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := New("redis://"+s.Addr(), 30*time.Second)
	if err != nil {
		t.Fatalf("failed to create role cache: %v", err)
	}
	return cache, s
}

func TestSetAndGet(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "proj_1", "user_1", "admin"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	role, ok := cache.Get(ctx, "proj_1", "user_1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if role != "admin" {
		t.Fatalf("expected role admin, got %q", role)
	}
}

func TestGetMiss(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	if _, ok := cache.Get(context.Background(), "proj_1", "user_unknown"); ok {
		t.Fatal("expected cache miss")
	}
}

func TestEntryExpires(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "proj_1", "user_1", "member"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.FastForward(31 * time.Second)

	if _, ok := cache.Get(ctx, "proj_1", "user_1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestInvalidate(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "proj_1", "user_1", "member"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "proj_1", "user_1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok := cache.Get(ctx, "proj_1", "user_1"); ok {
		t.Fatal("expected entry to be gone after invalidation")
	}
}

func TestPingReflectsRedisHealth(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()

	if err := cache.Ping(context.Background()); err != nil {
		t.Fatalf("Ping against a live redis failed: %v", err)
	}

	s.Close()
	if err := cache.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping to fail when redis is unreachable")
	}
}

func TestGetAfterRedisDown(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "proj_1", "user_1", "member"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.Close()

	// A dead cache reads as a miss, never an error the caller must handle.
	if _, ok := cache.Get(ctx, "proj_1", "user_1"); ok {
		t.Fatal("expected miss when redis is unreachable")
	}
}
