package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupCacheService(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCacheService(NewRedisCacheWithClient(client)), mr
}

func TestGenerateCacheKey(t *testing.T) {
	cache, _ := setupCacheService(t)

	tests := []struct {
		keyType CacheKeyType
		params  []string
		want    string
	}{
		{CacheKeyRecency, []string{"0xABC"}, "recency:0xabc"},
		{CacheKeyEndpoint, []string{"usdc-transfers", "DEADBEEF"}, "endpoint:usdc-transfers:deadbeef"},
		{CacheKeyRecency, nil, "recency"},
	}

	for _, tt := range tests {
		if got := cache.GenerateCacheKey(tt.keyType, tt.params...); got != tt.want {
			t.Errorf("GenerateCacheKey(%s, %v) = %q, want %q", tt.keyType, tt.params, got, tt.want)
		}
	}
}

func TestCacheSetAndGetRoundTrip(t *testing.T) {
	cache, _ := setupCacheService(t)
	ctx := context.Background()

	type payload struct {
		Token string `json:"token"`
		Count int64  `json:"count"`
	}

	key := cache.RecencyKey("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	if err := cache.SetWithTTL(ctx, key, payload{Token: "0xa0b8", Count: 42}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got payload
	hit, err := cache.Get(ctx, key, &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if got.Count != 42 || got.Token != "0xa0b8" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestCacheGetMiss(t *testing.T) {
	cache, _ := setupCacheService(t)

	var dest map[string]string
	hit, err := cache.Get(context.Background(), "no-such-key", &dest)
	if err != nil {
		t.Fatalf("unexpected error on miss: %v", err)
	}
	if hit {
		t.Error("expected miss")
	}
}

func TestCacheEntryExpires(t *testing.T) {
	cache, mr := setupCacheService(t)
	ctx := context.Background()

	key := cache.EndpointKey("transfers", "abcd1234")
	if err := cache.SetWithTTL(ctx, key, map[string]int{"count": 1}, time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	mr.FastForward(2 * time.Second)

	var dest map[string]int
	hit, err := cache.Get(ctx, key, &dest)
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if hit {
		t.Error("entry should have expired")
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache, _ := setupCacheService(t)
	ctx := context.Background()

	key := cache.RecencyKey("0x1234567890123456789012345678901234567890")
	if err := cache.SetWithTTL(ctx, key, "cached", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	if err := cache.Invalidate(ctx, key); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	var dest string
	hit, _ := cache.Get(ctx, key, &dest)
	if hit {
		t.Error("key should have been removed")
	}

	// No keys is a no-op, not an error.
	if err := cache.Invalidate(ctx); err != nil {
		t.Errorf("empty invalidate: %v", err)
	}
}
