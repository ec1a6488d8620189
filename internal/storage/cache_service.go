package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// CacheService provides high-level caching operations for recency summaries
// and dynamic endpoint results.
type CacheService struct {
	redis *RedisCache
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache) *CacheService {
	return &CacheService{redis: redis}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyRecency is for per-token recency summaries
	CacheKeyRecency CacheKeyType = "recency"
	// CacheKeyEndpoint is for dynamic endpoint result pages
	CacheKeyEndpoint CacheKeyType = "endpoint"
)

// GenerateCacheKey generates a cache key for a given type and parameters.
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	normalized := make([]string, len(params))
	for i, param := range params {
		normalized[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalized...)
	return strings.Join(parts, ":")
}

// RecencyKey generates a cache key for a token's recency summary.
// Format: recency:<token-address>
func (c *CacheService) RecencyKey(tokenAddress string) string {
	return c.GenerateCacheKey(CacheKeyRecency, tokenAddress)
}

// EndpointKey generates a cache key for an endpoint result page.
// Format: endpoint:<path>:<hash-of-query-params>
func (c *CacheService) EndpointKey(path, paramsHash string) string {
	return c.GenerateCacheKey(CacheKeyEndpoint, path, paramsHash)
}

// SetWithTTL stores a JSON-serialized value in cache with the given TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it. Returns false on a miss.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}
