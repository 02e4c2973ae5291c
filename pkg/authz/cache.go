package authz

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache TTLs. These are wire-stable: external tooling depends on cache-miss
// timing, so they must not change without coordination.
const (
	// PermissionCacheTTL bounds the staleness of a cached ResolvedPermissions.
	PermissionCacheTTL = 300 * time.Second

	// RoleCacheTTL bounds the staleness of a cached role record.
	RoleCacheTTL = 600 * time.Second
)

// GlobalScope is the scope component of a permission cache key when no
// project is in play.
const GlobalScope = "global"

// PermissionCacheKey returns the cache key for a user's resolved permissions
// in the given scope. Key format is wire-stable.
func PermissionCacheKey(userID, projectID string) string {
	scope := projectID
	if scope == "" {
		scope = GlobalScope
	}
	return "permissions:" + userID + ":" + scope
}

// RoleCacheKey returns the cache key for a role record. Key format is
// wire-stable.
func RoleCacheKey(roleID string) string {
	return "role:" + roleID
}

// Cache is the injected key-value store backing permission resolution. It has
// no awareness of which mutations invalidate which keys; that obligation sits
// with the service layer. Implementations must be safe for concurrent use.
//
// Get returns (nil, nil) on a miss. Any error from Get or Set is treated by
// callers as a degraded cache, never a failed operation.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisCache implements Cache on a Redis client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-connected Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves a raw value. A missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores a raw value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes the given keys. Deleting an absent key is not an error.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
