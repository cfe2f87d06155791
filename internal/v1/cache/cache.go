package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LastSeenTTL bounds how long an offline user's last-seen marker survives.
const LastSeenTTL = 30 * 24 * time.Hour

// Cache is a typed JSON key/value wrapper over the shared redis store.
// Values are marshaled on write and unmarshaled on read; callers never see
// raw byte handling.
type Cache struct {
	client *redis.Client
}

// New parses a redis URL, connects, and verifies the connection.
func New(ctx context.Context, url string) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client. Used by tests and by callers that
// share one pooled client across cache, bus publish, and rate limiting.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client exposes the underlying pooled client for components that need raw
// commands (the shared-store rate limiter, the upgrade limiter store).
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping verifies the store is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Set stores value as JSON under key with the given TTL. A zero TTL means
// no expiry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Get loads the JSON value under key into dest. Returns false when the key
// does not exist.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value for %s: %w", key, err)
	}
	return true, nil
}

// Delete removes one or more keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cache key %s: %w", key, err)
	}
	return n > 0, nil
}

// Increment atomically adds one to the integer stored at key and returns the
// new value, creating the key at 1 when absent.
func (c *Cache) Increment(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment cache key %s: %w", key, err)
	}
	return n, nil
}

// MGet loads several JSON values at once. The result maps each found key to
// its raw JSON; missing keys are absent from the map.
func (c *Cache) MGet(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if len(keys) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget cache keys: %w", err)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[keys[i]] = json.RawMessage(s)
		}
	}
	return out, nil
}

// Key builders. Every redis key the service writes is assembled here so the
// layout stays greppable.

// UserLastSeenKey is written when a user's final session disconnects.
func UserLastSeenKey(userID int64) string {
	return fmt.Sprintf("user:%d:last_seen", userID)
}

// RateLimitKey stores shared token-bucket state per principal and path.
func RateLimitKey(scope, principal, path string) string {
	return fmt.Sprintf("rate_limit:%s:%s:%s", scope, principal, path)
}

// SetUserLastSeen records the user's disconnect time with the 30-day TTL.
func (c *Cache) SetUserLastSeen(ctx context.Context, userID int64, at time.Time) error {
	return c.Set(ctx, UserLastSeenKey(userID), at.UTC().Format(time.RFC3339), LastSeenTTL)
}

// GetUserLastSeen loads the user's last-seen time; found is false when the
// marker expired or was never written.
func (c *Cache) GetUserLastSeen(ctx context.Context, userID int64) (time.Time, bool, error) {
	var raw string
	found, err := c.Get(ctx, UserLastSeenKey(userID), &raw)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last_seen for user %d: %w", userID, err)
	}
	return t, true, nil
}
