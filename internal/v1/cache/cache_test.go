package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return c, mr
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = New(context.Background(), "redis://"+addr)
	assert.Error(t, err)
}

func TestSetGet_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	err := c.Set(ctx, "k1", payload{Name: "anh", Count: 3}, time.Minute)
	require.NoError(t, err)

	var got payload
	found, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "anh", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestGet_Missing(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	var got string
	found, err := c.Get(context.Background(), "absent", &got)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestSet_TTLExpires(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "ephemeral", "v", time.Second))

	exists, err := c.Exists(ctx, "ephemeral")
	require.NoError(t, err)
	assert.True(t, exists)

	mr.FastForward(2 * time.Second)

	exists, err = c.Exists(ctx, "ephemeral")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelete(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", 1, 0))
	require.NoError(t, c.Set(ctx, "k2", 2, 0))

	require.NoError(t, c.Delete(ctx, "k1", "k2"))

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting nothing is a no-op
	assert.NoError(t, c.Delete(ctx))
}

func TestIncrement(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	n, err := c.Increment(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Increment(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMGet(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "one", 0))
	require.NoError(t, c.Set(ctx, "b", "two", 0))

	values, err := c.MGet(ctx, "a", "b", "missing")
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.JSONEq(t, `"one"`, string(values["a"]))
	assert.JSONEq(t, `"two"`, string(values["b"]))
	assert.NotContains(t, values, "missing")
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "user:42:last_seen", UserLastSeenKey(42))
	assert.Equal(t, "rate_limit:api:7:/api/rooms", RateLimitKey("api", "7", "/api/rooms"))
}

func TestUserLastSeen_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.SetUserLastSeen(ctx, 42, at))

	got, found, err := c.GetUserLastSeen(ctx, 42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Equal(at))

	// TTL is the 30-day marker lifetime
	mr.FastForward(LastSeenTTL + time.Hour)
	_, found, err = c.GetUserLastSeen(ctx, 42)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetUserLastSeen_Missing(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	_, found, err := c.GetUserLastSeen(context.Background(), 99)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestCacheErrors_ClosedStore(t *testing.T) {
	c, mr := newTestCache(t)
	defer func() { _ = c.Close() }()

	mr.Close()
	ctx := context.Background()

	assert.Error(t, c.Set(ctx, "k", "v", 0))
	_, err := c.Get(ctx, "k", new(string))
	assert.Error(t, err)
	_, err = c.Exists(ctx, "k")
	assert.Error(t, err)
	_, err = c.Increment(ctx, "k")
	assert.Error(t, err)
}
