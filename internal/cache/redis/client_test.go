package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type suggestion struct {
	SelectedType string   `json:"selected_type"`
	Symbols      []string `json:"symbols"`
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb), mr
}

func TestRouteCache_RoundTripAndTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	var got suggestion
	found, err := c.GetRoute(ctx, "abc", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetRoute(ctx, "abc", suggestion{SelectedType: "macro_summary"}, time.Minute))
	assert.True(t, mr.Exists("route:abc"))

	found, err = c.GetRoute(ctx, "abc", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "macro_summary", got.SelectedType)

	mr.FastForward(2 * time.Minute)
	found, err = c.GetRoute(ctx, "abc", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRouteCache_CorruptEntry(t *testing.T) {
	c, mr := newTestClient(t)
	require.NoError(t, mr.Set("route:bad", "not json"))

	var got suggestion
	found, err := c.GetRoute(context.Background(), "bad", &got)
	assert.Error(t, err)
	assert.False(t, found)
}

func TestRouteCache_Invalidate(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.SetRoute(ctx, "a", suggestion{}, time.Hour))
	require.NoError(t, c.SetRoute(ctx, "b", suggestion{}, time.Hour))
	require.NoError(t, mr.Set("other", "keep"))

	deleted, err := c.InvalidateRoutes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.True(t, mr.Exists("other"))
	assert.False(t, mr.Exists("route:a"))
}

func TestRouteCache_Unavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	c := NewFromClient(rdb)

	var got suggestion
	_, err := c.GetRoute(context.Background(), "abc", &got)
	assert.Error(t, err)
}
