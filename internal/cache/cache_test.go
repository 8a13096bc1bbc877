package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryCache(t *testing.T) *MemoryCache {
	t.Helper()
	c, err := NewMemoryCache(&CacheConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()
	key := DocumentKey("worlds", "PW01")

	_, err := c.Get(ctx, key)
	assert.True(t, IsCacheMiss(err))

	value := []byte(`{"name":"A"}`)
	require.NoError(t, c.Set(ctx, key, value, time.Minute))
	value[0] = 'X'

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A"}`, string(got), "кеш хранит копию")

	require.NoError(t, c.Delete(ctx, key))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	m := c.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.InDelta(t, 1.0/3.0, m.HitRatio, 1e-9)
}

type recordingInvalidator struct {
	keys []string
}

func (r *recordingInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingInvalidator) SubscribeInvalidations(ctx context.Context, h InvalidationHandler) error {
	return nil
}

func (r *recordingInvalidator) Close() error { return nil }

func TestMemoryCache_InvalidatePublishes(t *testing.T) {
	inv := &recordingInvalidator{}
	c, err := NewMemoryCache(nil, inv)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "worlds/a", []byte("{}"), 0))
	require.NoError(t, c.Invalidate(ctx, "worlds/a"))

	assert.Equal(t, []string{"worlds/a"}, inv.keys)
	_, err = c.Get(ctx, "worlds/a")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCache_Closed(t *testing.T) {
	c, err := NewMemoryCache(nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Get(context.Background(), "k")
	assert.True(t, errors.Is(err, ErrCacheClosed))
}

func TestCacheConfig_TTLBounds(t *testing.T) {
	cfg := &CacheConfig{MaxTTL: time.Minute}
	cfg.ApplyDefaults()

	assert.Equal(t, 30*time.Second, cfg.ttlFor(0))
	assert.Equal(t, time.Minute, cfg.ttlFor(time.Hour))
	assert.Equal(t, "worldsync:", cfg.KeyPrefix)
}

func TestNATSInvalidator_HandleSkipsOwnAndDuplicates(t *testing.T) {
	inv := newInvalidator(nil, &InvalidatorConfig{DedupeWindow: time.Minute}, "node-a")

	var handled []string
	inv.handler = func(key string) error {
		handled = append(handled, key)
		return nil
	}

	foreign := newInvalidator(nil, &InvalidatorConfig{}, "node-b")
	inv.handle(foreign.message("worlds/x"))
	inv.handle(foreign.message("worlds/x"))
	inv.handle(inv.message("worlds/y"))
	inv.handle(foreign.message(""))

	assert.Equal(t, []string{"worlds/x"}, handled)
	stats := inv.Stats()
	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(1), stats.Errors)
	assert.False(t, stats.Connected)
}

func TestNATSInvalidator_GeneratesNodeID(t *testing.T) {
	inv := newInvalidator(nil, &InvalidatorConfig{}, "")
	assert.NotEmpty(t, inv.NodeID())
	assert.Equal(t, "worldsync.cache.invalidate", inv.subject)
	assert.Equal(t, inv.NodeID(), inv.message("k").Header.Get(headerNode))
}

func TestRecentKeysWindow(t *testing.T) {
	r := newRecentKeys(time.Second)
	t0 := time.Unix(1000, 0)

	assert.True(t, r.add("a", t0))
	assert.False(t, r.add("a", t0.Add(500*time.Millisecond)))
	assert.True(t, r.add("b", t0.Add(500*time.Millisecond)))
	assert.True(t, r.add("a", t0.Add(2*time.Second)))
	assert.Len(t, r.seen, 1, "b вычищен по окну")
}
