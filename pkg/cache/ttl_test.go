package cache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, opts ...Option[string]) (*ttlCache[string], *clock) {
	t.Helper()
	c, err := NewTTL(context.Background(), time.Minute, time.Hour, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	clk := &clock{now: time.Unix(1000, 0)}
	tc := c.(*ttlCache[string])
	tc.now = clk.Now
	return tc, clk
}

func TestTTLCache_SetGetDelete(t *testing.T) {
	c, _ := newTestCache(t)

	created, err := c.Set("a", "1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.Set("a", "2")
	require.NoError(t, err)
	assert.False(t, created)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	deleted, err := c.Delete("a")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok = c.Get("a")
	assert.False(t, ok)

	_, err = c.Set("", "x")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestTTLCache_Expiry(t *testing.T) {
	var evicted []string
	c, clk := newTestCache(t, WithEvictionCallback(func(key string, _ string) {
		evicted = append(evicted, key)
	}))

	_, _ = c.Set("a", "1")
	clk.Advance(2 * time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, int64(1), c.Stats().Evictions())
}

func TestTTLCache_SlidingExpiry(t *testing.T) {
	c, clk := newTestCache(t, WithSlidingExpiry[string]())

	_, _ = c.Set("session", "s")
	for i := 0; i < 3; i++ {
		clk.Advance(45 * time.Second)
		_, ok := c.Get("session")
		require.True(t, ok, "access keeps the entry alive")
	}

	clk.Advance(61 * time.Second)
	_, ok := c.Get("session")
	assert.False(t, ok)
}

func TestTTLCache_RemoveExpiredAndKeys(t *testing.T) {
	c, clk := newTestCache(t)

	_, _ = c.Set("old", "1")
	clk.Advance(30 * time.Second)
	_, _ = c.Set("new", "2")
	clk.Advance(45 * time.Second)

	assert.Equal(t, []string{"new"}, c.Keys())

	c.removeExpired()
	assert.Equal(t, 1, c.Size())
}

func TestTTLCache_CloseEvictsEverything(t *testing.T) {
	var evicted []string
	c, err := NewTTL(context.Background(), time.Minute, time.Hour,
		WithEvictionCallback(func(key string, _ int) { evicted = append(evicted, key) }))
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Set("b", 2)
	require.NoError(t, c.Close())

	sort.Strings(evicted)
	assert.Equal(t, []string{"a", "b"}, evicted)
	assert.Equal(t, 0, c.Size())
	assert.NoError(t, c.Close(), "close is idempotent")
}

func TestTTLCache_InvalidTTLAndMetrics(t *testing.T) {
	_, err := NewTTL[int](context.Background(), 0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	registry := metric.NewMetricsRegistry()
	c, err := NewTTL(context.Background(), time.Minute, 0, WithMetrics[int](registry, "sessions"))
	require.NoError(t, err)
	defer c.Close()

	_, _ = c.Set("k", 1)
	c.Get("k")
	c.Get("missing")
	assert.InDelta(t, 0.5, c.Stats().HitRatio(), 0.0001)
}

func TestTTLCache_PeekDoesNotSlide(t *testing.T) {
	c, clk := newTestCache(t, WithSlidingExpiry[string]())

	_, _ = c.Set("session", "s")
	clk.Advance(45 * time.Second)
	v, ok := c.Peek("session")
	require.True(t, ok)
	assert.Equal(t, "s", v)

	clk.Advance(20 * time.Second)
	_, ok = c.Peek("session")
	assert.False(t, ok, "peek must not extend the lifetime")

	snap := c.Stats().Snapshot()
	assert.Zero(t, snap.Hits)
	assert.Zero(t, snap.Misses)
	assert.Equal(t, int64(1), snap.Sets)
}

func TestStatistics_Snapshot(t *testing.T) {
	c, _ := newTestCache(t)
	_, _ = c.Set("a", "1")
	_, _ = c.Get("a")
	_, _ = c.Get("b")
	_, _ = c.Delete("a")

	snap := c.Stats().Snapshot()
	assert.Equal(t, Snapshot{Hits: 1, Misses: 1, Sets: 1, Deletes: 1, Evictions: 1, Size: 0, HitRatio: 0.5}, snap)
}
