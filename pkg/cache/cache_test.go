package cache

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, clean time.Duration) *Cache {
	t.Helper()

	c, err := New(Options{Shards: 16, MaxEntrySize: 64, CleanInterval: clean})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheBasicOperations(t *testing.T) {
	c := newTestCache(t, 0)

	require.NoError(t, c.Create("key1", "value1", 0))

	value, ok, err := c.Read("key1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value1", value)

	deleted, err := c.Delete("key1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = c.Read("key1")
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = c.Delete("key1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCacheCreateReplaces(t *testing.T) {
	c := newTestCache(t, 0)

	require.NoError(t, c.Create("k", "v1", 0))
	require.NoError(t, c.Create("k", "v2", 0))

	value, ok, err := c.Read("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", value)
	assert.Equal(t, 1, c.Len())
}

func TestCacheUpdate(t *testing.T) {
	c := newTestCache(t, 0)

	updated, err := c.Update("missing", "v", 0)
	require.NoError(t, err)
	assert.False(t, updated)

	_, ok, _ := c.Read("missing")
	assert.False(t, ok, "update must not create")

	require.NoError(t, c.Create("k", "v1", 0))
	updated, err = c.Update("k", "v2", 0)
	require.NoError(t, err)
	assert.True(t, updated)

	value, _, _ := c.Read("k")
	assert.Equal(t, "v2", value)
}

func TestCacheExpiration(t *testing.T) {
	c := newTestCache(t, 0)

	require.NoError(t, c.Create("temp_key", "temp_value", 100*time.Millisecond))

	value, ok, err := c.Read("temp_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "temp_value", value)

	time.Sleep(150 * time.Millisecond)

	_, ok, err = c.Read("temp_key")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.EqualValues(t, 1, c.Stats().Expired)

	updated, err := c.Update("temp_key", "v", 0)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestCacheExpiredDeleteIsNotFound(t *testing.T) {
	c := newTestCache(t, 0)

	require.NoError(t, c.Create("k", "v", 50*time.Millisecond))
	time.Sleep(80 * time.Millisecond)

	deleted, err := c.Delete("k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCacheHugeTTLNeverExpiresEarly(t *testing.T) {
	c := newTestCache(t, 10*time.Millisecond)

	ttls := map[string]time.Duration{
		"253y": 8_000_000_000 * time.Second,
		"max":  time.Duration(math.MaxInt64),
	}
	for key, ttl := range ttls {
		require.NoError(t, c.Create(key, "v", ttl))
	}

	time.Sleep(50 * time.Millisecond)

	for key := range ttls {
		value, ok, err := c.Read(key)
		require.NoError(t, err)
		assert.True(t, ok, key)
		assert.Equal(t, "v", value)
	}
	assert.Zero(t, c.Stats().Expired)
}

func TestExpiryAt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.Zero(t, expiryAt(now, 0))
	assert.Zero(t, expiryAt(now, -time.Second))
	assert.Equal(t, now.Add(time.Hour).UnixNano(), expiryAt(now, time.Hour))
	assert.Equal(t, int64(math.MaxInt64), expiryAt(now, 8_000_000_000*time.Second))
	assert.Equal(t, int64(math.MaxInt64), expiryAt(now, time.Duration(math.MaxInt64)))
	assert.False(t, isExpired(expiryAt(now, time.Duration(math.MaxInt64)), now.Add(100*365*24*time.Hour)))
}

// collidingHasher maps every key to the same hash.
type collidingHasher struct{}

func (collidingHasher) Sum64(string) uint64 { return 42 }

func TestCacheDeleteMissingKeyWithCollidingHash(t *testing.T) {
	c, err := New(Options{Shards: 16, MaxEntrySize: 64, Hasher: collidingHasher{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Create("stored", "v", 0))

	deleted, err := c.Delete("missing")
	require.NoError(t, err)
	assert.False(t, deleted)

	value, ok, err := c.Read("stored")
	require.NoError(t, err)
	assert.True(t, ok, "deleting a missing key must not remove a colliding entry")
	assert.Equal(t, "v", value)
}

func TestCacheJanitor(t *testing.T) {
	c := newTestCache(t, 20*time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Create(fmt.Sprintf("short:%d", i), "v", 50*time.Millisecond))
	}
	require.NoError(t, c.Create("long", "v", time.Hour))
	require.NoError(t, c.Create("forever", "v", 0))

	require.Eventually(t, func() bool {
		return c.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 10, c.Stats().Expired)
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(t, 0)

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Create(fmt.Sprintf("k%d", i), "v", 0))
	}
	require.Equal(t, 20, c.Len())

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())

	_, ok, err := c.Read("k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheStats(t *testing.T) {
	c := newTestCache(t, 0)

	require.NoError(t, c.Create("a", "1", 0))
	_, _, _ = c.Read("a")
	_, _, _ = c.Read("b")

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Entries)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := newTestCache(t, 0)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("g%d:%d", g, i%10)
				_ = c.Create(key, "v", 0)
				_, _, _ = c.Read(key)
				_, _ = c.Update(key, "w", time.Minute)
				if i%3 == 0 {
					_, _ = c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 80)
}

func TestCacheCloseIsIdempotent(t *testing.T) {
	c, err := New(Options{Shards: 16, MaxEntrySize: 64, CleanInterval: time.Millisecond})
	require.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
