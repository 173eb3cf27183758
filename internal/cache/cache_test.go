package cache_test

import (
	"testing"

	"github.com/Bivas-Biswas/blink-db/internal/cache"
	"github.com/stretchr/testify/require"
)

// spillMap is an in-memory stand-in for the persistent store.
type spillMap struct {
	data map[string][]byte
}

func newSpillMap() *spillMap {
	return &spillMap{data: make(map[string][]byte)}
}

func (s *spillMap) Insert(key string, value []byte) error {
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *spillMap) Get(key string) ([]byte, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

// entryOverhead mirrors the cache's fixed per-entry charge, derived rather
// than assumed so the tests stay honest about the accounting contract.
func entryOverhead(t *testing.T) int64 {
	t.Helper()
	c := cache.New(1<<20, nil)
	require.NoError(t, c.Set("k", []byte("v")))
	return c.UsedBytes() - 2
}

func TestCacheSetGet(t *testing.T) {
	c := cache.New(1<<20, nil)

	require.NoError(t, c.Set("key1", []byte("value1")))

	val, ok := c.Get("key1")
	require.True(t, ok, "expected key1 to be present")
	require.Equal(t, []byte("value1"), val, "unexpected value, expected %v instead got %v", "value1", val)
}

func TestCacheGetMiss(t *testing.T) {
	c := cache.New(1<<20, nil)

	_, ok := c.Get("absent")
	require.False(t, ok, "expected a miss for an absent key")
}

func TestCacheDelIdempotent(t *testing.T) {
	c := cache.New(1<<20, nil)

	require.NoError(t, c.Set("key1", []byte("value1")))
	require.True(t, c.Del("key1"), "expected first delete to remove the key")
	require.False(t, c.Del("key1"), "expected second delete to report absence")
	require.Equal(t, 0, c.Len())
}

func TestCacheUsedBytesAccounting(t *testing.T) {
	overhead := entryOverhead(t)
	c := cache.New(1<<20, nil)

	require.NoError(t, c.Set("key1", []byte("0123456789")))
	require.NoError(t, c.Set("key2", []byte("01234")))
	require.Equal(t, 2*overhead+4+10+4+5, c.UsedBytes())

	// Update in place adjusts by the value-size delta.
	require.NoError(t, c.Set("key1", []byte("01")))
	require.Equal(t, 2*overhead+4+2+4+5, c.UsedBytes())

	require.True(t, c.Del("key2"))
	require.Equal(t, overhead+4+2, c.UsedBytes())

	require.True(t, c.Del("key1"))
	require.Zero(t, c.UsedBytes())
}

func TestCacheLRUEvictionOrder(t *testing.T) {
	overhead := entryOverhead(t)
	spill := newSpillMap()

	// Budget for exactly two entries of key "kN" and value "vN".
	c := cache.New(2*(overhead+4), spill)

	require.NoError(t, c.Set("k1", []byte("v1")))
	require.NoError(t, c.Set("k2", []byte("v2")))

	// Promote k1 so k2 is the LRU entry.
	_, ok := c.Get("k1")
	require.True(t, ok)

	require.NoError(t, c.Set("k3", []byte("v3")))

	// k2 was evicted into the spill.
	require.Equal(t, []byte("v2"), spill.data["k2"], "expected evicted k2 to land in the spill")
	require.Equal(t, 2, c.Len())

	// A read of k2 re-hydrates it from the spill, evicting k1 (now LRU).
	val, ok := c.Get("k2")
	require.True(t, ok, "expected k2 to re-hydrate from the spill")
	require.Equal(t, []byte("v2"), val)
	require.Equal(t, []byte("v1"), spill.data["k1"], "expected k1 to spill on re-hydration")
}

func TestCacheEntryTooLarge(t *testing.T) {
	overhead := entryOverhead(t)
	c := cache.New(overhead+10, nil)

	err := c.Set("key", []byte("a value that cannot possibly fit"))
	require.ErrorIs(t, err, cache.ErrEntryTooLarge, "expected entry too large, instead got %v", err)

	_, ok := c.Get("key")
	require.False(t, ok, "a rejected entry must stay absent")
	require.Zero(t, c.UsedBytes())
}

func TestCacheEvictsEverythingForOneEntry(t *testing.T) {
	overhead := entryOverhead(t)
	c := cache.New(3*(overhead+4), newSpillMap())

	require.NoError(t, c.Set("k1", []byte("v1")))
	require.NoError(t, c.Set("k2", []byte("v2")))
	require.NoError(t, c.Set("k3", []byte("v3")))

	// Fits only after evicting all three.
	big := make([]byte, 3*(overhead+4)-overhead-3)
	require.NoError(t, c.Set("big", big))
	require.Equal(t, 1, c.Len(), "expected the big entry to be the only survivor")
}

func TestCacheBudgetNeverExceeded(t *testing.T) {
	overhead := entryOverhead(t)
	max := 10 * (overhead + 8)
	c := cache.New(max, newSpillMap())

	for i := 0; i < 100; i++ {
		key := []byte{'k', byte('0' + i%10), byte('0' + i/10)}
		require.NoError(t, c.Set(string(key), []byte("12345")))
		require.LessOrEqual(t, c.UsedBytes(), max, "budget exceeded after set %d", i)
	}
}

func TestCacheFlush(t *testing.T) {
	spill := newSpillMap()
	c := cache.New(1<<20, spill)

	require.NoError(t, c.Set("k1", []byte("v1")))
	require.NoError(t, c.Set("k2", []byte("v2")))

	c.Flush()

	require.Equal(t, []byte("v1"), spill.data["k1"])
	require.Equal(t, []byte("v2"), spill.data["k2"])
}

func TestCacheValueAliasSafety(t *testing.T) {
	c := cache.New(1<<20, nil)

	buf := []byte("value1")
	require.NoError(t, c.Set("key1", buf))
	copy(buf, "XXXXXX")

	val, ok := c.Get("key1")
	require.True(t, ok)
	require.Equal(t, []byte("value1"), val, "cache must not alias the caller's buffer")
}
