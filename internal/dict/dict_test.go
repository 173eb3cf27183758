package dict_test

import (
	"strconv"
	"testing"

	"github.com/Bivas-Biswas/blink-db/internal/dict"
	"github.com/stretchr/testify/require"
)

func TestDictAddFind(t *testing.T) {
	d := dict.New[string]()

	err := d.Add("key1", "value1")
	require.NoError(t, err, "expected no error, instead got %v", err)

	val, ok := d.Find("key1")
	require.True(t, ok, "expected key1 to be present")
	require.Equal(t, "value1", val, "unexpected value, expected %v instead got %v", "value1", val)
}

func TestDictAddDuplicate(t *testing.T) {
	d := dict.New[int]()

	require.NoError(t, d.Add("key1", 1))
	err := d.Add("key1", 2)
	require.ErrorIs(t, err, dict.ErrDuplicateKey, "expected duplicate key error, instead got %v", err)

	val, _ := d.Find("key1")
	require.Equal(t, 1, val, "duplicate add must not overwrite")
}

func TestDictReplace(t *testing.T) {
	d := dict.New[int]()

	added := d.Replace("key1", 1)
	require.True(t, added, "expected first replace to report a new key")

	added = d.Replace("key1", 2)
	require.False(t, added, "expected second replace to overwrite")

	val, ok := d.Find("key1")
	require.True(t, ok)
	require.Equal(t, 2, val, "unexpected value, expected %v instead got %v", 2, val)
	require.Equal(t, 1, d.Len(), "replace must not duplicate entries")
}

func TestDictRemove(t *testing.T) {
	d := dict.New[int]()

	require.NoError(t, d.Add("key1", 1))
	require.True(t, d.Remove("key1"), "expected removal of a present key")
	require.False(t, d.Remove("key1"), "expected removal of an absent key to report false")

	_, ok := d.Find("key1")
	require.False(t, ok, "expected key1 to be gone")
	require.Equal(t, 0, d.Len())
}

func TestDictRehashUnderLoad(t *testing.T) {
	d := dict.New[int]()

	const n = 10000
	for i := 0; i < n; i++ {
		key := "key" + strconv.Itoa(i)
		require.NoError(t, d.Add(key, i))

		// Interleaved lookups while rehashing is likely in progress.
		probe := "key" + strconv.Itoa(i/2)
		val, ok := d.Find(probe)
		require.True(t, ok, "expected %s to be present", probe)
		require.Equal(t, i/2, val, "unexpected value for %s", probe)
	}

	require.Equal(t, n, d.Len())
	for i := 0; i < n; i++ {
		key := "key" + strconv.Itoa(i)
		val, ok := d.Find(key)
		require.True(t, ok, "expected %s to be present after load", key)
		require.Equal(t, i, val)
	}
}

func TestDictRemoveDuringRehash(t *testing.T) {
	d := dict.New[int]()

	// The expand from 512 to 1024 buckets starts at the 513th insert, so
	// with 520 keys the removals below run while that rehash is in progress.
	const n = 520
	for i := 0; i < n; i++ {
		require.NoError(t, d.Add("key"+strconv.Itoa(i), i))
	}
	require.True(t, d.IsRehashing(), "expected removals to start during a rehash")
	for i := 0; i < n; i += 2 {
		require.True(t, d.Remove("key"+strconv.Itoa(i)), "expected key%d to be removable", i)
	}

	require.Equal(t, n/2, d.Len())
	for i := 1; i < n; i += 2 {
		val, ok := d.Find("key" + strconv.Itoa(i))
		require.True(t, ok, "expected odd key%d to survive", i)
		require.Equal(t, i, val)
	}
}

func TestDictEachVisitsEverything(t *testing.T) {
	d := dict.New[int]()

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, d.Add("key"+strconv.Itoa(i), i))
	}

	seen := make(map[string]int)
	d.Each(func(key string, val int) {
		seen[key] = val
	})

	require.Len(t, seen, n, "expected every entry to be visited exactly once")
	for i := 0; i < n; i++ {
		require.Equal(t, i, seen["key"+strconv.Itoa(i)])
	}
}

func TestDictManualRehashCompletes(t *testing.T) {
	d := dict.New[int]()

	for i := 0; i < 100; i++ {
		require.NoError(t, d.Add("key"+strconv.Itoa(i), i))
	}

	for d.IsRehashing() {
		d.Rehash(10)
	}

	require.False(t, d.IsRehashing())
	require.Equal(t, 100, d.Len())
}
