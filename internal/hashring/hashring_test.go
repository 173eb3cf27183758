package hashring_test

import (
	"strconv"
	"testing"

	"github.com/Bivas-Biswas/blink-db/internal/hashring"
	"github.com/stretchr/testify/require"
)

func TestHashRingEmptyRing(t *testing.T) {
	hr := hashring.New()

	_, ok := hr.Get("key")
	require.False(t, ok, "expected no shard from an empty ring")
}

func TestHashRingDeterminism(t *testing.T) {
	hr := hashring.New()
	hr.Add(hashring.Shard{IP: "127.0.0.1", Port: 5000})
	hr.Add(hashring.Shard{IP: "127.0.0.1", Port: 5001})
	hr.Add(hashring.Shard{IP: "127.0.0.1", Port: 5002})

	first, ok := hr.Get("some-key")
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		got, ok := hr.Get("some-key")
		require.True(t, ok)
		require.Equal(t, first, got, "expected the same shard on every lookup")
	}
}

func TestHashRingRoutingIsTotal(t *testing.T) {
	hr := hashring.New()
	hr.Add(hashring.Shard{IP: "127.0.0.1", Port: 5000})
	hr.Add(hashring.Shard{IP: "127.0.0.1", Port: 5001})

	for i := 0; i < 1000; i++ {
		_, ok := hr.Get("key" + strconv.Itoa(i))
		require.True(t, ok, "every key must map to a shard")
	}
}

func TestHashRingAddIsMinimallyDisruptive(t *testing.T) {
	hr := hashring.New()
	shards := []hashring.Shard{
		{IP: "127.0.0.1", Port: 5000},
		{IP: "127.0.0.1", Port: 5001},
		{IP: "127.0.0.1", Port: 5002},
	}
	for _, s := range shards {
		hr.Add(s)
	}

	before := make(map[string]hashring.Shard)
	for i := 0; i < 1000; i++ {
		key := "key" + strconv.Itoa(i)
		s, ok := hr.Get(key)
		require.True(t, ok)
		before[key] = s
	}

	added := hashring.Shard{IP: "127.0.0.1", Port: 5003}
	hr.Add(added)

	for key, prev := range before {
		got, ok := hr.Get(key)
		require.True(t, ok)
		if got != prev {
			require.Equal(t, added, got,
				"a key may only move to the newly added shard, %s moved %v -> %v", key, prev, got)
		}
	}
}

func TestHashRingRemove(t *testing.T) {
	hr := hashring.New()
	s1 := hashring.Shard{IP: "127.0.0.1", Port: 5000}
	s2 := hashring.Shard{IP: "127.0.0.1", Port: 5001}
	hr.Add(s1)
	hr.Add(s2)
	require.Equal(t, 2, hr.Size())

	hr.Remove(s1.Addr())
	require.Equal(t, 1, hr.Size())

	for i := 0; i < 100; i++ {
		got, ok := hr.Get("key" + strconv.Itoa(i))
		require.True(t, ok)
		require.Equal(t, s2, got, "all keys must land on the remaining shard")
	}
}

func TestHashRingDuplicateAdd(t *testing.T) {
	hr := hashring.New()
	s := hashring.Shard{IP: "127.0.0.1", Port: 5000}
	hr.Add(s)
	hr.Add(s)
	require.Equal(t, 1, hr.Size(), "adding the same shard twice must not grow the ring")
}
