// Package cache implements the byte-bounded LRU cache that serves as the
// primary store for hot keys. The index is an incremental-rehash dictionary
// and the recency list is an arena of fixed-size nodes addressed by stable
// handles, head = most recent. Entries evicted off the tail spill into the
// persistent store.
package cache

import (
	"errors"

	"github.com/Bivas-Biswas/blink-db/internal/dict"
	"github.com/rs/zerolog/log"
)

// entryOverhead is the fixed per-entry bookkeeping charge added to
// len(key)+len(value) when accounting an entry against the memory budget.
// It must be applied identically on insert, update, and eviction so that
// usedBytes stays the true sum.
const entryOverhead = 64

const nilHandle = int32(-1)

// ErrEntryTooLarge is returned by Set when the entry cannot fit in the
// budget even with every other entry evicted.
var ErrEntryTooLarge = errors.New("cache: entry too large")

// Spill receives entries leaving memory: tail evictions and the shutdown
// flush. The persistent store implements it.
type Spill interface {
	Insert(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
}

type node struct {
	key        string
	value      []byte
	prev, next int32
}

// Cache is a single shard's in-memory store. It is not safe for concurrent
// use; the server serializes access.
type Cache struct {
	index      *dict.Dict[int32]
	nodes      []node
	free       []int32
	head, tail int32
	usedBytes  int64
	maxBytes   int64
	spill      Spill
}

// New returns a cache bounded by maxBytes. spill may be nil, in which case
// evicted entries are discarded and misses never re-hydrate.
func New(maxBytes int64, spill Spill) *Cache {
	return &Cache{
		index:    dict.New[int32](),
		head:     nilHandle,
		tail:     nilHandle,
		maxBytes: maxBytes,
		spill:    spill,
	}
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key)) + int64(len(value)) + entryOverhead
}

// Set binds key to value. An existing key is updated in place and promoted;
// a new entry evicts tail entries into the spill until it fits, failing with
// ErrEntryTooLarge when it cannot fit at all.
func (c *Cache) Set(key string, value []byte) error {
	// The caller's slice may alias a network buffer that gets reused.
	value = append([]byte(nil), value...)

	if h, ok := c.index.Find(key); ok {
		n := &c.nodes[h]
		c.usedBytes += int64(len(value)) - int64(len(n.value))
		n.value = value
		c.moveToHead(h)
		c.evictWhile(0)
		return nil
	}

	size := entrySize(key, value)
	c.evictWhile(size)
	if c.usedBytes+size > c.maxBytes {
		return ErrEntryTooLarge
	}

	h := c.alloc(key, value)
	c.pushHead(h)
	c.index.Replace(key, h)
	c.usedBytes += size
	return nil
}

// Get returns the value bound to key, promoting the entry. On a miss the
// spill is consulted; a hit there is re-hydrated through the same eviction
// path and counts as a recency update.
func (c *Cache) Get(key string) ([]byte, bool) {
	if h, ok := c.index.Find(key); ok {
		c.moveToHead(h)
		return c.nodes[h].value, true
	}
	if c.spill == nil {
		return nil, false
	}
	value, ok, err := c.spill.Get(key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("persistent store read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if err := c.Set(key, value); err != nil {
		log.Debug().Str("key", key).Msg("re-hydrated entry too large for cache")
	}
	return value, true
}

// Del removes key from the index and recency list and reports whether an
// entry was removed. It acts on memory only; tombstoning the persistent
// store is the caller's concern.
func (c *Cache) Del(key string) bool {
	h, ok := c.index.Find(key)
	if !ok {
		return false
	}
	c.index.Remove(key)
	c.unlink(h)
	n := &c.nodes[h]
	c.usedBytes -= entrySize(n.key, n.value)
	c.release(h)
	return true
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.index.Len()
}

// UsedBytes reports the accounted memory footprint.
func (c *Cache) UsedBytes() int64 {
	return c.usedBytes
}

// MaxBytes reports the memory budget.
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// Flush drains every entry into the spill. Used on shutdown so a restart
// can re-hydrate previously hot keys.
func (c *Cache) Flush() {
	if c.spill == nil {
		return
	}
	c.index.Each(func(key string, h int32) {
		n := &c.nodes[h]
		if err := c.spill.Insert(n.key, n.value); err != nil {
			log.Warn().Err(err).Str("key", n.key).Msg("flush: entry not persisted")
		}
	})
}

// evictWhile evicts tail entries into the spill until extra incoming bytes
// fit in the budget, or the list is empty. Spill failures are logged; the
// entry leaves memory regardless.
func (c *Cache) evictWhile(extra int64) {
	for c.usedBytes+extra > c.maxBytes && c.tail != nilHandle {
		h := c.tail
		n := &c.nodes[h]
		if c.spill != nil {
			if err := c.spill.Insert(n.key, n.value); err != nil {
				log.Warn().Err(err).Str("key", n.key).Msg("evicted entry not persisted")
			}
		}
		c.index.Remove(n.key)
		c.unlink(h)
		c.usedBytes -= entrySize(n.key, n.value)
		c.release(h)
	}
}

func (c *Cache) alloc(key string, value []byte) int32 {
	if n := len(c.free); n > 0 {
		h := c.free[n-1]
		c.free = c.free[:n-1]
		c.nodes[h] = node{key: key, value: value, prev: nilHandle, next: nilHandle}
		return h
	}
	c.nodes = append(c.nodes, node{key: key, value: value, prev: nilHandle, next: nilHandle})
	return int32(len(c.nodes) - 1)
}

func (c *Cache) release(h int32) {
	c.nodes[h] = node{prev: nilHandle, next: nilHandle}
	c.free = append(c.free, h)
}

func (c *Cache) pushHead(h int32) {
	n := &c.nodes[h]
	n.prev = nilHandle
	n.next = c.head
	if c.head != nilHandle {
		c.nodes[c.head].prev = h
	}
	c.head = h
	if c.tail == nilHandle {
		c.tail = h
	}
}

func (c *Cache) unlink(h int32) {
	n := &c.nodes[h]
	if n.prev != nilHandle {
		c.nodes[n.prev].next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nilHandle {
		c.nodes[n.next].prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nilHandle
	n.next = nilHandle
}

func (c *Cache) moveToHead(h int32) {
	if c.head == h {
		return
	}
	c.unlink(h)
	c.pushHead(h)
}
