// Package dict provides a separate-chaining hash table with two internal
// tables and incremental rehash, in the manner of the redis dict: resizing
// work is spread across subsequent operations instead of a single
// stop-the-world pass.
package dict

import (
	"errors"

	"github.com/cespare/xxhash/v2"
)

const initialSize = 4

// forcedLoadFactor triggers an expand even when auto-resize is disabled.
const forcedLoadFactor = 5

// ErrDuplicateKey is returned by Add when the key is already present.
var ErrDuplicateKey = errors.New("dict: duplicate key")

type entry[V any] struct {
	key  string
	val  V
	next *entry[V]
}

type table[V any] struct {
	buckets []*entry[V]
	mask    uint64
	used    int
}

func (t *table[V]) reset() {
	t.buckets = nil
	t.mask = 0
	t.used = 0
}

// Dict is a string-keyed hash table. It is not safe for concurrent use; the
// owner provides synchronization.
type Dict[V any] struct {
	tables    [2]table[V]
	rehashIdx int // -1 when not rehashing
	iterators int
	canResize bool
}

// New returns an empty dictionary with auto-resize enabled.
func New[V any]() *Dict[V] {
	d := &Dict[V]{rehashIdx: -1, canResize: true}
	return d
}

// SetResize enables or disables automatic expansion. While disabled, an
// expand still happens once the load factor reaches forcedLoadFactor.
func (d *Dict[V]) SetResize(enable bool) {
	d.canResize = enable
}

// Len reports the number of live entries across both tables.
func (d *Dict[V]) Len() int {
	return d.tables[0].used + d.tables[1].used
}

// IsRehashing reports whether an incremental rehash is in progress.
func (d *Dict[V]) IsRehashing() bool {
	return d.rehashIdx != -1
}

// Add inserts key with val, failing with ErrDuplicateKey when key exists.
func (d *Dict[V]) Add(key string, val V) error {
	if d.IsRehashing() {
		d.rehashStep()
	}
	idx, existing := d.keyIndex(key)
	if existing != nil {
		return ErrDuplicateKey
	}
	d.insert(idx, key, val)
	return nil
}

// Replace binds key to val, inserting if absent, and reports whether the key
// was newly added.
func (d *Dict[V]) Replace(key string, val V) bool {
	if d.IsRehashing() {
		d.rehashStep()
	}
	idx, existing := d.keyIndex(key)
	if existing != nil {
		existing.val = val
		return false
	}
	d.insert(idx, key, val)
	return true
}

// Find returns the value bound to key. During rehash both tables are
// consulted, old table first.
func (d *Dict[V]) Find(key string) (V, bool) {
	var zero V
	if d.Len() == 0 {
		return zero, false
	}
	if d.IsRehashing() {
		d.rehashStep()
	}
	h := xxhash.Sum64String(key)
	for t := 0; t <= 1; t++ {
		ht := &d.tables[t]
		if ht.buckets == nil {
			break
		}
		for e := ht.buckets[h&ht.mask]; e != nil; e = e.next {
			if e.key == key {
				return e.val, true
			}
		}
		if !d.IsRehashing() {
			break
		}
	}
	return zero, false
}

// Remove deletes key and reports whether an entry was removed.
func (d *Dict[V]) Remove(key string) bool {
	if d.Len() == 0 {
		return false
	}
	if d.IsRehashing() {
		d.rehashStep()
	}
	h := xxhash.Sum64String(key)
	for t := 0; t <= 1; t++ {
		ht := &d.tables[t]
		if ht.buckets == nil {
			break
		}
		idx := h & ht.mask
		var prev *entry[V]
		for e := ht.buckets[idx]; e != nil; e = e.next {
			if e.key == key {
				if prev != nil {
					prev.next = e.next
				} else {
					ht.buckets[idx] = e.next
				}
				ht.used--
				return true
			}
			prev = e
		}
		if !d.IsRehashing() {
			break
		}
	}
	return false
}

// Rehash advances the incremental rehash by up to n non-empty slots,
// visiting at most 10·n empty slots, and reports whether rehashing is still
// in progress afterwards.
func (d *Dict[V]) Rehash(n int) bool {
	emptyVisits := n * 10
	if !d.IsRehashing() {
		return false
	}

	src, dst := &d.tables[0], &d.tables[1]
	for ; n > 0 && src.used != 0; n-- {
		for src.buckets[d.rehashIdx] == nil {
			d.rehashIdx++
			emptyVisits--
			if emptyVisits == 0 {
				return true
			}
		}
		e := src.buckets[d.rehashIdx]
		for e != nil {
			next := e.next
			idx := xxhash.Sum64String(e.key) & dst.mask
			e.next = dst.buckets[idx]
			dst.buckets[idx] = e
			src.used--
			dst.used++
			e = next
		}
		src.buckets[d.rehashIdx] = nil
		d.rehashIdx++
	}

	if src.used == 0 {
		d.tables[0] = d.tables[1]
		d.tables[1].reset()
		d.rehashIdx = -1
		return false
	}
	return true
}

// Each calls fn for every entry. The rehash cursor is frozen for the
// duration so the walk observes a stable layout; fn must not mutate the
// dictionary.
func (d *Dict[V]) Each(fn func(key string, val V)) {
	d.iterators++
	defer func() { d.iterators-- }()
	for t := 0; t <= 1; t++ {
		for _, head := range d.tables[t].buckets {
			for e := head; e != nil; e = e.next {
				fn(e.key, e.val)
			}
		}
		if !d.IsRehashing() {
			break
		}
	}
}

// rehashStep performs one unit of rehash work unless an iterator is active.
func (d *Dict[V]) rehashStep() {
	if d.iterators == 0 {
		d.Rehash(1)
	}
}

// insert places a new entry at the head of the chain for idx. During rehash
// the index refers to the new table.
func (d *Dict[V]) insert(idx uint64, key string, val V) {
	ht := &d.tables[0]
	if d.IsRehashing() {
		ht = &d.tables[1]
	}
	ht.buckets[idx] = &entry[V]{key: key, val: val, next: ht.buckets[idx]}
	ht.used++
}

// keyIndex resolves the bucket index a new entry for key would occupy,
// expanding first when needed. If the key already exists, its entry is
// returned instead.
func (d *Dict[V]) keyIndex(key string) (uint64, *entry[V]) {
	d.expandIfNeeded()
	h := xxhash.Sum64String(key)
	var idx uint64
	for t := 0; t <= 1; t++ {
		ht := &d.tables[t]
		idx = h & ht.mask
		for e := ht.buckets[idx]; e != nil; e = e.next {
			if e.key == key {
				return idx, e
			}
		}
		if !d.IsRehashing() {
			break
		}
	}
	return idx, nil
}

// expandIfNeeded grows the table when the load factor reaches 1 (or
// forcedLoadFactor while auto-resize is off).
func (d *Dict[V]) expandIfNeeded() {
	if d.IsRehashing() {
		return
	}
	ht := &d.tables[0]
	if ht.buckets == nil {
		d.expand(initialSize)
		return
	}
	if ht.used >= len(ht.buckets) {
		if d.canResize || ht.used/len(ht.buckets) >= forcedLoadFactor {
			d.expand(ht.used * 2)
		}
	}
}

// expand allocates a table of the next power of two >= size. The first
// expand fills table 0 directly; later ones start an incremental rehash
// into table 1.
func (d *Dict[V]) expand(size int) {
	realSize := nextPower(size)
	n := table[V]{
		buckets: make([]*entry[V], realSize),
		mask:    uint64(realSize - 1),
	}
	if d.tables[0].buckets == nil {
		d.tables[0] = n
		return
	}
	d.tables[1] = n
	d.rehashIdx = 0
}

func nextPower(size int) int {
	i := initialSize
	for i < size {
		i *= 2
	}
	return i
}
