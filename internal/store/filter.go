package store

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// filter is a counting existence filter with a single hash position per
// key. False positives are expected and harmless; a live key never reads
// as absent. The trie stays authoritative — the filter is a hint that
// short-circuits lookups for keys the store has never seen.
type filter struct {
	buckets []uint32
}

func newFilter(size int) *filter {
	return &filter{buckets: make([]uint32, size)}
}

func (f *filter) bucket(key string) *uint32 {
	return &f.buckets[xxhash.Sum64String(key)%uint64(len(f.buckets))]
}

// insert increments the key's bucket, saturating instead of wrapping.
func (f *filter) insert(key string) {
	b := f.bucket(key)
	if *b < math.MaxUint32 {
		*b++
	}
}

// remove decrements the key's bucket when positive. A saturated bucket may
// retain an inflated count; that only widens the false-positive set.
func (f *filter) remove(key string) {
	b := f.bucket(key)
	if *b > 0 {
		*b--
	}
}

func (f *filter) contains(key string) bool {
	return *f.bucket(key) > 0
}
