// Package hashring places shard addresses on a consistent-hash ring.
// Routing walks to the successor position of a key's hash, wrapping to the
// smallest position, so adding or removing a shard only reassigns the keys
// whose successor changes.
package hashring

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Shard is a back-end server address.
type Shard struct {
	IP   string
	Port int
}

// Addr returns the dialable "host:port" form.
func (s Shard) Addr() string {
	return s.IP + ":" + strconv.Itoa(s.Port)
}

type member struct {
	position uint32
	shard    Shard
}

// HashRing maps keys to shards. Each shard occupies a single ring position
// derived from its address.
type HashRing struct {
	mu      sync.Mutex
	members []member
}

// New returns an empty ring.
func New() *HashRing {
	return &HashRing{}
}

// Size reports the number of shards on the ring.
func (hr *HashRing) Size() int {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	return len(hr.members)
}

// Position returns the ring position for an address string, the key hash
// masked into the non-negative 31-bit hash space.
func Position(s string) uint32 {
	return uint32(xxhash.Sum64String(s)) & 0x7FFFFFFF
}

// Add places shard on the ring at the position of its address. Adding the
// same address twice is a no-op.
func (hr *HashRing) Add(shard Shard) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	pos := Position(shard.Addr())
	for _, m := range hr.members {
		if m.position == pos {
			return
		}
	}
	hr.members = append(hr.members, member{position: pos, shard: shard})
	sort.Slice(hr.members, func(i, j int) bool {
		return hr.members[i].position < hr.members[j].position
	})
}

// Remove takes the shard with the given address off the ring.
func (hr *HashRing) Remove(addr string) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	pos := Position(addr)
	for i, m := range hr.members {
		if m.position == pos {
			hr.members = append(hr.members[:i], hr.members[i+1:]...)
			return
		}
	}
}

// Get returns the shard responsible for key: the member at the successor of
// the key's ring position, wrapping around to the smallest position.
func (hr *HashRing) Get(key string) (Shard, bool) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if len(hr.members) == 0 {
		return Shard{}, false
	}

	pos := Position(key)
	index := sort.Search(len(hr.members), func(i int) bool {
		return hr.members[i].position >= pos
	})
	if index == len(hr.members) {
		index = 0
	}
	return hr.members[index].shard, true
}
