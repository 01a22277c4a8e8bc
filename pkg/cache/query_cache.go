// pkg/cache/query_cache.go
// ValueCache is the recency cache sitting in front of the Value Store: a
// lookup consults it first, populates it on miss, and invalidates a key on
// every write to that same key. It is sharded by key hash (using
// zeebo/xxh3, a fast non-cryptographic hasher) so concurrent readers
// touching different keys don't contend on one mutex. LRU bookkeeping
// (container/list + map, most-recently-used at front) mirrors a
// standard sharded LRU design.
package cache

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/zeebo/xxh3"
)

// DefaultCapacity is the default total number of entries across all shards.
const DefaultCapacity = 1024

const shardCount = 16

// cacheEntry holds a cached value and its LRU element within one shard.
type cacheEntry struct {
	key     int64
	value   []byte
	element *list.Element
}

type shard struct {
	mu       sync.Mutex
	capacity int
	entries  map[int64]*cacheEntry
	lru      *list.List
	hits     int64
	misses   int64
}

// ValueCache is an LRU cache mapping key -> encoded value.
type ValueCache struct {
	shards [shardCount]*shard
	budget *MemoryBudget
}

const memoryBudgetComponent = "value_cache"

// New creates a ValueCache with the given total capacity spread evenly
// across shards. If capacity is 0 or negative, DefaultCapacity is used.
func New(capacity int) *ValueCache {
	return NewWithBudget(capacity, nil)
}

// NewWithBudget creates a ValueCache that additionally reports its cached
// byte footprint to budget under the "value_cache" component, so a process
// embedding multiple caches can track and react to aggregate memory
// pressure. budget may be nil, in which case no tracking occurs.
func NewWithBudget(capacity int, budget *MemoryBudget) *ValueCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}

	if budget != nil {
		budget.RegisterComponent(memoryBudgetComponent)
	}

	vc := &ValueCache{budget: budget}
	for i := range vc.shards {
		vc.shards[i] = &shard{
			capacity: perShard,
			entries:  make(map[int64]*cacheEntry),
			lru:      list.New(),
		}
	}
	return vc
}

func (vc *ValueCache) shardFor(key int64) *shard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	h := xxh3.Hash(buf[:])
	return vc.shards[h%shardCount]
}

// Get returns the cached value for key, if present.
func (vc *ValueCache) Get(key int64) ([]byte, bool) {
	s := vc.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	s.lru.MoveToFront(entry.element)
	s.hits++
	return entry.value, true
}

// Put inserts or refreshes the cached value for key.
func (vc *ValueCache) Put(key int64, value []byte) {
	s := vc.shardFor(key)
	s.mu.Lock()

	if entry, ok := s.entries[key]; ok {
		oldLen := len(entry.value)
		entry.value = value
		s.lru.MoveToFront(entry.element)
		s.mu.Unlock()
		vc.trackDelta(len(value) - oldLen)
		return
	}

	elem := s.lru.PushFront(key)
	s.entries[key] = &cacheEntry{key: key, value: value, element: elem}
	evicted := s.evictIfNeeded()
	s.mu.Unlock()

	vc.trackDelta(len(value) - evicted)
}

// Invalidate removes key from the cache, called on every insert and delete
// so a cached read never serves a value that a subsequent write replaced.
func (vc *ValueCache) Invalidate(key int64) {
	s := vc.shardFor(key)
	s.mu.Lock()
	released := s.removeEntry(key)
	s.mu.Unlock()
	vc.trackDelta(-released)
}

// InvalidateAll clears every shard, used after Compact remaps locators.
func (vc *ValueCache) InvalidateAll() {
	for _, s := range vc.shards {
		s.mu.Lock()
		s.entries = make(map[int64]*cacheEntry)
		s.lru = list.New()
		s.mu.Unlock()
	}
	if vc.budget != nil {
		vc.budget.mu.Lock()
		used := vc.budget.componentUsage[memoryBudgetComponent]
		vc.budget.mu.Unlock()
		vc.budget.Release(memoryBudgetComponent, used)
	}
}

// trackDelta reports a change in cached byte footprint to the memory
// budget, if one was configured via NewWithBudget.
func (vc *ValueCache) trackDelta(delta int) {
	if vc.budget == nil || delta == 0 {
		return
	}
	if delta > 0 {
		vc.budget.Track(memoryBudgetComponent, int64(delta))
	} else {
		vc.budget.Release(memoryBudgetComponent, int64(-delta))
	}
}

// Stats aggregates hit/miss/entry counts across all shards.
type Stats struct {
	Hits     int64
	Misses   int64
	Entries  int
	Capacity int
}

// Stats returns cache statistics aggregated across shards.
func (vc *ValueCache) Stats() Stats {
	var out Stats
	for _, s := range vc.shards {
		s.mu.Lock()
		out.Hits += s.hits
		out.Misses += s.misses
		out.Entries += len(s.entries)
		out.Capacity += s.capacity
		s.mu.Unlock()
	}
	return out
}

// removeEntry deletes key from the shard and returns the number of value
// bytes released, or 0 if key was not present.
func (s *shard) removeEntry(key int64) int {
	entry, ok := s.entries[key]
	if !ok {
		return 0
	}
	s.lru.Remove(entry.element)
	delete(s.entries, key)
	return len(entry.value)
}

// evictIfNeeded evicts least-recently-used entries until the shard is back
// within capacity, returning the total bytes released.
func (s *shard) evictIfNeeded() int {
	released := 0
	for s.lru.Len() > s.capacity {
		elem := s.lru.Back()
		if elem == nil {
			break
		}
		key := elem.Value.(int64)
		released += s.removeEntry(key)
	}
	return released
}
