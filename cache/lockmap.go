/*
Copyright (C) 2025-2026  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package cache implements the lock manager & bounded cache (C10): a
// size-bounded map of per-key async-aware RW locks, generalized from
// the teacher's cachemap.go (a bucketed, per-entry-lastUsed map) to hold
// locks instead of scm values, and its shared_resource.go state
// machine for the lazily-loaded metadata each lock guards.
package cache

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"
)

const numBuckets = 64

// LockEntry is one cached per-key RW lock plus bookkeeping for safe
// eviction: a bucket may only drop an entry whose strong reference
// count is exactly the map's own (spec §5, §9 "Cache with bounded
// size and safe eviction").
type LockEntry[V any] struct {
	mu       sync.RWMutex
	refs     atomic.Int32
	lastUsed atomic.Int64 // UnixNano
	Value    V
}

// Lock acquires the entry's write lock (a segment/partition/table/
// deletion/compaction metadata write, per the lock hierarchy in spec §5).
func (e *LockEntry[V]) Lock()    { e.mu.Lock(); e.touch() }
func (e *LockEntry[V]) Unlock()  { e.mu.Unlock() }
func (e *LockEntry[V]) RLock()   { e.mu.RLock(); e.touch() }
func (e *LockEntry[V]) RUnlock() { e.mu.RUnlock() }

func (e *LockEntry[V]) touch() { e.lastUsed.Store(time.Now().UnixNano()) }

// release drops one strong reference acquired via LockMap.Get.
func (e *LockEntry[V]) release() { e.refs.Add(-1) }

type bucket[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*LockEntry[V]
}

// LockMap is a bucketed, size-bounded cache of per-key *LockEntry
// values. New() takes a factory producing the zero Value for a
// first-seen key and a per-bucket capacity; once a bucket exceeds
// capacity, entries with zero outstanding references are pruned,
// oldest-used first.
type LockMap[K comparable, V any] struct {
	seed       maphash.Seed
	hashKey    func(maphash.Seed, K) uint64
	buckets    [numBuckets]bucket[K, V]
	perBucketCap int
	newValue   func(K) V
}

// New creates a LockMap. hashKey must be a stable hash of K (callers
// typically close over maphash.Bytes/maphash.String on a serialized
// form of K); perBucketCap bounds how many entries one bucket holds
// before pruning kicks in.
func New[K comparable, V any](hashKey func(maphash.Seed, K) uint64, perBucketCap int, newValue func(K) V) *LockMap[K, V] {
	lm := &LockMap[K, V]{
		seed:         maphash.MakeSeed(),
		hashKey:      hashKey,
		perBucketCap: perBucketCap,
		newValue:     newValue,
	}
	for i := range lm.buckets {
		lm.buckets[i].entries = make(map[K]*LockEntry[V])
	}
	return lm
}

func (lm *LockMap[K, V]) bucketFor(key K) *bucket[K, V] {
	h := lm.hashKey(lm.seed, key)
	return &lm.buckets[h%uint64(numBuckets)]
}

// Get returns the cached entry for key (creating one via newValue on
// first access), with one strong reference held on behalf of the
// caller. Callers MUST call the returned release func when done.
func (lm *LockMap[K, V]) Get(key K) (*LockEntry[V], func()) {
	b := lm.bucketFor(key)
	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok {
		e = &LockEntry[V]{Value: lm.newValue(key)}
		e.touch()
		b.entries[key] = e
		if len(b.entries) > lm.perBucketCap {
			b.prune(lm.perBucketCap)
		}
	}
	e.refs.Add(1)
	b.mu.Unlock()
	return e, func() { e.release() }
}

// prune drops the oldest-used entries with zero outstanding strong
// references until the bucket is back at targetCap. Must be called
// with b.mu held.
func (b *bucket[K, V]) prune(targetCap int) {
	type cand struct {
		key      K
		lastUsed int64
	}
	var evictable []cand
	for k, e := range b.entries {
		if e.refs.Load() == 0 {
			evictable = append(evictable, cand{k, e.lastUsed.Load()})
		}
	}
	target := len(b.entries) - targetCap
	if target <= 0 {
		return
	}
	for i := 0; i < len(evictable) && i < target; i++ {
		oldest := 0
		for j := 1; j < len(evictable); j++ {
			if evictable[j].lastUsed < evictable[oldest].lastUsed {
				oldest = j
			}
		}
		delete(b.entries, evictable[oldest].key)
		evictable[oldest] = evictable[len(evictable)-1]
		evictable = evictable[:len(evictable)-1]
	}
}

// Remove drops key from the cache unconditionally (used when a
// segment/partition/table is dropped and its lock will never be
// acquired again).
func (lm *LockMap[K, V]) Remove(key K) {
	b := lm.bucketFor(key)
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
}

// Len reports the total number of cached entries across all buckets,
// for tests and diagnostics.
func (lm *LockMap[K, V]) Len() int {
	n := 0
	for i := range lm.buckets {
		lm.buckets[i].mu.Lock()
		n += len(lm.buckets[i].entries)
		lm.buckets[i].mu.Unlock()
	}
	return n
}

// HashString is a ready-made hashKey for string-keyed LockMaps (table
// names, segment-key path strings).
func HashString(seed maphash.Seed, s string) uint64 {
	return maphash.String(seed, s)
}
