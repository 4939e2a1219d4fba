// File: internal/registry/registry.go
// Package registry
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe index of live connections. Event loops add and
// remove entries from their own goroutines while the server reads counts
// and walks entries from others.

package registry

import (
	"sync"
	"sync/atomic"
)

// Registry maps identifiers to values of type T.
type Registry[T any] struct {
	shards []*shard[T]
	mask   uint64
	size   atomic.Int64
}

type shard[T any] struct {
	mu      sync.RWMutex
	entries map[uint64]T
}

// New constructs a registry with shardCount shards, rounded up to a
// power of two.
func New[T any](shardCount int) *Registry[T] {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint64(shardCount))
	shards := make([]*shard[T], m)
	for i := range shards {
		shards[i] = &shard[T]{entries: make(map[uint64]T)}
	}
	return &Registry[T]{shards: shards, mask: m - 1}
}

// Identifiers are sequential, so the low bits spread evenly.
func (r *Registry[T]) shard(id uint64) *shard[T] {
	return r.shards[id&r.mask]
}

// Add stores v under id. It reports false if id was already present.
func (r *Registry[T]) Add(id uint64, v T) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[id]; ok {
		return false
	}
	sh.entries[id] = v
	r.size.Add(1)
	return true
}

// Get fetches an entry if present.
func (r *Registry[T]) Get(id uint64) (T, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.entries[id]
	return v, ok
}

// Remove deletes id and reports whether it was present.
func (r *Registry[T]) Remove(id uint64) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[id]; !ok {
		return false
	}
	delete(sh.entries, id)
	r.size.Add(-1)
	return true
}

// Len returns the number of entries.
func (r *Registry[T]) Len() int {
	return int(r.size.Load())
}

// Range applies fn to a snapshot of every shard; fn may call Remove.
func (r *Registry[T]) Range(fn func(id uint64, v T)) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		ids := make([]uint64, 0, len(sh.entries))
		vals := make([]T, 0, len(sh.entries))
		for id, v := range sh.entries {
			ids = append(ids, id)
			vals = append(vals, v)
		}
		sh.mu.RUnlock()
		for i := range ids {
			fn(ids[i], vals[i])
		}
	}
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
