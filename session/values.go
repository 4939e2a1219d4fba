// Package session
// Author: momentics <momentics@gmail.com>
//
// Thread-safe attribute store attached to every session, so handlers and
// offloaded workers can share per-connection state.

package session

import (
	"sort"
	"sync"
)

// Values holds arbitrary per-session attributes.
type Values struct {
	mu    sync.RWMutex
	store map[string]any
}

func newValues() *Values {
	return &Values{store: make(map[string]any)}
}

// Set stores a key-value pair.
func (v *Values) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.store[key] = value
}

// Get retrieves a value and its existence.
func (v *Values) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.store[key]
	return val, ok
}

// Delete removes a key.
func (v *Values) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.store, key)
}

// Keys returns all keys in sorted order.
func (v *Values) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.store))
	for k := range v.store {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
