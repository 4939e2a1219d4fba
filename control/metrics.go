// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Counters and gauges reported by connections and sessions.

package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-upgrade/api"
)

// MetricsRegistry holds int64 counters and gauges keyed by name. Values
// are atomics so the hot path only takes the read lock.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]*atomic.Int64
	updated atomic.Int64 // unix nanos of the last write
}

var _ api.Metrics = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]*atomic.Int64),
	}
}

func (mr *MetricsRegistry) slot(key string) *atomic.Int64 {
	mr.mu.RLock()
	v, ok := mr.metrics[key]
	mr.mu.RUnlock()
	if ok {
		return v
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if v, ok = mr.metrics[key]; !ok {
		v = new(atomic.Int64)
		mr.metrics[key] = v
	}
	return v
}

// Add adjusts a counter or gauge by delta.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	mr.slot(key).Add(delta)
	mr.updated.Store(time.Now().UnixNano())
}

// Set overwrites a gauge.
func (mr *MetricsRegistry) Set(key string, value int64) {
	mr.slot(key).Store(value)
	mr.updated.Store(time.Now().UnixNano())
}

// Get returns the current value of key, zero if never reported.
func (mr *MetricsRegistry) Get(key string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if v, ok := mr.metrics[key]; ok {
		return v.Load()
	}
	return 0
}

// GetSnapshot returns a copy of all metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v.Load()
	}
	return out
}

// Updated is the time of the last write, zero if none.
func (mr *MetricsRegistry) Updated() time.Time {
	ns := mr.updated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
