// File: internal/registry/registry_test.go
// Author: momentics <momentics@gmail.com>

package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := New[string](3)
	assert.Len(t, r.shards, 4)

	assert.True(t, r.Add(1, "a"))
	assert.False(t, r.Add(1, "b"))
	v, ok := r.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove(1))
	assert.False(t, r.Remove(1))
	_, ok = r.Get(1)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistryConcurrentAndRange(t *testing.T) {
	r := New[int](16)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				id := uint64(w*1000 + i)
				r.Add(id, int(id))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 1000, r.Len())

	sum := 0
	r.Range(func(id uint64, v int) {
		sum++
		assert.Equal(t, int(id), v)
		r.Remove(id)
	})
	assert.Equal(t, 1000, sum)
	assert.Zero(t, r.Len())
}
