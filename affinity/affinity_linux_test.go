//go:build linux

// File: affinity/affinity_linux_test.go
// Author: momentics <momentics@gmail.com>

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinToAllowedCPU(t *testing.T) {
	// Left locked: the pinned thread is discarded when the test goroutine exits.
	runtime.LockOSThread()

	before, err := Allowed()
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, Pin(before[0]))
	after, err := Allowed()
	require.NoError(t, err)
	assert.Equal(t, []int{before[0]}, after)
}

func TestCPUForWraps(t *testing.T) {
	n := runtime.NumCPU()
	assert.Equal(t, 0, CPUFor(0))
	assert.Equal(t, 0, CPUFor(n))
	assert.Equal(t, 1%n, CPUFor(n+1))
}
