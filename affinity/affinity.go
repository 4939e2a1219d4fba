// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for event loop threads. Platform code lives in
// affinity_linux.go and affinity_other.go.

package affinity

import "runtime"

// Pin binds the calling OS thread to the logical CPU cpu. The caller must
// hold runtime.LockOSThread for the pinning to stick to its goroutine.
func Pin(cpu int) error {
	return pin(cpu)
}

// CPUFor spreads loop index i over the available CPUs.
func CPUFor(i int) int {
	n := runtime.NumCPU()
	if n <= 0 {
		return 0
	}
	return i % n
}
