// Package api
// Author: momentics
//
// Scheduler contract for loop-owned timers and cross-goroutine callbacks.

package api

import "time"

// Timer is a pending scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call stopped
	// the timer, false if it already fired or was stopped.
	Stop() bool
}

// Scheduler runs callbacks on the owning event loop.
// AfterFunc and Now must only be used from the loop goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Poster hands a callback to the loop from any goroutine.
type Poster interface {
	Post(fn func()) error
}
