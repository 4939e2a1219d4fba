// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded event loop connections live on:
// epoll readiness, non-blocking accept/read/writev, an eventfd wake-up for
// cross-goroutine posts and a loop-owned timer heap. Linux only; other
// platforms get a stub reporting api.ErrNotSupported.
package reactor
