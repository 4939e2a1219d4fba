// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Transport abstraction owned by a connection. Implementations are
// non-blocking: Writev never waits for socket buffer space.

package api

import "net"

// Transport is the outbound half of an accepted connection plus its teardown.
// Inbound bytes are pushed by the event loop, so there is no Read here.
type Transport interface {
	// Writev writes as much of bufs as the kernel accepts without blocking.
	// It returns ErrWouldBlock (possibly with n > 0) when the socket is full.
	Writev(bufs [][]byte) (n int, err error)

	// Close shuts the connection down. Safe to call more than once.
	Close() error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Poller adjusts which readiness events the loop reports for a connection.
type Poller interface {
	SetInterest(read, write bool) error
}
