// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the core interfaces.

package fake

import (
	"bytes"
	"net"
	"sync"

	"github.com/momentics/hioload-upgrade/api"
)

// Transport is a fake implementation of api.Transport for testing.
// It records everything written and can simulate a full socket buffer or
// a failing peer.
type Transport struct {
	mu         sync.Mutex
	out        bytes.Buffer
	writes     int
	capacity   int // bytes accepted per Writev; 0 means unlimited
	blocked    bool
	writeError error
	closeError error
	closed     bool
	closeCalls int
	local      net.Addr
	remote     net.Addr
}

// NewTransport creates a new fake transport with default settings.
func NewTransport() *Transport {
	return &Transport{
		local:  &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080},
		remote: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000},
	}
}

// Writev implements api.Transport.Writev.
func (t *Transport) Writev(bufs [][]byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, api.ErrTransportClosed
	}
	t.writes++
	if t.writeError != nil {
		return 0, t.writeError
	}
	if t.blocked {
		return 0, api.ErrWouldBlock
	}
	n := 0
	for _, b := range bufs {
		if t.capacity > 0 && n+len(b) > t.capacity {
			part := t.capacity - n
			t.out.Write(b[:part])
			return n + part, api.ErrWouldBlock
		}
		t.out.Write(b)
		n += len(b)
	}
	return n, nil
}

// Close implements api.Transport.Close.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	t.closed = true
	return t.closeError
}

// LocalAddr implements api.Transport.LocalAddr.
func (t *Transport) LocalAddr() net.Addr { return t.local }

// RemoteAddr implements api.Transport.RemoteAddr.
func (t *Transport) RemoteAddr() net.Addr { return t.remote }

// SetCapacity limits how many bytes a single Writev accepts (0 = unlimited).
func (t *Transport) SetCapacity(n int) {
	t.mu.Lock()
	t.capacity = n
	t.mu.Unlock()
}

// SetBlocked makes Writev report ErrWouldBlock without accepting anything.
func (t *Transport) SetBlocked(blocked bool) {
	t.mu.Lock()
	t.blocked = blocked
	t.mu.Unlock()
}

// SetWriteError configures an error to be returned on Writev.
func (t *Transport) SetWriteError(err error) {
	t.mu.Lock()
	t.writeError = err
	t.mu.Unlock()
}

// SetCloseError configures an error to be returned on Close.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	t.closeError = err
	t.mu.Unlock()
}

// Bytes returns a copy of everything written so far.
func (t *Transport) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.out.Bytes())
}

// Take returns everything written so far and forgets it.
func (t *Transport) Take() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := bytes.Clone(t.out.Bytes())
	t.out.Reset()
	return b
}

// Writes returns the number of Writev calls.
func (t *Transport) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// IsClosed returns whether the transport has been closed.
func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseCalls returns how many times Close was called.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}
