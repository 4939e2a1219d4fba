//go:build linux

// File: reactor/conn_linux.go
// Author: momentics <momentics@gmail.com>
//
// Accepted socket registered with a loop. Implements api.Transport and
// api.Poller on top of the raw file descriptor.

package reactor

import (
	"net"

	"github.com/momentics/hioload-upgrade/api"
	"golang.org/x/sys/unix"
)

// maxReadsPerEvent bounds how long one busy connection can hold the loop.
const maxReadsPerEvent = 16

// Conn is a non-blocking TCP connection owned by a Loop.
type Conn struct {
	l      *Loop
	fd     int
	h      Handler
	local  net.Addr
	remote net.Addr
	events uint32
	closed bool
}

var (
	_ api.Transport = (*Conn)(nil)
	_ api.Poller    = (*Conn)(nil)
)

// Loop returns the loop owning the connection.
func (c *Conn) Loop() *Loop { return c.l }

// Handler returns the connection's handler.
func (c *Conn) Handler() Handler { return c.h }

// Writev implements api.Transport.
func (c *Conn) Writev(bufs [][]byte) (int, error) {
	if c.closed {
		return 0, api.ErrTransportClosed
	}
	for {
		n, err := unix.Writev(c.fd, bufs)
		if n < 0 {
			n = 0
		}
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			if n == 0 {
				continue
			}
			return n, nil
		case unix.EAGAIN:
			return n, api.ErrWouldBlock
		default:
			return n, err
		}
	}
}

// SetInterest implements api.Poller.
func (c *Conn) SetInterest(read, write bool) error {
	if c.closed {
		return api.ErrTransportClosed
	}
	// EPOLLHUP and EPOLLERR are always reported; RDHUP only matters while
	// reading, or a half-closed peer would spin a paused connection.
	var events uint32
	if read {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if write {
		events |= unix.EPOLLOUT
	}
	if events == c.events {
		return nil
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(c.fd)}
	if err := unix.EpollCtl(c.l.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev); err != nil {
		return err
	}
	c.events = events
	return nil
}

// Close implements api.Transport. It deregisters and closes the socket
// without notifying the handler.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.l.unregister(c)
	return unix.Close(c.fd)
}

func (c *Conn) LocalAddr() net.Addr  { return c.local }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

func (c *Conn) readable() {
	if c.events&unix.EPOLLIN == 0 {
		// Reads are paused, so only EPOLLHUP or EPOLLERR got us here.
		c.hangup()
		return
	}
	buf := c.l.readBuf
	for i := 0; i < maxReadsPerEvent && !c.closed; i++ {
		n, err := unix.Read(c.fd, buf)
		switch {
		case n > 0:
			c.h.OnBytesReceived(buf[:n])
			if n < len(buf) || c.events&unix.EPOLLIN == 0 {
				return
			}
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return
		default:
			// n == 0 is EOF; anything else is a read error.
			if err != nil {
				c.l.log.WithError(err).Debug("read failed")
			}
			c.hangup()
			return
		}
	}
}

// hangup reports the peer's disappearance to the handler and releases
// the socket.
func (c *Conn) hangup() {
	if c.closed {
		return
	}
	c.h.OnTransportClosed()
	_ = c.Close()
}
