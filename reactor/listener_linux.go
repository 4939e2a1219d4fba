//go:build linux

// File: reactor/listener_linux.go
// Author: momentics <momentics@gmail.com>
//
// SO_REUSEPORT listening sockets, one per loop, so the kernel spreads
// incoming connections across loops.

package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

type listener struct {
	l      *Loop
	fd     int
	addr   net.Addr
	accept AcceptFunc
	closed bool
}

// Listen binds addr ("host:port") and accepts connections on this loop.
// It returns the bound address, which carries the real port when addr
// asked for port 0. Must be called before Run or from the loop goroutine.
func (l *Loop) Listen(addr string, accept AcceptFunc) (net.Addr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	domain, sa := unix.AF_INET, unix.Sockaddr(nil)
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		in4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 != nil {
			copy(in4.Addr[:], ip4)
		}
		sa = in4
	} else {
		domain = unix.AF_INET6
		in6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(in6.Addr[:], tcpAddr.IP.To16())
		sa = in6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (net.Addr, error) {
		unix.Close(fd)
		return nil, fmt.Errorf("%s %s: %w", op, addr, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fail("setsockopt SO_REUSEPORT", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	backlog := l.opts.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fail("epoll ctl add", err)
	}
	ln := &listener{l: l, fd: fd, addr: sockaddrToTCP(bound), accept: accept}
	l.listeners[fd] = ln
	l.log.WithField("addr", ln.addr).Info("listening")
	return ln.addr, nil
}

func (ln *listener) acceptAll() {
	for !ln.closed {
		nfd, sa, err := unix.Accept4(ln.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN, unix.ECONNABORTED:
				return
			case unix.EINTR:
				continue
			default:
				ln.l.log.WithError(err).Warn("accept failed")
				return
			}
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		c := &Conn{
			l:      ln.l,
			fd:     nfd,
			remote: sockaddrToTCP(sa),
			events: unix.EPOLLIN | unix.EPOLLRDHUP,
		}
		if local, err := unix.Getsockname(nfd); err == nil {
			c.local = sockaddrToTCP(local)
		}
		c.h = ln.accept(c)
		if c.h == nil {
			unix.Close(nfd)
			continue
		}
		if err := ln.l.register(c); err != nil {
			ln.l.log.WithError(err).Warn("register connection")
			c.h.OnTransportClosed()
			unix.Close(nfd)
		}
	}
}

func (ln *listener) close() {
	if ln.closed {
		return
	}
	ln.closed = true
	_ = unix.EpollCtl(ln.l.epfd, unix.EPOLL_CTL_DEL, ln.fd, nil)
	unix.Close(ln.fd)
	delete(ln.l.listeners, ln.fd)
}

func sockaddrToTCP(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	}
	return nil
}
