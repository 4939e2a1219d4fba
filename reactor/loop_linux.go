//go:build linux

// File: reactor/loop_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) event loop.

package reactor

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-upgrade/affinity"
	"github.com/momentics/hioload-upgrade/api"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Loop is a single-threaded epoll event loop. Everything except Post,
// Stop and Stats runs on the goroutine executing Run.
type Loop struct {
	opts   Options
	log    *logrus.Entry
	epfd   int
	wakefd int

	conns     map[int]*Conn
	listeners map[int]*listener
	timers    timerQueue
	readBuf   []byte

	postMu sync.Mutex
	posted []func()
	closed bool

	stopping atomic.Bool
	nconns   atomic.Int64
}

// NewLoop creates the epoll instance and its wake-up eventfd.
func NewLoop(opts Options) (*Loop, error) {
	opts.normalize()
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &Loop{
		opts:      opts,
		log:       opts.Logger.WithField("loop", opts.ID),
		epfd:      epfd,
		wakefd:    wakefd,
		conns:     make(map[int]*Conn),
		listeners: make(map[int]*listener),
		readBuf:   make([]byte, opts.ReadBufferSize),
	}, nil
}

// ID returns the loop's index.
func (l *Loop) ID() int { return l.opts.ID }

// Conns returns the number of open connections.
func (l *Loop) Conns() int64 { return l.nconns.Load() }

// Now implements api.Scheduler.
func (l *Loop) Now() time.Time { return time.Now() }

// AfterFunc implements api.Scheduler. Loop goroutine only.
func (l *Loop) AfterFunc(d time.Duration, fn func()) api.Timer {
	return l.timers.add(time.Now().Add(d), fn)
}

// Post implements api.Poster: fn runs on the loop goroutine soon after.
func (l *Loop) Post(fn func()) error {
	l.postMu.Lock()
	if l.closed {
		l.postMu.Unlock()
		return ErrLoopClosed
	}
	l.posted = append(l.posted, fn)
	err := l.wake()
	l.postMu.Unlock()
	return err
}

// wake bumps the eventfd. Callers hold postMu so shutdown cannot close
// the descriptor underneath the write.
func (l *Loop) wake() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(l.wakefd, one[:])
	if err == unix.EAGAIN {
		// Counter saturated; the loop is going to wake anyway.
		return nil
	}
	return err
}

// Stop asks Run to return. Safe from any goroutine.
func (l *Loop) Stop() {
	if !l.stopping.CompareAndSwap(false, true) {
		return
	}
	l.postMu.Lock()
	if !l.closed {
		_ = l.wake()
	}
	l.postMu.Unlock()
}

// Run drives the loop until ctx is done or Stop is called. Open
// connections are torn down before it returns. The calling goroutine is
// locked to its OS thread and pinned when Options.CPU is set.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if l.opts.CPU >= 0 {
		if err := affinity.Pin(l.opts.CPU); err != nil {
			l.log.WithError(err).Warn("cpu pinning failed")
		}
	}
	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()
	defer l.shutdown()

	l.log.Debug("loop started")
	events := make([]unix.EpollEvent, l.opts.MaxEvents)
	for !l.stopping.Load() {
		timeout := pollTimeout(l.timers.until(time.Now()))
		if l.hasPosted() {
			timeout = 0
		}
		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}
		for i := 0; i < n; i++ {
			l.dispatch(&events[i])
		}
		l.runPosted()
		l.timers.runDue(time.Now(), l.safe)
	}
	return nil
}

func (l *Loop) dispatch(ev *unix.EpollEvent) {
	fd := int(ev.Fd)
	if fd == l.wakefd {
		var buf [8]byte
		_, _ = unix.Read(l.wakefd, buf[:])
		return
	}
	if ln, ok := l.listeners[fd]; ok {
		l.safe(ln.acceptAll)
		return
	}
	c, ok := l.conns[fd]
	if !ok {
		return
	}
	if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		l.safe(c.readable)
	}
	if !c.closed && ev.Events&unix.EPOLLOUT != 0 {
		l.safe(c.h.OnWritable)
	}
}

func (l *Loop) hasPosted() bool {
	l.postMu.Lock()
	defer l.postMu.Unlock()
	return len(l.posted) > 0
}

func (l *Loop) runPosted() {
	l.postMu.Lock()
	fns := l.posted
	l.posted = nil
	l.postMu.Unlock()
	for _, fn := range fns {
		l.safe(fn)
	}
}

// safe runs a callback and keeps the loop alive if it panics.
func (l *Loop) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("loop callback panicked")
		}
	}()
	fn()
}

func (l *Loop) shutdown() {
	l.stopping.Store(true)
	l.postMu.Lock()
	l.closed = true
	fns := l.posted
	l.posted = nil
	unix.Close(l.wakefd)
	l.postMu.Unlock()

	// Callbacks accepted before closing still run.
	for _, fn := range fns {
		l.safe(fn)
	}
	for _, ln := range l.listeners {
		ln.close()
	}
	for _, c := range l.conns {
		l.safe(c.hangup)
	}
	unix.Close(l.epfd)
	l.log.Debug("loop stopped")
}

// Close releases a loop that was never run.
func (l *Loop) Close() {
	if l.stopping.Load() {
		return
	}
	l.shutdown()
}

// CloseListeners stops accepting on every listener of the loop.
// Loop goroutine only; use Post from elsewhere.
func (l *Loop) CloseListeners() {
	for _, ln := range l.listeners {
		ln.close()
	}
}

// Range calls fn for every open connection. Loop goroutine only.
func (l *Loop) Range(fn func(c *Conn)) {
	for _, c := range l.conns {
		fn(c)
	}
}

func (l *Loop) register(c *Conn) error {
	ev := unix.EpollEvent{Events: c.events, Fd: int32(c.fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, c.fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	l.conns[c.fd] = c
	l.nconns.Add(1)
	return nil
}

func (l *Loop) unregister(c *Conn) {
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	if l.conns[c.fd] == c {
		delete(l.conns, c.fd)
		l.nconns.Add(-1)
	}
}
