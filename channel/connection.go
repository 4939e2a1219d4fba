// File: channel/connection.go
// Package channel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection multiplexes plain request/response mode and an upgraded
// WebSocket session over one transport.

package channel

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-upgrade/api"
	"github.com/momentics/hioload-upgrade/protocol"
	"github.com/momentics/hioload-upgrade/session"
	"github.com/momentics/hioload-upgrade/transport"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "channel")

// Mode tags which handler owns inbound bytes.
type Mode uint8

const (
	ModePlain Mode = iota
	ModeUpgrading
	ModeSession
)

func (m Mode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeUpgrading:
		return "upgrading"
	case ModeSession:
		return "session"
	default:
		return "unknown"
	}
}

// dispatch routes inbound bytes by mode.
var dispatch = [...]func(c *Connection, p []byte){
	ModePlain:     (*Connection).receivePlain,
	ModeUpgrading: (*Connection).receiveUpgrading,
	ModeSession:   (*Connection).receiveSession,
}

// Loop is the event loop a connection lives on.
type Loop interface {
	api.Scheduler
	api.Poster
}

var lastID atomic.Uint64

// Connection is owned by one event loop. Apart from Post, its methods
// must only be called from that loop.
type Connection struct {
	id     uint64
	cfg    *Config
	tr     api.Transport
	poller api.Poller
	loop   Loop
	out    *transport.WriteScheduler
	log    *logrus.Entry

	mode  Mode
	plain PlainHandler
	sess  *session.Session
	held  []byte // bytes that arrived while upgrading

	torn        bool
	readsPaused bool
	wantRead    bool
	wantWrite   bool
	lastPending int64
}

// New wraps an accepted transport. The connection starts in plain mode.
func New(tr api.Transport, poller api.Poller, loop Loop, cfg *Config) *Connection {
	cfg.normalize()
	c := &Connection{
		id:       lastID.Add(1),
		cfg:      cfg,
		tr:       tr,
		poller:   poller,
		loop:     loop,
		out:      transport.NewWriteScheduler(cfg.MaxBatch),
		wantRead: true,
	}
	fields := logrus.Fields{"conn": c.id}
	if ra := tr.RemoteAddr(); ra != nil {
		fields["remote"] = ra.String()
	}
	c.log = cfg.Logger.WithFields(fields)
	c.plain = cfg.NewPlain(c)
	cfg.Metrics.Add(api.MetricConnAccepted, 1)
	cfg.Metrics.Add(api.MetricConnActive, 1)
	c.log.Debug("connection accepted")
	return c
}

// ID returns the process-unique connection identifier.
func (c *Connection) ID() uint64 { return c.id }

// Mode returns the current mode.
func (c *Connection) Mode() Mode { return c.mode }

// Session returns the installed session, or nil before an upgrade.
func (c *Connection) Session() *session.Session { return c.sess }

// Closed reports whether the connection was torn down.
func (c *Connection) Closed() bool { return c.torn }

// Pending is the number of queued outbound bytes.
func (c *Connection) Pending() int64 { return c.out.Pending() }

// ReadsPaused reports whether reads are throttled by back-pressure.
func (c *Connection) ReadsPaused() bool { return c.readsPaused }

func (c *Connection) LocalAddr() net.Addr  { return c.tr.LocalAddr() }
func (c *Connection) RemoteAddr() net.Addr { return c.tr.RemoteAddr() }

// OnBytesReceived hands inbound bytes to the handler of the current mode.
// p is only valid for the duration of the call.
func (c *Connection) OnBytesReceived(p []byte) {
	if c.torn || len(p) == 0 {
		return
	}
	c.cfg.Metrics.Add(api.MetricBytesIn, int64(len(p)))
	c.route(p)
	c.Flush()
}

func (c *Connection) route(p []byte) {
	dispatch[c.mode](c, p)
}

func (c *Connection) receivePlain(p []byte) {
	c.invokePlain("received", func() { c.plain.Received(c, p) })
}

func (c *Connection) receiveUpgrading(p []byte) {
	c.held = append(c.held, p...)
}

func (c *Connection) receiveSession(p []byte) {
	c.sess.Process(p)
}

// beginUpgrade parks inbound bytes until AttemptUpgrade settles the mode.
func (c *Connection) beginUpgrade() {
	if c.mode == ModePlain {
		c.mode = ModeUpgrading
	}
}

// AttemptUpgrade negotiates a WebSocket upgrade for req. On success the
// 101 response is queued, the connection switches to session mode for
// good, the session is opened and any bytes held during the switch are
// replayed into it. On failure the connection returns to plain mode and
// the error says how to answer (see protocol.HandshakeError).
func (c *Connection) AttemptUpgrade(req *http.Request) (*session.Session, error) {
	switch {
	case c.torn:
		return nil, api.ErrTransportClosed
	case c.mode == ModeSession:
		return nil, api.ErrAlreadyUpgraded
	}
	c.mode = ModeUpgrading

	neg, err := c.cfg.Negotiator.Negotiate(req)
	if err != nil {
		return nil, c.abandonUpgrade(err)
	}
	h, err := c.cfg.Acceptor.Accept(req, neg)
	if err != nil {
		var he *protocol.HandshakeError
		if !errors.As(err, &he) {
			err = &protocol.HandshakeError{Status: http.StatusForbidden, Err: err}
		}
		return nil, c.abandonUpgrade(err)
	}
	if err := c.out.Enqueue(neg.Response); err != nil {
		return nil, c.abandonUpgrade(err)
	}

	opts := c.cfg.Session
	opts.Protocol = neg.Protocol
	opts.Extensions = neg.Extensions
	opts.Scheduler = loopScheduler{c}
	opts.Metrics = c.cfg.Metrics
	opts.Logger = c.log
	opts.Request = req
	opts.LocalAddr = c.tr.LocalAddr()
	opts.RemoteAddr = c.tr.RemoteAddr()

	c.sess = session.New(c, h, opts)
	c.mode = ModeSession
	c.cfg.Metrics.Add(api.MetricUpgrades, 1)
	c.log.WithField("protocol", neg.Protocol).Debug("connection upgraded")

	held := c.held
	c.held = nil
	if err := c.sess.Open(); err != nil {
		return nil, err
	}
	if len(held) > 0 {
		c.sess.Process(held)
	}
	return c.sess, nil
}

func (c *Connection) abandonUpgrade(err error) error {
	c.mode = ModePlain
	c.held = nil
	c.cfg.Metrics.Add(api.MetricUpgradeRejects, 1)
	c.log.WithError(err).Warn("upgrade rejected")
	return err
}

// Write queues a plain-mode response. It fails once the connection has
// been upgraded or is closing.
func (c *Connection) Write(p []byte) error {
	if c.mode == ModeSession {
		return api.ErrAlreadyUpgraded
	}
	if c.torn {
		return api.ErrTransportClosed
	}
	return c.out.Enqueue(p)
}

// Enqueue implements session.Outbound.
func (c *Connection) Enqueue(p []byte) error {
	if c.torn {
		return fmt.Errorf("enqueue %d bytes: %w", len(p), api.ErrCloseIntent)
	}
	return c.out.Enqueue(p)
}

// CloseWhenDrained closes the transport once queued output is written.
func (c *Connection) CloseWhenDrained() {
	c.out.SignalClose()
}

// Abort drops queued output and closes the transport immediately.
func (c *Connection) Abort() {
	c.out.Reset()
	c.OnTransportClosed()
}

// OnWritable is called by the loop when the transport can take more data.
func (c *Connection) OnWritable() {
	c.Flush()
}

// Flush writes what the transport accepts, closes it once close intent is
// set and nothing is left, and keeps the poller interest in line with the
// queue: write interest while data is pending, reads paused while pending
// bytes exceed the threshold and resumed below half of it.
func (c *Connection) Flush() {
	if c.torn {
		return
	}
	if !c.out.Drained() {
		n, err := c.out.Drain(c.tr)
		if n > 0 {
			c.cfg.Metrics.Add(api.MetricBytesOut, int64(n))
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
	c.reportPending()
	if c.out.Drained() && c.out.CloseIntent() {
		c.OnTransportClosed()
		return
	}
	c.updateInterest()
}

func (c *Connection) reportPending() {
	p := c.out.Pending()
	if d := p - c.lastPending; d != 0 {
		c.cfg.Metrics.Add(api.MetricPendingBytes, d)
		c.lastPending = p
	}
}

func (c *Connection) updateInterest() {
	if limit := c.cfg.ReadPauseThreshold; limit > 0 {
		pending := c.out.Pending()
		switch {
		case !c.readsPaused && pending > limit:
			c.readsPaused = true
			c.cfg.Metrics.Add(api.MetricReadsPaused, 1)
			c.log.WithField("pending", pending).Debug("reads paused")
		case c.readsPaused && pending < limit/2:
			c.readsPaused = false
			c.cfg.Metrics.Add(api.MetricReadsPaused, -1)
			c.log.WithField("pending", pending).Debug("reads resumed")
		}
	}
	read, write := !c.readsPaused, !c.out.Drained()
	if read == c.wantRead && write == c.wantWrite {
		return
	}
	c.wantRead, c.wantWrite = read, write
	if c.poller == nil {
		return
	}
	if err := c.poller.SetInterest(read, write); err != nil {
		c.fail(fmt.Errorf("set poll interest: %w", err))
	}
}

// fail handles a transport error: the session goes straight to CLOSED
// and the transport is closed without flushing.
func (c *Connection) fail(err error) {
	c.log.WithError(err).Debug("transport error")
	if c.sess != nil {
		c.sess.Fail(err)
	}
	c.out.Reset()
	c.OnTransportClosed()
}

// OnTransportClosed tears the connection down: plain-mode teardown first,
// then the session is terminated, then the transport is released. It runs
// once; later calls do nothing.
func (c *Connection) OnTransportClosed() {
	if c.torn {
		return
	}
	c.torn = true
	c.out.SignalClose()

	c.invokePlain("close", c.plain.Close)
	if c.sess != nil {
		c.sess.Terminate()
	}
	c.out.Reset()
	c.held = nil
	if err := c.tr.Close(); err != nil {
		c.log.WithError(err).Debug("transport close")
	}

	c.reportPending()
	if c.readsPaused {
		c.cfg.Metrics.Add(api.MetricReadsPaused, -1)
	}
	c.cfg.Metrics.Add(api.MetricConnClosed, 1)
	c.cfg.Metrics.Add(api.MetricConnActive, -1)
	c.log.Debug("connection closed")
	if c.cfg.OnClosed != nil {
		c.cfg.OnClosed(c)
	}
}

// Post runs fn on the connection's loop. It is safe from any goroutine.
// fn is skipped if the connection is gone by then.
func (c *Connection) Post(fn func(c *Connection)) error {
	return c.loop.Post(func() {
		if c.torn {
			return
		}
		fn(c)
		c.Flush()
	})
}

// AfterFunc runs fn on the loop after d and flushes afterwards.
func (c *Connection) AfterFunc(d time.Duration, fn func()) api.Timer {
	return c.loop.AfterFunc(d, func() {
		if c.torn {
			return
		}
		fn()
		c.Flush()
	})
}

func (c *Connection) invokePlain(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{"hook": hook, "panic": r}).Warn("plain handler panic recovered")
			c.out.SignalClose()
		}
	}()
	fn()
}

// loopScheduler gives sessions loop timers that flush the connection
// after every callback.
type loopScheduler struct{ c *Connection }

func (s loopScheduler) AfterFunc(d time.Duration, fn func()) api.Timer {
	return s.c.loop.AfterFunc(d, func() {
		fn()
		s.c.Flush()
	})
}

func (s loopScheduler) Now() time.Time { return s.c.loop.Now() }
