// File: server/server.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server runs N epoll loops, each with its own SO_REUSEPORT listener, and
// turns every accepted socket into a channel.Connection.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/momentics/hioload-upgrade/affinity"
	"github.com/momentics/hioload-upgrade/api"
	"github.com/momentics/hioload-upgrade/channel"
	"github.com/momentics/hioload-upgrade/control"
	"github.com/momentics/hioload-upgrade/internal/concurrency"
	"github.com/momentics/hioload-upgrade/internal/registry"
	"github.com/momentics/hioload-upgrade/protocol"
	"github.com/momentics/hioload-upgrade/reactor"
	"github.com/momentics/hioload-upgrade/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyRunning = errors.New("server already running")

// Server is the high-level facade over loops, connections, metrics and
// the offload executor.
type Server struct {
	cfg     *Config
	log     *logrus.Entry
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
	exec    *concurrency.Executor
	conns   *registry.Registry[*channel.Connection]
	channel *channel.Config

	acceptor   channel.Acceptor
	negotiator protocol.Negotiator
	newPlain   func(c *channel.Connection) channel.PlainHandler
	onClosed   func(c *channel.Connection)

	mu       sync.Mutex
	started  bool
	loops    []*reactor.Loop
	addr     net.Addr
	cancel   context.CancelFunc
	ready    chan struct{}
	done     chan struct{}
	shutdown sync.Once
}

// NewServer builds the Server facade. A nil cfg selects DefaultConfig.
func NewServer(cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:   cfg,
		conns: registry.New[*channel.Connection](64),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		level, _ := cfg.Level()
		logger := logrus.New()
		logger.SetLevel(level)
		s.log = logrus.NewEntry(logger)
	}
	s.log = s.log.WithField("component", "server")
	if s.metrics == nil {
		s.metrics = control.NewMetricsRegistry()
	}
	if s.negotiator == nil {
		s.negotiator = &protocol.Upgrader{Protocols: cfg.Subprotocols, Extensions: cfg.Extensions}
	}
	if cfg.OffloadWorkers > 0 {
		s.exec = concurrency.NewExecutor(concurrency.Options{
			Workers:   cfg.OffloadWorkers,
			QueueSize: cfg.OffloadQueue,
			Logger:    s.log.WithField("component", "executor"),
		})
	}

	s.channel = &channel.Config{
		Negotiator:         s.negotiator,
		Acceptor:           s.acceptor,
		NewPlain:           s.newPlain,
		MaxHeaderBytes:     cfg.MaxHeaderBytes,
		ReadPauseThreshold: cfg.ReadPauseThreshold,
		MaxBatch:           cfg.MaxBatch,
		Session: session.Options{
			Heartbeat:       cfg.HeartbeatInterval,
			CloseTimeout:    cfg.CloseTimeout,
			MaxMessageSize:  cfg.MaxMessageSize,
			MaxFramePayload: cfg.MaxFramePayload,
		},
		Metrics:  s.metrics,
		Logger:   s.log.WithField("component", "channel"),
		OnClosed: s.connectionClosed,
	}

	s.probes = control.NewDebugProbes()
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("server.loops", func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.loops)
	})
	s.probes.RegisterProbe("server.connections", func() any { return s.conns.Len() })
	s.probes.RegisterProbe("server.pending_bytes", func() any { return s.metrics.Get(api.MetricPendingBytes) })
	if s.exec != nil {
		s.probes.RegisterProbe("server.executor", func() any { return s.exec.Stats() })
	}
	return s, nil
}

// Run binds the listeners and drives the loops until ctx is done or
// Shutdown completes. It can only be called once.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.done)
	defer cancel()
	defer func() {
		if s.exec != nil {
			s.exec.Close()
		}
	}()

	loops, addr, err := s.listen()
	if err != nil {
		close(s.ready)
		s.log.WithError(err).Error("server failed to listen")
		return err
	}
	s.mu.Lock()
	s.loops, s.addr = loops, addr
	s.mu.Unlock()
	close(s.ready)
	s.log.WithFields(logrus.Fields{"addr": addr.String(), "loops": len(loops)}).Info("server started")

	g, gctx := errgroup.WithContext(runCtx)
	for _, l := range loops {
		g.Go(func() error {
			if err := l.Run(gctx); err != nil {
				return fmt.Errorf("loop %d: %w", l.ID(), err)
			}
			return nil
		})
	}
	err = g.Wait()
	if err != nil {
		s.log.WithError(err).Error("server stopped")
	} else {
		s.log.Info("server stopped")
	}
	return err
}

// listen creates the loops. The first binds Config.ListenAddr; the others
// bind the address it resolved to, so port 0 yields one shared port.
func (s *Server) listen() ([]*reactor.Loop, net.Addr, error) {
	n := s.cfg.loops()
	loops := make([]*reactor.Loop, 0, n)
	fail := func(err error) ([]*reactor.Loop, net.Addr, error) {
		for _, l := range loops {
			l.Close()
		}
		return nil, nil, err
	}
	var addr net.Addr
	for i := 0; i < n; i++ {
		cpu := -1
		if s.cfg.CPUAffinity {
			cpu = affinity.CPUFor(i)
		}
		l, err := reactor.NewLoop(reactor.Options{
			ID:             i,
			ReadBufferSize: s.cfg.ReadBufferSize,
			CPU:            cpu,
			Backlog:        s.cfg.Backlog,
			Logger:         s.log.WithField("component", "reactor"),
		})
		if err != nil {
			return fail(fmt.Errorf("create loop %d: %w", i, err))
		}
		loops = append(loops, l)
		bind := s.cfg.ListenAddr
		if addr != nil {
			bind = addr.String()
		}
		a, err := l.Listen(bind, s.accept)
		if err != nil {
			return fail(err)
		}
		if addr == nil {
			addr = a
		}
	}
	return loops, addr, nil
}

func (s *Server) accept(c *reactor.Conn) reactor.Handler {
	conn := channel.New(c, c, c.Loop(), s.channel)
	s.conns.Add(conn.ID(), conn)
	return conn
}

func (s *Server) connectionClosed(c *channel.Connection) {
	s.conns.Remove(c.ID())
	if s.onClosed != nil {
		s.onClosed(c)
	}
}

// Shutdown stops accepting, asks every session to close with 1001 and
// plain connections to finish their response, waits up to
// Config.ShutdownTimeout for connections to go away and then stops the
// loops. It returns once Run has returned.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.ready:
	case <-s.done:
		return nil
	}

	var err error
	s.shutdown.Do(func() {
		s.log.Info("server shutting down")
		for _, l := range s.loops {
			perr := l.Post(func() {
				l.CloseListeners()
				l.Range(func(rc *reactor.Conn) {
					if c, ok := rc.Handler().(*channel.Connection); ok {
						goingAway(c)
					}
				})
			})
			if perr != nil {
				s.log.WithError(perr).WithField("loop", l.ID()).Warn("loop gone before shutdown notice")
			}
		}
		err = s.awaitDrain()
		s.cancel()
	})
	<-s.done
	return err
}

func goingAway(c *channel.Connection) {
	if sess := c.Session(); sess != nil {
		if sess.State() == api.SessionOpen {
			_ = sess.Close(ws.StatusGoingAway, "server shutdown")
		}
	} else {
		c.CloseWhenDrained()
	}
	c.Flush()
}

func (s *Server) awaitDrain() error {
	deadline := time.NewTimer(s.cfg.ShutdownTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for s.conns.Len() > 0 {
		select {
		case <-deadline.C:
			return fmt.Errorf("shutdown: %d connections still open: %w", s.conns.Len(), api.ErrOperationTimeout)
		case <-s.done:
			return nil
		case <-tick.C:
		}
	}
	return nil
}

// Ready is closed once Run has bound the listeners or failed to. Addr
// is nil after a failed bind.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Done is closed when Run has returned.
func (s *Server) Done() <-chan struct{} { return s.done }

// Addr returns the bound address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Connections returns the number of live connections.
func (s *Server) Connections() int { return s.conns.Len() }

// Metrics exposes the counters reported by connections and sessions.
func (s *Server) Metrics() *control.MetricsRegistry { return s.metrics }

// Probes exposes the debug probes.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// Submit runs task on the offload executor. It fails with
// api.ErrNotSupported when Config.OffloadWorkers is 0.
func (s *Server) Submit(task func()) error {
	if s.exec == nil {
		return api.ErrNotSupported
	}
	return s.exec.Submit(task)
}

// Offload runs work off the loop. The function it returns, if any, is
// then called on the session's loop, where the session may be used
// again. It is dropped if the connection closed meanwhile.
func (s *Server) Offload(sess *session.Session, work func() func(sess *session.Session)) error {
	c, ok := sess.Outbound().(*channel.Connection)
	if !ok {
		return fmt.Errorf("offload: session not served by this server: %w", api.ErrInvalidArgument)
	}
	return s.Submit(func() {
		then := work()
		if then == nil {
			return
		}
		err := c.Post(func(c *channel.Connection) {
			if cs := c.Session(); cs != nil {
				then(cs)
			}
		})
		if err != nil {
			s.log.WithError(err).Debug("offload result dropped")
		}
	})
}
