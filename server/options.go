// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hioload-upgrade/channel"
	"github.com/momentics/hioload-upgrade/control"
	"github.com/momentics/hioload-upgrade/protocol"
	"github.com/momentics/hioload-upgrade/session"
	"github.com/sirupsen/logrus"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithAcceptor decides per request whether to upgrade and with which
// session handler.
func WithAcceptor(a channel.Acceptor) ServerOption {
	return func(s *Server) {
		s.acceptor = a
	}
}

// WithHandler serves every upgraded session with h.
func WithHandler(h session.Handler) ServerOption {
	return WithAcceptor(channel.Static(h))
}

// WithNegotiator replaces the upgrader built from Config.Subprotocols and
// Config.Extensions.
func WithNegotiator(n protocol.Negotiator) ServerOption {
	return func(s *Server) {
		s.negotiator = n
	}
}

// WithPlainHandler replaces the HTTP request-head handler used before an
// upgrade.
func WithPlainHandler(fn func(c *channel.Connection) channel.PlainHandler) ServerOption {
	return func(s *Server) {
		s.newPlain = fn
	}
}

// WithLogger routes server, loop, connection and session logs to entry.
func WithLogger(entry *logrus.Entry) ServerOption {
	return func(s *Server) {
		s.log = entry
	}
}

// WithMetrics shares a registry across servers.
func WithMetrics(mr *control.MetricsRegistry) ServerOption {
	return func(s *Server) {
		s.metrics = mr
	}
}

// WithOnClosed runs fn on the loop goroutine after a connection is gone.
func WithOnClosed(fn func(c *channel.Connection)) ServerOption {
	return func(s *Server) {
		s.onClosed = fn
	}
}
