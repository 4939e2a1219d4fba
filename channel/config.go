// File: channel/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"net/http"
	"sync"

	"github.com/momentics/hioload-upgrade/api"
	"github.com/momentics/hioload-upgrade/protocol"
	"github.com/momentics/hioload-upgrade/session"
	"github.com/sirupsen/logrus"
)

// Acceptor is the application side of an upgrade: it decides whether a
// negotiated upgrade goes ahead and supplies the session's handler.
type Acceptor interface {
	Accept(req *http.Request, n *protocol.Negotiation) (session.Handler, error)
}

// AcceptorFunc adapts a function to Acceptor.
type AcceptorFunc func(req *http.Request, n *protocol.Negotiation) (session.Handler, error)

func (f AcceptorFunc) Accept(req *http.Request, n *protocol.Negotiation) (session.Handler, error) {
	return f(req, n)
}

// Static accepts every upgrade with the same handler.
func Static(h session.Handler) Acceptor {
	return AcceptorFunc(func(*http.Request, *protocol.Negotiation) (session.Handler, error) {
		return h, nil
	})
}

// PlainHandler consumes bytes while a connection is in plain mode.
type PlainHandler interface {
	// Received gets inbound bytes; they are only valid during the call.
	Received(c *Connection, data []byte)
	// Close releases plain-mode state. It runs once, at teardown, before
	// any session is terminated.
	Close()
}

// Config is shared by every connection of a server. It must not be
// modified after the first connection was created.
type Config struct {
	// Negotiator validates upgrade requests; defaults to &protocol.Upgrader{}.
	Negotiator protocol.Negotiator
	// Acceptor supplies session handlers; defaults to session.Echo.
	Acceptor Acceptor
	// NewPlain builds the plain-mode handler; defaults to an HTTPHandler.
	NewPlain func(c *Connection) PlainHandler

	// MaxHeaderBytes bounds the upgrade request head.
	MaxHeaderBytes int
	// ReadPauseThreshold pauses reads while more than this many bytes are
	// queued; 0 disables throttling.
	ReadPauseThreshold int64
	// MaxBatch is the number of buffers per vectored write.
	MaxBatch int

	// Session is the template for upgraded sessions. Negotiated values,
	// scheduler, metrics and logger are filled in per connection.
	Session session.Options

	Metrics api.Metrics
	Logger  *logrus.Entry

	// OnClosed runs after a connection was torn down.
	OnClosed func(c *Connection)

	once sync.Once
}

func (cfg *Config) normalize() {
	cfg.once.Do(func() {
		if cfg.Negotiator == nil {
			cfg.Negotiator = &protocol.Upgrader{}
		}
		if cfg.Acceptor == nil {
			cfg.Acceptor = Static(session.Echo{})
		}
		if cfg.MaxHeaderBytes <= 0 {
			cfg.MaxHeaderBytes = protocol.MaxHandshakeHeadersSize
		}
		if cfg.NewPlain == nil {
			limit := cfg.MaxHeaderBytes
			cfg.NewPlain = func(*Connection) PlainHandler { return NewHTTPHandler(limit) }
		}
		if cfg.Metrics == nil {
			cfg.Metrics = api.NopMetrics{}
		}
		if cfg.Logger == nil {
			cfg.Logger = log
		}
	})
}
