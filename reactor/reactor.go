// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral part of the reactor: options and the connection handler contract.

package reactor

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "reactor")

// ErrLoopClosed is returned by Post once the loop has shut down.
var ErrLoopClosed = errors.New("reactor: loop is closed")

// Handler receives readiness callbacks for one accepted connection.
// All calls happen on the loop goroutine.
type Handler interface {
	// OnBytesReceived gets bytes read from the socket. p is reused after
	// the call returns.
	OnBytesReceived(p []byte)
	// OnWritable fires when write interest is set and the socket drained.
	OnWritable()
	// OnTransportClosed fires once when the peer hung up or a read failed.
	OnTransportClosed()
}

// AcceptFunc builds the handler for a newly accepted connection.
type AcceptFunc func(c *Conn) Handler

// Options configure a Loop.
type Options struct {
	// ID names the loop in logs.
	ID int
	// ReadBufferSize is the size of the read buffer shared by all
	// connections of the loop.
	ReadBufferSize int
	// MaxEvents bounds the events taken per epoll_wait.
	MaxEvents int
	// CPU pins the loop thread when >= 0.
	CPU int
	// Backlog is the listen(2) backlog; 0 selects SOMAXCONN.
	Backlog int
	Logger  *logrus.Entry
}

func (o *Options) normalize() {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 64 << 10
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = 256
	}
	if o.Logger == nil {
		o.Logger = log
	}
}
