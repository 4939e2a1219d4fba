// File: session/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"net"
	"net/http"
	"time"

	"github.com/momentics/hioload-upgrade/api"
	"github.com/sirupsen/logrus"
)

// DefaultCloseTimeout bounds the closing handshake. A session still in
// CLOSING after this long is torn down.
const DefaultCloseTimeout = 5 * time.Second

// Options configure a Session. Scheduler is mandatory; everything else
// has a usable zero value.
type Options struct {
	// Negotiated at upgrade time; immutable afterwards.
	Protocol   string
	Extensions []string

	// Heartbeat is the ping interval while open; 0 disables it.
	Heartbeat time.Duration
	// CloseTimeout bounds CLOSING; 0 means DefaultCloseTimeout.
	CloseTimeout time.Duration

	// MaxMessageSize bounds a reassembled message; 0 means unlimited.
	MaxMessageSize int64
	// MaxFramePayload bounds one frame; 0 means protocol.DefaultMaxFramePayload.
	MaxFramePayload int64
	// AllowUnmasked accepts unmasked client frames.
	AllowUnmasked bool

	Scheduler api.Scheduler
	Metrics   api.Metrics
	Logger    *logrus.Entry

	// Upgrade request and peer addresses, exposed to handlers.
	Request    *http.Request
	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

func (o *Options) normalize() {
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.Metrics == nil {
		o.Metrics = api.NopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = log
	}
	o.Extensions = append([]string(nil), o.Extensions...)
}
