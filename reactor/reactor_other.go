//go:build !linux

// File: reactor/reactor_other.go
// Author: momentics <momentics@gmail.com>
//
// The epoll loop is Linux only. Other platforms get a Loop that cannot be
// created, so callers fail at startup with api.ErrNotSupported.

package reactor

import (
	"context"
	"net"
	"time"

	"github.com/momentics/hioload-upgrade/api"
)

type Loop struct{}

type Conn struct{}

func NewLoop(opts Options) (*Loop, error) { return nil, api.ErrNotSupported }

func (l *Loop) ID() int { return 0 }
func (l *Loop) Conns() int64 { return 0 }
func (l *Loop) Now() time.Time { return time.Now() }
func (l *Loop) AfterFunc(time.Duration, func()) api.Timer { return nil }
func (l *Loop) Post(func()) error { return api.ErrNotSupported }
func (l *Loop) Stop() {}
func (l *Loop) Run(context.Context) error { return api.ErrNotSupported }
func (l *Loop) Close() {}
func (l *Loop) CloseListeners() {}
func (l *Loop) Range(func(c *Conn)) {}
func (l *Loop) Listen(string, AcceptFunc) (net.Addr, error) { return nil, api.ErrNotSupported }

func (c *Conn) Loop() *Loop { return nil }
func (c *Conn) Handler() Handler { return nil }
func (c *Conn) Writev([][]byte) (int, error) { return 0, api.ErrNotSupported }
func (c *Conn) SetInterest(read, write bool) error { return api.ErrNotSupported }
func (c *Conn) Close() error { return nil }
func (c *Conn) LocalAddr() net.Addr { return nil }
func (c *Conn) RemoteAddr() net.Addr { return nil }
