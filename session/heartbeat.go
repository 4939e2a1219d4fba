// File: session/heartbeat.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"encoding/binary"

	"github.com/momentics/hioload-upgrade/api"
	"github.com/momentics/hioload-upgrade/protocol"
)

// heartbeat pings the peer periodically while the session is open.
// It starts at most once and stops at most once.
type heartbeat struct {
	timer   api.Timer
	started bool
	stopped bool
	seq     uint64
}

func (h *heartbeat) start(s *Session) {
	if h.started || s.opts.Heartbeat <= 0 {
		return
	}
	h.started = true
	h.schedule(s)
}

func (h *heartbeat) schedule(s *Session) {
	h.timer = s.opts.Scheduler.AfterFunc(s.opts.Heartbeat, func() { h.tick(s) })
}

func (h *heartbeat) tick(s *Session) {
	h.timer = nil
	if h.stopped || s.state != api.SessionOpen {
		return
	}
	h.seq++
	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], h.seq)
	if err := s.write(protocol.Encode(protocol.OpcodePing, payload[:], true)); err != nil {
		s.log.WithError(err).Debug("heartbeat ping not queued")
		return
	}
	h.schedule(s)
}

func (h *heartbeat) stop() {
	if !h.started || h.stopped {
		return
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// running reports whether a ping is scheduled.
func (h *heartbeat) running() bool { return h.timer != nil }
