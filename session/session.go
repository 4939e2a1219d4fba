// File: session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core session implementation: frame dispatch, reassembly, close handshake.

package session

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"unicode/utf8"

	"github.com/gobwas/ws"
	"github.com/momentics/hioload-upgrade/api"
	"github.com/momentics/hioload-upgrade/protocol"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "session")

// ErrNotPending is returned by Open on a session that was already opened.
var ErrNotPending = errors.New("session is not awaiting its handshake")

// Outbound is the write path a session borrows from its connection.
type Outbound interface {
	// Enqueue queues an encoded frame. It fails once the connection
	// signalled close intent.
	Enqueue(p []byte) error
	// CloseWhenDrained asks the connection to close the transport after
	// everything queued so far was written.
	CloseWhenDrained()
	// Abort drops queued output and closes the transport now.
	Abort()
}

var lastID atomic.Uint64

// Session is one upgraded WebSocket exchange. Except for ID, Values and
// the accessors of immutable fields, methods must be called from the
// owning loop only.
type Session struct {
	id      uint64
	opts    Options
	out     Outbound
	handler Handler
	dec     *protocol.Decoder
	log     *logrus.Entry
	values  *Values

	state api.SessionStatus

	// unprocessed inbound bytes, in[off:] is live
	in  []byte
	off int

	// reassembly of a fragmented message
	msgOp  ws.OpCode
	msgRsv byte
	msg    []byte

	failed        bool
	closeSent     bool
	closeReceived bool
	closeSet      bool
	closeCode     ws.StatusCode
	closeReason   string
	grace         api.Timer

	hb    heartbeat
	stats api.ConnStats
}

// New creates a session in the handshake-pending state.
func New(out Outbound, h Handler, opts Options) *Session {
	if opts.Scheduler == nil {
		panic("session: Options.Scheduler is required")
	}
	opts.normalize()
	s := &Session{
		id:      lastID.Add(1),
		opts:    opts,
		out:     out,
		handler: h,
		values:  newValues(),
		state:   api.SessionHandshakePending,
		dec: &protocol.Decoder{
			RequireMask: !opts.AllowUnmasked,
			MaxPayload:  opts.MaxFramePayload,
			Extended:    len(opts.Extensions) > 0,
		},
	}
	fields := logrus.Fields{"session": s.id}
	if opts.RemoteAddr != nil {
		fields["remote"] = opts.RemoteAddr.String()
	}
	s.log = opts.Logger.WithFields(fields)
	return s
}

// ID returns the process-unique session identifier.
func (s *Session) ID() uint64 { return s.id }

// State returns the current state.
func (s *Session) State() api.SessionStatus { return s.state }

// Protocol returns the negotiated subprotocol, if any.
func (s *Session) Protocol() string { return s.opts.Protocol }

// Extensions returns the negotiated extensions.
func (s *Session) Extensions() []string { return s.opts.Extensions }

// Request returns the HTTP request that was upgraded.
func (s *Session) Request() *http.Request { return s.opts.Request }

// LocalAddr returns the local transport address.
func (s *Session) LocalAddr() net.Addr { return s.opts.LocalAddr }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.opts.RemoteAddr }

// Outbound returns the connection the session writes to.
func (s *Session) Outbound() Outbound { return s.out }

// Values returns the session's attribute store.
func (s *Session) Values() *Values { return s.values }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() api.ConnStats { return s.stats }

// CloseStatus returns the recorded close code and reason. ok is false until
// one was recorded.
func (s *Session) CloseStatus() (code ws.StatusCode, reason string, ok bool) {
	return s.closeCode, s.closeReason, s.closeSet
}

// Open confirms the handshake. It starts the heartbeat, fires Opened and
// then processes any bytes that arrived before the confirmation.
func (s *Session) Open() error {
	if s.state != api.SessionHandshakePending {
		return ErrNotPending
	}
	s.stats.OpenedAt = s.opts.Scheduler.Now()
	s.transition(api.SessionOpen)
	s.opts.Metrics.Add(api.MetricSessionOpen, 1)
	s.log.Debug("session open")
	s.invoke("opened", func() { s.handler.Opened(s) })
	s.decode()
	return nil
}

// Process feeds inbound transport bytes. Bytes may be split anywhere.
// The session copies what it keeps.
func (s *Session) Process(data []byte) {
	if s.state == api.SessionClosed || s.failed || len(data) == 0 {
		return
	}
	s.stats.BytesIn += uint64(len(data))
	s.in = append(s.in, data...)
	if s.state == api.SessionHandshakePending {
		return
	}
	s.decode()
}

func (s *Session) decode() {
	for !s.failed && s.off < len(s.in) {
		if s.state != api.SessionOpen && s.state != api.SessionClosing {
			break
		}
		f, n, err := s.dec.Decode(s.in[s.off:])
		if err != nil {
			s.protocolError(err)
			break
		}
		if f == nil {
			break
		}
		s.off += n
		s.handleFrame(f)
	}
	s.compact()
}

// compact moves the live tail of the input buffer to its front.
func (s *Session) compact() {
	if s.in == nil {
		return
	}
	rest := len(s.in) - s.off
	if rest == 0 {
		s.in, s.off = s.in[:0], 0
		return
	}
	if s.off > 0 {
		copy(s.in, s.in[s.off:])
		s.in, s.off = s.in[:rest], 0
	}
}

func (s *Session) handleFrame(f *protocol.Frame) {
	s.stats.FramesIn++
	s.opts.Metrics.Add(api.MetricFramesIn, 1)

	switch f.Opcode {
	case protocol.OpcodePing:
		if s.state == api.SessionOpen {
			s.write(protocol.Encode(protocol.OpcodePong, f.Payload, true))
		}
	case protocol.OpcodePong:
		s.stats.LastPongAt = s.opts.Scheduler.Now()
		if ph, ok := s.handler.(PongHandler); ok {
			s.invoke("ponged", func() { ph.Ponged(s, f.Payload) })
		}
	case protocol.OpcodeClose:
		s.handleClose(f.Payload)
	default:
		s.handleData(f)
	}
}

func (s *Session) handleData(f *protocol.Frame) {
	if s.state != api.SessionOpen {
		// Data after a close frame is discarded.
		return
	}
	if f.Opcode != protocol.OpcodeContinuation {
		s.msgOp, s.msgRsv = f.Opcode, f.Rsv
		if f.Fin {
			s.deliver(f.Opcode, f.Rsv, f.Payload)
			return
		}
		s.msg = s.msg[:0]
	}
	if limit := s.opts.MaxMessageSize; limit > 0 && int64(len(s.msg)+len(f.Payload)) > limit {
		s.protocolError(&protocol.ProtocolError{Code: protocol.CloseMessageTooBig, Reason: "message too big"})
		return
	}
	s.msg = append(s.msg, f.Payload...)
	if f.Fin {
		payload := s.msg
		s.msg = nil
		s.deliver(s.msgOp, s.msgRsv, payload)
	}
}

func (s *Session) deliver(op ws.OpCode, rsv byte, payload []byte) {
	if limit := s.opts.MaxMessageSize; limit > 0 && int64(len(payload)) > limit {
		s.protocolError(&protocol.ProtocolError{Code: protocol.CloseMessageTooBig, Reason: "message too big"})
		return
	}
	if op == protocol.OpcodeText && rsv == 0 && !utf8.Valid(payload) {
		s.protocolError(&protocol.ProtocolError{Code: protocol.CloseInvalidPayloadData, Reason: "invalid UTF-8 in text message"})
		return
	}
	s.stats.Messages++
	s.opts.Metrics.Add(api.MetricMessagesIn, 1)
	m := Message{Opcode: op, Rsv: rsv, Payload: payload}
	s.invoke("received", func() { s.handler.Received(s, m) })
}

func (s *Session) handleClose(body []byte) {
	code, reason, err := protocol.ParseClosePayload(body)
	if err != nil {
		s.protocolError(err)
		return
	}
	if s.closeReceived {
		// A second close frame changes nothing, including the grace timer.
		return
	}
	s.closeReceived = true

	switch s.state {
	case api.SessionOpen:
		s.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Debug("close frame received")
		s.recordClose(code, reason)
		s.sendClose(code, "")
		s.enterClosing()
		s.out.CloseWhenDrained()
	case api.SessionClosing:
		// Reply to our own close frame.
		s.out.CloseWhenDrained()
	}
}

func (s *Session) protocolError(err error) {
	pe, ok := protocol.AsProtocolError(err)
	if !ok {
		pe = &protocol.ProtocolError{Code: protocol.CloseProtocolError, Reason: err.Error(), Err: err}
	}
	s.opts.Metrics.Add(api.MetricProtocolErrors, 1)
	s.log.WithError(err).Debug("protocol error")

	s.failed = true
	s.in, s.off = nil, 0
	s.msg = nil

	if s.state == api.SessionOpen {
		s.recordClose(pe.Code, pe.Reason)
		s.sendClose(pe.Code, pe.Reason)
		s.enterClosing()
	}
	s.out.CloseWhenDrained()
}

// Send queues one complete message. It fails with api.ErrSessionClosed
// unless the session is open.
func (s *Session) Send(payload []byte, isBinary bool) error {
	if s.state != api.SessionOpen {
		return api.ErrSessionClosed
	}
	op := protocol.OpcodeText
	if isBinary {
		op = protocol.OpcodeBinary
	}
	return s.write(protocol.Encode(op, payload, true))
}

// SendText queues a text message.
func (s *Session) SendText(text string) error { return s.Send([]byte(text), false) }

// SendBinary queues a binary message.
func (s *Session) SendBinary(p []byte) error { return s.Send(p, true) }

// Ping queues a ping frame. The payload must fit a control frame.
func (s *Session) Ping(payload []byte) error {
	if s.state != api.SessionOpen {
		return api.ErrSessionClosed
	}
	if len(payload) > protocol.MaxControlPayloadLen {
		return fmt.Errorf("ping payload of %d bytes: %w", len(payload), api.ErrInvalidArgument)
	}
	return s.write(protocol.Encode(protocol.OpcodePing, payload, true))
}

// Close starts the closing handshake with the given status. The session
// stays in CLOSING until the peer answers, the transport goes away or the
// close timeout fires.
func (s *Session) Close(code ws.StatusCode, reason string) error {
	if s.state != api.SessionOpen {
		return api.ErrSessionClosed
	}
	if code != protocol.CloseNoStatusRcvd && !protocol.ValidCloseCode(code) {
		return fmt.Errorf("close code %d: %w", code, api.ErrInvalidArgument)
	}
	s.recordClose(code, reason)
	s.sendClose(code, reason)
	s.enterClosing()
	return nil
}

// Terminate forces CLOSED. It is used when the transport is gone and is
// safe to call any number of times. Without a recorded close status the
// closure is reported as abnormal (1006).
func (s *Session) Terminate() {
	if s.state == api.SessionClosed {
		return
	}
	if !s.closeSet {
		s.recordClose(protocol.CloseAbnormalClosure, "connection closed abruptly")
	}
	s.finish()
}

// Fail forces CLOSED after a transport failure, reporting 1006 with the
// error text regardless of any close status recorded earlier.
func (s *Session) Fail(err error) {
	if s.state == api.SessionClosed {
		return
	}
	s.closeCode, s.closeReason, s.closeSet = protocol.CloseAbnormalClosure, err.Error(), true
	s.log.WithError(err).Debug("transport failure")
	s.finish()
}

func (s *Session) recordClose(code ws.StatusCode, reason string) {
	if s.closeSet {
		return
	}
	s.closeCode, s.closeReason, s.closeSet = code, reason, true
}

func (s *Session) sendClose(code ws.StatusCode, reason string) {
	if s.closeSent {
		return
	}
	s.closeSent = true
	s.write(protocol.Encode(protocol.OpcodeClose, protocol.ClosePayload(code, reason), true))
}

func (s *Session) enterClosing() {
	s.transition(api.SessionClosing)
	s.grace = s.opts.Scheduler.AfterFunc(s.opts.CloseTimeout, s.closeTimeout)
}

func (s *Session) closeTimeout() {
	s.grace = nil
	if s.state != api.SessionClosing {
		return
	}
	s.log.Debug("close handshake timed out")
	s.out.Abort()
	s.Terminate()
}

func (s *Session) finish() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	s.transition(api.SessionClosed)
	s.in, s.off, s.msg = nil, 0, nil
	s.opts.Metrics.Add(api.MetricSessionClosed, 1)
	s.log.WithFields(logrus.Fields{"code": s.closeCode, "reason": s.closeReason}).Debug("session closed")
	code, reason := s.closeCode, s.closeReason
	s.invoke("closed", func() { s.handler.Closed(s, code, reason) })
}

// transition moves to the next state, keeping the heartbeat in step.
func (s *Session) transition(to api.SessionStatus) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	switch {
	case to == api.SessionOpen:
		s.hb.start(s)
	case from == api.SessionOpen:
		s.hb.stop()
	}
	if sh, ok := s.handler.(StateHandler); ok {
		s.invoke("state", func() { sh.StateChanged(s, from, to) })
	}
}

// write hands an encoded frame to the connection.
func (s *Session) write(frame []byte) error {
	if err := s.out.Enqueue(frame); err != nil {
		return err
	}
	s.stats.FramesOut++
	s.stats.BytesOut += uint64(len(frame))
	s.opts.Metrics.Add(api.MetricFramesOut, 1)
	return nil
}

// invoke runs a handler callback, containing any panic.
func (s *Session) invoke(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"hook": hook, "panic": r}).Warn("handler panic recovered")
		}
	}()
	fn()
}
