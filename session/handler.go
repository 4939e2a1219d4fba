// File: session/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"github.com/gobwas/ws"
	"github.com/momentics/hioload-upgrade/api"
	"github.com/momentics/hioload-upgrade/protocol"
)

// Message is a complete, reassembled data message. The handler owns Payload.
type Message struct {
	Opcode ws.OpCode
	// Rsv is taken from the first frame. When non-zero the payload is
	// still in the negotiated extension's encoding and was not checked
	// for UTF-8.
	Rsv     byte
	Payload []byte
}

// IsText reports whether the message was sent as text.
func (m Message) IsText() bool { return m.Opcode == protocol.OpcodeText }

// IsBinary reports whether the message was sent as binary.
func (m Message) IsBinary() bool { return m.Opcode == protocol.OpcodeBinary }

// Handler receives session events. All calls happen on the session's loop,
// in transition order: Opened once, Received per message, Closed once.
// Handlers may call back into the session synchronously. Long-running work
// belongs on another goroutine.
type Handler interface {
	Opened(s *Session)
	Received(s *Session, m Message)
	Closed(s *Session, code ws.StatusCode, reason string)
}

// PongHandler is implemented by handlers interested in pong frames.
type PongHandler interface {
	Ponged(s *Session, payload []byte)
}

// StateHandler is implemented by handlers that observe every transition.
type StateHandler interface {
	StateChanged(s *Session, from, to api.SessionStatus)
}

// HandlerFuncs builds a Handler from optional functions.
type HandlerFuncs struct {
	OnOpen    func(s *Session)
	OnMessage func(s *Session, m Message)
	OnClose   func(s *Session, code ws.StatusCode, reason string)
	OnPong    func(s *Session, payload []byte)
}

func (h HandlerFuncs) Opened(s *Session) {
	if h.OnOpen != nil {
		h.OnOpen(s)
	}
}

func (h HandlerFuncs) Received(s *Session, m Message) {
	if h.OnMessage != nil {
		h.OnMessage(s, m)
	}
}

func (h HandlerFuncs) Closed(s *Session, code ws.StatusCode, reason string) {
	if h.OnClose != nil {
		h.OnClose(s, code, reason)
	}
}

func (h HandlerFuncs) Ponged(s *Session, payload []byte) {
	if h.OnPong != nil {
		h.OnPong(s, payload)
	}
}

// Echo sends every message back with its original type.
type Echo struct{}

func (Echo) Opened(*Session) {}

func (Echo) Received(s *Session, m Message) {
	if err := s.Send(m.Payload, m.IsBinary()); err != nil {
		s.log.WithError(err).Debug("echo reply dropped")
	}
}

func (Echo) Closed(*Session, ws.StatusCode, string) {}
