// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frame value type shared by the decoder, the encoder and the session layer.

package protocol

import "github.com/gobwas/ws"

// Frame is a decoded (and unmasked) WebSocket frame.
// Payload is owned by the frame; the decoder never aliases its input buffer.
type Frame struct {
	Fin    bool
	Opcode ws.OpCode
	// Rsv holds the RSV1-3 bits, non-zero only under a negotiated extension.
	Rsv     byte
	Payload []byte
}

// IsControl reports whether the frame carries a close, ping or pong.
func (f Frame) IsControl() bool {
	return f.Opcode.IsControl()
}

// IsData reports whether the frame starts or continues a message.
func (f Frame) IsData() bool {
	return f.Opcode == OpcodeContinuation || f.Opcode.IsData()
}

// NewTextFrame returns a final text frame.
func NewTextFrame(p []byte) Frame { return Frame{Fin: true, Opcode: OpcodeText, Payload: p} }

// NewBinaryFrame returns a final binary frame.
func NewBinaryFrame(p []byte) Frame { return Frame{Fin: true, Opcode: OpcodeBinary, Payload: p} }

// NewPingFrame returns a ping frame.
func NewPingFrame(p []byte) Frame { return Frame{Fin: true, Opcode: OpcodePing, Payload: p} }

// NewPongFrame returns a pong frame.
func NewPongFrame(p []byte) Frame { return Frame{Fin: true, Opcode: OpcodePong, Payload: p} }
