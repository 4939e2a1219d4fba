// File: protocol/frame_codec.go
// Package protocol implements the incremental frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The decoder works on whatever the transport delivered so far: it decodes
// every complete frame in the buffer and reports how many bytes it used,
// leaving a trailing partial frame for the next call.

package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/gobwas/ws"
)

// Decoder turns a byte stream into frames. The only state it carries
// between calls is whether a fragmented message is in progress.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	// RequireMask rejects unmasked frames (server side of the protocol).
	RequireMask bool
	// MaxPayload bounds a single frame's payload; <= 0 means DefaultMaxFramePayload.
	MaxPayload int64
	// Extended permits non-zero RSV bits, for when an extension was negotiated.
	Extended bool

	fragmented bool
}

// NewServerDecoder returns a decoder for client-to-server traffic.
func NewServerDecoder(maxPayload int64) *Decoder {
	return &Decoder{RequireMask: true, MaxPayload: maxPayload}
}

// Fragmented reports whether a message was started but not finished.
func (d *Decoder) Fragmented() bool { return d.fragmented }

// Reset forgets any in-progress message.
func (d *Decoder) Reset() { d.fragmented = false }

func (d *Decoder) state() ws.State {
	var s ws.State
	if d.RequireMask {
		s = s.Set(ws.StateServerSide)
	}
	if d.Extended {
		s = s.Set(ws.StateExtended)
	}
	if d.fragmented {
		s = s.Set(ws.StateFragmented)
	}
	return s
}

func (d *Decoder) maxPayload() int64 {
	if d.MaxPayload <= 0 {
		return DefaultMaxFramePayload
	}
	return d.MaxPayload
}

// Decode parses one frame from the head of raw.
// Returns frame, consumed bytes, and error.
// If the frame is incomplete, returns (nil, 0, nil).
func (d *Decoder) Decode(raw []byte) (*Frame, int, error) {
	if len(raw) < ws.MinHeaderSize {
		return nil, 0, nil // Incomplete
	}
	h := ws.Header{
		Fin:    raw[0]&FinBit != 0,
		Rsv:    (raw[0] & RsvBits) >> 4,
		OpCode: ws.OpCode(raw[0] & 0x0F),
		Masked: raw[1]&MaskBit != 0,
	}
	length := int64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil // Incomplete
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
		if length < 126 {
			return nil, 0, newProtocolError(ErrNonMinimalLength)
		}
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil // Incomplete
		}
		u := binary.BigEndian.Uint64(raw[offset:])
		offset += 8
		if u&(1<<63) != 0 {
			return nil, 0, newProtocolError(ErrLengthMSB)
		}
		if u <= 0xFFFF {
			return nil, 0, newProtocolError(ErrNonMinimalLength)
		}
		length = int64(u)
	}
	h.Length = length

	if err := ws.CheckHeader(h, d.state()); err != nil {
		return nil, 0, newProtocolError(err)
	}
	if length > d.maxPayload() {
		return nil, 0, &ProtocolError{Code: CloseMessageTooBig, Reason: ErrFrameTooLarge.Error(), Err: ErrFrameTooLarge}
	}

	if h.Masked {
		if len(raw) < offset+4 {
			return nil, 0, nil // Incomplete
		}
		copy(h.Mask[:], raw[offset:offset+4])
		offset += 4
	}

	totalLen := offset + int(length)
	if len(raw) < totalLen {
		return nil, 0, nil // Incomplete
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:totalLen])
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
	}

	// Control frames may be interleaved and never change message state.
	if !h.OpCode.IsControl() {
		d.fragmented = !h.Fin
	}

	return &Frame{Fin: h.Fin, Opcode: h.OpCode, Rsv: h.Rsv, Payload: payload}, totalLen, nil
}

// DecodeAll decodes every complete frame in raw. On error the frames decoded
// before the offending one are still returned, together with their byte count.
func (d *Decoder) DecodeAll(raw []byte) ([]Frame, int, error) {
	var (
		frames   []Frame
		consumed int
	)
	for consumed < len(raw) {
		f, n, err := d.Decode(raw[consumed:])
		if err != nil {
			return frames, consumed, err
		}
		if f == nil {
			break
		}
		frames = append(frames, *f)
		consumed += n
	}
	return frames, consumed, nil
}

// Encode serializes a server-to-client frame. Server frames are never masked.
func Encode(opcode ws.OpCode, payload []byte, fin bool) []byte {
	return appendFrame(nil, ws.Header{Fin: fin, OpCode: opcode, Length: int64(len(payload))}, payload)
}

// EncodeFrame is Encode for a Frame value.
func EncodeFrame(f Frame) []byte {
	return Encode(f.Opcode, f.Payload, f.Fin)
}

// EncodeMasked serializes a client-to-server frame masked with key.
// The payload argument is left untouched.
func EncodeMasked(opcode ws.OpCode, payload []byte, fin bool, key [4]byte) []byte {
	h := ws.Header{Fin: fin, OpCode: opcode, Masked: true, Mask: key, Length: int64(len(payload))}
	return appendFrame(nil, h, payload)
}

func appendFrame(dst []byte, h ws.Header, payload []byte) []byte {
	buf := bytes.NewBuffer(dst[:0])
	buf.Grow(ws.HeaderSize(h) + len(payload))
	// Writes into a bytes.Buffer cannot fail.
	_ = ws.WriteHeader(buf, h)
	start := buf.Len()
	buf.Write(payload)
	out := buf.Bytes()
	if h.Masked {
		ws.Cipher(out[start:], h.Mask, 0)
	}
	return out
}
