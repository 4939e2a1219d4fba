// Copyright 2025 momentics@gmail.com
// License: Apache 2.0

package protocol

import (
	"bytes"
	"testing"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMask = [4]byte{0x37, 0xfa, 0x21, 0x3d}

func clientFrame(op ws.OpCode, payload []byte, fin bool) []byte {
	return EncodeMasked(op, payload, fin, testMask)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		op   ws.OpCode
		fin  bool
		size int
	}{
		{"empty text", OpcodeText, true, 0},
		{"short binary", OpcodeBinary, true, 5},
		{"7-bit boundary", OpcodeBinary, true, 125},
		{"16-bit length", OpcodeText, false, 126},
		{"16-bit max", OpcodeBinary, true, 0xFFFF},
		{"64-bit length", OpcodeBinary, true, 0x10000},
		{"ping", OpcodePing, true, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{'x'}, tc.size)

			d := &Decoder{}
			f, n, err := d.Decode(Encode(tc.op, payload, tc.fin))
			require.NoError(t, err)
			require.NotNil(t, f)
			assert.Equal(t, tc.op, f.Opcode)
			assert.Equal(t, tc.fin, f.Fin)
			assert.Equal(t, payload, f.Payload)
			assert.Equal(t, len(Encode(tc.op, payload, tc.fin)), n)

			sd := NewServerDecoder(0)
			wire := clientFrame(tc.op, payload, tc.fin)
			f, n, err = sd.Decode(wire)
			require.NoError(t, err)
			require.NotNil(t, f)
			assert.Equal(t, payload, f.Payload)
			assert.Equal(t, len(wire), n)
		})
	}
}

func TestEncodeMaskedLeavesPayloadIntact(t *testing.T) {
	payload := []byte("hioload")
	wire := EncodeMasked(OpcodeText, payload, true, testMask)
	assert.Equal(t, []byte("hioload"), payload)
	assert.NotEqual(t, payload, wire[len(wire)-len(payload):])
}

func TestDecodeChunkIndependence(t *testing.T) {
	var stream []byte
	stream = append(stream, clientFrame(OpcodeText, []byte("hel"), false)...)
	stream = append(stream, clientFrame(OpcodePing, []byte("p"), true)...)
	stream = append(stream, clientFrame(OpcodeContinuation, []byte("lo"), true)...)
	stream = append(stream, clientFrame(OpcodeBinary, bytes.Repeat([]byte{1}, 300), true)...)
	stream = append(stream, clientFrame(OpcodeClose, ClosePayload(CloseNormalClosure, "bye"), true)...)

	whole, n, err := NewServerDecoder(0).DecodeAll(stream)
	require.NoError(t, err)
	require.Equal(t, len(stream), n)
	require.Len(t, whole, 5)

	for _, chunk := range []int{1, 2, 3, 7, 64, 129} {
		d := NewServerDecoder(0)
		var (
			got     []Frame
			pending []byte
		)
		for off := 0; off < len(stream); off += chunk {
			end := min(off+chunk, len(stream))
			pending = append(pending, stream[off:end]...)
			frames, used, err := d.DecodeAll(pending)
			require.NoError(t, err, "chunk size %d", chunk)
			got = append(got, frames...)
			pending = pending[used:]
		}
		assert.Empty(t, pending, "chunk size %d", chunk)
		assert.Equal(t, whole, got, "chunk size %d", chunk)
	}
}

func TestDecodeIncompleteReturnsNothing(t *testing.T) {
	wire := clientFrame(OpcodeBinary, bytes.Repeat([]byte{7}, 200), true)
	d := NewServerDecoder(0)
	for i := 0; i < len(wire); i++ {
		f, n, err := d.Decode(wire[:i])
		require.NoError(t, err)
		assert.Nil(t, f)
		assert.Zero(t, n)
	}
}

func TestDecodeRejectsUnmaskedFromClient(t *testing.T) {
	_, _, err := NewServerDecoder(0).Decode(Encode(OpcodeText, []byte("hi"), true))
	pe, ok := AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, CloseProtocolError, pe.Code)
	assert.ErrorIs(t, err, ws.ErrProtocolMaskRequired)

	// Masking requirement is configurable.
	f, _, err := (&Decoder{}).Decode(Encode(OpcodeText, []byte("hi"), true))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), f.Payload)
}

func TestDecodeFragmentedControlFrame(t *testing.T) {
	for _, op := range []ws.OpCode{OpcodePing, OpcodePong, OpcodeClose} {
		f, _, err := NewServerDecoder(0).Decode(clientFrame(op, nil, false))
		assert.Nil(t, f)
		assert.ErrorIs(t, err, ws.ErrProtocolControlNotFinal, "opcode %v", op)
	}
}

func TestDecodeControlPayloadTooLong(t *testing.T) {
	_, _, err := NewServerDecoder(0).Decode(clientFrame(OpcodePing, make([]byte, 126), true))
	assert.ErrorIs(t, err, ws.ErrProtocolControlPayloadOverflow)
}

func TestDecodeContinuationRules(t *testing.T) {
	d := NewServerDecoder(0)
	_, _, err := d.Decode(clientFrame(OpcodeContinuation, []byte("x"), true))
	assert.ErrorIs(t, err, ws.ErrProtocolContinuationUnexpected)

	d = NewServerDecoder(0)
	_, _, err = d.Decode(clientFrame(OpcodeText, []byte("a"), false))
	require.NoError(t, err)
	assert.True(t, d.Fragmented())
	_, _, err = d.Decode(clientFrame(OpcodeBinary, []byte("b"), true))
	assert.ErrorIs(t, err, ws.ErrProtocolContinuationExpected)

	_, _, err = d.Decode(clientFrame(OpcodeContinuation, []byte("b"), true))
	require.NoError(t, err)
	assert.False(t, d.Fragmented())
}

func TestDecodeReservedBitsAndOpcodes(t *testing.T) {
	wire := clientFrame(OpcodeText, []byte("a"), true)
	wire[0] |= 0x40
	_, _, err := NewServerDecoder(0).Decode(wire)
	assert.ErrorIs(t, err, ws.ErrProtocolNonZeroRsv)

	ext := &Decoder{RequireMask: true, Extended: true}
	f, _, err := ext.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), f.Payload)
	assert.Equal(t, byte(4), f.Rsv)

	wire = clientFrame(OpcodeText, []byte("a"), true)
	wire[0] = (wire[0] & 0xF0) | 0x3
	_, _, err = NewServerDecoder(0).Decode(wire)
	assert.ErrorIs(t, err, ws.ErrProtocolOpCodeReserved)
}

func TestDecodeLengthEncodingErrors(t *testing.T) {
	// 16-bit extended length carrying a value that fits in 7 bits.
	_, _, err := NewServerDecoder(0).Decode([]byte{0x82, 0x80 | 126, 0x00, 0x05})
	assert.ErrorIs(t, err, ErrNonMinimalLength)

	// 64-bit extended length carrying a 16-bit value.
	_, _, err = NewServerDecoder(0).Decode([]byte{0x82, 0x80 | 127, 0, 0, 0, 0, 0, 0, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrNonMinimalLength)

	// Most significant bit set.
	_, _, err = NewServerDecoder(0).Decode([]byte{0x82, 0x80 | 127, 0x80, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrLengthMSB)
}

func TestDecodeFrameTooLarge(t *testing.T) {
	d := NewServerDecoder(8)
	_, _, err := d.Decode(clientFrame(OpcodeBinary, make([]byte, 9), true))
	pe, ok := AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, CloseMessageTooBig, pe.Code)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeAllStopsAtError(t *testing.T) {
	stream := append(clientFrame(OpcodeText, []byte("ok"), true), clientFrame(OpcodeContinuation, nil, true)...)
	frames, n, err := NewServerDecoder(0).DecodeAll(stream)
	require.Error(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, len(clientFrame(OpcodeText, []byte("ok"), true)), n)
}
