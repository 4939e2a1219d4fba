// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

import "github.com/gobwas/ws"

const (
	// Data and control opcodes.
	OpcodeContinuation = ws.OpContinuation
	OpcodeText         = ws.OpText
	OpcodeBinary       = ws.OpBinary
	OpcodeClose        = ws.OpClose
	OpcodePing         = ws.OpPing
	OpcodePong         = ws.OpPong

	// Frame limit settings
	MaxControlPayloadLen = ws.MaxControlFramePayloadSize
	MaxFrameHeaderLen    = ws.MaxHeaderSize // for extended payloads with masking

	// Bit masks
	FinBit  = 0x80
	RsvBits = 0x70
	MaskBit = 0x80

	// Close codes
	CloseNormalClosure      = ws.StatusNormalClosure
	CloseGoingAway          = ws.StatusGoingAway
	CloseProtocolError      = ws.StatusProtocolError
	CloseUnsupportedData    = ws.StatusUnsupportedData
	CloseNoStatusRcvd       = ws.StatusNoStatusRcvd
	CloseAbnormalClosure    = ws.StatusAbnormalClosure
	CloseInvalidPayloadData = ws.StatusInvalidFramePayloadData
	ClosePolicyViolation    = ws.StatusPolicyViolation
	CloseMessageTooBig      = ws.StatusMessageTooBig
	CloseMissingExtension   = ws.StatusMandatoryExt
	CloseInternalServerErr  = ws.StatusInternalServerError
)

// DefaultMaxFramePayload bounds a single frame when the decoder is built
// without an explicit limit.
const DefaultMaxFramePayload = 16 << 20 // 16 MiB
