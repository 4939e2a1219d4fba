// File: protocol/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/gobwas/ws"
)

// Decoder failures that are not covered by ws.ProtocolError values.
var (
	ErrNonMinimalLength = errors.New("extended payload length is not minimally encoded")
	ErrLengthMSB        = errors.New("64-bit payload length has the most significant bit set")
	ErrFrameTooLarge    = errors.New("frame payload exceeds maximum allowed size")
	ErrCloseBodyShort   = errors.New("close frame payload of one byte")
	ErrCloseCode        = errors.New("invalid close status code")
	ErrCloseReasonUTF8  = errors.New("close reason is not valid UTF-8")
)

// ProtocolError is a fatal violation of the framing rules. The session
// answers it with a close frame carrying Code and stops decoding.
type ProtocolError struct {
	Code   ws.StatusCode
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("websocket protocol error (%d): %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("websocket protocol error (%d): %s", e.Code, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// newProtocolError builds a 1002 error, picking the reason from err.
func newProtocolError(err error) *ProtocolError {
	return &ProtocolError{Code: CloseProtocolError, Reason: err.Error(), Err: err}
}

// AsProtocolError unwraps err into a *ProtocolError, if it is one.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
