// File: protocol/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"unicode/utf8"

	"github.com/gobwas/ws"
)

// maxCloseReason is what fits into a control frame after the status code.
const maxCloseReason = MaxControlPayloadLen - 2

// ClosePayload builds the body of a close frame. CloseNoStatusRcvd yields an
// empty body; reasons longer than a control frame allows are cut on a rune
// boundary.
func ClosePayload(code ws.StatusCode, reason string) []byte {
	if code == CloseNoStatusRcvd || code == 0 {
		return nil
	}
	if len(reason) > maxCloseReason {
		cut := maxCloseReason
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return ws.NewCloseFrameBody(code, reason)
}

// ParseClosePayload decodes a received close frame body. An empty body means
// the peer sent no status and is reported as CloseNoStatusRcvd.
func ParseClosePayload(p []byte) (ws.StatusCode, string, error) {
	switch len(p) {
	case 0:
		return CloseNoStatusRcvd, "", nil
	case 1:
		return 0, "", newProtocolError(ErrCloseBodyShort)
	}
	code, reason := ws.ParseCloseFrameData(p)
	if !utf8.ValidString(reason) {
		return 0, "", &ProtocolError{Code: CloseInvalidPayloadData, Reason: ErrCloseReasonUTF8.Error(), Err: ErrCloseReasonUTF8}
	}
	if !ValidCloseCode(code) {
		return 0, "", newProtocolError(ErrCloseCode)
	}
	if err := ws.CheckCloseFrameData(code, reason); err != nil {
		return 0, "", newProtocolError(err)
	}
	return code, reason, nil
}

// ValidCloseCode reports whether code may appear on the wire.
// 1005, 1006 and 1015 are local-only; 1004 and unassigned 1xxx codes are
// rejected, as is anything outside 1000-4999.
func ValidCloseCode(code ws.StatusCode) bool {
	switch {
	case code < 1000 || code > 4999:
		return false
	case code >= 3000:
		return true
	case code.IsProtocolReserved(), code == ws.StatusNoMeaningYet:
		return false
	}
	return code.IsProtocolDefined()
}
