// File: protocol/handshake.go
// Package protocol
// Upgrade request validation, Sec-WebSocket-Accept computation and
// serialization of the handshake response.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gobwas/httphead"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	MaxHandshakeHeadersSize  = 8192
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketProto  = "Sec-WebSocket-Protocol"
	HeaderSecWebSocketExt    = "Sec-WebSocket-Extensions"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	RequiredWebSocketVersion = "13"
)

var (
	ErrInvalidUpgradeHeaders = errors.New("invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = errors.New("missing Sec-WebSocket-Key header")
	ErrBadWebSocketKey       = errors.New("malformed Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = errors.New("unsupported WebSocket version; only '13' is supported")
	ErrHandshakeMethod       = errors.New("handshake request method must be GET")
	ErrHandshakeProto        = errors.New("handshake request must be HTTP/1.1 or later")
	ErrHeadersTooLarge       = errors.New("handshake headers too large")
	ErrOriginRejected        = errors.New("request origin not allowed")
)

// HandshakeError is a rejected upgrade. Status is the HTTP status written
// back to the client before the connection is closed.
type HandshakeError struct {
	Status int
	Header http.Header
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected (%d): %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Response serializes the rejection as a complete HTTP response.
func (e *HandshakeError) Response() []byte {
	hdr := e.Header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	return StatusResponse(e.Status, hdr, e.Err.Error())
}

func reject(status int, err error) *HandshakeError {
	return &HandshakeError{Status: status, Err: err}
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// IsUpgradeRequest reports whether req asks to switch to the websocket protocol.
func IsUpgradeRequest(req *http.Request) bool {
	return headerContainsToken(req.Header, HeaderConnection, "upgrade") &&
		headerContainsToken(req.Header, HeaderUpgrade, "websocket")
}

// ValidateUpgradeRequest checks the mandatory handshake headers and returns
// the client key.
func ValidateUpgradeRequest(req *http.Request) (string, error) {
	if req.Method != http.MethodGet {
		return "", reject(http.StatusMethodNotAllowed, ErrHandshakeMethod)
	}
	if !req.ProtoAtLeast(1, 1) {
		return "", reject(http.StatusBadRequest, ErrHandshakeProto)
	}
	total := 0
	for k, vs := range req.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
		if total > MaxHandshakeHeadersSize {
			return "", reject(http.StatusRequestHeaderFieldsTooLarge, ErrHeadersTooLarge)
		}
	}
	if !IsUpgradeRequest(req) {
		return "", reject(http.StatusUpgradeRequired, ErrInvalidUpgradeHeaders)
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		e := reject(http.StatusUpgradeRequired, ErrBadWebSocketVersion)
		e.Header = http.Header{HeaderSecWebSocketVer: {RequiredWebSocketVersion}}
		return "", e
	}
	key := req.Header.Get(HeaderSecWebSocketKey)
	if key == "" {
		return "", reject(http.StatusBadRequest, ErrMissingWebSocketKey)
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return "", reject(http.StatusBadRequest, ErrBadWebSocketKey)
	}
	return key, nil
}

// headerContainsToken checks if headerName contains the given token, case-insensitive.
func headerContainsToken(h http.Header, headerName, token string) bool {
	found := false
	for _, v := range h[http.CanonicalHeaderKey(headerName)] {
		httphead.ScanTokens([]byte(v), func(t []byte) bool {
			found = strings.EqualFold(string(t), token)
			return !found
		})
		if found {
			return true
		}
	}
	return false
}

// WriteHandshakeResponse writes the 101 status line and hdr to w.
func WriteHandshakeResponse(w io.Writer, hdr http.Header) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	if err := hdr.Write(bw); err != nil {
		return err
	}
	bw.WriteString("\r\n")
	return bw.Flush()
}

// HandshakeResponse returns the 101 response for the given accept key and
// negotiated parameters.
func HandshakeResponse(accept, protocol string, extensions []string) []byte {
	hdr := make(http.Header, 5)
	hdr.Set(HeaderUpgrade, "websocket")
	hdr.Set(HeaderConnection, "Upgrade")
	hdr.Set(HeaderSecWebSocketAccept, accept)
	if protocol != "" {
		hdr.Set(HeaderSecWebSocketProto, protocol)
	}
	if len(extensions) > 0 {
		hdr.Set(HeaderSecWebSocketExt, strings.Join(extensions, ", "))
	}
	var buf bytes.Buffer
	_ = WriteHandshakeResponse(&buf, hdr)
	return buf.Bytes()
}

// StatusResponse renders a plain HTTP response with a text body. The
// connection is always marked for closing.
func StatusResponse(status int, hdr http.Header, body string) []byte {
	if hdr == nil {
		hdr = make(http.Header)
	}
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	hdr.Set(HeaderConnection, "close")
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %03d %s\r\n", status, http.StatusText(status))
	_ = hdr.Write(&buf)
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}
