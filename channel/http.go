// File: channel/http.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal plain-mode handler: reads one HTTP/1.1 request head and either
// upgrades the connection or answers and closes. Keep-alive and request
// bodies are not supported.

package channel

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"

	"github.com/momentics/hioload-upgrade/protocol"
)

var headTerminator = []byte("\r\n\r\n")

// HTTPHandler is the default PlainHandler.
type HTTPHandler struct {
	maxHeader int
	buf       []byte
	done      bool
}

// NewHTTPHandler returns a handler accepting request heads of up to
// maxHeader bytes.
func NewHTTPHandler(maxHeader int) *HTTPHandler {
	return &HTTPHandler{maxHeader: maxHeader}
}

// Received implements PlainHandler.
func (h *HTTPHandler) Received(c *Connection, data []byte) {
	if h.done {
		// Response already decided; the connection is closing.
		return
	}
	// Only the new bytes plus a possible split terminator need scanning.
	from := max(len(h.buf)-len(headTerminator)+1, 0)
	h.buf = append(h.buf, data...)
	end := bytes.Index(h.buf[from:], headTerminator)
	if end < 0 {
		if len(h.buf) > h.maxHeader {
			h.respond(c, http.StatusRequestHeaderFieldsTooLarge, nil, "request header too large")
		}
		return
	}
	end += from + len(headTerminator)
	if end > h.maxHeader {
		h.respond(c, http.StatusRequestHeaderFieldsTooLarge, nil, "request header too large")
		return
	}

	head, rest := h.buf[:end], h.buf[end:]
	h.buf = nil
	h.done = true

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		c.log.WithError(err).Debug("malformed request head")
		h.respond(c, http.StatusBadRequest, nil, "malformed request")
		return
	}
	if ra := c.RemoteAddr(); ra != nil {
		req.RemoteAddr = ra.String()
	}
	if !protocol.IsUpgradeRequest(req) {
		hdr := http.Header{protocol.HeaderUpgrade: {"websocket"}}
		h.respond(c, http.StatusUpgradeRequired, hdr, "this endpoint only speaks websocket")
		return
	}

	c.beginUpgrade()
	if len(rest) > 0 {
		c.route(rest)
	}
	if _, err := c.AttemptUpgrade(req); err != nil {
		var he *protocol.HandshakeError
		if errors.As(err, &he) {
			h.reply(c, he.Response())
		} else {
			h.respond(c, http.StatusInternalServerError, nil, "upgrade failed")
		}
	}
}

func (h *HTTPHandler) respond(c *Connection, status int, hdr http.Header, body string) {
	h.reply(c, protocol.StatusResponse(status, hdr, body))
}

func (h *HTTPHandler) reply(c *Connection, resp []byte) {
	h.done = true
	h.buf = nil
	if err := c.Write(resp); err != nil {
		c.log.WithError(err).Debug("plain response dropped")
	}
	c.CloseWhenDrained()
}

// Close implements PlainHandler.
func (h *HTTPHandler) Close() {
	h.buf = nil
	h.done = true
}
