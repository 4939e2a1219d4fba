// Copyright 2025 momentics@gmail.com
// License: Apache 2.0

package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upgradeRequest() *http.Request {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

func TestComputeAcceptKey(t *testing.T) {
	// Sample handshake from RFC 6455, section 1.3.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestUpgraderAccepts(t *testing.T) {
	u := &Upgrader{Protocols: []string{"chat", "superchat"}}
	req := upgradeRequest()
	req.Header.Set("Sec-WebSocket-Protocol", "v2.chat, superchat, chat")

	n, err := u.Negotiate(req)
	require.NoError(t, err)
	assert.Equal(t, "superchat", n.Protocol)

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(n.Response)), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", resp.Header.Get("Sec-WebSocket-Accept"))
	assert.Equal(t, "superchat", resp.Header.Get("Sec-WebSocket-Protocol"))
	assert.Equal(t, "websocket", resp.Header.Get("Upgrade"))
	assert.Empty(t, resp.Header.Get("Sec-WebSocket-Extensions"))
}

func TestUpgraderExtensions(t *testing.T) {
	u := &Upgrader{Extensions: []string{"x-trace"}}
	req := upgradeRequest()
	req.Header.Add("Sec-WebSocket-Extensions", "permessage-deflate; client_max_window_bits")
	req.Header.Add("Sec-WebSocket-Extensions", "x-trace; id=1, x-trace")

	n, err := u.Negotiate(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"x-trace"}, n.Extensions)
	assert.Contains(t, string(n.Response), "Sec-Websocket-Extensions: x-trace\r\n")
}

func TestUpgraderRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*http.Request)
		status int
		err    error
	}{
		{"method", func(r *http.Request) { r.Method = http.MethodPost }, http.StatusMethodNotAllowed, ErrHandshakeMethod},
		{"no upgrade", func(r *http.Request) { r.Header.Del("Upgrade") }, http.StatusUpgradeRequired, ErrInvalidUpgradeHeaders},
		{"connection", func(r *http.Request) { r.Header.Set("Connection", "keep-alive") }, http.StatusUpgradeRequired, ErrInvalidUpgradeHeaders},
		{"version", func(r *http.Request) { r.Header.Set("Sec-WebSocket-Version", "8") }, http.StatusUpgradeRequired, ErrBadWebSocketVersion},
		{"no key", func(r *http.Request) { r.Header.Del("Sec-WebSocket-Key") }, http.StatusBadRequest, ErrMissingWebSocketKey},
		{"bad key", func(r *http.Request) { r.Header.Set("Sec-WebSocket-Key", "short") }, http.StatusBadRequest, ErrBadWebSocketKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := upgradeRequest()
			tc.mutate(req)
			_, err := (&Upgrader{}).Negotiate(req)
			require.ErrorIs(t, err, tc.err)
			var he *HandshakeError
			require.True(t, errors.As(err, &he))
			assert.Equal(t, tc.status, he.Status)
		})
	}
}

func TestUpgraderCheckOrigin(t *testing.T) {
	u := &Upgrader{CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") == "https://ok" }}
	req := upgradeRequest()
	req.Header.Set("Origin", "https://evil")
	_, err := u.Negotiate(req)
	assert.ErrorIs(t, err, ErrOriginRejected)

	req.Header.Set("Origin", "https://ok")
	_, err = u.Negotiate(req)
	assert.NoError(t, err)
}

func TestHandshakeErrorResponse(t *testing.T) {
	req := upgradeRequest()
	req.Header.Set("Sec-WebSocket-Version", "7")
	_, err := ValidateUpgradeRequest(req)
	var he *HandshakeError
	require.True(t, errors.As(err, &he))

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(he.Response())), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	assert.Equal(t, "13", resp.Header.Get("Sec-WebSocket-Version"))
	assert.True(t, resp.Close)
}

func TestIsUpgradeRequest(t *testing.T) {
	assert.True(t, IsUpgradeRequest(upgradeRequest()))
	plain, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	assert.False(t, IsUpgradeRequest(plain))
}
