// File: protocol/upgrader.go
// Package protocol implements HTTP→WebSocket handshake logic with strict validation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Upgrader validates the HTTP request headers for a WebSocket upgrade,
// selects a subprotocol and extensions, computes the Sec-WebSocket-Accept
// key and renders the response that completes the handshake.

package protocol

import (
	"net/http"
	"slices"

	"github.com/gobwas/httphead"
)

// Negotiation is an accepted upgrade.
type Negotiation struct {
	Protocol   string
	Extensions []string
	// Response is the complete 101 response to write before any frame.
	Response []byte
}

// Negotiator decides whether an upgrade request is accepted. A rejection is
// reported as *HandshakeError so the caller knows which status to answer with.
type Negotiator interface {
	Negotiate(req *http.Request) (*Negotiation, error)
}

// NegotiatorFunc adapts a function to Negotiator.
type NegotiatorFunc func(req *http.Request) (*Negotiation, error)

func (f NegotiatorFunc) Negotiate(req *http.Request) (*Negotiation, error) { return f(req) }

// Upgrader is the default Negotiator.
type Upgrader struct {
	// Protocols lists supported subprotocols. The first one offered by the
	// client that appears here wins.
	Protocols []string
	// Extensions lists extension names accepted verbatim. Parameters are
	// not interpreted and payloads are not transformed; the application
	// owns the extension's encoding.
	Extensions []string
	// CheckOrigin, when set, must return true for the upgrade to proceed.
	CheckOrigin func(req *http.Request) bool
}

// Negotiate implements Negotiator.
func (u *Upgrader) Negotiate(req *http.Request) (*Negotiation, error) {
	key, err := ValidateUpgradeRequest(req)
	if err != nil {
		return nil, err
	}
	if u.CheckOrigin != nil && !u.CheckOrigin(req) {
		return nil, reject(http.StatusForbidden, ErrOriginRejected)
	}
	n := &Negotiation{
		Protocol:   u.selectProtocol(req.Header.Values(HeaderSecWebSocketProto)),
		Extensions: u.selectExtensions(req.Header.Values(HeaderSecWebSocketExt)),
	}
	n.Response = HandshakeResponse(ComputeAcceptKey(key), n.Protocol, n.Extensions)
	return n, nil
}

func (u *Upgrader) selectProtocol(offered []string) string {
	if len(u.Protocols) == 0 {
		return ""
	}
	var selected string
	for _, v := range offered {
		httphead.ScanTokens([]byte(v), func(t []byte) bool {
			for _, p := range u.Protocols {
				if string(t) == p {
					selected = p
					return false
				}
			}
			return true
		})
		if selected != "" {
			break
		}
	}
	return selected
}

func (u *Upgrader) selectExtensions(offered []string) []string {
	if len(u.Extensions) == 0 {
		return nil
	}
	var (
		opts     []httphead.Option
		accepted []string
	)
	for _, v := range offered {
		parsed, ok := httphead.ParseOptions([]byte(v), opts)
		if ok {
			opts = parsed
		}
	}
	for _, opt := range opts {
		name := string(opt.Name)
		if slices.Contains(u.Extensions, name) && !slices.Contains(accepted, name) {
			accepted = append(accepted, name)
		}
	}
	return accepted
}
