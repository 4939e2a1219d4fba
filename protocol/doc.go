// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the wire side of the WebSocket protocol (RFC 6455) for
// hioload-upgrade.
//
// Includes:
//   - Incremental frame decoding over arbitrarily chunked byte streams
//   - Frame encoding for server-to-client (unmasked) and client-to-server
//     (masked) directions
//   - Close frame payload construction and validation
//   - HTTP/1.1 Upgrade validation, Sec-WebSocket-Accept computation and
//     sub-protocol / extension negotiation
//
// Everything here is pure: no I/O, no goroutines, no timers.
package protocol
