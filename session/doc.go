// Package session
// Author: momentics <momentics@gmail.com>
//
// Per-connection WebSocket session state machine.
//
// A Session sits behind an upgraded connection and moves through
// handshake-pending, open, closing and closed. It decodes inbound bytes
// with the protocol codec, reassembles fragmented messages, answers pings,
// runs the close handshake and an optional heartbeat, and reports every
// transition and delivered message to its Handler.
//
// A Session is driven by exactly one event loop. It never touches the
// socket: outbound frames go through the Outbound capability handed to it
// by its connection.
package session
