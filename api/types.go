// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import "time"

// SessionStatus enumerates the state of an upgraded session.
type SessionStatus int32

const (
	SessionUnknown SessionStatus = iota
	SessionHandshakePending
	SessionOpen
	SessionClosing
	SessionClosed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionHandshakePending:
		return "handshake-pending"
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnStats is a per-connection traffic snapshot.
type ConnStats struct {
	BytesIn    uint64
	BytesOut   uint64
	FramesIn   uint64
	FramesOut  uint64
	Messages   uint64
	OpenedAt   time.Time
	LastPongAt time.Time
}
