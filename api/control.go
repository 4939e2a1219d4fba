// File: api/control.go
// Package api defines the metrics sink used by connections and sessions.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Metrics receives counters and gauges. Implementations must be safe for
// concurrent use because every event loop reports into the same sink.
type Metrics interface {
	Add(key string, delta int64)
	Set(key string, value int64)
}

// Metric keys reported by the core.
const (
	MetricConnAccepted   = "conn.accepted"
	MetricConnClosed     = "conn.closed"
	MetricConnActive     = "conn.active"
	MetricUpgrades       = "upgrade.accepted"
	MetricUpgradeRejects = "upgrade.rejected"
	MetricSessionOpen    = "session.open"
	MetricSessionClosed  = "session.closed"
	MetricMessagesIn     = "session.messages_in"
	MetricFramesIn       = "session.frames_in"
	MetricFramesOut      = "session.frames_out"
	MetricProtocolErrors = "session.protocol_errors"
	MetricBytesIn        = "conn.bytes_in"
	MetricBytesOut       = "conn.bytes_out"
	MetricPendingBytes   = "conn.pending_bytes"
	MetricReadsPaused    = "conn.reads_paused"
)

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) Add(string, int64) {}
func (NopMetrics) Set(string, int64) {}
