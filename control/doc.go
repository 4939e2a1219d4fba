// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for hioload-upgrade servers.
//
// MetricsRegistry is the api.Metrics sink shared by every event loop;
// DebugProbes collects named point-in-time readings (loops, connections,
// queued bytes, CPUs) for dumps and health endpoints.
package control
