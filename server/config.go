// File: server/config.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server configuration, defaults and YAML loading.

package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/momentics/hioload-upgrade/api"
	"github.com/momentics/hioload-upgrade/protocol"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all server-side configuration parameters. Durations are
// written as strings ("30s") in YAML.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`  // TCP bind address, e.g. ":9000"
	Loops       int    `yaml:"loops"`        // event loops; 0 = one per CPU
	CPUAffinity bool   `yaml:"cpu_affinity"` // pin loop i to CPU i mod NumCPU
	Backlog     int    `yaml:"backlog"`      // 0 = SOMAXCONN

	ReadBufferSize     int   `yaml:"read_buffer_size"`     // per-loop read buffer
	MaxHeaderBytes     int   `yaml:"max_header_bytes"`     // upgrade request head limit
	MaxFramePayload    int64 `yaml:"max_frame_payload"`    // single frame limit
	MaxMessageSize     int64 `yaml:"max_message_size"`     // reassembled message limit; 0 = unlimited
	ReadPauseThreshold int64 `yaml:"read_pause_threshold"` // queued bytes that pause reads; 0 = never
	MaxBatch           int   `yaml:"max_batch"`            // buffers per writev

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // 0 disables pings
	CloseTimeout      time.Duration `yaml:"close_timeout"`      // closing handshake bound
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`   // graceful shutdown bound

	Subprotocols []string `yaml:"subprotocols"` // in server preference order

	// Extensions are accepted by name only. The server applies no payload
	// transform: messages of a negotiated extension reach the handler in
	// its encoding, flagged by Message.Rsv.
	Extensions []string `yaml:"extensions"`

	OffloadWorkers int `yaml:"offload_workers"` // 0 disables Submit
	OffloadQueue   int `yaml:"offload_queue"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:         ":9000",
		Loops:              runtime.NumCPU(),
		ReadBufferSize:     64 * 1024,
		MaxHeaderBytes:     protocol.MaxHandshakeHeadersSize,
		MaxFramePayload:    protocol.DefaultMaxFramePayload,
		MaxMessageSize:     64 << 20,
		ReadPauseThreshold: 4 << 20,
		MaxBatch:           64,
		HeartbeatInterval:  30 * time.Second,
		CloseTimeout:       5 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		OffloadWorkers:     runtime.NumCPU(),
		LogLevel:           "info",
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(field string, value any, msg string) error {
	return api.NewError(api.ErrCodeInvalidArgument, "invalid config: "+msg).
		WithContext("field", field).
		WithContext("value", value)
}

// Validate checks field ranges. Errors are *api.Error values matching
// api.ErrInvalidArgument.
func (c *Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return invalid("listen_addr", c.ListenAddr, "listen address is required")
	case c.Loops < 0:
		return invalid("loops", c.Loops, "must not be negative")
	case c.Backlog < 0:
		return invalid("backlog", c.Backlog, "must not be negative")
	case c.ReadBufferSize < 0:
		return invalid("read_buffer_size", c.ReadBufferSize, "must not be negative")
	case c.MaxHeaderBytes < 0:
		return invalid("max_header_bytes", c.MaxHeaderBytes, "must not be negative")
	case c.MaxFramePayload < 0:
		return invalid("max_frame_payload", c.MaxFramePayload, "must not be negative")
	case c.MaxMessageSize < 0:
		return invalid("max_message_size", c.MaxMessageSize, "must not be negative")
	case c.ReadPauseThreshold < 0:
		return invalid("read_pause_threshold", c.ReadPauseThreshold, "must not be negative")
	case c.MaxBatch < 0:
		return invalid("max_batch", c.MaxBatch, "must not be negative")
	case c.HeartbeatInterval < 0:
		return invalid("heartbeat_interval", c.HeartbeatInterval, "must not be negative")
	case c.CloseTimeout < 0:
		return invalid("close_timeout", c.CloseTimeout, "must not be negative")
	case c.ShutdownTimeout < 0:
		return invalid("shutdown_timeout", c.ShutdownTimeout, "must not be negative")
	case c.OffloadWorkers < 0:
		return invalid("offload_workers", c.OffloadWorkers, "must not be negative")
	case c.OffloadQueue < 0:
		return invalid("offload_queue", c.OffloadQueue, "must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return invalid("log_level", c.LogLevel, err.Error())
	}
	return nil
}

// Level parses LogLevel; empty means info.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(c.LogLevel)
}

func (c *Config) loops() int {
	if c.Loops == 0 {
		return runtime.NumCPU()
	}
	return c.Loops
}
