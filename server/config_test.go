// File: server/config_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-upgrade/api"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, level)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: "127.0.0.1:8443"
loops: 2
heartbeat_interval: 15s
close_timeout: 250ms
subprotocols: [chat.v2, chat]
log_level: debug
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8443", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.Loops)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.CloseTimeout)
	assert.Equal(t, []string{"chat.v2", "chat"}, cfg.Subprotocols)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultConfig().MaxHeaderBytes, cfg.MaxHeaderBytes)
}

func TestParseConfigEmptyDocument(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("listen: \":1\"\n"))
	assert.ErrorContains(t, err, "listen")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]func(c *Config){
		"listen_addr":      func(c *Config) { c.ListenAddr = "" },
		"loops":            func(c *Config) { c.Loops = -1 },
		"close_timeout":    func(c *Config) { c.CloseTimeout = -time.Second },
		"max_message_size": func(c *Config) { c.MaxMessageSize = -1 },
		"offload_workers":  func(c *Config) { c.OffloadWorkers = -2 },
		"log_level":        func(c *Config) { c.LogLevel = "loud" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, api.ErrInvalidArgument)
			var apiErr *api.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, field, apiErr.Context["field"])
		})
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loops = -1
	_, err := NewServer(cfg)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSubmitWithoutWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OffloadWorkers = 0
	s, err := NewServer(cfg)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Submit(func() {}), api.ErrNotSupported)
	assert.NoError(t, s.Shutdown(), "shutdown before run is a no-op")
}
