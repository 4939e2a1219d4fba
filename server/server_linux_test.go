//go:build linux

// File: server/server_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end tests against real sockets with gorilla/websocket as client.

package server

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"
	"github.com/momentics/hioload-upgrade/api"
	"github.com/momentics/hioload-upgrade/reactor"
	"github.com/momentics/hioload-upgrade/session"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Loops = 2
	cfg.OffloadWorkers = 2
	cfg.HeartbeatInterval = 0
	cfg.CloseTimeout = time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.LogLevel = "warn"
	return cfg
}

func startServer(t *testing.T, cfg *Config, opts ...ServerOption) *Server {
	t.Helper()
	s, err := NewServer(cfg, opts...)
	require.NoError(t, err)
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()
	select {
	case <-s.Ready():
	case err := <-runErr:
		t.Fatalf("run: %v", err)
	}
	require.NotNil(t, s.Addr(), "listeners not bound")
	t.Cleanup(func() {
		_ = s.Shutdown()
		assert.NoError(t, <-runErr)
	})
	return s
}

func dial(t *testing.T, s *Server, protocols ...string) (*websocket.Conn, *http.Response) {
	t.Helper()
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second, Subprotocols: protocols}
	conn, resp, err := d.Dial("ws://"+s.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn, resp
}

func TestServerEcho(t *testing.T) {
	s := startServer(t, testConfig())
	conn, _ := dial(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	mt, p, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "hello", string(p))

	big := bytes.Repeat([]byte{0xab}, 256<<10)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, big))
	mt, p, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, big, p)

	assert.Equal(t, 1, s.Connections())
	assert.Equal(t, int64(1), s.Metrics().Get(api.MetricUpgrades))
}

func TestServerSubprotocol(t *testing.T) {
	cfg := testConfig()
	cfg.Subprotocols = []string{"chat.v2", "chat"}
	s := startServer(t, cfg)

	conn, resp := dial(t, s, "chat", "chat.v2")
	assert.Equal(t, "chat", conn.Subprotocol())
	assert.Equal(t, "chat", resp.Header.Get("Sec-WebSocket-Protocol"))
}

func TestServerPlainRequest(t *testing.T) {
	s := startServer(t, testConfig())
	resp, err := http.Get("http://" + s.Addr().String() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	assert.Equal(t, "websocket", strings.ToLower(resp.Header.Get("Upgrade")))
}

func TestServerClientClose(t *testing.T) {
	closed := make(chan int, 1)
	handler := session.HandlerFuncs{
		OnClose: func(_ *session.Session, code ws.StatusCode, _ string) { closed <- int(code) },
	}
	s := startServer(t, testConfig(), WithHandler(handler))
	conn, _ := dial(t, s)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed")
	}
	assert.Eventually(t, func() bool { return s.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServerOffload(t *testing.T) {
	var srv atomic.Pointer[Server]
	handler := session.HandlerFuncs{
		OnMessage: func(sess *session.Session, m session.Message) {
			text := string(m.Payload)
			err := srv.Load().Offload(sess, func() func(*session.Session) {
				upper := strings.ToUpper(text)
				return func(sess *session.Session) { _ = sess.SendText(upper) }
			})
			if err != nil {
				_ = sess.SendText("offload failed: " + err.Error())
			}
		},
	}
	s := startServer(t, testConfig(), WithHandler(handler))
	srv.Store(s)
	conn, _ := dial(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("shout")))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "SHOUT", string(p))
}

func TestServerShutdownSendsGoingAway(t *testing.T) {
	cfg := testConfig()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()
	<-s.Ready()

	conn, _ := dial(t, s)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	// gorilla answers the close frame while ReadMessage is blocked.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.ReadMessage()
		readErr <- err
	}()

	require.NoError(t, s.Shutdown())
	require.NoError(t, <-runErr)
	assert.True(t, websocket.IsCloseError(<-readErr, websocket.CloseGoingAway))
	assert.Zero(t, s.Connections())

	_, _, err = (&websocket.Dialer{HandshakeTimeout: time.Second}).Dial("ws://"+s.Addr().String()+"/", nil)
	assert.Error(t, err, "listeners are closed")
}

func TestServerRunTwice(t *testing.T) {
	s := startServer(t, testConfig())
	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyRunning)
	state := s.Probes().DumpState()
	assert.Equal(t, 2, state["server.loops"])
}

func TestServerReadyOnListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig()
	cfg.ListenAddr = taken.Addr().String()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("ready not closed after a failed bind")
	}
	assert.Error(t, <-runErr)
	assert.Nil(t, s.Addr())
	<-s.Done()
	assert.NoError(t, s.Shutdown())
}

func TestServerShutdownLogsStoppedLoop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := startServer(t, testConfig(), WithLogger(logrus.NewEntry(logger)))

	l := s.loops[1]
	l.Stop()
	require.Eventually(t, func() bool {
		return l.Post(func() {}) == reactor.ErrLoopClosed
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Shutdown())
	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "loop gone before shutdown notice" {
			found = true
			assert.Equal(t, 1, e.Data["loop"])
		}
	}
	assert.True(t, found, "stopped loop was not reported")
}
