package api_test

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-upgrade/api"
)

func TestTransportInterfaceCompliance(t *testing.T) {
	var _ api.Transport = (*mockTransport)(nil)
}

func TestStructuredErrorMatchesSentinel(t *testing.T) {
	err := api.NewError(api.ErrCodeInvalidArgument, "bad loops").WithContext("loops", -1)
	assert.True(t, errors.Is(err, api.ErrInvalidArgument))
	assert.False(t, errors.Is(err, api.ErrNotSupported))
	assert.Contains(t, err.Error(), "loops:-1")
}

func TestSessionStatusString(t *testing.T) {
	assert.Equal(t, "open", api.SessionOpen.String())
	assert.Equal(t, "closing", api.SessionClosing.String())
	assert.Equal(t, "unknown", api.SessionStatus(42).String())
}

// mockTransport satisfies api.Transport for the compile-time check.
type mockTransport struct{}

func (*mockTransport) Writev([][]byte) (int, error) { return 0, nil }
func (*mockTransport) Close() error                 { return nil }
func (*mockTransport) LocalAddr() net.Addr          { return nil }
func (*mockTransport) RemoteAddr() net.Addr         { return nil }
