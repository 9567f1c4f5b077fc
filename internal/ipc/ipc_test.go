package ipc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jienckebd/devloop/internal/eventbus"
	"github.com/jienckebd/devloop/internal/ipc"
	"github.com/jienckebd/devloop/internal/ipc/ipctest"
)

// TestMain verifies Stop() leaves no health-check/accept-loop goroutines
// or connections running behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestServerStartAssignsSocketPathAndStops(t *testing.T) {
	bus := eventbus.New()
	s := ipc.NewServer("sess-1", false, bus)
	require.NoError(t, s.Start())
	assert.NotEmpty(t, s.SocketPath())
	require.NoError(t, s.Stop())
}

func TestClientRoundTripAcksAndWaitForResult(t *testing.T) {
	bus := eventbus.New()
	s := ipc.NewServer("sess-2", false, bus)
	require.NoError(t, s.Start())
	defer s.Stop()

	child, err := ipctest.NewFakeChild(s.SocketPath(), "sess-2", "req-1")
	require.NoError(t, err)
	defer child.Close()

	err = child.Play([]ipctest.ScriptedMessage{
		{Type: ipc.TypeStatus, Payload: map[string]string{"status": "working"}},
		{Type: ipc.TypeComplete, Payload: map[string]string{"summary": "done"}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := s.WaitForResult(ctx, "req-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, ipc.TypeComplete, msg.Type)
}

func TestWaitForResultTimesOutWhenNoResultArrives(t *testing.T) {
	bus := eventbus.New()
	s := ipc.NewServer("sess-3", false, bus)
	require.NoError(t, s.Start())
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := s.WaitForResult(ctx, "never-sent", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestParseMessageRejectsMissingRequiredFields(t *testing.T) {
	_, err := ipc.ParseMessage([]byte(`{"type": "status"}`))
	assert.Error(t, err)
}

func TestParseMessageAcceptsValidEnvelope(t *testing.T) {
	msg, err := ipc.ParseMessage([]byte(`{"type":"status","sessionId":"s","requestId":"r","timestamp":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeStatus, msg.Type)
}
