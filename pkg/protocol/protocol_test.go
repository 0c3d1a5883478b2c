package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poppobuilder/coordinator/pkg/events"
)

func TestFrameRoundTrip(t *testing.T) {
	env, err := newEnvelope(TypeCommand, CommandPayload{Command: "queue.list"})
	require.NoError(t, err)
	env.ID = "abc-123"

	data, err := EncodeFrame(env)
	require.NoError(t, err)

	got, err := ReadFrame(bufio.NewReader(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Type, got.Type)

	var payload CommandPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "queue.list", payload.Command)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	buf := make([]byte, magicLen+lengthLen)
	copy(buf, "NOPE!")
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(buf)))
	assert.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := make([]byte, magicLen+lengthLen)
	copy(buf, magic[:])
	buf[5], buf[6], buf[7], buf[8] = 0xFF, 0xFF, 0xFF, 0xFF
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(buf)))
	assert.Error(t, err)
}

func TestTokenManagerLifecycle(t *testing.T) {
	tm := NewTokenManager()
	tok, err := tm.Generate(50 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, tm.Validate(tok.Token))

	tm.Revoke(tok.Token)
	assert.False(t, tm.Validate(tok.Token))

	tok2, err := tm.Generate(10 * time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tm.Validate(tok2.Token))
	tm.CleanupExpired()
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var m map[string]string
		if err := json.Unmarshal(args, &m); err != nil {
			return nil, err
		}
		return m, nil
	})

	result, err := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"hi":"there"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"hi": "there"}, result)

	_, err = r.Dispatch(context.Background(), "missing", nil)
	assert.Error(t, err)

	assert.Contains(t, r.Names(), "echo")
}

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "daemon.sock")
}

func TestServerHandshakeNoAuth(t *testing.T) {
	path := testSocketPath(t)
	registry := NewRegistry()
	registry.Register("ping", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return map[string]string{"pong": "ok"}, nil
	})
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	srv := NewServer(ServerConfig{SocketPath: path}, registry, broker)
	require.NoError(t, srv.Listen())
	defer srv.Close()

	client, err := Connect(path, "")
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := client.Call(ctx, "ping", nil)
	require.NoError(t, err)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "ok", resp["pong"])
}

func TestServerHandshakeWithAuth(t *testing.T) {
	path := testSocketPath(t)
	registry := NewRegistry()
	tokens := NewTokenManager()
	tok, err := tokens.Generate(time.Minute)
	require.NoError(t, err)

	srv := NewServer(ServerConfig{SocketPath: path, AuthRequired: true, Tokens: tokens}, registry, nil)
	require.NoError(t, srv.Listen())
	defer srv.Close()

	_, err = Connect(path, "bogus-token")
	assert.Error(t, err)

	client, err := Connect(path, tok.Token)
	require.NoError(t, err)
	defer client.Close()
}

func TestServerBroadcastsEventsToAuthenticatedClients(t *testing.T) {
	path := testSocketPath(t)
	registry := NewRegistry()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	srv := NewServer(ServerConfig{SocketPath: path}, registry, broker)
	require.NoError(t, srv.Listen())
	defer srv.Close()

	client, err := Connect(path, "")
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(20 * time.Millisecond)
	broker.Publish(&events.Event{Type: events.EventTaskCompleted, Message: "task done"})

	select {
	case env := <-client.Events():
		var payload EventPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, string(events.EventTaskCompleted), payload.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestDefaultSocketPathNonEmpty(t *testing.T) {
	p, err := DefaultSocketPath()
	require.NoError(t, err)
	assert.NotEmpty(t, p)
}
