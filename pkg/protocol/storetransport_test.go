package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poppobuilder/coordinator/pkg/store"
)

func TestStoreTransportDispatchesAndResponds(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	registry := NewRegistry()
	registry.Register("ping", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return map[string]string{"pong": "ok"}, nil
	})

	transport := NewStoreTransport(s, registry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, transport.Start(ctx))
	defer transport.Stop()

	resps, unsubscribe, err := s.Subscribe(ctx, ResponsesChannel)
	require.NoError(t, err)
	defer unsubscribe()

	time.Sleep(10 * time.Millisecond)

	env, err := newEnvelope(TypeCommand, CommandPayload{Command: "ping"})
	require.NoError(t, err)
	env.ID = "req-1"
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, s.Publish(ctx, RequestsChannel, raw))

	select {
	case msg := <-resps:
		var respEnv Envelope
		require.NoError(t, json.Unmarshal(msg, &respEnv))
		assert.Equal(t, "req-1", respEnv.ID)

		var payload ResponsePayload
		require.NoError(t, json.Unmarshal(respEnv.Payload, &payload))
		assert.True(t, payload.Success)

		var result map[string]string
		require.NoError(t, json.Unmarshal(payload.Result, &result))
		assert.Equal(t, "ok", result["pong"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for store-transport response")
	}
}

func TestStoreTransportUnknownCommand(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	transport := NewStoreTransport(s, NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, transport.Start(ctx))
	defer transport.Stop()

	resps, unsubscribe, err := s.Subscribe(ctx, ResponsesChannel)
	require.NoError(t, err)
	defer unsubscribe()

	time.Sleep(10 * time.Millisecond)

	env, err := newEnvelope(TypeCommand, CommandPayload{Command: "missing"})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, s.Publish(ctx, RequestsChannel, raw))

	select {
	case msg := <-resps:
		var respEnv Envelope
		require.NoError(t, json.Unmarshal(msg, &respEnv))
		var payload ResponsePayload
		require.NoError(t, json.Unmarshal(respEnv.Payload, &payload))
		assert.False(t, payload.Success)
		require.NotNil(t, payload.Error)
		assert.Equal(t, "UnknownCommand", payload.Error.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for store-transport error response")
	}
}
