package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStoreFromClient(client),
	}
}

func TestStore_SetGetDel(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", "v"))
			v, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", v)

			require.NoError(t, s.Del(ctx, "k"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_SetNX(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := s.SetNX(ctx, "lock:1", "holder-a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "first SetNX should succeed")

			ok, err = s.SetNX(ctx, "lock:1", "holder-b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "second SetNX on the same key must fail")

			v, _, err := s.Get(ctx, "lock:1")
			require.NoError(t, err)
			assert.Equal(t, "holder-a", v, "the original holder must remain")
		})
	}
}

func TestStore_DelIfMatch(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "lock:1", "p1-nonce1"))

			ok, err := s.DelIfMatch(ctx, "lock:1", "p1-nonce2")
			require.NoError(t, err)
			assert.False(t, ok, "mismatched value must not be deleted")

			v, exists, err := s.Get(ctx, "lock:1")
			require.NoError(t, err)
			require.True(t, exists)
			assert.Equal(t, "p1-nonce1", v)

			ok, err = s.DelIfMatch(ctx, "lock:1", "p1-nonce1")
			require.NoError(t, err)
			assert.True(t, ok, "matching value must be deleted")

			_, exists, err = s.Get(ctx, "lock:1")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestStore_HashOps(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.HSet(ctx, "h", map[string]string{"status": "processing", "owner": "p1"}))

			v, ok, err := s.HGet(ctx, "h", "status")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "processing", v)

			all, err := s.HGetAll(ctx, "h")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"status": "processing", "owner": "p1"}, all)
		})
	}
}

func TestStore_SetOps(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.SAdd(ctx, "processing", "42", "99"))
			members, err := s.SMembers(ctx, "processing")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"42", "99"}, members)

			require.NoError(t, s.SRem(ctx, "processing", "42"))
			members, err = s.SMembers(ctx, "processing")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"99"}, members)
		})
	}
}

func TestStore_Batch_AllOrNothing(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ops := []BatchOp{
				{Kind: BatchHSet, Key: "issue:42", Field: "status", Value: "processing"},
				{Kind: BatchSAdd, Key: "processing", Value: "42"},
				{Kind: BatchSetEx, Key: "heartbeat:p1", Value: "alive", TTL: time.Minute},
			}
			require.NoError(t, s.Batch(ctx, ops))

			status, ok, err := s.HGet(ctx, "issue:42", "status")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "processing", status)

			members, err := s.SMembers(ctx, "processing")
			require.NoError(t, err)
			assert.Contains(t, members, "42")

			_, ok, err = s.Get(ctx, "heartbeat:p1")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStore_PublishSubscribe(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ch, unsubscribe, err := s.Subscribe(ctx, "events")
			require.NoError(t, err)
			defer unsubscribe()

			require.NoError(t, s.Publish(ctx, "events", []byte("hello")))

			select {
			case msg := <-ch:
				assert.Equal(t, "hello", string(msg))
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for published message")
			}
		})
	}
}
