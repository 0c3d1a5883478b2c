package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/poppobuilder/coordinator/pkg/errs"
)

// RedisStore is the primary Store backend, wired onto
// github.com/redis/go-redis/v9. Its key layout is the externally-visible
// shared-store schema (poppo:issue:status:<n>, poppo:lock:issue:<n>, and so
// on); callers pass already-prefixed keys.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr and verifies connectivity with a bounded retry
// policy (base 50ms, capped at 30s, per the façade's retry contract).
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	policy := reconnectBackoff()
	err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "connect to redis", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, used by
// tests against miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func reconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedisErr(err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return wrapRedisErr(r.client.Set(ctx, key, value, 0).Err())
}

func (r *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapRedisErr(r.client.Set(ctx, key, value, ttl).Err())
}

func (r *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	return ok, nil
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	return wrapRedisErr(r.client.Del(ctx, key).Err())
}

// delIfMatchScript deletes key only if its value equals ARGV[1], atomically.
var delIfMatchScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (r *RedisStore) DelIfMatch(ctx context.Context, key, expected string) (bool, error) {
	n, err := delIfMatchScript.Run(ctx, r.client, []string{key}, expected).Int()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	return n == 1, nil
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedisErr(err)
	}
	return v, true, nil
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	return m, nil
}

func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return wrapRedisErr(r.client.HSet(ctx, key, args).Err())
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapRedisErr(r.client.SAdd(ctx, key, args...).Err())
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapRedisErr(r.client.SRem(ctx, key, args...).Err())
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	return members, nil
}

// Batch applies ops as a single MULTI/EXEC transaction, watching every key
// touched so a concurrent writer racing one of them aborts the whole batch
// with errs.TransactionConflict rather than applying part of it.
func (r *RedisStore) Batch(ctx context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ops))
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if _, ok := seen[op.Key]; ok {
			continue
		}
		seen[op.Key] = struct{}{}
		keys = append(keys, op.Key)
	}

	txFn := func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range ops {
				switch op.Kind {
				case BatchSet:
					pipe.Set(ctx, op.Key, op.Value, 0)
				case BatchSetEx:
					pipe.Set(ctx, op.Key, op.Value, op.TTL)
				case BatchDel:
					pipe.Del(ctx, op.Key)
				case BatchHSet:
					pipe.HSet(ctx, op.Key, op.Field, op.Value)
				case BatchSAdd:
					pipe.SAdd(ctx, op.Key, op.Value)
				case BatchSRem:
					pipe.SRem(ctx, op.Key, op.Value)
				default:
					return errs.New(errs.InvalidArgs, "unknown batch op kind")
				}
			}
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txFn, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return errs.Wrap(errs.TransactionConflict, "batch precondition violated", err)
	}
	if err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

func (r *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return wrapRedisErr(r.client.Publish(ctx, channel, payload).Err())
}

func (r *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, nil, wrapRedisErr(err)
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = pubsub.Close()
		close(out)
	}
	return out, unsubscribe, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func wrapRedisErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return errs.Wrap(errs.Unavailable, "redis call failed", err)
}
