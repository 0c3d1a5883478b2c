/*
Package store provides a typed façade over the external key-value + pub/sub
store that backs issue ownership, process records and heartbeats.

# Architecture

	┌──────────────────── SHARED STATE STORE ──────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Store interface                 │          │
	│  │  - GET/SET/SETEX/DEL                         │          │
	│  │  - hash HGET/HSET                            │          │
	│  │  - set SADD/SREM/SMEMBERS                    │          │
	│  │  - atomic Batch (all-or-nothing)             │          │
	│  │  - SetNX (create-if-absent + TTL)            │          │
	│  │  - Publish / Subscribe                        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│         ┌───────────┴────────────┐                        │
	│         ▼                        ▼                        │
	│  ┌─────────────┐         ┌──────────────┐                │
	│  │ RedisStore   │         │ MemoryStore  │                │
	│  │ go-redis/v9  │         │ sync.RWMutex │                │
	│  └─────────────┘         └──────────────┘                │
	└────────────────────────────────────────────────────────┘

RedisStore is the externally-visible backend: its key layout matches the
shared-store key table exactly (poppo:issue:status:<n>, poppo:lock:issue:<n>,
and so on). MemoryStore serves single-node deployments and tests.

# Errors

Connection loss and transaction-precondition violations are reported as
errs.Unavailable and errs.TransactionConflict respectively; callers should
match with errors.Is rather than inspecting driver-specific error types.

# Retry

Both implementations are called through a caller-supplied
github.com/cenkalti/backoff/v4 policy for transient failures. Apart from
the connectivity check that NewRedisStore retries at construction, the
store does not retry its calls internally, so that callers can distinguish
a single failed attempt from an exhausted retry budget.
*/
package store
