package store

import (
	"context"
	"time"
)

// BatchOp is a single operation within an atomic Batch call.
type BatchOp struct {
	Kind  BatchOpKind
	Key   string
	Field string // for hash ops
	Value string
	TTL   time.Duration // for Set with expiry; zero means no expiry
}

// BatchOpKind identifies the kind of a BatchOp.
type BatchOpKind int

const (
	BatchSet BatchOpKind = iota
	BatchSetEx
	BatchDel
	BatchHSet
	BatchSAdd
	BatchSRem
)

// Store is a thin capability interface over an external key-value + pub/sub
// store. It is the single source of truth for issue ownership, process
// records and heartbeats; see pkg/ownership and the shared-store key layout
// for the concrete schema built on top of it.
type Store interface {
	// Get returns the value of key, or ("", false, nil) if it does not exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key unconditionally, with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetEx writes key with the given expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key only if it does not already exist, with the given
	// expiry, and reports whether the write took effect. Used by pkg/ownership
	// for lock acquisition.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// DelIfMatch removes key only if its current value equals expected,
	// atomically, and reports whether the delete took effect. Used by
	// pkg/ownership to release a lock only if it still holds it (guards
	// against a delete racing the lock's own TTL expiry and someone else's
	// subsequent acquire).
	DelIfMatch(ctx context.Context, key, expected string) (bool, error)

	// HGet returns a single field of a hash key.
	HGet(ctx context.Context, key, field string) (string, bool, error)

	// HGetAll returns every field of a hash key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HSet writes one or more fields of a hash key.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// SAdd adds members to a set key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from a set key.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns every member of a set key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Batch applies every op in ops as a single atomic unit: either all take
	// effect or none do. A precondition violation (another writer touched a
	// watched key between read and commit) fails the whole batch with
	// errs.TransactionConflict.
	Batch(ctx context.Context, ops []BatchOp) error

	// Publish sends payload on channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of messages published to channel. The
	// returned unsubscribe function must be called to release resources.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)

	// Close releases the store's underlying connection.
	Close() error
}
