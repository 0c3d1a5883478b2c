package store

import (
	"context"
	"sync"
	"time"

	"github.com/poppobuilder/coordinator/pkg/errs"
)

// MemoryStore is an in-process Store implementation for single-node
// deployments and tests. It is guarded by a single RWMutex; given the
// expected key cardinality (hundreds to low thousands of issues and
// processes) a single lock is simpler than fine-grained sharding and
// correctness is easier to reason about.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	timers  map[string]*time.Timer

	subMu sync.Mutex
	subs  map[string][]chan []byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		timers:  make(map[string]*time.Timer),
		subs:    make(map[string][]chan []byte),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, 0)
	return nil
}

func (m *MemoryStore) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.strings[key]; exists {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

// setLocked assumes m.mu is already held for writing.
func (m *MemoryStore) setLocked(key, value string, ttl time.Duration) {
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
	m.strings[key] = value
	if ttl > 0 {
		m.timers[key] = time.AfterFunc(ttl, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.strings, key)
			delete(m.timers, key)
		})
	}
}

func (m *MemoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.sets, key)
	return nil
}

func (m *MemoryStore) DelIfMatch(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.strings[key]; !ok || v != expected {
		return false, nil
	}
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
	delete(m.strings, key)
	return true, nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hsetLocked(key, fields)
	return nil
}

func (m *MemoryStore) hsetLocked(key string, fields map[string]string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saddLocked(key, members)
	return nil
}

func (m *MemoryStore) saddLocked(key string, members []string) {
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
}

func (m *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sremLocked(key, members)
	return nil
}

func (m *MemoryStore) sremLocked(key string, members []string) {
	s, ok := m.sets[key]
	if !ok {
		return
	}
	for _, mem := range members {
		delete(s, mem)
	}
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sets[key]))
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	return out, nil
}

// Batch applies every op as a single critical section; since MemoryStore
// holds a single process-wide lock there is no separate precondition to
// violate, so Batch never returns errs.TransactionConflict.
func (m *MemoryStore) Batch(_ context.Context, ops []BatchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		switch op.Kind {
		case BatchSet:
			m.setLocked(op.Key, op.Value, 0)
		case BatchSetEx:
			m.setLocked(op.Key, op.Value, op.TTL)
		case BatchDel:
			if t, ok := m.timers[op.Key]; ok {
				t.Stop()
				delete(m.timers, op.Key)
			}
			delete(m.strings, op.Key)
			delete(m.hashes, op.Key)
			delete(m.sets, op.Key)
		case BatchHSet:
			m.hsetLocked(op.Key, map[string]string{op.Field: op.Value})
		case BatchSAdd:
			m.saddLocked(op.Key, []string{op.Value})
		case BatchSRem:
			m.sremLocked(op.Key, []string{op.Value})
		default:
			return errs.New(errs.InvalidArgs, "unknown batch op kind")
		}
	}
	return nil
}

func (m *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs[channel] {
		select {
		case ch <- payload:
		default:
			// slow subscriber, drop rather than block the publisher
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	m.subMu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.subMu.Unlock()

	unsubscribe := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		subs := m.subs[channel]
		for i, c := range subs {
			if c == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, unsubscribe, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	for _, t := range m.timers {
		t.Stop()
	}
	m.mu.Unlock()
	return nil
}
