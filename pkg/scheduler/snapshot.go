package scheduler

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("snapshots")

// snapshotStore is a rotating ring of point-in-time scheduler snapshots
// backed by a bbolt bucket: each entry is a JSON blob keyed by an 8-byte
// big-endian sequence number, and the oldest entries past the configured
// capacity are trimmed on every append.
type snapshotStore struct {
	db       *bolt.DB
	capacity int
}

// openSnapshotStore opens (creating if absent) the bbolt file backing the
// snapshot ring at <dir>/snapshots.db.
func openSnapshotStore(dir string, capacity int) (*snapshotStore, error) {
	path := filepath.Join(dir, "snapshots.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open snapshot store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler: create snapshot bucket: %w", err)
	}
	return &snapshotStore{db: db, capacity: capacity}, nil
}

// append writes data as the newest snapshot entry and trims the ring down
// to s.capacity, oldest first.
func (s *snapshotStore) append(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		return trim(b, s.capacity)
	})
}

// trim deletes the oldest entries in b until at most capacity remain.
func trim(b *bolt.Bucket, capacity int) error {
	if capacity <= 0 {
		return nil
	}
	n := b.Stats().KeyN
	if n <= capacity {
		return nil
	}
	c := b.Cursor()
	toDelete := n - capacity
	for k, _ := c.First(); k != nil && toDelete > 0; k, _ = c.Next() {
		if err := b.Delete(k); err != nil {
			return err
		}
		toDelete--
	}
	return nil
}

// latest returns the most recently appended snapshot, or nil if the ring is
// empty.
func (s *snapshotStore) latest() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(snapshotBucket).Cursor()
		_, v := c.Last()
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// count returns the number of snapshots currently retained.
func (s *snapshotStore) count() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(snapshotBucket).Stats().KeyN
		return nil
	})
	return n
}

func (s *snapshotStore) close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
