package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// persistedState is the JSON shape written to PersistPath and, when a
// snapshot ring is configured, into each bbolt snapshot entry.
type persistedState struct {
	Queue        []*types.Task            `json:"queue"`
	Processing   map[string]*types.Task   `json:"processing"`
	ProjectStats map[string]*ProjectStats `json:"projectStats"`
	SavedAt      time.Time                `json:"savedAt"`
}

// Save writes the current state to PersistPath, replacing the file
// atomically via a temp-file-plus-rename, and appends a snapshot if a
// snapshot ring is configured. It writes nothing when the state has not
// changed since the last Save; with PersistPath unset only the snapshot is
// written.
func (s *Scheduler) Save() error {
	s.mu.Lock()
	data, err := s.marshalLocked()
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	if s.cfg.PersistPath != "" {
		if err := writeFileAtomic(s.cfg.PersistPath, data); err != nil {
			return fmt.Errorf("scheduler: save state: %w", err)
		}
	}
	if s.snapshots != nil {
		if err := s.snapshots.append(data); err != nil {
			return fmt.Errorf("scheduler: write snapshot: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) marshalLocked() ([]byte, error) {
	state := persistedState{
		Queue:        s.queue,
		Processing:   s.processing,
		ProjectStats: s.projectStats,
		SavedAt:      time.Now(),
	}
	return json.MarshalIndent(&state, "", "  ")
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".scheduler-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// load reads PersistPath (if present) and replays any in-flight tasks back
// onto the head of their project's queue, retry counters intact.
func (s *Scheduler) load() error {
	data, err := os.ReadFile(s.cfg.PersistPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduler: read state: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("scheduler: decode state: %w", err)
	}

	s.queue = state.Queue
	for _, t := range s.queue {
		s.trackProject(t.ProjectID)
	}

	for _, task := range state.Processing {
		task.Status = types.TaskStatusQueued
		s.trackProject(task.ProjectID)
		s.prependProjectHead(task)
	}

	for pid, st := range state.ProjectStats {
		s.trackProject(pid)
		saved := *st
		s.projectStats[pid] = &saved
	}
	for pid, stats := range s.projectStats {
		stats.Queued = 0
	}
	for _, t := range s.queue {
		s.projectStats[t.ProjectID].Queued++
	}

	log.WithComponent("scheduler").Info().
		Int("replayed_processing", len(state.Processing)).
		Int("queue_depth", len(s.queue)).
		Msg("loaded persisted scheduler state")
	return nil
}
