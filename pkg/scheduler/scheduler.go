package scheduler

import (
	"sync"
	"time"

	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/metrics"
	"github.com/poppobuilder/coordinator/pkg/types"
	"github.com/rs/zerolog"
)

// Policy names a task selection strategy.
type Policy string

const (
	PolicyFIFO          Policy = "fifo"
	PolicyPriority      Policy = "priority"
	PolicyRoundRobin    Policy = "round-robin"
	PolicyWeightedFair  Policy = "weighted-fair"
	PolicyDeadlineAware Policy = "deadline-aware"
)

// ProjectStats accumulates the per-project counters surfaced to clients
// and to the coordinator_tasks_total / coordinator_queue_depth gauges.
type ProjectStats struct {
	Queued    int
	Completed int
	Failed    int
	Cancelled int
}

// Config configures a Scheduler's policy and persistence behaviour.
type Config struct {
	Policy           Policy
	MaxRetries       int
	DebounceInterval time.Duration
	AutoSaveInterval time.Duration
	PersistPath      string // empty disables file persistence
	SnapshotDir      string // empty disables the bbolt snapshot ring
	SnapshotCount    int
}

// DefaultConfig returns sensible defaults for scheduler tuning.
func DefaultConfig() Config {
	return Config{
		Policy:           PolicyFIFO,
		MaxRetries:       3,
		DebounceInterval: 100 * time.Millisecond,
		AutoSaveInterval: 30 * time.Second,
		SnapshotCount:    24,
	}
}

func (c *Config) setDefaults() {
	if c.Policy == "" {
		c.Policy = PolicyFIFO
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = 100 * time.Millisecond
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = 30 * time.Second
	}
	if c.SnapshotCount <= 0 {
		c.SnapshotCount = 24
	}
}

// Scheduler holds the ready queue plus per-project satellite bookkeeping
// and selects the next task to run under the active policy.
type Scheduler struct {
	cfg    Config
	logger zerolog.Logger
	broker *events.Broker

	mu           sync.Mutex
	queue        []*types.Task
	processing   map[string]*types.Task
	projectStats map[string]*ProjectStats
	projectOrder []string // first-seen order, drives round-robin
	rrCursor     int
	weights      map[string]float64
	tokens       map[string]float64
	dirty        bool
	paused       bool

	snapshots *snapshotStore

	debounceTimer *time.Timer
}

// New constructs a Scheduler. If cfg.PersistPath names an existing file its
// contents are loaded, with any task caught mid-processing moved back to
// the head of its project's queue. If cfg.SnapshotDir is set its bbolt
// snapshot ring is opened (creating it if absent).
func New(cfg Config, broker *events.Broker) (*Scheduler, error) {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:          cfg,
		logger:       log.WithComponent("scheduler"),
		broker:       broker,
		processing:   make(map[string]*types.Task),
		projectStats: make(map[string]*ProjectStats),
		weights:      make(map[string]float64),
		tokens:       make(map[string]float64),
	}

	if cfg.SnapshotDir != "" {
		store, err := openSnapshotStore(cfg.SnapshotDir, cfg.SnapshotCount)
		if err != nil {
			return nil, err
		}
		s.snapshots = store
	}

	if cfg.PersistPath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SetProjectWeight registers the share weight used by the weighted-fair
// policy for projectID, seeding its initial token balance. Unregistered
// projects default to a weight of 1.
func (s *Scheduler) SetProjectWeight(projectID string, weight float64) {
	if weight <= 0 {
		weight = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[projectID] = weight
	if _, ok := s.tokens[projectID]; !ok {
		s.tokens[projectID] = weight
	}
}

func (s *Scheduler) weightOf(projectID string) float64 {
	if w, ok := s.weights[projectID]; ok {
		return w
	}
	return 1
}

func (s *Scheduler) statsOf(projectID string) *ProjectStats {
	st, ok := s.projectStats[projectID]
	if !ok {
		st = &ProjectStats{}
		s.projectStats[projectID] = st
	}
	return st
}

func (s *Scheduler) trackProject(projectID string) {
	if _, ok := s.projectStats[projectID]; ok {
		return
	}
	s.projectStats[projectID] = &ProjectStats{}
	s.projectOrder = append(s.projectOrder, projectID)
	if _, ok := s.tokens[projectID]; !ok {
		s.tokens[projectID] = s.weightOf(projectID)
	}
}

// Enqueue admits task into the ready queue with status queued, bumps its
// project's queued counter, and schedules a debounced scheduling-pass
// notification.
func (s *Scheduler) Enqueue(task *types.Task) {
	s.mu.Lock()
	task.Status = types.TaskStatusQueued
	if task.ArrivedAt.IsZero() {
		task.ArrivedAt = time.Now()
	}
	s.trackProject(task.ProjectID)
	s.queue = append(s.queue, task)
	s.statsOf(task.ProjectID).Queued++
	metrics.QueueDepth.WithLabelValues(task.ProjectID).Inc()
	s.markDirty()
	s.armDebounce()
	s.mu.Unlock()
}

// Requeue returns task to the head of its project's queue unchanged,
// retaining its retry counter and arrival timestamp. Used by the daemon
// when resource allocation or ownership checkout fails after Select.
func (s *Scheduler) Requeue(task *types.Task) {
	s.mu.Lock()
	task.Status = types.TaskStatusQueued
	delete(s.processing, task.ID)
	s.prependProjectHead(task)
	s.statsOf(task.ProjectID).Queued++
	metrics.QueueDepth.WithLabelValues(task.ProjectID).Inc()
	s.markDirty()
	s.armDebounce()
	s.mu.Unlock()
}

// prependProjectHead inserts task immediately before the first other ready
// task belonging to the same project (or at the very front if none), so it
// is the next one that project's policies will see without disturbing
// cross-project ordering.
func (s *Scheduler) prependProjectHead(task *types.Task) {
	idx := len(s.queue)
	for i, t := range s.queue {
		if t.ProjectID == task.ProjectID {
			idx = i
			break
		}
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = task
}

func (s *Scheduler) markDirty() {
	s.dirty = true
}

// armDebounce schedules (or leaves already scheduled) a single
// queue.updated notification DebounceInterval from the first call in a
// burst, coalescing rapid-fire enqueues into one wake-up for the caller
// that actually runs Select.
func (s *Scheduler) armDebounce() {
	if s.debounceTimer != nil {
		return
	}
	s.debounceTimer = time.AfterFunc(s.cfg.DebounceInterval, func() {
		s.mu.Lock()
		s.debounceTimer = nil
		s.mu.Unlock()
		if s.broker != nil {
			s.broker.Publish(&events.Event{Type: events.EventQueueUpdated})
		}
	})
}

// Pause stops Select from returning any task until Resume is called.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume reverses Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Clear drops every ready task matching the given filters, leaving tasks
// already in processing untouched. An empty projectID matches every
// project rather than only tasks with a literally empty ProjectID — a bare
// queue.clear with no queue named clears every ready queue. An empty
// status matches every status; since every task reachable here is still
// queued (processing/terminal tasks never appear in the ready queue), in
// practice only a status of "" or "queued" removes anything.
func (s *Scheduler) Clear(projectID, status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.queue[:0]
	removed := 0
	for _, t := range s.queue {
		matchProject := projectID == "" || t.ProjectID == projectID
		matchStatus := status == "" || string(t.Status) == status
		if matchProject && matchStatus {
			removed++
			st := s.statsOf(t.ProjectID)
			st.Queued--
			if st.Queued < 0 {
				st.Queued = 0
			}
			metrics.QueueDepth.WithLabelValues(t.ProjectID).Set(float64(st.Queued))
			continue
		}
		kept = append(kept, t)
	}
	s.queue = kept
	s.markDirty()
	return removed
}

// Stats returns a copy of the per-project counters.
func (s *Scheduler) Stats() map[string]ProjectStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ProjectStats, len(s.projectStats))
	for k, v := range s.projectStats {
		out[k] = *v
	}
	return out
}

// Depth returns the number of ready (not yet processing) tasks.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
