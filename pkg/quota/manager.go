package quota

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/metrics"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// allocation records what a single process currently holds, so Release can
// give it back without the caller re-stating the amounts.
type allocation struct {
	projectID string
	cpu       float64
	memory    int64
}

// projectStats tracks the rolling signals Reallocate samples, reset each
// time it does: recent throughput (completed allocations) and a slice of
// latency samples. Nothing appends to latencySamples, so Reallocate sees
// no latency signal.
type projectStats struct {
	completed      int
	latencySamples []time.Duration
}

// Config configures a Manager's system-wide capacity and policy knobs.
type Config struct {
	SystemCPU            float64
	SystemMemory         int64
	SystemReserve        float64 // fraction withheld from distribution, default 0.20
	ReallocationInterval time.Duration
	HistoryCapacity      int
}

// DefaultConfig returns sensible defaults for Config.
func DefaultConfig() Config {
	return Config{
		SystemReserve:        0.20,
		ReallocationInterval: 60 * time.Second,
		HistoryCapacity:      1000,
	}
}

// Manager is the Resource Manager (C3): per-project CPU/memory/concurrency
// quotas, elastic borrowing, and dynamic re-allocation.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	quotas      map[string]types.Quota
	priorities  map[string]int
	usage       map[string]*types.Usage
	allocations map[string]allocation // processID -> allocation
	stats       map[string]*projectStats
	history     *historyRing

	availableCPU    float64
	availableMemory int64

	broker *events.Broker

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager constructs a Manager with the given system capacity and
// policy configuration.
func NewManager(cfg Config, broker *events.Broker) *Manager {
	reserve := cfg.SystemReserve
	if reserve <= 0 {
		reserve = 0.20
	}
	return &Manager{
		cfg:             cfg,
		quotas:          make(map[string]types.Quota),
		priorities:      make(map[string]int),
		usage:           make(map[string]*types.Usage),
		allocations:     make(map[string]allocation),
		stats:           make(map[string]*projectStats),
		history:         newHistoryRing(cfg.HistoryCapacity),
		availableCPU:    cfg.SystemCPU * (1 - reserve),
		availableMemory: int64(float64(cfg.SystemMemory) * (1 - reserve)),
		broker:          broker,
		stopCh:          make(chan struct{}),
	}
}

// SetQuota registers or replaces a project's quota. priority is the
// project's static weight used by Reallocate; callers typically pass
// types.Project.Priority, defaulting to 1 when the project has none.
func (m *Manager) SetQuota(projectID string, q types.Quota, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotas[projectID] = q
	if priority <= 0 {
		priority = 1
	}
	m.priorities[projectID] = priority
	if _, ok := m.usage[projectID]; !ok {
		m.usage[projectID] = &types.Usage{ActiveProcesses: make(map[string]struct{})}
	}
	if _, ok := m.stats[projectID]; !ok {
		m.stats[projectID] = &projectStats{}
	}
}

// Allocate checks, in order, the project's concurrency ceiling, its CPU
// quota (with elastic borrow), its memory quota (with elastic borrow), and
// finally system-wide availability.
func (m *Manager) Allocate(ctx context.Context, projectID, processID string, reqCPU float64, reqMemory int64) (cpu float64, memory int64, err error) {
	_ = ctx
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReallocationDuration)

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[projectID]
	if !ok {
		return 0, 0, errs.New(errs.InvalidArgs, "unknown project "+projectID)
	}
	u := m.usage[projectID]
	if u == nil {
		u = &types.Usage{ActiveProcesses: make(map[string]struct{})}
		m.usage[projectID] = u
	}

	if u.Concurrent >= q.MaxConcurrent {
		return 0, 0, errs.New(errs.ConcurrentLimit, "project at max concurrency")
	}

	cpuQuota := q.CPU
	if u.CPU+reqCPU > cpuQuota {
		if !q.Elastic {
			return 0, 0, errs.New(errs.CpuExceeded, "cpu quota exceeded")
		}
		shortfall := u.CPU + reqCPU - cpuQuota
		borrowed, ok := m.borrow(projectID, "cpu", shortfall)
		if !ok {
			return 0, 0, errs.New(errs.CpuExceeded, "insufficient slack to elastic-borrow cpu")
		}
		cpuQuota += borrowed
		q.CPU = cpuQuota
		m.quotas[projectID] = q
	}

	memQuota := q.Memory
	if u.Memory+reqMemory > memQuota {
		if !q.Elastic {
			return 0, 0, errs.New(errs.MemoryExceeded, "memory quota exceeded")
		}
		shortfall := float64(u.Memory+reqMemory-memQuota)
		borrowed, ok := m.borrow(projectID, "memory", shortfall)
		if !ok {
			return 0, 0, errs.New(errs.MemoryExceeded, "insufficient slack to elastic-borrow memory")
		}
		memQuota += int64(borrowed)
		q.Memory = memQuota
		m.quotas[projectID] = q
	}

	if m.availableCPU < reqCPU || float64(m.availableMemory) < float64(reqMemory) {
		return 0, 0, errs.New(errs.SystemResources, "insufficient system-wide resources")
	}

	u.CPU += reqCPU
	u.Memory += reqMemory
	u.Concurrent++
	u.ActiveProcesses[processID] = struct{}{}
	m.allocations[processID] = allocation{projectID: projectID, cpu: reqCPU, memory: reqMemory}
	m.availableCPU -= reqCPU
	m.availableMemory -= reqMemory

	metrics.QuotaUsage.WithLabelValues(projectID, "cpu").Set(u.CPU)
	metrics.QuotaUsage.WithLabelValues(projectID, "memory").Set(float64(u.Memory))

	return reqCPU, reqMemory, nil
}

// borrow scans every other project's slack (quota - usage) for the
// resource type and, if the aggregate slack covers shortfall, records an
// allocation-history entry and reports the amount to add to the
// requesting project's temporary quota. The sibling projects' quotas are
// left untouched; rebalancing happens on the next Reallocate sweep.
func (m *Manager) borrow(projectID, resourceType string, shortfall float64) (float64, bool) {
	var totalSlack float64
	for pid, q := range m.quotas {
		if pid == projectID {
			continue
		}
		u := m.usage[pid]
		if u == nil {
			continue
		}
		switch resourceType {
		case "cpu":
			if slack := q.CPU - u.CPU; slack > 0 {
				totalSlack += slack
			}
		case "memory":
			if slack := float64(q.Memory - u.Memory); slack > 0 {
				totalSlack += slack
			}
		}
	}
	if totalSlack < shortfall {
		return 0, false
	}

	m.history.append(types.AllocationHistoryEntry{
		Timestamp:    time.Now(),
		ProjectID:    projectID,
		ResourceType: resourceType,
		Amount:       shortfall,
		Reason:       "elastic",
	})
	metrics.ElasticBorrowsTotal.WithLabelValues(projectID, resourceType).Inc()
	return shortfall, true
}

// Release returns a process's allocation to its project and to the
// system-wide pool.
func (m *Manager) Release(processID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.allocations[processID]
	if !ok {
		return
	}
	delete(m.allocations, processID)

	u := m.usage[a.projectID]
	if u == nil {
		return
	}
	u.CPU -= a.cpu
	u.Memory -= a.memory
	u.Concurrent--
	delete(u.ActiveProcesses, processID)

	m.availableCPU += a.cpu
	m.availableMemory += a.memory

	if s := m.stats[a.projectID]; s != nil {
		s.completed++
	}

	metrics.QuotaUsage.WithLabelValues(a.projectID, "cpu").Set(u.CPU)
	metrics.QuotaUsage.WithLabelValues(a.projectID, "memory").Set(float64(u.Memory))
}

// ProjectSnapshot is a copy-out view of a project's quota and usage.
type ProjectSnapshot struct {
	ProjectID string
	Quota     types.Quota
	Usage     types.Usage
}

// Snapshot returns a copy-out view of every project's quota and usage, plus
// the system-wide available pool, so readers never block writers.
func (m *Manager) Snapshot() (projects []ProjectSnapshot, availableCPU float64, availableMemory int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pid, q := range m.quotas {
		u := m.usage[pid]
		usageCopy := types.Usage{ActiveProcesses: make(map[string]struct{})}
		if u != nil {
			usageCopy.CPU = u.CPU
			usageCopy.Memory = u.Memory
			usageCopy.Concurrent = u.Concurrent
			for p := range u.ActiveProcesses {
				usageCopy.ActiveProcesses[p] = struct{}{}
			}
		}
		projects = append(projects, ProjectSnapshot{ProjectID: pid, Quota: q, Usage: usageCopy})
	}
	return projects, m.availableCPU, m.availableMemory
}

// History returns the allocation-history ring in chronological order.
func (m *Manager) History() []types.AllocationHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.snapshot()
}

// Start begins the background re-allocation ticker.
func (m *Manager) Start() {
	interval := m.cfg.ReallocationInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Reallocate()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the re-allocation ticker and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Reallocate runs the dynamic re-allocation sweep: it is a no-op unless
// per-project CPU utilisation has drifted (stddev > 0.20), in which case
// targets are computed from priority/throughput-weighted shares and applied
// with a 0.5 smoothing factor.
func (m *Manager) Reallocate() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReallocationDuration)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.quotas) == 0 {
		return
	}

	utilisations := make(map[string]float64, len(m.quotas))
	for pid, q := range m.quotas {
		u := m.usage[pid]
		if q.CPU <= 0 || u == nil {
			utilisations[pid] = 0
			continue
		}
		utilisations[pid] = u.CPU / q.CPU
	}
	if stddev(utilisations) <= 0.20 {
		return
	}

	type weighted struct {
		projectID string
		weight    float64
	}
	var weights []weighted
	var totalWeight float64
	for pid := range m.quotas {
		throughput := float64(0)
		if s := m.stats[pid]; s != nil {
			throughput = float64(s.completed)
		}
		priority := m.priorities[pid]
		if priority <= 0 {
			priority = 1
		}
		w := float64(priority) * (1 + throughput/100)
		weights = append(weights, weighted{projectID: pid, weight: w})
		totalWeight += w
	}
	if totalWeight <= 0 {
		return
	}

	totalCPU := m.cfg.SystemCPU * (1 - m.cfg.SystemReserve)
	totalMemory := float64(m.cfg.SystemMemory) * (1 - m.cfg.SystemReserve)

	for _, w := range weights {
		share := w.weight / totalWeight
		targetCPU := totalCPU * share
		targetMemory := totalMemory * share

		q := m.quotas[w.projectID]
		q.CPU = 0.5*q.CPU + 0.5*targetCPU
		q.Memory = int64(0.5*float64(q.Memory) + 0.5*targetMemory)

		targetConcurrent := int(math.Round(float64(q.MaxConcurrent) * (0.5 + 0.5*share*float64(len(weights)))))
		if targetConcurrent < 1 {
			targetConcurrent = 1
		}
		q.MaxConcurrent = targetConcurrent

		m.quotas[w.projectID] = q
		metrics.QuotaLimit.WithLabelValues(w.projectID, "cpu").Set(q.CPU)
		metrics.QuotaLimit.WithLabelValues(w.projectID, "memory").Set(float64(q.Memory))
	}

	for _, s := range m.stats {
		s.completed = 0
		s.latencySamples = nil
	}

	if m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventConfigReloaded, Message: "quotas re-allocated"})
	}
	log.WithComponent("quota").Debug().Msg("re-allocation sweep applied")
}

// stddev computes the population standard deviation of the given values.
func stddev(values map[string]float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sqDiffSum float64
	for _, v := range values {
		d := v - mean
		sqDiffSum += d * d
	}
	return math.Sqrt(sqDiffSum / float64(len(values)))
}
