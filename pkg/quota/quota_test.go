package quota

import (
	"context"
	"testing"

	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	cfg := DefaultConfig()
	cfg.SystemCPU = 10
	cfg.SystemMemory = 10 * 1024 * 1024 * 1024
	return NewManager(cfg, events.NewBroker())
}

// TestAllocate_ConcurrencyLimit exercises invariant 2 (quota safety): a
// project may never exceed its MaxConcurrent ceiling.
func TestAllocate_ConcurrencyLimit(t *testing.T) {
	m := newTestManager()
	m.SetQuota("proj-a", types.Quota{CPU: 4, Memory: 4 << 30, MaxConcurrent: 1}, 1)

	ctx := context.Background()
	_, _, err := m.Allocate(ctx, "proj-a", "p1", 1, 1<<20)
	require.NoError(t, err)

	_, _, err = m.Allocate(ctx, "proj-a", "p2", 1, 1<<20)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConcurrentLimit))
}

// TestAllocate_CPUExceeded_NoElastic exercises invariant 2: without the
// Elastic flag a project may never borrow beyond its CPU quota.
func TestAllocate_CPUExceeded_NoElastic(t *testing.T) {
	m := newTestManager()
	m.SetQuota("proj-a", types.Quota{CPU: 1, Memory: 4 << 30, MaxConcurrent: 4}, 1)

	ctx := context.Background()
	_, _, err := m.Allocate(ctx, "proj-a", "p1", 2, 1<<20)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CpuExceeded))
}

// TestAllocate_ElasticBorrow exercises scenario S5: a project with Elastic
// set may borrow unused CPU slack from a sibling project.
func TestAllocate_ElasticBorrow(t *testing.T) {
	m := newTestManager()
	m.SetQuota("proj-a", types.Quota{CPU: 1, Memory: 4 << 30, MaxConcurrent: 4, Elastic: true}, 1)
	m.SetQuota("proj-b", types.Quota{CPU: 4, Memory: 4 << 30, MaxConcurrent: 4}, 1)

	ctx := context.Background()
	cpu, _, err := m.Allocate(ctx, "proj-a", "p1", 2, 1<<20)
	require.NoError(t, err, "proj-a should borrow proj-b's unused cpu slack")
	assert.Equal(t, 2.0, cpu)

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "cpu", history[0].ResourceType)
	assert.Equal(t, "proj-a", history[0].ProjectID)
}

// TestAllocate_ElasticBorrow_InsufficientSlack exercises the failure edge
// of scenario S5: elastic borrowing still fails once no project has slack.
func TestAllocate_ElasticBorrow_InsufficientSlack(t *testing.T) {
	m := newTestManager()
	m.SetQuota("proj-a", types.Quota{CPU: 1, Memory: 4 << 30, MaxConcurrent: 4, Elastic: true}, 1)
	m.SetQuota("proj-b", types.Quota{CPU: 1, Memory: 4 << 30, MaxConcurrent: 4}, 1)

	ctx := context.Background()
	_, _, err := m.Allocate(ctx, "proj-a", "p1", 5, 1<<20)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CpuExceeded))
}

// TestAllocate_SystemReserve exercises invariant 2 at the system-wide
// boundary: the withheld reserve is never handed out, even to a project
// whose quota would otherwise allow the request.
func TestAllocate_SystemReserve(t *testing.T) {
	m := newTestManager()
	cfg := DefaultConfig()
	cfg.SystemCPU = 1
	cfg.SystemMemory = 1 << 30
	cfg.SystemReserve = 0.5
	m = NewManager(cfg, events.NewBroker())
	m.SetQuota("proj-a", types.Quota{CPU: 1, Memory: 1 << 30, MaxConcurrent: 4}, 1)

	ctx := context.Background()
	_, _, err := m.Allocate(ctx, "proj-a", "p1", 0.9, 1<<20)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.SystemResources))
}

// TestRelease_ReturnsCapacity confirms Release gives back both the
// project's usage and the system-wide pool so a subsequent Allocate
// succeeds.
func TestRelease_ReturnsCapacity(t *testing.T) {
	m := newTestManager()
	m.SetQuota("proj-a", types.Quota{CPU: 1, Memory: 1 << 30, MaxConcurrent: 1}, 1)

	ctx := context.Background()
	_, _, err := m.Allocate(ctx, "proj-a", "p1", 1, 1<<20)
	require.NoError(t, err)

	_, _, err = m.Allocate(ctx, "proj-a", "p2", 1, 1<<20)
	require.Error(t, err)

	m.Release("p1")

	_, _, err = m.Allocate(ctx, "proj-a", "p2", 1, 1<<20)
	require.NoError(t, err, "capacity must be returned to both project and system pool")
}

// TestSnapshot_IsCopyOut confirms Snapshot returns independent copies that
// do not alias Manager's internal maps.
func TestSnapshot_IsCopyOut(t *testing.T) {
	m := newTestManager()
	m.SetQuota("proj-a", types.Quota{CPU: 2, Memory: 2 << 30, MaxConcurrent: 2}, 1)

	ctx := context.Background()
	_, _, err := m.Allocate(ctx, "proj-a", "p1", 1, 1<<20)
	require.NoError(t, err)

	projects, availCPU, _ := m.Snapshot()
	require.Len(t, projects, 1)
	assert.Equal(t, "proj-a", projects[0].ProjectID)
	assert.Equal(t, 1.0, projects[0].Usage.CPU)

	projects[0].Usage.ActiveProcesses["tampered"] = struct{}{}

	projects2, _, _ := m.Snapshot()
	assert.NotContains(t, projects2[0].Usage.ActiveProcesses, "tampered")
	assert.Less(t, availCPU, 10.0)
}

// TestReallocate_NoopWhenBalanced confirms the stddev guard: Reallocate
// leaves quotas untouched when utilisation is already even across
// projects.
func TestReallocate_NoopWhenBalanced(t *testing.T) {
	m := newTestManager()
	m.SetQuota("proj-a", types.Quota{CPU: 2, Memory: 2 << 30, MaxConcurrent: 2}, 1)
	m.SetQuota("proj-b", types.Quota{CPU: 2, Memory: 2 << 30, MaxConcurrent: 2}, 1)

	before, _, _ := m.Snapshot()
	m.Reallocate()
	after, _, _ := m.Snapshot()

	byID := func(s []ProjectSnapshot) map[string]ProjectSnapshot {
		out := make(map[string]ProjectSnapshot, len(s))
		for _, p := range s {
			out[p.ProjectID] = p
		}
		return out
	}
	b, a := byID(before), byID(after)
	assert.Equal(t, b["proj-a"].Quota.CPU, a["proj-a"].Quota.CPU)
	assert.Equal(t, b["proj-b"].Quota.CPU, a["proj-b"].Quota.CPU)
}

// TestReallocate_RebalancesOnDrift exercises the weighted re-allocation
// path once utilisation has drifted enough to cross the stddev trigger.
func TestReallocate_RebalancesOnDrift(t *testing.T) {
	m := newTestManager()
	m.SetQuota("proj-a", types.Quota{CPU: 8, Memory: 8 << 30, MaxConcurrent: 8}, 1)
	m.SetQuota("proj-b", types.Quota{CPU: 2, Memory: 2 << 30, MaxConcurrent: 2}, 1)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _, err := m.Allocate(ctx, "proj-b", "p"+string(rune('a'+i)), 1, 1<<20)
		require.NoError(t, err)
	}

	m.Reallocate()

	projects, _, _ := m.Snapshot()
	found := false
	for _, p := range projects {
		if p.ProjectID == "proj-b" {
			found = true
			assert.Greater(t, p.Quota.CPU, 0.0)
		}
	}
	assert.True(t, found)
}
