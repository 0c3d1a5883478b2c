package daemon

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poppobuilder/coordinator/pkg/config"
	"github.com/poppobuilder/coordinator/pkg/types"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.Protocol.SocketPath = t.TempDir() + "/daemon.sock"
	cfg.Protocol.HealthAddr = ""
	d, err := New(cfg, "test", nil)
	require.NoError(t, err)
	return d
}

func mustMarshalArgs(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCmdTaskCancelQueuedTask(t *testing.T) {
	d := newTestDaemon(t)
	require.NoError(t, d.projects.Add(context.Background(), types.Project{ID: "p1", Enabled: true}))
	d.scheduler.SetProjectWeight("p1", 1)
	task := &types.Task{ID: "t1", ProjectID: "p1", IssueID: "42"}
	d.scheduler.Enqueue(task)

	result, err := d.cmdTaskCancel(context.Background(), mustMarshalArgs(t, taskArgs{TaskID: "t1"}))
	require.NoError(t, err)
	cancelled, ok := result.(*types.Task)
	require.True(t, ok)
	assert.Equal(t, types.TaskStatusCancelled, cancelled.Status)

	stats := d.scheduler.Stats()
	assert.Equal(t, 1, stats["p1"].Cancelled)
	assert.Equal(t, 0, d.scheduler.Depth())
}

func TestCmdTaskCancelUnknownTask(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.cmdTaskCancel(context.Background(), mustMarshalArgs(t, taskArgs{TaskID: "missing"}))
	assert.Error(t, err)
}

func TestCmdQueueClearHonorsStatusAndQueueFilters(t *testing.T) {
	d := newTestDaemon(t)
	d.scheduler.Enqueue(&types.Task{ID: "t1", ProjectID: "p1"})
	d.scheduler.Enqueue(&types.Task{ID: "t2", ProjectID: "p2"})

	result, err := d.cmdQueueClear(context.Background(), mustMarshalArgs(t, queueArgs{Status: "failed"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"removed": 0}, result)
	assert.Equal(t, 2, d.scheduler.Depth())

	result, err = d.cmdQueueClear(context.Background(), mustMarshalArgs(t, queueArgs{}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"removed": 2}, result)
	assert.Equal(t, 0, d.scheduler.Depth())
}

func TestCmdQueueGetNextTaskThreadsOSPid(t *testing.T) {
	d := newTestDaemon(t)
	require.NoError(t, d.projects.Add(context.Background(), types.Project{ID: "p1", Enabled: true, Quota: types.Quota{CPU: 4, Memory: 4 << 30, MaxConcurrent: 4}}))
	d.quota.SetQuota("p1", types.Quota{CPU: 4, Memory: 4 << 30, MaxConcurrent: 4}, 0)
	d.scheduler.SetProjectWeight("p1", 1)
	d.scheduler.Enqueue(&types.Task{ID: "t1", ProjectID: "p1", IssueID: "42"})

	_, err := d.cmdQueueGetNextTask(context.Background(), mustMarshalArgs(t, getNextTaskArgs{ProcessID: "worker-1", OSPid: 4242}))
	require.NoError(t, err)

	procs, err := d.ownership.ListActiveProcesses(context.Background())
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, 4242, procs[0].OSPid)
}
