package daemon

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/protocol"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// registerCommands binds every command name to its handler. Each handler
// decodes its own args, matching the per-command-switch shape the registry
// itself documents.
func (d *Daemon) registerCommands() {
	d.registry.Register("daemon.status", d.cmdDaemonStatus)
	d.registry.Register("daemon.stop", d.cmdDaemonStop)
	d.registry.Register("daemon.reload", d.cmdDaemonReload)

	d.registry.Register("project.list", d.cmdProjectList)
	d.registry.Register("project.add", d.cmdProjectAdd)
	d.registry.Register("project.remove", d.cmdProjectRemove)
	d.registry.Register("project.start", d.cmdProjectEnable(true))
	d.registry.Register("project.stop", d.cmdProjectEnable(false))
	d.registry.Register("project.restart", d.cmdProjectRestart)
	d.registry.Register("project.update", d.cmdProjectUpdate)

	d.registry.Register("queue.status", d.cmdQueueStatus)
	d.registry.Register("queue.pause", d.cmdQueuePause)
	d.registry.Register("queue.resume", d.cmdQueueResume)
	d.registry.Register("queue.clear", d.cmdQueueClear)
	d.registry.Register("queue.stats", d.cmdQueueStats)
	d.registry.Register("queue.get-next-task", d.cmdQueueGetNextTask)
	d.registry.Register("queue.complete-task", d.cmdQueueCompleteTask)
	d.registry.Register("queue.heartbeat", d.cmdQueueHeartbeat)

	d.registry.Register("worker.status", d.cmdWorkerStatus)
	d.registry.Register("worker.scale", d.cmdWorkerScale)
	d.registry.Register("worker.restart", d.cmdWorkerRestart)

	d.registry.Register("task.list", d.cmdTaskList)
	d.registry.Register("task.status", d.cmdTaskStatus)
	d.registry.Register("task.cancel", d.cmdTaskCancel)
	d.registry.Register("task.retry", d.cmdTaskRetry)

	d.registry.Register("health.check", d.cmdHealthCheck)
	d.registry.Register("metrics.get", d.cmdMetricsGet)
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.New(errs.InvalidArgs, "malformed arguments: "+err.Error())
	}
	return nil
}

// --- daemon.* ---

type daemonStatusResult struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	PID     int    `json:"pid"`
	Version string `json:"version"`
}

func (d *Daemon) cmdDaemonStatus(context.Context, json.RawMessage) (interface{}, error) {
	return daemonStatusResult{
		Status:  "running",
		Uptime:  d.Uptime().String(),
		PID:     os.Getpid(),
		Version: d.version,
	}, nil
}

func (d *Daemon) cmdDaemonStop(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = d.Shutdown(context.Background())
	}()
	return map[string]string{"status": "shutdown scheduled"}, nil
}

func (d *Daemon) cmdDaemonReload(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()
	d.Reload(cfg)
	return map[string]string{"status": "config reloaded"}, nil
}

// --- project.* ---

type projectArgs struct {
	ProjectID     string  `json:"projectId"`
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	Priority      int     `json:"priority"`
	ShareWeight   float64 `json:"shareWeight"`
	CPU           float64 `json:"cpu"`
	Memory        int64   `json:"memory"`
	MaxConcurrent int     `json:"maxConcurrent"`
	Elastic       bool    `json:"elastic"`
}

type projectView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Enabled      bool      `json:"enabled"`
	LastActivity time.Time `json:"lastActivity"`
}

func (d *Daemon) cmdProjectList(context.Context, json.RawMessage) (interface{}, error) {
	projects := d.projects.List()
	out := make([]projectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectView{ID: p.ID, Name: p.Name, Path: p.Path, Enabled: p.Enabled, LastActivity: p.LastActivity})
	}
	return out, nil
}

func (d *Daemon) cmdProjectAdd(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a projectArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.ProjectID == "" {
		return nil, errs.New(errs.InvalidArgs, "projectId required")
	}
	p := types.Project{
		ID:          a.ProjectID,
		Name:        a.Name,
		Path:        a.Path,
		Priority:    a.Priority,
		ShareWeight: a.ShareWeight,
		Enabled:     true,
		Quota: types.Quota{
			CPU:           a.CPU,
			Memory:        a.Memory,
			MaxConcurrent: a.MaxConcurrent,
			Elastic:       a.Elastic,
		},
	}
	if err := d.projects.Add(ctx, p); err != nil {
		return nil, err
	}
	d.quota.SetQuota(p.ID, p.Quota, p.Priority)
	d.scheduler.SetProjectWeight(p.ID, p.ShareWeight)
	d.broker.Publish(&events.Event{Type: events.EventProjectAdded, Message: p.ID, Metadata: map[string]string{"projectId": p.ID}})
	return map[string]string{"status": "added"}, nil
}

func (d *Daemon) cmdProjectRemove(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a projectArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	// Queued tasks are drained as part of removal; in-flight processing
	// tasks are left alone and will complete against a now-unregistered
	// project.
	d.scheduler.Clear(a.ProjectID, "")
	if err := d.projects.Remove(ctx, a.ProjectID); err != nil {
		return nil, err
	}
	d.broker.Publish(&events.Event{Type: events.EventProjectRemoved, Message: a.ProjectID, Metadata: map[string]string{"projectId": a.ProjectID}})
	return map[string]string{"status": "removed"}, nil
}

func (d *Daemon) cmdProjectEnable(enabled bool) protocol.Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var a projectArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		if err := d.projects.SetEnabled(ctx, a.ProjectID, enabled); err != nil {
			return nil, err
		}
		if !enabled {
			d.scheduler.Pause()
		}
		d.broker.Publish(&events.Event{Type: events.EventProjectStatusChanged, Message: a.ProjectID, Metadata: map[string]string{"projectId": a.ProjectID, "enabled": boolString(enabled)}})
		return map[string]string{"status": "ok"}, nil
	}
}

func (d *Daemon) cmdProjectRestart(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a projectArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if err := d.projects.SetEnabled(ctx, a.ProjectID, false); err != nil {
		return nil, err
	}
	if err := d.projects.SetEnabled(ctx, a.ProjectID, true); err != nil {
		return nil, err
	}
	d.broker.Publish(&events.Event{Type: events.EventProjectStatusChanged, Message: a.ProjectID, Metadata: map[string]string{"projectId": a.ProjectID, "enabled": "true"}})
	return map[string]string{"status": "restarted"}, nil
}

func (d *Daemon) cmdProjectUpdate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a projectArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	p, ok := d.projects.Get(a.ProjectID)
	if !ok {
		return nil, errs.New(errs.InvalidArgs, "unknown project "+a.ProjectID)
	}
	if a.Name != "" {
		p.Name = a.Name
	}
	if a.Path != "" {
		p.Path = a.Path
	}
	if a.Priority != 0 {
		p.Priority = a.Priority
	}
	if a.ShareWeight != 0 {
		p.ShareWeight = a.ShareWeight
	}
	if a.CPU != 0 {
		p.Quota.CPU = a.CPU
	}
	if a.Memory != 0 {
		p.Quota.Memory = a.Memory
	}
	if a.MaxConcurrent != 0 {
		p.Quota.MaxConcurrent = a.MaxConcurrent
	}
	if err := d.projects.Add(ctx, p); err != nil {
		return nil, err
	}
	d.quota.SetQuota(p.ID, p.Quota, p.Priority)
	d.scheduler.SetProjectWeight(p.ID, p.ShareWeight)
	return map[string]string{"status": "updated"}, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// --- queue.* ---

type queueArgs struct {
	Queue  string `json:"queue"`
	Status string `json:"status"`
}

func (d *Daemon) cmdQueueStatus(context.Context, json.RawMessage) (interface{}, error) {
	return d.scheduler.Stats(), nil
}

func (d *Daemon) cmdQueuePause(context.Context, json.RawMessage) (interface{}, error) {
	d.scheduler.Pause()
	return map[string]string{"status": "paused"}, nil
}

func (d *Daemon) cmdQueueResume(context.Context, json.RawMessage) (interface{}, error) {
	d.scheduler.Resume()
	return map[string]string{"status": "resumed"}, nil
}

func (d *Daemon) cmdQueueClear(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var a queueArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	removed := d.scheduler.Clear(a.Queue, a.Status)
	return map[string]int{"removed": removed}, nil
}

func (d *Daemon) cmdQueueStats(context.Context, json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"depth": d.scheduler.Depth(),
		"byProject": d.scheduler.Stats(),
	}, nil
}

type getNextTaskArgs struct {
	ProcessID string `json:"processId"`
	OSPid     int    `json:"osPid"`
}

func (d *Daemon) cmdQueueGetNextTask(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a getNextTaskArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.ProcessID == "" {
		return nil, errs.New(errs.InvalidArgs, "processId required")
	}

	task, err := d.scheduler.Select()
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	reqCPU, reqMemory := d.taskResourceRequest(task.ProjectID)

	if _, _, err := d.quota.Allocate(ctx, task.ProjectID, a.ProcessID, reqCPU, reqMemory); err != nil {
		d.scheduler.Requeue(task)
		return nil, err
	}

	if _, err := d.ownership.Checkout(ctx, task.IssueID, a.ProcessID, a.OSPid, task.TaskType); err != nil {
		d.quota.Release(a.ProcessID)
		d.scheduler.Requeue(task)
		return nil, err
	}

	return task, nil
}

// taskResourceRequest divides a project's quota evenly across its
// concurrency ceiling, so each checked-out task consumes one slot's worth
// of CPU and memory. Projects with no registered quota (or a ceiling of
// zero) request nothing, leaving admission to the concurrency check alone.
func (d *Daemon) taskResourceRequest(projectID string) (cpu float64, memory int64) {
	p, ok := d.projects.Get(projectID)
	if !ok || p.Quota.MaxConcurrent <= 0 {
		return 0, 0
	}
	return p.Quota.CPU / float64(p.Quota.MaxConcurrent), p.Quota.Memory / int64(p.Quota.MaxConcurrent)
}

type completeTaskArgs struct {
	TaskID    string            `json:"taskId"`
	IssueID   string            `json:"issueId"`
	ProcessID string            `json:"processId"`
	Status    string            `json:"status"`
	Error     string            `json:"error"`
	Metadata  map[string]string `json:"metadata"`
}

func (d *Daemon) cmdQueueCompleteTask(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a completeTaskArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}

	final := types.OwnershipCompleted
	if a.Status == string(types.TaskStatusFailed) {
		final = types.OwnershipError
	}
	if err := d.ownership.Checkin(ctx, a.IssueID, a.ProcessID, final, a.Metadata); err != nil {
		return nil, err
	}
	d.quota.Release(a.ProcessID)

	if a.Status == string(types.TaskStatusFailed) {
		if err := d.scheduler.Fail(a.TaskID, errs.New(errs.Fatal, a.Error)); err != nil {
			return nil, err
		}
	} else {
		if err := d.scheduler.Complete(a.TaskID); err != nil {
			return nil, err
		}
	}
	return map[string]string{"status": "ok"}, nil
}

type heartbeatArgs struct {
	ProcessID string `json:"processId"`
}

func (d *Daemon) cmdQueueHeartbeat(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var a heartbeatArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if err := d.ownership.Heartbeat(ctx, a.ProcessID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

// --- worker.* ---

type workerArgs struct {
	Count    int    `json:"count"`
	WorkerID string `json:"workerId"`
}

func (d *Daemon) cmdWorkerStatus(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return d.ownership.ListActiveProcesses(ctx)
}

func (d *Daemon) cmdWorkerScale(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var a workerArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	// Worker processes are dispatched and supervised externally; scaling is
	// a hint an external supervisor observes via this acknowledgement, not
	// an action the coordinator itself performs.
	return map[string]interface{}{"status": "ack", "target": a.Count}, nil
}

func (d *Daemon) cmdWorkerRestart(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var a workerArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.WorkerID == "" {
		return nil, errs.New(errs.InvalidArgs, "workerId required")
	}
	d.ownership.CleanupProcess(a.WorkerID)
	d.broker.Publish(&events.Event{Type: events.EventWorkerRemoved, Message: a.WorkerID, Metadata: map[string]string{"workerId": a.WorkerID, "reason": "restart-requested"}})
	return map[string]string{"status": "restart requested"}, nil
}

// --- task.* ---

type taskArgs struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func (d *Daemon) cmdTaskList(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var a taskArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	tasks := d.scheduler.Processing()
	if a.Offset > 0 && a.Offset < len(tasks) {
		tasks = tasks[a.Offset:]
	}
	if a.Limit > 0 && a.Limit < len(tasks) {
		tasks = tasks[:a.Limit]
	}
	return tasks, nil
}

func (d *Daemon) cmdTaskStatus(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var a taskArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	for _, t := range d.scheduler.Processing() {
		if t.ID == a.TaskID {
			return t, nil
		}
	}
	return nil, errs.New(errs.InvalidArgs, "unknown task "+a.TaskID)
}

func (d *Daemon) cmdTaskCancel(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var a taskArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	task, err := d.scheduler.Cancel(a.TaskID)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgs, "task.cancel", err)
	}
	return task, nil
}

func (d *Daemon) cmdTaskRetry(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var a taskArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	for _, t := range d.scheduler.Processing() {
		if t.ID == a.TaskID {
			d.scheduler.Requeue(t)
			return map[string]string{"status": "requeued"}, nil
		}
	}
	return nil, errs.New(errs.InvalidArgs, "unknown task "+a.TaskID)
}

// --- health.check / metrics.get ---

type healthCheckResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (d *Daemon) cmdHealthCheck(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	status, checks := d.runHealthChecks(ctx)
	return healthCheckResult{Status: status, Checks: checks}, nil
}

type metricsArgs struct {
	Type   string `json:"type"`
	Period string `json:"period"`
}

func (d *Daemon) cmdMetricsGet(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var a metricsArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	projects, availCPU, availMem := d.quota.Snapshot()
	return map[string]interface{}{
		"queue":             d.scheduler.Stats(),
		"quota":             projects,
		"availableCPU":      availCPU,
		"availableMemory":   availMem,
		"allocationHistory": d.quota.History(),
	}, nil
}
