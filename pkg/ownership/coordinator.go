package ownership

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/metrics"
	"github.com/poppobuilder/coordinator/pkg/store"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// LabelUpdater is the narrow boundary to an external issue tracker that
// Checkout/Checkin use for fire-and-forget label updates. A concrete
// implementation lives in pkg/tracker; failures here are logged and never
// roll back the ownership change.
type LabelUpdater interface {
	UpdateLabel(ctx context.Context, issueID, label string) error
}

// noopLabelUpdater is used when the caller doesn't wire a tracker.
type noopLabelUpdater struct{}

func (noopLabelUpdater) UpdateLabel(context.Context, string, string) error { return nil }

// Config configures a Coordinator's timing knobs; zero values take the
// package defaults below.
type Config struct {
	LockTTL              time.Duration // default 5m
	HeartbeatTTL         time.Duration // default 30m
	OrphanScanInterval   time.Duration // default 5m
	DeadlockScanInterval time.Duration // default 60s
}

func (c *Config) setDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 30 * time.Minute
	}
	if c.OrphanScanInterval <= 0 {
		c.OrphanScanInterval = 5 * time.Minute
	}
	if c.DeadlockScanInterval <= 0 {
		c.DeadlockScanInterval = 60 * time.Second
	}
}

// Coordinator is the Ownership Coordinator (C2).
type Coordinator struct {
	cfg      Config
	store    store.Store
	broker   *events.Broker
	labels   LabelUpdater
	hostname string

	waiters *waitQueue

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCoordinator constructs a Coordinator. labels may be nil, in which case
// label updates are a no-op.
func NewCoordinator(cfg Config, s store.Store, broker *events.Broker, labels LabelUpdater) *Coordinator {
	cfg.setDefaults()
	if labels == nil {
		labels = noopLabelUpdater{}
	}
	hostname, _ := os.Hostname()
	return &Coordinator{
		cfg:      cfg,
		store:    s,
		broker:   broker,
		labels:   labels,
		hostname: hostname,
		waiters:  newWaitQueue(),
		stopCh:   make(chan struct{}),
	}
}

func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2) // 3 total attempts
}

// Checkout attempts to acquire exclusive ownership of an issue.
func (c *Coordinator) Checkout(ctx context.Context, issueID, processID string, osPid int, taskType string) (types.IssueOwnership, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckoutDuration)

	lockKey := issueLockKey(issueID)
	nonce := uuid.New().String()
	lockValue := encodeLockValue(types.LockValue{ProcessID: processID, Nonce: nonce})

	acquired := false
	err := backoff.Retry(func() error {
		ok, err := c.store.SetNX(ctx, lockKey, lockValue, c.cfg.LockTTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errs.New(errs.LockTimeout, "issue lock held")
		}
		acquired = true
		return nil
	}, backoff.WithContext(retryPolicy(), ctx))
	if err != nil {
		if !acquired {
			return types.IssueOwnership{}, errs.New(errs.LockTimeout, "could not acquire issue lock for "+issueID)
		}
		return types.IssueOwnership{}, err
	}

	current, err := c.store.HGetAll(ctx, issueStatusKey(issueID))
	if err != nil {
		c.releaseLock(ctx, lockKey, lockValue)
		return types.IssueOwnership{}, err
	}
	if current["status"] == string(types.OwnershipProcessing) && current["processId"] != processID {
		c.releaseLock(ctx, lockKey, lockValue)
		return types.IssueOwnership{}, errs.New(errs.ConflictError, "issue "+issueID+" already owned")
	}

	now := time.Now()
	ownership := types.IssueOwnership{
		IssueID:   issueID,
		Status:    types.OwnershipProcessing,
		ProcessID: processID,
		OSPid:     osPid,
		TaskType:  taskType,
		StartedAt: now,
		UpdatedAt: now,
	}

	ops := []store.BatchOp{
		{Kind: store.BatchHSet, Key: issueStatusKey(issueID), Field: "status", Value: string(types.OwnershipProcessing)},
		{Kind: store.BatchHSet, Key: issueStatusKey(issueID), Field: "processId", Value: processID},
		{Kind: store.BatchHSet, Key: issueStatusKey(issueID), Field: "osPid", Value: strconv.Itoa(osPid)},
		{Kind: store.BatchHSet, Key: issueStatusKey(issueID), Field: "taskType", Value: taskType},
		{Kind: store.BatchHSet, Key: issueStatusKey(issueID), Field: "startedAt", Value: now.Format(time.RFC3339)},
		{Kind: store.BatchHSet, Key: issueStatusKey(issueID), Field: "updatedAt", Value: now.Format(time.RFC3339)},
		{Kind: store.BatchHSet, Key: processInfoKey(processID), Field: "currentIssue", Value: issueID},
		{Kind: store.BatchHSet, Key: processInfoKey(processID), Field: "hostname", Value: c.hostname},
		{Kind: store.BatchHSet, Key: processInfoKey(processID), Field: "osPid", Value: strconv.Itoa(osPid)},
		{Kind: store.BatchHSet, Key: processInfoKey(processID), Field: "lastSeen", Value: now.Format(time.RFC3339)},
		{Kind: store.BatchSetEx, Key: processHeartbeatKey(processID), Value: "alive", TTL: c.cfg.HeartbeatTTL},
		{Kind: store.BatchSAdd, Key: processingSetKey, Value: issueID},
		{Kind: store.BatchSAdd, Key: activeProcessesSetKey, Value: processID},
	}
	if err := c.store.Batch(ctx, ops); err != nil {
		c.releaseLock(ctx, lockKey, lockValue)
		return types.IssueOwnership{}, err
	}

	c.waiters.recordHeld(processID, issueID)

	go c.updateLabelBestEffort(issueID, "processing")

	c.releaseLock(ctx, lockKey, lockValue)

	metrics.ProcessingIssuesTotal.Inc()
	if c.broker != nil {
		c.broker.Publish(&events.Event{Type: events.EventTaskStarted, Message: issueID, Metadata: map[string]string{"issueId": issueID, "processId": processID}})
	}
	return ownership, nil
}

// Checkin releases a held issue ownership.
func (c *Coordinator) Checkin(ctx context.Context, issueID, processID string, finalStatus types.OwnershipStatus, metadata map[string]string) error {
	if finalStatus != types.OwnershipCompleted && finalStatus != types.OwnershipError {
		return errs.New(errs.InvalidTransition, "checkin must set completed or error")
	}

	current, err := c.store.HGetAll(ctx, issueStatusKey(issueID))
	if err != nil {
		return err
	}
	if current["processId"] != processID {
		return errs.New(errs.NotOwner, "process "+processID+" does not own issue "+issueID)
	}
	if current["status"] != string(types.OwnershipProcessing) {
		return errs.New(errs.InvalidTransition, "issue "+issueID+" is not processing")
	}

	now := time.Now()
	ops := []store.BatchOp{
		{Kind: store.BatchHSet, Key: issueStatusKey(issueID), Field: "status", Value: string(finalStatus)},
		{Kind: store.BatchHSet, Key: issueStatusKey(issueID), Field: "updatedAt", Value: now.Format(time.RFC3339)},
		{Kind: store.BatchSRem, Key: processingSetKey, Value: issueID},
		{Kind: store.BatchSRem, Key: activeProcessesSetKey, Value: processID},
	}
	if finalStatus == types.OwnershipCompleted {
		ops = append(ops, store.BatchOp{Kind: store.BatchSAdd, Key: processedSetKey, Value: issueID})
	}
	for k, v := range metadata {
		ops = append(ops, store.BatchOp{Kind: store.BatchHSet, Key: issueMetadataKey(issueID), Field: k, Value: v})
	}
	if err := c.store.Batch(ctx, ops); err != nil {
		return err
	}

	c.waiters.releaseHeld(processID, issueID)

	label := "completed"
	if finalStatus == types.OwnershipError {
		label = "error"
	}
	go c.updateLabelBestEffort(issueID, label)

	metrics.ProcessingIssuesTotal.Dec()
	if c.broker != nil {
		evt := events.EventTaskCompleted
		if finalStatus == types.OwnershipError {
			evt = events.EventTaskFailed
		}
		c.broker.Publish(&events.Event{Type: evt, Message: issueID, Metadata: map[string]string{"issueId": issueID, "processId": processID}})
	}
	return nil
}

// Heartbeat implements the heartbeat protocol: idempotent, no lock taken.
func (c *Coordinator) Heartbeat(ctx context.Context, processID string) error {
	return backoff.Retry(func() error {
		if err := c.store.SetEx(ctx, processHeartbeatKey(processID), "alive", c.cfg.HeartbeatTTL); err != nil {
			return err
		}
		return c.store.HSet(ctx, processInfoKey(processID), map[string]string{"lastSeen": time.Now().Format(time.RFC3339)})
	}, backoff.WithContext(retryPolicy(), ctx))
}

// ListProcessing returns the ownership record of every issue in the
// processing set.
func (c *Coordinator) ListProcessing(ctx context.Context) ([]types.IssueOwnership, error) {
	issueIDs, err := c.store.SMembers(ctx, processingSetKey)
	if err != nil {
		return nil, err
	}
	out := make([]types.IssueOwnership, 0, len(issueIDs))
	for _, id := range issueIDs {
		fields, err := c.store.HGetAll(ctx, issueStatusKey(id))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, ownershipFromFields(id, fields))
	}
	return out, nil
}

// ListActiveProcesses returns the process record of every process in the
// active-processes set: a process is added on checkout and removed on
// checkin or orphan repair. Heartbeat expiry is not checked here.
func (c *Coordinator) ListActiveProcesses(ctx context.Context) ([]types.ProcessRecord, error) {
	processIDs, err := c.store.SMembers(ctx, activeProcessesSetKey)
	if err != nil {
		return nil, err
	}
	out := make([]types.ProcessRecord, 0, len(processIDs))
	for _, id := range processIDs {
		fields, err := c.store.HGetAll(ctx, processInfoKey(id))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		pid, _ := strconv.Atoi(fields["osPid"])
		rec := types.ProcessRecord{
			ProcessID:    id,
			OSPid:        pid,
			Hostname:     fields["hostname"],
			Role:         types.ProcessRoleWorker,
			CurrentIssue: fields["currentIssue"],
		}
		if t, err := time.Parse(time.RFC3339, fields["lastSeen"]); err == nil {
			rec.LastSeen = t
		}
		out = append(out, rec)
	}
	return out, nil
}

// CleanupProcess releases a process's in-process bookkeeping; used on
// disconnect. It does not touch the store: a live process always explicitly
// checks in, and a dead one is handled by the orphan scanner.
func (c *Coordinator) CleanupProcess(processID string) {
	c.waiters.releaseAllHeldBy(processID)
}

func (c *Coordinator) releaseLock(ctx context.Context, key, expectedValue string) {
	ok, err := c.store.DelIfMatch(ctx, key, expectedValue)
	if err != nil {
		log.WithComponent("ownership").Warn().Err(err).Str("key", key).Msg("lock release failed")
		return
	}
	if !ok {
		log.WithComponent("ownership").Debug().Str("key", key).Msg("lock already expired or reassigned, skipping release")
	}
}

func (c *Coordinator) updateLabelBestEffort(issueID, label string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := backoff.Retry(func() error {
		return c.labels.UpdateLabel(ctx, issueID, label)
	}, backoff.WithContext(retryPolicy(), ctx))
	if err != nil {
		log.WithComponent("ownership").Warn().Err(err).Str("issue_id", issueID).Msg("label update failed, ignoring")
	}
}

func ownershipFromFields(issueID string, fields map[string]string) types.IssueOwnership {
	o := types.IssueOwnership{
		IssueID:   issueID,
		Status:    types.OwnershipStatus(fields["status"]),
		ProcessID: fields["processId"],
		TaskType:  fields["taskType"],
	}
	if t, err := time.Parse(time.RFC3339, fields["startedAt"]); err == nil {
		o.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339, fields["updatedAt"]); err == nil {
		o.UpdatedAt = t
	}
	return o
}

func encodeLockValue(v types.LockValue) string {
	b, _ := json.Marshal(v)
	return string(b)
}
