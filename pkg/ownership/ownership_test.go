package ownership

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/store"
	"github.com/poppobuilder/coordinator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator() *Coordinator {
	broker := events.NewBroker()
	broker.Start()
	return NewCoordinator(Config{}, store.NewMemoryStore(), broker, nil)
}

// TestCheckout_UniqueOwnership exercises invariant 1: at most one process
// may own an issue at a time (scenario S2, contention).
func TestCheckout_UniqueOwnership(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Checkout(ctx, "42", "worker-a", os.Getpid(), "fix")
	require.NoError(t, err)

	_, err = c.Checkout(ctx, "42", "worker-b", os.Getpid(), "fix")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConflictError))
}

// TestCheckout_SameOwnerIsIdempotent confirms a second checkout by the
// original owner is not treated as contention.
func TestCheckout_SameOwnerIsIdempotent(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Checkout(ctx, "42", "worker-a", os.Getpid(), "fix")
	require.NoError(t, err)

	_, err = c.Checkout(ctx, "42", "worker-a", os.Getpid(), "fix")
	require.NoError(t, err)
}

// TestCheckoutCheckin_HappyPath exercises scenario S1.
func TestCheckoutCheckin_HappyPath(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Checkout(ctx, "42", "worker-a", os.Getpid(), "fix")
	require.NoError(t, err)

	require.NoError(t, c.Checkin(ctx, "42", "worker-a", types.OwnershipCompleted, nil))

	processing, err := c.store.SMembers(ctx, processingSetKey)
	require.NoError(t, err)
	assert.NotContains(t, processing, "42")

	processed, err := c.store.SMembers(ctx, processedSetKey)
	require.NoError(t, err)
	assert.Contains(t, processed, "42")
}

// TestCheckin_NotOwner exercises the NotOwner error path and the
// idempotence law: a second checkin by someone other than the recorded
// owner never succeeds.
func TestCheckin_NotOwner(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Checkout(ctx, "42", "worker-a", os.Getpid(), "fix")
	require.NoError(t, err)

	err = c.Checkin(ctx, "42", "worker-b", types.OwnershipCompleted, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotOwner))
}

// TestCheckin_Twice exercises the idempotence law: checkin applied twice by
// the recorded owner succeeds once then fails InvalidTransition, never
// double-counting.
func TestCheckin_Twice(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Checkout(ctx, "42", "worker-a", os.Getpid(), "fix")
	require.NoError(t, err)
	require.NoError(t, c.Checkin(ctx, "42", "worker-a", types.OwnershipCompleted, nil))

	err = c.Checkin(ctx, "42", "worker-a", types.OwnershipCompleted, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotOwner) || errs.Is(err, errs.InvalidTransition))
}

// TestHeartbeat_Idempotent confirms repeated heartbeats are safe and keep
// refreshing the TTL.
func TestHeartbeat_Idempotent(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Heartbeat(ctx, "worker-a"))
	}
	_, alive, err := c.store.Get(ctx, processHeartbeatKey("worker-a"))
	require.NoError(t, err)
	assert.True(t, alive)
}

// TestScanOrphans_RepairsDeadProcess exercises invariant 5 (liveness of
// orphan repair) and scenario S3.
func TestScanOrphans_RepairsDeadProcess(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Checkout(ctx, "99", "worker-dead", 999999999, "fix")
	require.NoError(t, err)

	// Simulate an expired heartbeat without waiting out the real TTL.
	require.NoError(t, c.store.Del(ctx, processHeartbeatKey("worker-dead")))

	records, err := c.ScanOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "99", records[0].IssueID)
	assert.Equal(t, "process died unexpectedly", records[0].Reason)

	processing, err := c.store.SMembers(ctx, processingSetKey)
	require.NoError(t, err)
	assert.NotContains(t, processing, "99")

	_, err = c.Checkout(ctx, "99", "worker-b", os.Getpid(), "fix")
	require.NoError(t, err, "issue should be checkout-able again after orphan repair")
}

// TestScanOrphans_SkipsLiveProcess confirms a live heartbeat prevents
// repair even when the OS pid check would otherwise be ambiguous.
func TestScanOrphans_SkipsLiveProcess(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Checkout(ctx, "7", "worker-a", os.Getpid(), "fix")
	require.NoError(t, err)

	records, err := c.ScanOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestLockRelease_NonceGuard exercises invariant 7 (lock safety): a delete
// using a stale nonce must never remove a lock someone else now holds.
func TestLockRelease_NonceGuard(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	staleValue := encodeLockValue(types.LockValue{ProcessID: "worker-a", Nonce: "stale-nonce"})
	ok, err := s.SetNX(ctx, issueLockKey("42"), staleValue, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate expiry followed by a new holder acquiring the lock.
	require.NoError(t, s.Del(ctx, issueLockKey("42")))
	freshValue := encodeLockValue(types.LockValue{ProcessID: "worker-b", Nonce: "fresh-nonce"})
	ok, err = s.SetNX(ctx, issueLockKey("42"), freshValue, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := s.DelIfMatch(ctx, issueLockKey("42"), staleValue)
	require.NoError(t, err)
	assert.False(t, deleted, "a stale nonce must never delete a newer holder's lock")

	v, exists, err := s.Get(ctx, issueLockKey("42"))
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, freshValue, v)
}

// TestWaitQueue_EnqueueFIFOWithinPriority confirms waiters are ordered by
// priority class, then FIFO within a class.
func TestWaitQueue_EnqueueFIFOWithinPriority(t *testing.T) {
	q := newWaitQueue()

	low := &types.WaitingEntry{IssueID: "1", Priority: types.PriorityLow, ArrivedAt: time.Now()}
	urgent := &types.WaitingEntry{IssueID: "1", Priority: types.PriorityUrgent, ArrivedAt: time.Now()}
	normal := &types.WaitingEntry{IssueID: "1", Priority: types.PriorityNormal, ArrivedAt: time.Now()}

	q.enqueueWaiter(low)
	q.enqueueWaiter(urgent)
	removeNormal := q.enqueueWaiter(normal)

	list := q.waiting["1"]
	require.Len(t, list, 3)
	assert.Equal(t, types.PriorityUrgent, list[0].Priority)
	assert.Equal(t, types.PriorityNormal, list[1].Priority)
	assert.Equal(t, types.PriorityLow, list[2].Priority)

	removeNormal()
	assert.Len(t, q.waiting["1"], 2)
}
