package ownership

import (
	"context"
	"sync"
	"time"

	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/metrics"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// waitQueue tracks, in process, which issue locks each process currently
// holds and who is waiting on which issue. Together these form a
// resource-allocation graph used only for deadlock detection; the store
// remains the sole authority on who actually owns a lock.
type waitQueue struct {
	mu      sync.Mutex
	held    map[string]map[string]time.Time // processID -> issueID -> acquiredAt
	waiting map[string][]*types.WaitingEntry // issueID -> waiters, FIFO within a priority class
}

func newWaitQueue() *waitQueue {
	return &waitQueue{
		held:    make(map[string]map[string]time.Time),
		waiting: make(map[string][]*types.WaitingEntry),
	}
}

func (q *waitQueue) recordHeld(processID, issueID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.held[processID]
	if !ok {
		m = make(map[string]time.Time)
		q.held[processID] = m
	}
	m[issueID] = time.Now()
}

func (q *waitQueue) releaseHeld(processID, issueID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if m, ok := q.held[processID]; ok {
		delete(m, issueID)
		if len(m) == 0 {
			delete(q.held, processID)
		}
	}
}

func (q *waitQueue) releaseAllHeldBy(processID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.held, processID)
}

// enqueueWaiter inserts entry FIFO within its priority class and returns a
// function to remove it (called on timeout or once the wait is resolved).
func (q *waitQueue) enqueueWaiter(entry *types.WaitingEntry) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.waiting[entry.IssueID]
	insertAt := len(list)
	for i, w := range list {
		if entry.Priority < w.Priority {
			insertAt = i
			break
		}
	}
	list = append(list, nil)
	copy(list[insertAt+1:], list[insertAt:])
	list[insertAt] = entry
	q.waiting[entry.IssueID] = list

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		list := q.waiting[entry.IssueID]
		for i, w := range list {
			if w == entry {
				q.waiting[entry.IssueID] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// detectAndBreakCycles walks the resource-allocation graph (waiter ->
// desired issue -> holder -> other issues that holder's waiters desire...)
// for cycles. This is a fallback safety net; it should never fire in
// correctly-operating deployments. On finding a cycle, the oldest
// acquisition among the cycle's held locks is force-released.
func (q *waitQueue) detectAndBreakCycles(broker *events.Broker, forceRelease func(processID, issueID string)) {
	q.mu.Lock()
	type edge struct {
		fromProcess string
		issueID     string
		holderPid   int
	}
	var edges []edge
	for issueID, waiters := range q.waiting {
		for _, w := range waiters {
			edges = append(edges, edge{issueID: issueID, holderPid: w.HolderPid})
		}
	}
	held := make(map[string]map[string]time.Time, len(q.held))
	for pid, issues := range q.held {
		m := make(map[string]time.Time, len(issues))
		for k, v := range issues {
			m[k] = v
		}
		held[pid] = m
	}
	q.mu.Unlock()

	if len(edges) == 0 {
		return
	}

	// Build: which process holds each waited-on issue.
	holderOf := make(map[string]string)
	for pid, issues := range held {
		for issueID := range issues {
			holderOf[issueID] = pid
		}
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var walk func(pid string) []string
	walk = func(pid string) []string {
		if onStack[pid] {
			return []string{pid}
		}
		if visited[pid] {
			return nil
		}
		visited[pid] = true
		onStack[pid] = true
		defer delete(onStack, pid)

		for issueID := range held[pid] {
			for waiterIssue, waiters := range q.waiting {
				if waiterIssue != issueID {
					continue
				}
				for _, w := range waiters {
					nextHolder, ok := holderOf[w.IssueID]
					if !ok {
						continue
					}
					if cycle := walk(nextHolder); cycle != nil {
						return append(cycle, pid)
					}
				}
			}
		}
		return nil
	}

	for pid := range held {
		cycle := walk(pid)
		if cycle == nil {
			continue
		}

		var oldestPid, oldestIssue string
		var oldestTime time.Time
		for _, pid := range cycle {
			for issueID, acquiredAt := range held[pid] {
				if oldestTime.IsZero() || acquiredAt.Before(oldestTime) {
					oldestTime = acquiredAt
					oldestPid = pid
					oldestIssue = issueID
				}
			}
		}
		if oldestPid == "" {
			continue
		}

		log.WithComponent("ownership").Warn().
			Str("process_id", oldestPid).
			Str("issue_id", oldestIssue).
			Msg("deadlock detected, force-releasing oldest lock in cycle")
		forceRelease(oldestPid, oldestIssue)
		metrics.OwnershipDeadlocksBrokenTotal.Inc()
		if broker != nil {
			broker.Publish(&events.Event{
				Type:     events.EventDeadlockBroken,
				Message:  oldestIssue,
				Metadata: map[string]string{"processId": oldestPid, "issueId": oldestIssue},
			})
		}
		return
	}
}

// startDeadlockDetector runs detectAndBreakCycles on c.cfg.DeadlockScanInterval
// until Stop is called.
func (c *Coordinator) startDeadlockDetector() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.DeadlockScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.waiters.detectAndBreakCycles(c.broker, c.forceReleaseLock)
			case <-c.stopCh:
				return
			}
		}
	}()
}

// forceReleaseLock unconditionally deletes the issue lock (bypassing the
// nonce check, since the holder is presumed deadlocked/unresponsive) and
// notifies in-process bookkeeping.
func (c *Coordinator) forceReleaseLock(processID, issueID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.store.Del(ctx, issueLockKey(issueID))
	c.waiters.releaseHeld(processID, issueID)
}
