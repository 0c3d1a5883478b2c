package types

import "time"

// Project represents a registered automation target.
type Project struct {
	ID          string
	Name        string
	Path        string
	Priority    int     // static priority, higher = more favoured
	ShareWeight float64 // positive real, used by weighted-fair selection
	Quota       Quota
	Enabled     bool
	CreatedAt   time.Time
	LastActivity time.Time
}

// Task represents a unit of work enqueued against a project.
type Task struct {
	ID          string
	ProjectID   string
	IssueID     string
	TaskType    string // free-form, used for timeout profiling
	Priority    int    // 0-100
	Deadline    *time.Time
	Status      TaskStatus
	ArrivedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Retries     int
	LastError   string
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status is one from which no further
// transition is permitted.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// OwnershipStatus is the lifecycle state of an IssueOwnership record.
type OwnershipStatus string

const (
	OwnershipIdle             OwnershipStatus = "idle"
	OwnershipProcessing       OwnershipStatus = "processing"
	OwnershipAwaitingResponse OwnershipStatus = "awaiting-response"
	OwnershipCompleted        OwnershipStatus = "completed"
	OwnershipError            OwnershipStatus = "error"
)

// IssueOwnership records which process currently owns an external issue.
type IssueOwnership struct {
	IssueID    string
	Status     OwnershipStatus
	ProcessID  string
	OSPid      int
	TaskType   string
	StartedAt  time.Time
	UpdatedAt  time.Time
	Metadata   map[string]string
}

// ProcessRole distinguishes worker processes from the coordinator's own
// self-registered process record.
type ProcessRole string

const (
	ProcessRoleWorker      ProcessRole = "worker"
	ProcessRoleCoordinator ProcessRole = "coordinator"
)

// ProcessRecord tracks a connected process for heartbeat and orphan
// detection purposes.
type ProcessRecord struct {
	ProcessID    string
	OSPid        int
	Hostname     string
	Role         ProcessRole
	LastSeen     time.Time
	CurrentIssue string
}

// Quota describes the resource ceiling assigned to a project.
type Quota struct {
	CPU           float64 // fractional cores
	Memory        int64   // bytes
	MaxConcurrent int
	Elastic       bool
}

// Usage mirrors Quota's fields and tracks the set of processes currently
// consuming the project's allocation.
type Usage struct {
	CPU            float64
	Memory         int64
	Concurrent     int
	ActiveProcesses map[string]struct{}
}

// AllocationHistoryEntry records a single elastic-borrow event.
type AllocationHistoryEntry struct {
	Timestamp    time.Time
	ProjectID    string
	ResourceType string // "cpu" or "memory"
	Amount       float64
	Reason       string
}

// LockValue is the value written into a create-if-absent lock key: the
// holder's process identifier plus a nonce so the holder can safely delete
// only its own lock.
type LockValue struct {
	ProcessID string
	Nonce     string
}

// WaitPriority is an explicit ordinal priority class for in-process
// waiting-queue entries.
type WaitPriority int

const (
	PriorityUrgent WaitPriority = 0
	PriorityHigh   WaitPriority = 1
	PriorityNormal WaitPriority = 2
	PriorityLow    WaitPriority = 3
)

// WaitingEntry is a pending request for a contended issue lock, held
// in-process for deadlock analysis; it is never persisted.
type WaitingEntry struct {
	IssueID   string
	Priority  WaitPriority
	ArrivedAt time.Time
	HolderPid int
	Resolve   func(LockValue)
	Reject    func(error)
}

// OrphanRecord describes an ownership record repaired by the orphan
// scanner.
type OrphanRecord struct {
	IssueID     string
	ProcessID   string
	OriginalPid int
	OrphanedAt  time.Time
	Reason      string
}
