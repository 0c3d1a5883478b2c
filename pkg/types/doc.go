/*
Package types defines the core data structures shared across the
coordinator: projects, tasks, issue ownership records, process records,
quotas, locks, and waiting-queue entries.

# Architecture

The types package is the foundation of the coordinator's data model. It
defines:

  - Project registration and scheduling weight
  - Task lifecycle state and scheduling metadata
  - Issue ownership records and their state machine
  - Process records and heartbeat bookkeeping
  - Per-project quota and usage accounting
  - Distributed lock values
  - In-process waiting-queue entries used for deadlock analysis

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type TaskStatus string
	  const (
	      TaskStatusQueued     TaskStatus = "queued"
	      TaskStatusProcessing TaskStatus = "processing"
	  )

Optional Fields:

	Optional configurations use pointers or zero values:
	  - Deadline *time.Time: nil = no deadline
	  - Metadata map[string]string: nil = no metadata

# Thread Safety

Types in this package carry no synchronization of their own; callers
(pkg/ownership, pkg/quota, pkg/scheduler) are responsible for guarding
concurrent access. Values returned from snapshot-style reads are copies.

# See Also

  - pkg/store for the shared-state persistence layer
  - pkg/ownership for the issue-ownership state machine
  - pkg/quota for quota/usage accounting
  - pkg/scheduler for task lifecycle transitions
*/
package types
