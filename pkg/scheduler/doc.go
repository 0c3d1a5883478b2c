/*
Package scheduler holds the ready queue of tasks and decides, under one of
five selection policies, which task runs next for which project.

# Selection policies

  - FIFO: oldest arrival wins.
  - Priority: highest numeric priority wins, ties broken by arrival order.
  - RoundRobin: a cursor rotates over the set of projects that currently
    have a ready task, returning one task per project per full cycle.
  - WeightedFair: a deficit-token scheme. Each project holds a balance
    seeded from its share weight; a selection debits the winner by one
    token, and once every tracked project's balance has dropped to zero
    or below, all balances are refilled to their share weight at once.
  - DeadlineAware: a task due within 24 hours wins outright, nearest
    deadline first; with no such task, control falls through to Priority.

The scheduler never performs ownership checkout or resource allocation
itself — callers (the daemon) run those checks after a task is selected
and call Requeue if either one fails, putting the task back at the head
of its project's queue.

# Persistence

State is serialized to a single JSON file by Save, which the daemon calls
on its auto-save timer and at shutdown; a mutating event marks the state
dirty but does not write it, so changes made since the last save are lost
by a crash. On restart, tasks caught mid
"processing" are moved back to the head of the ready queue with their
retry counters intact, so a task that was processing at the last save is
not dropped by a crash. A secondary rotating ring of point-in-time
snapshots is kept in a bbolt bucket, trimmed to the newest N entries on
every append.
*/
package scheduler
