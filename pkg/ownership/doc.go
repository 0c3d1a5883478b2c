/*
Package ownership implements the Ownership Coordinator (C2): the
checkout/checkin/heartbeat protocol that gives at most one process
exclusive custody of an external issue at a time, plus orphan detection
and in-process deadlock avoidance for contended issue locks.

# Locking

Checkout acquires a create-if-absent, TTL'd lock keyed by issue id
(poppo:lock:issue:<n>), with a value combining the caller's process id and
a random nonce so only the holder that set it can delete it (see
Store.DelIfMatch). Lock contention and heartbeat-write retries use
github.com/cenkalti/backoff/v4 (50ms base, doubling, capped at 2s, 3
attempts).

# Orphan detection

A periodic sweep (default 5 minutes) walks the processing set; an entry
whose heartbeat key has expired, and whose OS-level process id is no
longer alive on the recording host, is repaired: checked in with
finalStatus "error" and an orphan-repaired event is emitted.

# Deadlock avoidance

In-process waiters on a contended lock, plus the set of locks each
process currently holds, form a resource-allocation graph. Every 60s the
graph is walked for cycles; on detection the oldest acquisition in the
cycle is force-released. This is a fallback path — normal operation never
relies on it.
*/
package ownership
