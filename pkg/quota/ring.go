package quota

import "github.com/poppobuilder/coordinator/pkg/types"

// historyRing is a fixed-capacity ring buffer of allocation-history
// entries; the oldest entry is overwritten once the ring is full. Default
// capacity is 1,000 entries per the Open Question decision recorded in
// DESIGN.md.
type historyRing struct {
	entries []types.AllocationHistoryEntry
	next    int
	full    bool
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &historyRing{entries: make([]types.AllocationHistoryEntry, capacity)}
}

func (r *historyRing) append(e types.AllocationHistoryEntry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the ring's entries in chronological order.
func (r *historyRing) snapshot() []types.AllocationHistoryEntry {
	if !r.full {
		out := make([]types.AllocationHistoryEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]types.AllocationHistoryEntry, len(r.entries))
	copy(out, r.entries[r.next:])
	copy(out[len(r.entries)-r.next:], r.entries[:r.next])
	return out
}
