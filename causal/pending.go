package causal

import "errors"

// errNoProgress signals that a full retry pass admitted nothing, so the
// remaining deferred nodes can never be satisfied.
var errNoProgress = errors.New("no progress over pending nodes")

// pendingEntry marks where a walk over one replica's node list stopped:
// everything from index onward is still waiting for its dependencies.
type pendingEntry struct {
	replica ReplicaID
	index   int
}

// pendingQueue holds merge work whose causal parents have not arrived yet.
// Entries are retried in passes: Pop drains the current pass while Push
// defers into the next one, so each entry is attempted exactly once per
// pass. A pass boundary with no admission in between is a fixpoint and
// surfaces as errNoProgress instead of looping forever.
type pendingQueue struct {
	current    []pendingEntry
	next       []pendingEntry
	progressed bool
}

// Push defers an entry to the next pass.
func (q *pendingQueue) Push(replica ReplicaID, index int) {
	q.next = append(q.next, pendingEntry{replica: replica, index: index})
}

// MarkProgress records that a node was admitted since the last pass swap.
func (q *pendingQueue) MarkProgress() {
	q.progressed = true
}

// Pop returns the next entry to retry. At a pass boundary it swaps in the
// deferred entries, or fails with errNoProgress if the completed pass stood
// still. ok is false once both passes are empty.
func (q *pendingQueue) Pop() (entry pendingEntry, ok bool, err error) {
	if len(q.current) == 0 {
		if len(q.next) == 0 {
			return pendingEntry{}, false, nil
		}
		if !q.progressed {
			return pendingEntry{}, false, errNoProgress
		}
		q.current, q.next = q.next, q.current[:0]
		q.progressed = false
	}
	entry = q.current[len(q.current)-1]
	q.current = q.current[:len(q.current)-1]
	return entry, true, nil
}

// Empty reports whether nothing is deferred in either pass.
func (q *pendingQueue) Empty() bool {
	return len(q.current) == 0 && len(q.next) == 0
}
