package causal

// ReplicaID identifies an independent replica. IDs minted by different
// replicas are never ordered by value, only through causal dependency;
// the lexicographic order of ReplicaIDs is used solely as a deterministic
// tie-break.
type ReplicaID string

// ID is a position in one replica's operation sequence: the pair of the
// replica and a per-replica counter starting at 0.
type ID struct {
	Replica ReplicaID
	Counter int
}

// Less orders IDs by replica, then counter. This is a bookkeeping order
// (stable frontiers, deterministic iteration), not a causal one.
func (id ID) Less(other ID) bool {
	if id.Replica != other.Replica {
		return id.Replica < other.Replica
	}
	return id.Counter < other.Counter
}

// Span is a half-open run [Counter, Counter+Len) of operations appended by
// one replica without observing any remote operation in between.
type Span struct {
	Replica ReplicaID
	Counter int
	Len     int
}

// Contains reports whether id falls inside the span.
func (s Span) Contains(id ID) bool {
	return id.Replica == s.Replica && id.Counter >= s.Counter && id.Counter < s.Next()
}

// Next is the exclusive upper counter bound of the span.
func (s Span) Next() int {
	return s.Counter + s.Len
}

// End is the last position covered by the span (inclusive).
func (s Span) End() ID {
	return ID{Replica: s.Replica, Counter: s.Next() - 1}
}

// AdjacentTo reports whether other starts exactly where s ends, or vice
// versa, on the same replica.
func (s Span) AdjacentTo(other Span) bool {
	if s.Replica != other.Replica {
		return false
	}
	return s.Next() == other.Counter || other.Next() == s.Counter
}
