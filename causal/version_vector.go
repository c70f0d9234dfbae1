package causal

// VersionVector maps each replica to the exclusive upper bound of its
// contiguously known operations. An ID is known iff its counter is below
// the entry for its replica; replicas with no recorded history have no
// entry, so nothing of theirs is known.
type VersionVector map[ReplicaID]int

// Contains reports whether id is covered by the vector.
func (vv VersionVector) Contains(id ID) bool {
	return id.Counter < vv[id.Replica]
}

// Next is the next unused counter for a replica (0 for unseen replicas).
func (vv VersionVector) Next(replica ReplicaID) int {
	return vv[replica]
}

// Advance raises the bound for a replica. Lower values are ignored so the
// vector only ever grows.
func (vv VersionVector) Advance(replica ReplicaID, next int) {
	if next > vv[replica] {
		vv[replica] = next
	}
}

// Copy returns an independent copy of the vector.
func (vv VersionVector) Copy() VersionVector {
	out := make(VersionVector, len(vv))
	for replica, next := range vv {
		out[replica] = next
	}
	return out
}

// Includes reports whether vv covers everything other covers.
func (vv VersionVector) Includes(other VersionVector) bool {
	for replica, next := range other {
		if vv[replica] < next {
			return false
		}
	}
	return true
}
