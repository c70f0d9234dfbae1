package causal

import (
	"fmt"
	"sort"
)

// Merge folds every node of other into g, preserving causal order. It is
// commutative and idempotent: already-contained nodes are skipped, and the
// result does not depend on which side merges first. Nodes whose causal
// parents have not been admitted yet are deferred to a pending buffer and
// retried as their predecessors land, so out-of-order delivery across the
// incoming set is fine.
//
// If a retry pass completes without admitting anything the remaining nodes
// are unsatisfiable and Merge fails with ErrInconsistentHistory. Nodes
// admitted before the failure stay: each admission is causally closed, so
// the graph is still structurally sound.
func (g *Graph[N]) Merge(other *Graph[N]) error {
	lists := make(map[ReplicaID][]N, len(other.nodes))
	for replica, list := range other.nodes {
		lists[replica] = list
	}
	return g.mergeLists(lists)
}

// mergeLists admits per-replica node lists, each sorted by counter.
func (g *Graph[N]) mergeLists(lists map[ReplicaID][]N) error {
	var pending pendingQueue

	replicas := make([]ReplicaID, 0, len(lists))
	for replica := range lists {
		replicas = append(replicas, replica)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })

	for _, replica := range replicas {
		g.admitRun(lists[replica], 0, &pending)
	}
	for {
		entry, ok, err := pending.Pop()
		if err != nil {
			return fmt.Errorf("merge: %w", ErrInconsistentHistory)
		}
		if !ok {
			return nil
		}
		g.admitRun(lists[entry.replica], entry.index, &pending)
	}
}

// admitRun walks one replica's list from start, admitting nodes until one
// is blocked. A node is blocked when a dep is missing or when it would not
// extend its replica's sequence contiguously: admitting past a hole would
// make the version vector claim positions no node covers. Within a single
// replica dependencies resolve strictly in counter order, so the walk stops
// at the first blocked node and defers the rest of the run.
func (g *Graph[N]) admitRun(list []N, start int, pending *pendingQueue) {
	for i := start; i < len(list); i++ {
		node := list[i]
		if g.Contains(node.ID()) {
			continue
		}
		if node.ID().Counter > g.version.Next(node.ID().Replica) || !g.depsSatisfied(node) {
			pending.Push(node.ID().Replica, i)
			return
		}
		g.admit(node)
		pending.MarkProgress()
	}
}

// FromNodes rebuilds a graph from a flat node set, e.g. records received
// over the wire and reconstructed into the Node capability. Nodes may
// arrive in any order; the set must be causally complete or FromNodes fails
// with ErrInconsistentHistory.
func FromNodes[N Node](replica ReplicaID, newNode NewNodeFunc[N], nodes []N) (*Graph[N], error) {
	g := New(replica, newNode)
	lists := make(map[ReplicaID][]N)
	for _, node := range nodes {
		r := node.ID().Replica
		lists[r] = append(lists[r], node)
	}
	for _, list := range lists {
		sort.Slice(list, func(i, j int) bool {
			return list[i].ID().Counter < list[j].ID().Counter
		})
	}
	if err := g.mergeLists(lists); err != nil {
		return nil, err
	}
	return g, nil
}
