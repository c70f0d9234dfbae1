// Package causal tracks the partial order of operations produced by
// independent replicas. Each replica owns one Graph; histories are exchanged
// whole and merged, preserving causal order, while the graph maintains the
// current frontier, a version vector and a lamport clock, and answers
// ancestry queries.
//
// The graph is single-threaded: callers that share an instance across
// goroutines must lock around it themselves, since Merge mutates the
// structure in several steps.
package causal

import (
	"fmt"
	"sort"

	"github.com/yumao-zk/causalgraph/util"
)

// Graph is the causal DAG of one replica. It is generic over the concrete
// node type so differently-typed operation logs can plug in; the graph only
// relies on the Node capability.
//
// Per replica the node lists are sorted by counter and gapless: every
// counter below the version-vector bound belongs to exactly one node.
type Graph[N Node] struct {
	replica     ReplicaID
	nodes       map[ReplicaID][]N
	frontier    []ID
	version     VersionVector
	nextLamport uint64
	newNode     NewNodeFunc[N]
}

// New creates an empty graph for the given replica. newNode mints the nodes
// Push appends locally.
func New[N Node](replica ReplicaID, newNode NewNodeFunc[N]) *Graph[N] {
	return &Graph[N]{
		replica: replica,
		nodes:   make(map[ReplicaID][]N),
		version: make(VersionVector),
		newNode: newNode,
	}
}

// NewSpanGraph creates a graph over payload-free SpanNodes.
func NewSpanGraph(replica ReplicaID) *Graph[SpanNode] {
	return New(replica, NewSpanNode)
}

// Replica returns the replica this graph appends for.
func (g *Graph[N]) Replica() ReplicaID {
	return g.replica
}

// Get locates the node whose span contains id. The per-replica lists are
// gapless and sorted by counter, so this is a binary range search.
func (g *Graph[N]) Get(id ID) (N, bool) {
	var zero N
	list := g.nodes[id.Replica]
	idx := sort.Search(len(list), func(i int) bool {
		return nodeSpan(list[i]).Next() > id.Counter
	})
	if idx < len(list) && nodeSpan(list[idx]).Contains(id) {
		return list[idx], true
	}
	return zero, false
}

// Contains reports whether id is part of the known history.
func (g *Graph[N]) Contains(id ID) bool {
	return g.version.Contains(id)
}

// Version returns a copy of the version vector.
func (g *Graph[N]) Version() VersionVector {
	return g.version.Copy()
}

// NextLamport returns one past the highest lamport value of any known span.
func (g *Graph[N]) NextLamport() uint64 {
	return g.nextLamport
}

// Frontier returns the current concurrent tips: the span-end IDs no other
// known node depends on. The slice is a copy, sorted by replica then
// counter.
func (g *Graph[N]) Frontier() []ID {
	return append([]ID(nil), g.frontier...)
}

// Roots returns the nodes with no causal parents, in ascending replica
// order. At most one exists per replica: only a replica's first span can
// have observed nothing.
func (g *Graph[N]) Roots() []N {
	var roots []N
	for _, replica := range g.replicaIDs() {
		list := g.nodes[replica]
		if len(list) > 0 && len(list[0].Deps()) == 0 {
			roots = append(roots, list[0])
		}
	}
	return roots
}

// Nodes returns every node, replicas in ascending order and each replica's
// spans in counter order. The slice is fresh; the nodes themselves are the
// graph's immutable records.
func (g *Graph[N]) Nodes() []N {
	var out []N
	for _, replica := range g.replicaIDs() {
		out = append(out, g.nodes[replica]...)
	}
	return out
}

// Push appends a run of length local operations. The current frontier
// becomes the new span's deps and the span's end ID becomes the sole
// frontier tip; the version vector and lamport clock advance by length.
func (g *Graph[N]) Push(length int) error {
	if length < 1 {
		return fmt.Errorf("push length %d: %w", length, ErrInvalidArgument)
	}
	id := ID{Replica: g.replica, Counter: g.version.Next(g.replica)}
	node := g.newNode(id, g.nextLamport, length, g.frontier)
	g.nodes[g.replica] = append(g.nodes[g.replica], node)
	g.frontier = []ID{nodeEnd(node)}
	g.version.Advance(g.replica, nodeSpan(node).Next())
	g.nextLamport += uint64(length)
	return nil
}

// replicaIDs returns the replicas with recorded history, sorted.
func (g *Graph[N]) replicaIDs() []ReplicaID {
	replicas := make([]ReplicaID, 0, len(g.nodes))
	for replica := range g.nodes {
		replicas = append(replicas, replica)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })
	return replicas
}

// admit inserts an externally produced node whose deps are all contained.
// Frontier tips that the node depends on stop being tips; the node's end ID
// becomes one. The dep IDs themselves stay in the graph: other unprocessed
// nodes may still reference them.
func (g *Graph[N]) admit(node N) {
	replica := node.ID().Replica
	g.nodes[replica] = append(g.nodes[replica], node)
	g.version.Advance(replica, nodeSpan(node).Next())
	if next := node.Lamport() + uint64(node.Len()); next > g.nextLamport {
		g.nextLamport = next
	}
	g.frontier = advanceFrontier(g.frontier, nodeEnd(node), node.Deps())
}

// depsSatisfied reports whether every causal parent of node is contained.
func (g *Graph[N]) depsSatisfied(node N) bool {
	return !util.Reduce(node.Deps(), func(dep ID, missing bool) bool {
		return missing || !g.version.Contains(dep)
	}, false)
}

// advanceFrontier removes the tips the new node consumed as deps and adds
// its end ID, keeping the frontier sorted.
func advanceFrontier(frontier []ID, end ID, deps []ID) []ID {
	f := util.Filter(frontier, func(tip ID) bool {
		return !util.Reduce(deps, func(dep ID, hit bool) bool {
			return hit || dep == tip
		}, false)
	})
	f = append(f, end)
	sort.Slice(f, func(i, j int) bool { return f[i].Less(f[j]) })
	return f
}
