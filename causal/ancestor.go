package causal

import (
	"container/heap"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	sideA = 1 << iota
	sideB
)

// visit is one backward-search step: a position, its lamport value and the
// query side(s) that reached it.
type visit struct {
	id      ID
	lamport uint64
	sides   uint8
}

// visitHeap pops the highest lamport first so the search converges on the
// most recent shared point. Equal lamport values break by lowest replica,
// then highest counter, which makes the traversal order deterministic.
type visitHeap []visit

func (h visitHeap) Len() int { return len(h) }

func (h visitHeap) Less(i, j int) bool {
	if h[i].lamport != h[j].lamport {
		return h[i].lamport > h[j].lamport
	}
	if h[i].id.Replica != h[j].id.Replica {
		return h[i].id.Replica < h[j].id.Replica
	}
	return h[i].id.Counter > h[j].id.Counter
}

func (h visitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *visitHeap) Push(x any) { *h = append(*h, x.(visit)) }

func (h *visitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// CommonAncestor finds the greatest common causal ancestor of two known
// positions. It returns false if either position is unknown or the two
// histories never shared a root.
//
// When several maximal common ancestors exist (a genuinely concurrent merge
// base), the choice is a policy, not an accident: the ancestor with the
// highest lamport value wins, and among equal lamport values the one from
// the lowest replica ID.
//
// The search walks backward from both positions at once, expanding through
// deps in descending lamport order. Within one replica's own sequence every
// earlier position is causally prior, so each side's reached set is a
// per-replica prefix, tracked as version-vector bounds: that gives the O(1)
// domination test, and a span covering the answer point mid-run is caught
// by the prefix overlap rather than needing an exact hit. Visits come off
// the heap in non-increasing lamport order, so once the best overlap seen
// outranks everything still queued it is the answer.
func (g *Graph[N]) CommonAncestor(a, b ID) (ID, bool) {
	if !g.Contains(a) || !g.Contains(b) {
		return ID{}, false
	}
	if a.Replica == b.Replica {
		if a.Counter <= b.Counter {
			return a, true
		}
		return b, true
	}

	reached := [2]VersionVector{make(VersionVector), make(VersionVector)}
	expanded := [2]mapset.Set[ID]{mapset.NewSet[ID](), mapset.NewSet[ID]()}

	var (
		best        ID
		bestLamport uint64
		found       bool
	)
	consider := func(id ID) {
		lamport := g.lamportOf(id)
		if !found || lamport > bestLamport ||
			(lamport == bestLamport && id.Replica < best.Replica) {
			best, bestLamport, found = id, lamport, true
		}
	}

	h := &visitHeap{}
	heap.Push(h, visit{id: a, lamport: g.lamportOf(a), sides: sideA})
	heap.Push(h, visit{id: b, lamport: g.lamportOf(b), sides: sideB})

	for h.Len() > 0 {
		v := heap.Pop(h).(visit)
		for h.Len() > 0 && (*h)[0].id == v.id {
			v.sides |= heap.Pop(h).(visit).sides
		}
		if found && v.lamport < bestLamport {
			break
		}

		replica := v.id.Replica
		cover := [2]int{reached[0].Next(replica), reached[1].Next(replica)}
		for side, bit := range []uint8{sideA, sideB} {
			if v.sides&bit != 0 && v.id.Counter+1 > cover[side] {
				cover[side] = v.id.Counter + 1
			}
		}
		if overlap := min(cover[0], cover[1]); overlap > 0 {
			consider(ID{Replica: replica, Counter: overlap - 1})
		}

		// Every queued ID is a dep or predecessor of a contained node, so
		// on a causally closed graph the lookup cannot miss.
		node, ok := g.Get(v.id)
		if !ok {
			continue
		}
		start := node.ID()
		for side, bit := range []uint8{sideA, sideB} {
			if v.sides&bit == 0 && !reached[side].Contains(v.id) {
				continue
			}
			reached[side].Advance(replica, v.id.Counter+1)
			if !expanded[side].Add(start) {
				continue
			}
			for _, dep := range node.Deps() {
				heap.Push(h, visit{id: dep, lamport: g.lamportOf(dep), sides: bit})
			}
			if start.Counter > 0 {
				prev := ID{Replica: replica, Counter: start.Counter - 1}
				heap.Push(h, visit{id: prev, lamport: g.lamportOf(prev), sides: bit})
			}
		}
	}
	return best, found
}

// lamportOf resolves the lamport value of a contained position.
func (g *Graph[N]) lamportOf(id ID) uint64 {
	node, ok := g.Get(id)
	if !ok {
		return 0
	}
	return lamportAt(node, id)
}
