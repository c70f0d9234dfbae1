package causal

// Node is the capability any operation-log entry must expose for the graph
// to track it: a span start, the lamport timestamp at that start, the span
// length and the immediate causal parents (the frontier observed when the
// span began). The graph never inspects operation payloads.
type Node interface {
	ID() ID
	Lamport() uint64
	Len() int
	Deps() []ID
}

// NewNodeFunc mints a concrete node for Push. length is always >= 1.
type NewNodeFunc[N Node] func(id ID, lamport uint64, length int, deps []ID) N

// SpanNode is the minimal concrete Node: a bare span record with no payload.
// Values are immutable once created.
type SpanNode struct {
	id      ID
	lamport uint64
	length  int
	deps    []ID
}

// NewSpanNode satisfies NewNodeFunc[SpanNode].
func NewSpanNode(id ID, lamport uint64, length int, deps []ID) SpanNode {
	return SpanNode{id: id, lamport: lamport, length: length, deps: deps}
}

func (n SpanNode) ID() ID          { return n.id }
func (n SpanNode) Lamport() uint64 { return n.lamport }
func (n SpanNode) Len() int        { return n.length }
func (n SpanNode) Deps() []ID      { return n.deps }

// nodeSpan is the run covered by a node.
func nodeSpan(n Node) Span {
	return Span{Replica: n.ID().Replica, Counter: n.ID().Counter, Len: n.Len()}
}

// nodeEnd is the last position covered by a node; span ends are what the
// frontier is made of.
func nodeEnd(n Node) ID {
	return nodeSpan(n).End()
}

// lamportAt is the lamport value of a single position inside a node's span.
func lamportAt(n Node, id ID) uint64 {
	return n.Lamport() + uint64(id.Counter-n.ID().Counter)
}
