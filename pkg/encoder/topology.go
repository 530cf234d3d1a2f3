package encoder

import (
	"github.com/netverify/cpverify/pkg/network"
)

// EdgeType is the direction of a logical edge.
type EdgeType int

const (
	Import EdgeType = iota
	Export
)

func (t EdgeType) String() string {
	switch t {
	case Import:
		return "IMPORT"
	case Export:
		return "EXPORT"
	}
	return "UNKNOWN"
}

// LogicalEdge is a graph edge seen by one protocol in one direction,
// carrying the record exchanged across it.
type LogicalEdge struct {
	Edge     *network.GraphEdge
	Type     EdgeType
	Protocol Protocol
	Record   *RouteRecord
}

// EdgePair groups the import and export edge of one protocol on one graph
// edge. Either side may be nil.
type EdgePair struct {
	Edge   *network.GraphEdge
	Import *LogicalEdge
	Export *LogicalEdge
}

// LogicalTopology holds the logical edges of a slice.
type LogicalTopology struct {
	graph    *network.Graph
	pairs    map[string]map[Protocol][]*EdgePair
	byGraph  map[*network.GraphEdge]map[Protocol]*EdgePair
	otherEnd map[*LogicalEdge]*LogicalEdge
}

func newLogicalTopology(g *network.Graph) *LogicalTopology {
	return &LogicalTopology{
		graph:    g,
		pairs:    map[string]map[Protocol][]*EdgePair{},
		byGraph:  map[*network.GraphEdge]map[Protocol]*EdgePair{},
		otherEnd: map[*LogicalEdge]*LogicalEdge{},
	}
}

func (t *LogicalTopology) add(p *EdgePair, proto Protocol) {
	r := p.Edge.Router
	if t.pairs[r] == nil {
		t.pairs[r] = map[Protocol][]*EdgePair{}
	}
	t.pairs[r][proto] = append(t.pairs[r][proto], p)
	if t.byGraph[p.Edge] == nil {
		t.byGraph[p.Edge] = map[Protocol]*EdgePair{}
	}
	t.byGraph[p.Edge][proto] = p
}

// link pairs each import with the export on the opposite end of the same
// link, once all pairs exist.
func (t *LogicalTopology) link() {
	for e, byProto := range t.byGraph {
		other := t.graph.OtherEnd(e)
		if other == nil {
			continue
		}
		for proto, p := range byProto {
			q := t.byGraph[other][proto]
			if q == nil {
				continue
			}
			if p.Import != nil && q.Export != nil {
				t.otherEnd[p.Import] = q.Export
				t.otherEnd[q.Export] = p.Import
			}
		}
	}
}

// Pairs returns the edge pairs of a router for one protocol.
func (t *LogicalTopology) Pairs(router string, proto Protocol) []*EdgePair {
	return t.pairs[router][proto]
}

// Imports returns the import edges of a router for one protocol.
func (t *LogicalTopology) Imports(router string, proto Protocol) []*LogicalEdge {
	var out []*LogicalEdge
	for _, p := range t.pairs[router][proto] {
		if p.Import != nil {
			out = append(out, p.Import)
		}
	}
	return out
}

// Pair returns the pair of a protocol on a graph edge, or nil.
func (t *LogicalTopology) Pair(e *network.GraphEdge, proto Protocol) *EdgePair {
	return t.byGraph[e][proto]
}

// OtherEnd returns the logical edge at the far end of the same link with
// the opposite direction, or nil.
func (t *LogicalTopology) OtherEnd(e *LogicalEdge) *LogicalEdge {
	return t.otherEnd[e]
}
