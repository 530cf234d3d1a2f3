package encoder

import (
	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/network"
)

// DecisionState is the per-router outcome of route selection and
// forwarding in one slice.
type DecisionState struct {
	BestOverall *RouteRecord
	// BestPerProtocol is nil when the router runs a single protocol;
	// BestOverall then doubles as that protocol's best.
	BestPerProtocol map[Protocol]*RouteRecord
	Choice          map[*LogicalEdge]z.Lit
	Control         map[*network.GraphEdge]z.Lit
	Data            map[*network.GraphEdge]z.Lit
}

func newDecisionState() *DecisionState {
	return &DecisionState{
		Choice:  map[*LogicalEdge]z.Lit{},
		Control: map[*network.GraphEdge]z.Lit{},
		Data:    map[*network.GraphEdge]z.Lit{},
	}
}

// Best returns the best record of a protocol, or nil if the router does not
// run it.
func (d *DecisionState) Best(p Protocol) *RouteRecord {
	if p == Best {
		return d.BestOverall
	}
	if d.BestPerProtocol == nil {
		if d.BestOverall != nil && d.BestOverall.Protocol == p {
			return d.BestOverall
		}
		return nil
	}
	return d.BestPerProtocol[p]
}
