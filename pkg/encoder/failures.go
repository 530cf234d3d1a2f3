package encoder

import (
	"fmt"

	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/network"
	"github.com/netverify/cpverify/pkg/solver"
)

// FailureModel holds one failure variable per physical link, shared by
// every slice of an encoder. At most Max links fail at once.
type FailureModel struct {
	x     *solver.Context
	graph *network.Graph
	Max   int
	links []string
	vars  map[string]solver.BitVec
}

func newFailureModel(x *solver.Context, g *network.Graph, max int) (*FailureModel, error) {
	f := &FailureModel{x: x, graph: g, Max: max, vars: map[string]solver.BitVec{}}
	if max == 0 {
		return f, nil
	}
	var bits []z.Lit
	for _, e := range g.PhysicalLinks() {
		key := g.LinkKey(e)
		v, err := x.BitVec(solver.Key{Slice: "failure", Interface: key, Field: "failed"}, 1)
		if err != nil {
			return nil, err
		}
		f.links = append(f.links, key)
		f.vars[key] = v
		bits = append(bits, x.EqConst(v, 1))
	}
	x.Assert("failures-at-most", x.AtMost(max, bits...))
	return f, nil
}

// Links returns the keys of the links that may fail, in a stable order.
func (f *FailureModel) Links() []string {
	return f.links
}

// Failed returns the failure variable of the link under e, or the constant
// zero when the link cannot fail.
func (f *FailureModel) Failed(e *network.GraphEdge) solver.BitVec {
	if v, ok := f.vars[f.graph.LinkKey(e)]; ok {
		return v
	}
	return f.x.Constant(1, 0)
}

// Up is true iff the link under e has not failed.
func (f *FailureModel) Up(e *network.GraphEdge) z.Lit {
	return f.x.EqConst(f.Failed(e), 0)
}

// Fix pins the failure variable of a link.
func (f *FailureModel) Fix(link string, failed bool) error {
	v, ok := f.vars[link]
	if !ok {
		return fmt.Errorf("link %q has no failure variable", link)
	}
	var n uint64
	if failed {
		n = 1
	}
	f.x.Assert("fix-failure-"+link, f.x.EqConst(v, n))
	return nil
}

// FailedLinks reads the failed links from a model.
func (f *FailureModel) FailedLinks(m *solver.Model) []string {
	var out []string
	for _, l := range f.links {
		if m.Uint(f.vars[l]) == 1 {
			out = append(out, l)
		}
	}
	return out
}
