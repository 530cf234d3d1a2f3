package encoder

import (
	"fmt"

	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/solver"
)

func (s *Slice) encodeSelection() error {
	for _, name := range s.graph.Routers() {
		d := s.decisions[name]
		ps := s.opt.Protocols(name)
		if len(ps) == 0 {
			s.x.Assert(d.BestOverall.Key.With("none").String(), solver.Not(d.BestOverall.Permitted))
			continue
		}
		for _, p := range ps {
			best := d.Best(p)
			if best == nil {
				return invariant("router %s: no best record for %s", name, p)
			}
			imports := s.topo.Imports(name, p)
			cands := make([]*RouteRecord, len(imports))
			for i, le := range imports {
				cands[i] = le.Record
			}
			s.selectBest(best, cands)
			for _, le := range imports {
				choice, ok := d.Choice[le]
				if !ok {
					return invariant("router %s: import %s has no choice variable", name, le.Edge)
				}
				s.x.Assert(le.Record.Key.With("choice").String(),
					s.x.Iff(choice, s.x.And(le.Record.Permitted, s.equal(best, le.Record, false))))
			}
		}
		if len(ps) > 1 {
			cands := make([]*RouteRecord, len(ps))
			for i, p := range ps {
				cands[i] = d.BestPerProtocol[p]
			}
			s.selectBest(d.BestOverall, cands)
		}
	}
	return nil
}

// selectBest makes best the most preferred of the permitted candidates: it
// is at least as good as each of them, permitted iff one of them is, and
// then equal to one of them.
func (s *Slice) selectBest(best *RouteRecord, cands []*RouteRecord) {
	bv := s.valuesOf(best)
	permitted := make([]z.Lit, len(cands))
	matches := make([]z.Lit, len(cands))
	for i, c := range cands {
		s.x.Assert(best.Key.With(fmt.Sprintf("ge-%d", i)).String(),
			s.x.Implies(c.Permitted, s.geq(bv, s.valuesOf(c))))
		permitted[i] = c.Permitted
		matches[i] = s.x.And(c.Permitted, s.equal(best, c, true))
	}
	s.x.Assert(best.Key.With("permitted-iff").String(), s.x.Iff(best.Permitted, s.x.Or(permitted...)))
	s.x.Assert(best.Key.With("matches").String(), s.x.Implies(best.Permitted, s.x.Or(matches...)))
}
