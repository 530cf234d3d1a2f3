package encoder

import (
	"net/netip"

	"github.com/netverify/cpverify/pkg/metrics"
	"github.com/netverify/cpverify/pkg/solver"
)

// Result is a model of the encoding read back into network terms.
type Result struct {
	// Cost is the total weight of the applied repairs.
	Cost        int
	Failures    []string
	Slices      []SliceResult
	Suggestions []Suggestion
	Model       *solver.Model
}

type SliceResult struct {
	Name    string
	Dst     []netip.Prefix
	Routers []RouterResult
}

// RouterResult is the forwarding outcome of one router for a slice's packet.
type RouterResult struct {
	Router string
	// Protocols are the protocols whose selected routes the router forwards
	// along.
	Protocols []Protocol
	// Forwarding lists the interfaces the packet leaves through.
	Forwarding []string
	Reachable  bool
}

// BlackHole reports whether the packet neither arrives nor leaves.
func (r RouterResult) BlackHole() bool {
	return !r.Reachable && len(r.Forwarding) == 0
}

func (e *Encoder) result(m *solver.Model) *Result {
	res := &Result{
		Cost:        m.Cost,
		Failures:    e.failures.FailedLinks(m),
		Suggestions: e.registry.Suggestions(m),
		Model:       m,
	}
	for _, sg := range res.Suggestions {
		metrics.EmitRepairEdit(sg.Label)
	}
	for _, s := range e.slices {
		res.Slices = append(res.Slices, s.result(m))
	}
	return res
}

func (s *Slice) result(m *solver.Model) SliceResult {
	out := SliceResult{Name: s.Name, Dst: s.HeaderSpace.DstPrefixes()}
	for _, name := range s.graph.Routers() {
		d := s.decisions[name]
		rr := RouterResult{Router: name, Reachable: m.Value(s.reach[name])}
		for _, p := range s.opt.Protocols(name) {
			for _, le := range s.topo.Imports(name, p) {
				if m.Value(d.Choice[le]) && m.Value(d.Control[le.Edge]) {
					rr.Protocols = append(rr.Protocols, p)
					break
				}
			}
		}
		for _, e := range s.graph.Edges(name) {
			if l, ok := d.Data[e]; ok && m.Value(l) {
				rr.Forwarding = append(rr.Forwarding, e.Name())
			}
		}
		out.Routers = append(out.Routers, rr)
	}
	return out
}

// Router returns the outcome of one router, or false if it is unknown.
func (r SliceResult) Router(name string) (RouterResult, bool) {
	for _, rr := range r.Routers {
		if rr.Router == name {
			return rr, true
		}
	}
	return RouterResult{}, false
}
