package encoder

import (
	"sort"

	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/network"
	"github.com/netverify/cpverify/pkg/solver"
)

// RouteValues is a route as a bundle of terms, used while a route flows
// through protocol updates and policies before it is bound to a record.
type RouteValues struct {
	Fields      [numFields]solver.BitVec
	Communities map[string]z.Lit
}

// valuesOf reads a record, substituting defaults for omitted slots.
func (s *Slice) valuesOf(r *RouteRecord) RouteValues {
	var v RouteValues
	for f := Field(0); f < numFields; f++ {
		v.Fields[f] = s.value(r, f)
	}
	v.Communities = make(map[string]z.Lit, len(r.communities))
	for c, l := range r.communities {
		v.Communities[c] = l
	}
	return v
}

// constValues is a route with every field fixed.
func (s *Slice) constValues(vals [numFields]uint64) RouteValues {
	var v RouteValues
	for f := Field(0); f < numFields; f++ {
		v.Fields[f] = s.x.Constant(s.layout.width(f), vals[f])
	}
	v.Communities = map[string]z.Lit{}
	return v
}

// addMetric adds cost to the metric of v and returns whether the sum stays
// below the top of the metric's range. The top value means unreachable, so
// a route cannot circulate through a loop of routers forever.
func (s *Slice) addMetric(v *RouteValues, cost uint64) z.Lit {
	if cost == 0 {
		return s.x.True()
	}
	m := v.Fields[Metric]
	max := solver.MaxValue(m.Width())
	v.Fields[Metric] = s.x.AddConst(m, cost)
	if cost >= max {
		return s.x.False()
	}
	return s.x.Ult(m, s.x.Constant(m.Width(), max-cost))
}

func (s *Slice) setConst(v *RouteValues, f Field, n uint64) {
	v.Fields[f] = s.x.Constant(s.layout.width(f), n)
}

// iteValues selects t when c holds and e otherwise, field by field.
func (s *Slice) iteValues(c z.Lit, t, e RouteValues) RouteValues {
	var v RouteValues
	for f := Field(0); f < numFields; f++ {
		v.Fields[f] = s.x.IteBV(c, t.Fields[f], e.Fields[f])
	}
	all := make(map[string]z.Lit, len(t.Communities)+len(e.Communities))
	for k, l := range t.Communities {
		all[k] = l
	}
	for k, l := range e.Communities {
		all[k] = l
	}
	v.Communities = make(map[string]z.Lit, len(all))
	for _, k := range sortedCommunities(all) {
		v.Communities[k] = s.x.Ite(c, s.communityOf(t, k), s.communityOf(e, k))
	}
	return v
}

func (s *Slice) communityOf(v RouteValues, c string) z.Lit {
	if l, ok := v.Communities[c]; ok {
		return l
	}
	return s.x.False()
}

// assign binds a record to values: every slot the record owns equals the
// corresponding value.
func (s *Slice) assign(r *RouteRecord, v RouteValues) z.Lit {
	var eqs []z.Lit
	for f := Field(0); f < numFields; f++ {
		if t, ok := r.attrs[f].Get(); ok {
			eqs = append(eqs, s.x.Eq(t, v.Fields[f]))
		}
	}
	cs := r.Communities()
	for _, c := range cs {
		eqs = append(eqs, s.x.Iff(r.communities[c], s.communityOf(v, c)))
	}
	return s.x.And(eqs...)
}

// Transfer is one invocation of a transfer function on a logical edge.
type Transfer struct {
	Protocol Protocol
	// In is the incoming route after protocol-specific updates.
	In RouteValues
	To *RouteRecord
	// Policy is nil for accept-all.
	Policy *network.RoutePolicy
	// AddedCost is added to the metric before the policy runs.
	AddedCost uint64
	// Guard must hold for the route to be usable at all.
	Guard z.Lit
}

// TransferFunction compiles route policies.
type TransferFunction interface {
	// Apply evaluates a policy on a route, returning whether it is
	// accepted and the route as modified.
	Apply(s *Slice, policy *network.RoutePolicy, in RouteValues) (z.Lit, RouteValues)
	// Compile relates the incoming route to the record of the edge.
	Compile(s *Slice, t Transfer) z.Lit
}

// PolicyTransfer interprets network.RoutePolicy statements in order; the
// first matching statement decides and unmatched routes take the policy's
// default action.
type PolicyTransfer struct{}

func (pt PolicyTransfer) Compile(s *Slice, t Transfer) z.Lit {
	in := t.In
	fits := s.addMetric(&in, t.AddedCost)
	accept, out := pt.Apply(s, t.Policy, in)
	permitted := s.x.Iff(t.To.Permitted, s.x.And(t.Guard, fits, accept))
	if t.To.Shape == Merged {
		return permitted
	}
	return s.x.And(permitted, s.x.Implies(t.To.Permitted, s.assign(t.To, out)))
}

func (pt PolicyTransfer) Apply(s *Slice, policy *network.RoutePolicy, in RouteValues) (z.Lit, RouteValues) {
	if policy == nil {
		return s.x.True(), in
	}
	accept := s.x.Const(policy.DefaultAction == network.Permit)
	out := in
	for i := len(policy.Statements) - 1; i >= 0; i-- {
		st := policy.Statements[i]
		m := pt.matches(s, st.Match, in)
		accept = s.x.Ite(m, s.x.Const(st.Action == network.Permit), accept)
		out = s.iteValues(m, pt.set(s, st.Set, in), out)
	}
	return accept, out
}

func (PolicyTransfer) matches(s *Slice, m network.Match, in RouteValues) z.Lit {
	var cs []z.Lit
	if len(m.Prefixes) > 0 {
		ors := make([]z.Lit, len(m.Prefixes))
		for i, pr := range m.Prefixes {
			lo, hi := pr.Bounds()
			if b := pr.Prefix.Bits(); lo < b {
				lo = b
			}
			ors[i] = s.x.And(
				s.x.InRange(in.Fields[PrefixLength], uint64(lo), uint64(hi)),
				s.dstIn(pr.Prefix.Network()),
			)
		}
		cs = append(cs, s.x.Or(ors...))
	}
	if len(m.Communities) > 0 {
		var ors []z.Lit
		for _, c := range m.Communities {
			for _, concrete := range s.opt.communities.expand(c) {
				ors = append(ors, s.communityOf(in, concrete))
			}
		}
		cs = append(cs, s.x.Or(ors...))
	}
	if len(m.Protocols) > 0 {
		var ors []z.Lit
		for _, name := range m.Protocols {
			p, err := ParseProtocol(name)
			if err != nil {
				continue
			}
			ors = append(ors, s.x.EqConst(in.Fields[History], p.historyCode()))
		}
		cs = append(cs, s.x.Or(ors...))
	}
	return s.x.And(cs...)
}

func (PolicyTransfer) set(s *Slice, st network.Set, in RouteValues) RouteValues {
	out := in
	out.Communities = make(map[string]z.Lit, len(in.Communities))
	for c, l := range in.Communities {
		out.Communities[c] = l
	}
	if st.LocalPref != nil {
		s.setConst(&out, LocalPref, uint64(*st.LocalPref))
	}
	if st.Metric != nil {
		s.setConst(&out, Metric, uint64(*st.Metric))
	}
	if st.AddMetric > 0 {
		out.Fields[Metric] = s.x.AddConst(out.Fields[Metric], uint64(st.AddMetric))
	}
	if st.Med != nil {
		s.setConst(&out, Med, uint64(*st.Med))
	}
	for _, c := range st.AddCommunities {
		if !isCommunityRegex(c) {
			out.Communities[c] = s.x.True()
		}
	}
	for _, c := range st.DeleteCommunities {
		for _, concrete := range s.opt.communities.expand(c) {
			out.Communities[concrete] = s.x.False()
		}
	}
	return out
}

// sortedCommunities returns the keys of a community map, sorted.
func sortedCommunities(m map[string]z.Lit) []string {
	out := make([]string, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
