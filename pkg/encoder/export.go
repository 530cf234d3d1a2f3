package encoder

import (
	"net/netip"
	"sort"

	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/network"
	"github.com/netverify/cpverify/pkg/solver"
)

// candidateRoute is a route a router may advertise before per-edge export
// processing.
type candidateRoute struct {
	permitted z.Lit
	values    RouteValues
	// local is true when the route is originated or redistributed here
	// rather than learned from a neighbour.
	local z.Lit
}

func (s *Slice) encodeExports() error {
	for _, name := range s.graph.Routers() {
		r := s.router(name)
		for _, p := range s.opt.Protocols(name) {
			switch p {
			case Connected, Static:
				// FIB-only sources never have export edges.
				continue
			case OSPF, BGP:
			case Best:
				return invariant("router %s: best is not a routing protocol", name)
			default:
				panic("unknown protocol " + p.String())
			}
			src, err := s.exportSource(r, p)
			if err != nil {
				return err
			}
			if err := s.exportEdges(r, p, src); err != nil {
				return err
			}
		}
	}
	return nil
}

// origination is one prefix a router advertises on its own.
type origination struct {
	match z.Lit
	bits  int
}

// originations returns the locally originated prefixes of a protocol that
// are relevant to the slice, shortest first.
func (s *Slice) originations(r *network.Router, p Protocol) []origination {
	var ps []netip.Prefix
	switch p {
	case OSPF:
		for _, i := range r.Interfaces {
			if i.OSPFEnabled() && i.Active() {
				ps = append(ps, i.Address.Network())
			}
		}
		ps = append(ps, prefixes(r.OSPF.Networks)...)
		if r.Loopback != nil {
			ps = append(ps, r.Loopback.Network())
		}
	case BGP:
		ps = append(ps, prefixes(r.BGP.Networks)...)
	case Connected, Static, Best:
	default:
		panic("unknown protocol " + p.String())
	}

	seen := map[netip.Prefix]struct{}{}
	var out []origination
	for _, pfx := range ps {
		if _, ok := seen[pfx]; ok || !s.opt.relevant(pfx) {
			continue
		}
		seen[pfx] = struct{}{}
		out = append(out, origination{match: s.dstIn(pfx), bits: pfx.Bits()})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].bits < out[j].bits })
	return out
}

// originatedValues is the fixed route of a local origination.
func (s *Slice) originatedValues(p Protocol, bits int) RouteValues {
	var vals [numFields]uint64
	vals[PrefixLength] = uint64(bits)
	vals[AdminDistance] = p.defaultAdminDistance(false)
	vals[Med] = defaultMed
	vals[History] = p.historyCode()
	if p == BGP {
		vals[LocalPref] = defaultLocalPref
	}
	return s.constValues(vals)
}

// direct is the route a router originates itself. With repair, an added
// origination of the whole header space is the last resort.
func (s *Slice) direct(r *network.Router, p Protocol) candidateRoute {
	origs := s.originations(r, p)
	if p == OSPF && s.cfg.Repair {
		added := origination{match: s.edit(r.Name, OSPFExportEdit, "originate", Add), bits: s.coveringLength()}
		origs = append([]origination{added}, origs...)
	}
	c := candidateRoute{permitted: s.x.False(), values: s.originatedValues(p, 0)}
	for _, o := range origs {
		c.permitted = s.x.Or(o.match, c.permitted)
		c.values = s.iteValues(o.match, s.originatedValues(p, o.bits), c.values)
	}
	return c
}

// redistributed is the overall best route when it comes from a protocol
// redistributed into p, transformed by the redistribution policy. Without
// repair only configured redistributions count; with repair each may be
// disabled and each missing one enabled.
func (s *Slice) redistributed(r *network.Router, p Protocol) (candidateRoute, error) {
	var configured []network.Redistribution
	switch p {
	case OSPF:
		configured = r.OSPF.Redistribute
	case BGP:
		configured = r.BGP.Redistribute
	case Connected, Static, Best:
	default:
		panic("unknown protocol " + p.String())
	}

	d := s.decisions[r.Name]
	type source struct {
		from   Protocol
		policy *network.RoutePolicy
		gate   z.Lit
	}
	var sources []source
	have := map[Protocol]bool{}
	for _, rd := range configured {
		q, err := ParseProtocol(rd.From)
		if err != nil {
			return candidateRoute{}, err
		}
		if q == p || have[q] || d.BestPerProtocol == nil || d.BestPerProtocol[q] == nil {
			continue
		}
		policy, err := r.Policy(rd.Policy)
		if err != nil {
			return candidateRoute{}, err
		}
		have[q] = true
		gate := solver.Not(s.edit(r.Name, RedistributionEdit, q.String()+"->"+p.String(), Remove))
		sources = append(sources, source{from: q, policy: policy, gate: gate})
	}
	if s.cfg.Repair && d.BestPerProtocol != nil {
		for _, q := range routingProtocols {
			if q == p || have[q] || d.BestPerProtocol[q] == nil {
				continue
			}
			gate := s.edit(r.Name, RedistributionEdit, q.String()+"->"+p.String(), Add)
			sources = append(sources, source{from: q, gate: gate})
		}
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].from < sources[j].from })

	c := candidateRoute{permitted: s.x.False(), values: s.originatedValues(p, 0)}
	for i := len(sources) - 1; i >= 0; i-- {
		src := sources[i]
		best := d.BestPerProtocol[src.from]
		selected := s.x.And(best.Permitted, s.equal(best, d.BestOverall, false))
		accept, out := s.cfg.Transfer.Apply(s, src.policy, s.redistributedValues(best, src.from, p))
		c.permitted = s.x.Ite(selected, s.x.And(src.gate, accept), c.permitted)
		c.values = s.iteValues(selected, out, c.values)
	}
	return c, nil
}

// redistributedValues resets a route of protocol from to the defaults of
// protocol into, keeping its prefix and recording where it came from.
func (s *Slice) redistributedValues(best *RouteRecord, from, into Protocol) RouteValues {
	v := s.originatedValues(into, 0)
	v.Fields[PrefixLength] = s.value(best, PrefixLength)
	s.setConst(&v, History, from.historyCode())
	if into == OSPF {
		s.setConst(&v, Metric, redistributedOspfMetric)
		s.setConst(&v, OspfType, ospfE2)
	}
	return v
}

// exportSource reconciles redistribution with direct origination and falls
// back to the protocol's best route.
func (s *Slice) exportSource(r *network.Router, p Protocol) (candidateRoute, error) {
	best := s.decisions[r.Name].Best(p)
	if best == nil {
		return candidateRoute{}, invariant("router %s: no best record for %s", r.Name, p)
	}
	direct := s.direct(r, p)
	plain := candidateRoute{
		permitted: s.x.Or(direct.permitted, best.Permitted),
		values:    s.iteValues(direct.permitted, direct.values, s.valuesOf(best)),
	}
	red, err := s.redistributed(r, p)
	if err != nil {
		return candidateRoute{}, err
	}
	useRedistributed := s.x.And(red.permitted, s.x.Or(
		solver.Not(direct.permitted),
		s.redistributedBeatsDirect(red.values, direct.values),
	))
	return candidateRoute{
		permitted: s.x.Or(useRedistributed, plain.permitted),
		values:    s.iteValues(useRedistributed, red.values, plain.values),
		local:     s.x.Or(useRedistributed, direct.permitted),
	}, nil
}

// exportPolicy returns the export policy configured on e.
func (s *Slice) exportPolicy(r *network.Router, p Protocol, e *network.GraphEdge) (*network.RoutePolicy, error) {
	switch p {
	case OSPF:
		return r.Policy(r.OSPF.ExportPolicy)
	case BGP:
		nb := s.graph.BGPNeighbor(e)
		if nb == nil {
			return nil, nil
		}
		return r.Policy(nb.ExportPolicy)
	case Connected, Static, Best:
		return nil, nil
	}
	panic("unknown protocol " + p.String())
}

// bgpExportAllowed is the iBGP split-horizon rule: routes learned from a
// non-client iBGP peer go only to eBGP peers and clients.
func (s *Slice) bgpExportAllowed(pt network.PeerType, v RouteValues) z.Lit {
	if pt != network.IBGPNonClient {
		return s.x.True()
	}
	return s.x.Or(
		s.x.EqConst(v.Fields[BgpInternal], 0),
		solver.Not(s.x.EqConst(v.Fields[ClientID], 0)),
		solver.Not(s.x.EqConst(v.Fields[History], BGP.historyCode())),
	)
}

// toEBGP turns an advertised route into what the eBGP peer will import. The
// literal is false when the path length would overflow.
func (s *Slice) toEBGP(router string, v RouteValues) (RouteValues, z.Lit) {
	fits := s.addMetric(&v, 1)
	s.setConst(&v, AdminDistance, BGP.defaultAdminDistance(false))
	s.setConst(&v, LocalPref, defaultLocalPref)
	s.setConst(&v, BgpInternal, 0)
	s.setConst(&v, RouterID, uint64(s.graph.Index(router)))
	s.setConst(&v, ClientID, 0)
	s.setConst(&v, IgpMetric, 0)
	return v, fits
}

func (s *Slice) exportEdges(r *network.Router, p Protocol, src candidateRoute) error {
	done := map[*RouteRecord]bool{}
	for _, pair := range s.topo.Pairs(r.Name, p) {
		le := pair.Export
		if le == nil || done[le.Record] {
			continue
		}
		done[le.Record] = true
		e := le.Edge

		policy, err := s.exportPolicy(r, p, e)
		if err != nil {
			return err
		}
		gate := s.x.And(s.active(e), s.linkUp(e), s.adjacency(e, p))
		if p == OSPF && s.cfg.Repair {
			gate = s.x.And(gate, solver.Not(s.edit(r.Name, OSPFExportEdit, e.Name(), Remove)))
		}
		values := src.values
		if p == OSPF && s.opt.Keeps(OspfArea) {
			// Local routes enter the area of the interface they leave by.
			area := s.x.Constant(s.layout.width(OspfArea), ospfArea(e.Interface))
			values.Fields[OspfArea] = s.x.IteBV(src.local, area, values.Fields[OspfArea])
		}
		accept, out := s.cfg.Transfer.Apply(s, policy, values)
		if p == BGP {
			pt := s.graph.PeerType(e)
			gate = s.x.And(gate, s.bgpExportAllowed(pt, values))
			if !isInternal(pt) {
				var fits z.Lit
				out, fits = s.toEBGP(r.Name, out)
				gate = s.x.And(gate, fits)
			}
		}
		s.x.Assert(le.Record.Key.With("export").String(), s.cfg.Transfer.Compile(s, Transfer{
			Protocol: p,
			In:       out,
			To:       le.Record,
			Guard:    s.x.And(gate, src.permitted, accept),
		}))
	}
	return nil
}
