package encoder

import (
	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/network"
	"github.com/netverify/cpverify/pkg/solver"
)

func (s *Slice) encodeImports() error {
	for _, name := range s.graph.Routers() {
		r := s.router(name)
		for _, p := range s.opt.Protocols(name) {
			for _, le := range s.topo.Imports(name, p) {
				var err error
				switch p {
				case Connected:
					s.importConnected(le)
				case Static:
					s.importStatic(r, le)
				case OSPF:
					err = s.importOSPF(r, le)
				case BGP:
					err = s.importBGP(r, le)
				case Best:
					err = invariant("router %s: import edge %s for the best pseudo-protocol", name, le.Edge)
				default:
					panic("unknown protocol " + p.String())
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// edit returns the repair variable of a rule, or false outside repair mode.
func (s *Slice) edit(router string, c Category, rule string, k EditKind) z.Lit {
	if !s.cfg.Repair {
		return s.x.False()
	}
	v, err := s.enc.registry.Variable(router, c, rule, k)
	if err != nil {
		s.records.fail(err)
		return s.x.False()
	}
	return v
}

// adjacency is true when the protocol session over e exists, or when the
// repair variable enabling it is set. Both ends share one variable.
func (s *Slice) adjacency(e *network.GraphEdge, p Protocol) z.Lit {
	if !s.cfg.Repair || e.Abstract || e.Peer == "" {
		return s.x.True()
	}
	switch p {
	case OSPF:
		if ospfEnabled(e.Interface) && ospfEnabled(e.PeerInterface) {
			return s.x.True()
		}
	case BGP:
		if s.graph.PeerType(e) != network.NoSession {
			return s.x.True()
		}
	case Connected, Static, Best:
		return s.x.True()
	default:
		panic("unknown protocol " + p.String())
	}
	owner := e.Router
	if e.Peer < owner {
		owner = e.Peer
	}
	return s.edit(owner, AdjacencyEdit, p.String()+":"+s.graph.LinkKey(e), Add)
}

// derived binds a PermittedOnly slot: the value when permitted, the default
// otherwise.
func (s *Slice) derived(r *RouteRecord, f Field, v solver.BitVec) {
	r.Set(f, s.x.IteBV(r.Permitted, v, s.x.Constant(s.layout.width(f), r.Default(f))))
}

func (s *Slice) importConnected(le *LogicalEdge) {
	rec, iface := le.Record, le.Edge.Interface
	attached := iface.Address.Network()
	s.x.Assert(rec.Key.With("import").String(),
		s.x.Iff(rec.Permitted, s.x.And(s.x.Const(iface.Active()), s.dstIn(attached))))
	s.derived(rec, PrefixLength, s.x.Constant(s.layout.width(PrefixLength), uint64(attached.Bits())))
}

// coveringLength is the prefix length of a route added for the whole header
// space.
func (s *Slice) coveringLength() int {
	n := 32
	for _, p := range s.HeaderSpace.DstPrefixes() {
		if p.Bits() < n {
			n = p.Bits()
		}
	}
	return n
}

func (s *Slice) importStatic(r *network.Router, le *LogicalEdge) {
	rec, e := le.Record, le.Edge
	routes := s.staticRoutes(r, e.Interface.Name)

	type candidate struct {
		match z.Lit
		bits  int
		ad    uint64
	}
	var cands []candidate
	for _, sr := range routes {
		match := s.dstIn(sr.Prefix.Network())
		if s.cfg.Repair {
			match = s.x.And(match, solver.Not(s.edit(r.Name, StaticEdit, sr.ID(), Remove)))
		}
		ad := uint64(sr.AdminCost)
		if ad == 0 {
			ad = Static.defaultAdminDistance(false)
		}
		cands = append(cands, candidate{match: match, bits: sr.Prefix.Bits(), ad: ad})
	}
	if s.cfg.Repair {
		cands = append(cands, candidate{
			match: s.edit(r.Name, StaticEdit, e.Interface.Name, Add),
			bits:  s.coveringLength(),
			ad:    Static.defaultAdminDistance(false),
		})
	}

	wl, wa := s.layout.width(PrefixLength), s.layout.width(AdminDistance)
	length := s.x.Constant(wl, 0)
	ad := s.x.Constant(wa, rec.Default(AdminDistance))
	matches := make([]z.Lit, len(cands))
	for i := len(cands) - 1; i >= 0; i-- {
		c := cands[i]
		matches[i] = c.match
		length = s.x.IteBV(c.match, s.x.Constant(wl, uint64(c.bits)), length)
		ad = s.x.IteBV(c.match, s.x.Constant(wa, c.ad), ad)
	}

	usable := s.x.And(s.active(e), s.linkUp(e), s.x.Or(matches...))
	s.x.Assert(rec.Key.With("import").String(), s.x.Iff(rec.Permitted, usable))
	s.derived(rec, PrefixLength, length)
	if s.opt.Keeps(AdminDistance) {
		s.derived(rec, AdminDistance, ad)
	}
}

func ospfArea(i *network.Interface) uint64 {
	if i == nil || i.OSPF == nil {
		return 0
	}
	return uint64(i.OSPF.Area)
}

func ospfCost(i *network.Interface) uint64 {
	if i == nil || i.OSPF == nil || i.OSPF.Cost <= 0 {
		return 1
	}
	return uint64(i.OSPF.Cost)
}

// peerActive is the administrative state of the far interface of e.
func (s *Slice) peerActive(e *network.GraphEdge) z.Lit {
	if e.Abstract || e.PeerInterface == nil {
		return s.x.True()
	}
	return s.x.Const(e.PeerInterface.Active())
}

func (s *Slice) importOSPF(r *network.Router, le *LogicalEdge) error {
	rec, e := le.Record, le.Edge
	other := s.topo.OtherEnd(le)
	if other == nil {
		s.x.Assert(rec.Key.With("import").String(), solver.Not(rec.Permitted))
		return nil
	}
	policy, err := r.Policy(r.OSPF.ImportPolicy)
	if err != nil {
		return err
	}

	in := s.valuesOf(other.Record)
	s.setConst(&in, AdminDistance, OSPF.defaultAdminDistance(false))
	if s.opt.Keeps(OspfArea) {
		area := ospfArea(e.Interface)
		crosses := s.x.And(
			s.x.EqConst(in.Fields[OspfType], ospfIntraArea),
			solver.Not(s.x.EqConst(in.Fields[OspfArea], area)),
		)
		inter := s.x.Constant(s.layout.width(OspfType), ospfInterArea)
		in.Fields[OspfType] = s.x.IteBV(crosses, inter, in.Fields[OspfType])
		s.setConst(&in, OspfArea, area)
	}

	guard := s.x.And(
		other.Record.Permitted,
		s.active(e),
		s.peerActive(e),
		s.linkUp(e),
		s.adjacency(e, OSPF),
	)
	s.x.Assert(rec.Key.With("import").String(), s.cfg.Transfer.Compile(s, Transfer{
		Protocol:  OSPF,
		In:        in,
		To:        rec,
		Policy:    policy,
		AddedCost: ospfCost(e.Interface),
		Guard:     guard,
	}))
	return nil
}

func (s *Slice) importBGP(r *network.Router, le *LogicalEdge) error {
	rec, e := le.Record, le.Edge
	other := s.topo.OtherEnd(le)
	if other == nil {
		s.x.Assert(rec.Key.With("import").String(), solver.Not(rec.Permitted))
		return nil
	}
	var policy *network.RoutePolicy
	if nb := s.graph.BGPNeighbor(e); nb != nil {
		var err error
		if policy, err = r.Policy(nb.ImportPolicy); err != nil {
			return err
		}
	}

	pt := s.graph.PeerType(e)
	in := s.valuesOf(other.Record)
	if isInternal(pt) {
		// eBGP exports already carry import-ready values.
		s.setConst(&in, AdminDistance, BGP.defaultAdminDistance(true))
		s.setConst(&in, BgpInternal, 1)
		s.setConst(&in, RouterID, uint64(s.graph.Index(e.Peer)))
		switch {
		case pt == network.IBGPClient:
			s.setConst(&in, ClientID, uint64(s.graph.Index(e.Peer)))
		case s.graph.LearnsFromReflector(e):
		default:
			s.setConst(&in, ClientID, 0)
		}
		in.Fields[IgpMetric] = s.igpMetricTo(e.Peer, r.Name)
	}

	// Loop prevention: the peer must not forward back over this link.
	loop := s.x.False()
	if back := s.graph.OtherEnd(e); back != nil {
		if d := s.decisions[e.Peer]; d != nil {
			if c, ok := d.Control[back]; ok {
				loop = c
			}
		}
	}

	guard := s.x.And(
		other.Record.Permitted,
		s.active(e),
		s.peerActive(e),
		s.adjacency(e, BGP),
		s.bgpReceive(e, pt, other.Record),
		solver.Not(loop),
	)

	if rec.Shape == Merged {
		accept, _ := s.cfg.Transfer.Apply(s, policy, in)
		s.x.Assert(rec.Key.With("import").String(), s.x.Iff(rec.Permitted, s.x.And(guard, accept)))
		return nil
	}

	if s.cfg.Repair {
		accept, out := s.cfg.Transfer.Apply(s, policy, in)
		drop := s.edit(r.Name, BGPFilterEdit, e.Name(), Add)
		allow := s.edit(r.Name, BGPFilterEdit, e.Name(), Remove)
		guard = s.x.And(guard, s.x.Or(s.x.And(accept, solver.Not(drop)), allow))
		in, policy = out, nil
	}
	s.x.Assert(rec.Key.With("import").String(), s.cfg.Transfer.Compile(s, Transfer{
		Protocol: BGP,
		In:       in,
		To:       rec,
		Policy:   policy,
		Guard:    guard,
	}))
	return nil
}

// bgpReceive is the condition under which a BGP message sent over e
// arrives. eBGP needs the link; iBGP needs the router to reach the peer's
// loopback, or, when learning from a reflector, the loopback of the client
// that originated the route.
func (s *Slice) bgpReceive(e *network.GraphEdge, pt network.PeerType, from *RouteRecord) z.Lit {
	if !isInternal(pt) {
		return s.linkUp(e)
	}
	if !s.graph.LearnsFromReflector(e) {
		return s.nextHopReach(e.Peer, e.Router)
	}
	clientID := s.value(from, ClientID)
	cs := []z.Lit{s.x.Implies(s.x.EqConst(clientID, 0), s.nextHopReach(e.Peer, e.Router))}
	for _, c := range s.graph.Clients(e.Peer) {
		if c == e.Router {
			continue
		}
		cs = append(cs, s.x.Implies(
			s.x.EqConst(clientID, uint64(s.graph.Index(c))),
			s.nextHopReach(c, e.Router),
		))
	}
	return s.x.And(cs...)
}

// nextHopReach is true iff router can deliver packets to the loopback of
// target, according to target's next-hop slice.
func (s *Slice) nextHopReach(target, router string) z.Lit {
	ns := s.enc.nextHop[target]
	if ns == nil {
		s.log.WithField("target", target).Debug("no next-hop slice, treating as unreachable")
		return s.x.False()
	}
	if l, ok := ns.reach[router]; ok {
		return l
	}
	return s.x.False()
}

// igpMetricTo is the OSPF cost from router to target's loopback.
func (s *Slice) igpMetricTo(target, router string) solver.BitVec {
	w := s.layout.width(IgpMetric)
	ns := s.enc.nextHop[target]
	if ns == nil {
		return s.x.Constant(w, 0)
	}
	d := ns.decisions[router]
	if d == nil {
		return s.x.Constant(w, 0)
	}
	best := d.Best(OSPF)
	if best == nil {
		return s.x.Constant(w, 0)
	}
	return s.x.Resize(ns.value(best, Metric), w)
}
