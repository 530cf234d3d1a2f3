package encoder

import (
	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/network"
	"github.com/netverify/cpverify/pkg/solver"
)

// FilterTerms are the packet filters of one interface in one slice: true
// when the slice's packet passes.
type FilterTerms struct {
	In  z.Lit
	Out z.Lit
}

// Filter returns the filter terms of an interface, building them on first
// use.
func (s *Slice) Filter(router, iface string) FilterTerms {
	k := router + ":" + iface
	if f, ok := s.filters[k]; ok {
		return f
	}
	r := s.router(router)
	i := r.Interface(iface)
	f := FilterTerms{In: s.x.True(), Out: s.x.True()}
	if i != nil {
		f.In = s.filter(r, i, "in", i.InboundACL)
		f.Out = s.filter(r, i, "out", i.OutboundACL)
	}
	s.filters[k] = f
	return f
}

// filter translates one ACL. With repair, a configured ACL may be removed
// and a missing one added; an added ACL is a fresh per-slice decision.
func (s *Slice) filter(r *network.Router, i *network.Interface, dir, name string) z.Lit {
	acl, err := r.ACL(name)
	if err != nil {
		s.records.fail(err)
		return s.x.False()
	}
	permits := s.aclPermits(acl)
	if !s.cfg.Repair {
		return permits
	}
	rule := i.Name + ":" + dir
	if acl != nil {
		return s.x.Or(s.edit(r.Name, ACLEdit, rule, Remove), permits)
	}
	added := s.records.boolVar(s.key(r.Name, "", "ACL-"+dir, i.Name).With("new-filter"))
	return s.x.Ite(s.edit(r.Name, ACLEdit, rule, Add), added, permits)
}

// connectedSends decides whether a connected route hands the packet to the
// link. A cabled link only carries packets for the peer's address; an
// outside-facing interface carries everything not addressed to the router.
func (s *Slice) connectedSends(e *network.GraphEdge) z.Lit {
	if e.PeerInterface != nil {
		return s.x.EqConst(s.packet.DstIP, addrBits(e.PeerInterface.Address.Addr()))
	}
	return solver.Not(s.x.EqConst(s.packet.DstIP, addrBits(e.Interface.Address.Addr())))
}

func (s *Slice) encodeForwarding() error {
	for _, name := range s.graph.Routers() {
		d := s.decisions[name]
		sends := map[*network.GraphEdge][]z.Lit{}
		for _, p := range s.opt.Protocols(name) {
			for _, le := range s.topo.Imports(name, p) {
				choice, ok := d.Choice[le]
				if !ok {
					return invariant("router %s: import %s has no choice variable", name, le.Edge)
				}
				isBest := s.x.And(choice, s.equal(d.BestOverall, le.Record, false))
				if p == Connected {
					isBest = s.x.And(isBest, s.connectedSends(le.Edge))
				}
				sends[le.Edge] = append(sends[le.Edge], isBest)
			}
		}
		for _, e := range s.graph.Edges(name) {
			ctrl, ok := d.Control[e]
			if !ok {
				return invariant("router %s: edge %s has no control variable", name, e)
			}
			s.x.Assert(s.key(name, "", "CONTROL", e.Name()).With("iff").String(),
				s.x.Iff(ctrl, s.x.Or(sends[e]...)))
		}
	}

	for _, name := range s.graph.Routers() {
		d := s.decisions[name]
		for _, e := range s.graph.Edges(name) {
			if e.Abstract {
				continue
			}
			fwd := s.x.Or(d.Control[e], s.resolves(name, e))
			peerIn := s.x.True()
			if e.PeerInterface != nil {
				peerIn = s.Filter(e.Peer, e.PeerInterface.Name).In
			}
			data := s.x.And(fwd, s.Filter(name, e.Interface.Name).Out, peerIn, s.active(e), s.linkUp(e))
			s.x.Assert(s.key(name, "", "DATA", e.Name()).With("iff").String(), s.x.Iff(d.Data[e], data))
		}
	}
	return nil
}

// resolves is true when a route over an abstract iBGP edge makes the router
// send the packet out of the physical edge e: the next-hop slice of the
// peer, or of the originating client for reflected routes, forwards there.
func (s *Slice) resolves(router string, e *network.GraphEdge) z.Lit {
	if s.nextHopOf != "" {
		return s.x.False()
	}
	d := s.decisions[router]
	var ors []z.Lit
	for _, a := range s.graph.Edges(router) {
		if !a.Abstract {
			continue
		}
		ctrl := d.Control[a]
		if !s.graph.LearnsFromReflector(a) {
			ors = append(ors, s.x.And(ctrl, s.nextHopData(a.Peer, router, e)))
			continue
		}
		clientID := s.x.Constant(s.layout.width(ClientID), 0)
		if best := d.Best(BGP); best != nil {
			clientID = s.value(best, ClientID)
		}
		via := []z.Lit{s.x.And(s.x.EqConst(clientID, 0), s.nextHopData(a.Peer, router, e))}
		for _, c := range s.graph.Clients(a.Peer) {
			if c == router {
				continue
			}
			via = append(via, s.x.And(
				s.x.EqConst(clientID, uint64(s.graph.Index(c))),
				s.nextHopData(c, router, e),
			))
		}
		ors = append(ors, s.x.And(ctrl, s.x.Or(via...)))
	}
	return s.x.Or(ors...)
}

// nextHopData is the data forwarding decision of router over e in target's
// next-hop slice.
func (s *Slice) nextHopData(target, router string, e *network.GraphEdge) z.Lit {
	ns := s.enc.nextHop[target]
	if ns == nil {
		return s.x.False()
	}
	d := ns.decisions[router]
	if d == nil {
		return s.x.False()
	}
	if l, ok := d.Data[e]; ok {
		return l
	}
	return s.x.False()
}

// owns is true iff the packet is addressed to the router itself.
func (s *Slice) owns(router string) z.Lit {
	r := s.router(router)
	var ors []z.Lit
	for _, i := range r.Interfaces {
		ors = append(ors, s.x.EqConst(s.packet.DstIP, addrBits(i.Address.Addr())))
	}
	if r.Loopback != nil {
		ors = append(ors, s.x.EqConst(s.packet.DstIP, addrBits(r.Loopback.Addr())))
	}
	return s.x.Or(ors...)
}

// encodeReachability computes, for every router, whether its packet is
// delivered: to a router owning the destination, or out of the network when
// no router owns it. The fixed point is unrolled once per router, which
// bounds the length of any loop-free path.
func (s *Slice) encodeReachability() error {
	routers := s.graph.Routers()
	reach := make(map[string]z.Lit, len(routers))
	owned := make([]z.Lit, 0, len(routers))
	for _, r := range routers {
		reach[r] = s.owns(r)
		owned = append(owned, reach[r])
	}
	exits := solver.Not(s.x.Or(owned...))

	for i := 0; i < len(routers); i++ {
		next := make(map[string]z.Lit, len(routers))
		for _, r := range routers {
			d := s.decisions[r]
			ors := []z.Lit{reach[r]}
			for _, e := range s.graph.Edges(r) {
				data, ok := d.Data[e]
				if !ok {
					continue
				}
				if e.Peer == "" {
					ors = append(ors, s.x.And(data, exits))
					continue
				}
				ors = append(ors, s.x.And(data, reach[e.Peer]))
			}
			next[r] = s.x.Or(ors...)
		}
		reach = next
	}
	s.reach = reach
	return nil
}
