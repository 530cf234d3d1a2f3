package encoder

import (
	"context"
	"net/netip"
	"sort"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/mitchellh/hashstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/netverify/cpverify/pkg/headerspace"
	"github.com/netverify/cpverify/pkg/network"
)

// Optimizer decides, before any record is allocated, which symbolic state a
// slice can omit or share. Every decision is conservative: state that can
// influence a reachable comparison is always kept.
type Optimizer struct {
	graph *network.Graph
	hs    *headerspace.HeaderSpace
	cfg   *Config
	// igpOnly leaves BGP out, for slices resolving iBGP next hops.
	igpOnly bool
	// dst indexes the destination prefixes of the header space.
	dst *bart.Table[struct{}]

	protocols    map[string][]Protocol
	singleExport map[string]map[Protocol]bool
	// merged holds the interfaces whose eBGP import aliases the peer's
	// export record.
	merged    map[string]map[string]bool
	connected map[string]map[string]bool

	keep        [numFields]bool
	communities *communityGraph
}

// routerAnalysis is the per-router result computed concurrently.
type routerAnalysis struct {
	protocols    []Protocol
	singleExport map[Protocol]bool
	merged       map[string]bool
	connected    map[string]bool
}

// NewOptimizer analyses the network for one header space.
func NewOptimizer(ctx context.Context, g *network.Graph, hs *headerspace.HeaderSpace, cfg *Config, igpOnly bool) (*Optimizer, error) {
	o := &Optimizer{
		graph:        g,
		hs:           hs,
		cfg:          cfg,
		igpOnly:      igpOnly,
		dst:          &bart.Table[struct{}]{},
		protocols:    map[string][]Protocol{},
		singleExport: map[string]map[Protocol]bool{},
		merged:       map[string]map[string]bool{},
		connected:    map[string]map[string]bool{},
	}
	for _, p := range hs.DstPrefixes() {
		o.dst.Insert(p, struct{}{})
	}

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	for _, name := range g.Routers() {
		r := g.Network.Router(name)
		eg.Go(func() error {
			a, err := o.analyse(ctx, r)
			if err != nil {
				return errors.Wrapf(err, "analysing router %s", r.Name)
			}
			mu.Lock()
			defer mu.Unlock()
			o.protocols[r.Name] = a.protocols
			o.singleExport[r.Name] = a.singleExport
			o.merged[r.Name] = a.merged
			o.connected[r.Name] = a.connected
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	o.computeKeep()
	o.communities = newCommunityGraph(g.Network)

	cfg.Logger.WithFields(logrus.Fields{
		"headerspace": hs.Name,
		"fields":      o.keptFields(),
		"communities": len(o.communities.concrete),
	}).Debug("optimizer finished")
	return o, nil
}

// relevant reports whether p overlaps the destinations of the slice.
func (o *Optimizer) relevant(p netip.Prefix) bool {
	return o.dst.OverlapsPrefix(p.Masked())
}

func (o *Optimizer) analyse(ctx context.Context, r *network.Router) (routerAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return routerAnalysis{}, err
	}
	a := routerAnalysis{
		singleExport: map[Protocol]bool{},
		merged:       map[string]bool{},
		connected:    map[string]bool{},
	}
	for _, i := range r.Interfaces {
		if o.relevant(i.Address.Prefix) {
			a.connected[i.Name] = true
		}
	}
	if len(a.connected) > 0 {
		a.protocols = append(a.protocols, Connected)
	}
	if o.hasStatic(r) {
		a.protocols = append(a.protocols, Static)
	}
	if r.OSPF != nil && o.hasOSPFEdge(r) {
		a.protocols = append(a.protocols, OSPF)
	}
	if r.BGP != nil && !o.igpOnly && len(o.bgpEdges(r)) > 0 {
		a.protocols = append(a.protocols, BGP)
	}

	for _, p := range a.protocols {
		if !p.exports() {
			continue
		}
		share, err := o.canShareExport(r, p)
		if err != nil {
			return a, err
		}
		a.singleExport[p] = share
	}
	if r.BGP != nil && !o.igpOnly {
		for _, e := range o.bgpEdges(r) {
			if o.canMergeImport(r, e) {
				a.merged[e.Interface.Name] = true
			}
		}
	}
	return a, nil
}

func (o *Optimizer) hasStatic(r *network.Router) bool {
	if o.cfg.Repair && len(r.Interfaces) > 0 {
		return true
	}
	for _, s := range r.StaticRoutes {
		if o.relevant(s.Prefix.Prefix) {
			return true
		}
	}
	return false
}

func (o *Optimizer) hasOSPFEdge(r *network.Router) bool {
	for _, e := range o.graph.Edges(r.Name) {
		if o.ospfAdjacent(e) {
			return true
		}
	}
	return false
}

// ospfAdjacent reports whether an OSPF adjacency exists, or could be
// enabled in repair mode, across a physical edge.
func (o *Optimizer) ospfAdjacent(e *network.GraphEdge) bool {
	if e.Abstract || e.Peer == "" {
		return false
	}
	r, peer := o.graph.Network.Router(e.Router), o.graph.Network.Router(e.Peer)
	if r.OSPF == nil || peer.OSPF == nil {
		return false
	}
	if o.cfg.Repair {
		return true
	}
	return ospfEnabled(e.Interface) && ospfEnabled(e.PeerInterface)
}

func ospfEnabled(i *network.Interface) bool {
	return i != nil && i.OSPFEnabled() && !i.OSPF.Passive
}

// bgpEdges returns the edges carrying a BGP session, including potential
// eBGP sessions in repair mode.
func (o *Optimizer) bgpEdges(r *network.Router) []*network.GraphEdge {
	var out []*network.GraphEdge
	for _, e := range o.graph.Edges(r.Name) {
		if o.graph.PeerType(e) != network.NoSession || o.potentialSession(e) {
			out = append(out, e)
		}
	}
	return out
}

// potentialSession is a physical link between two BGP speakers in
// different autonomous systems without a configured session.
func (o *Optimizer) potentialSession(e *network.GraphEdge) bool {
	if !o.cfg.Repair || e.Abstract || e.Peer == "" || o.graph.PeerType(e) != network.NoSession {
		return false
	}
	r, peer := o.graph.Network.Router(e.Router), o.graph.Network.Router(e.Peer)
	return r.BGP != nil && peer.BGP != nil && r.BGP.AS != peer.BGP.AS
}

// exportFingerprint identifies what an export edge does to a route.
type exportFingerprint struct {
	Policy *network.RoutePolicy
	Class  network.PeerType
	Area   uint64
}

// canShareExport holds when every export edge of the protocol would carry
// an identical record.
func (o *Optimizer) canShareExport(r *network.Router, p Protocol) (bool, error) {
	if o.cfg.DisableOptimizations || o.cfg.Repair || o.cfg.MaxFailures > 0 {
		return false, nil
	}
	var edges []*network.GraphEdge
	switch p {
	case OSPF:
		for _, e := range o.graph.Edges(r.Name) {
			if o.ospfAdjacent(e) {
				edges = append(edges, e)
			}
		}
	case BGP:
		edges = o.bgpEdges(r)
	case Connected, Static, Best:
		return false, nil
	default:
		panic("unknown protocol " + p.String())
	}

	var first uint64
	for n, e := range edges {
		if !e.Abstract && !e.Interface.Active() {
			return false, nil
		}
		var (
			fp  exportFingerprint
			err error
		)
		switch p {
		case OSPF:
			fp.Policy, err = r.Policy(r.OSPF.ExportPolicy)
			fp.Area = ospfArea(e.Interface)
		case BGP:
			nb := o.graph.BGPNeighbor(e)
			if nb == nil {
				return false, nil
			}
			fp.Policy, err = r.Policy(nb.ExportPolicy)
			fp.Class = o.graph.PeerType(e)
		}
		if err != nil {
			return false, err
		}
		h, err := hashstructure.Hash(fp, nil)
		if err != nil {
			return false, errors.Wrapf(err, "fingerprinting export policy on %s", e)
		}
		if n == 0 {
			first = h
			continue
		}
		if h != first {
			return false, nil
		}
	}
	return true, nil
}

// canMergeImport holds for plain eBGP imports: the peer's export already
// carries import-ready attributes, so only permitted needs a variable.
func (o *Optimizer) canMergeImport(r *network.Router, e *network.GraphEdge) bool {
	if o.cfg.DisableOptimizations || o.cfg.Repair || o.cfg.MaxFailures > 0 {
		return false
	}
	if e.Abstract || o.graph.PeerType(e) != network.EBGP {
		return false
	}
	if !e.Interface.Active() {
		return false
	}
	nb := o.graph.BGPNeighbor(e)
	if nb == nil {
		return false
	}
	p, err := r.Policy(nb.ImportPolicy)
	return err == nil && p == nil
}

// computeKeep decides which attributes are modelled at all.
func (o *Optimizer) computeKeep() {
	if o.cfg.DisableOptimizations {
		for f := Field(0); f < numFields; f++ {
			o.keep[f] = true
		}
		return
	}
	n := o.graph.Network
	k := &o.keep
	k[PrefixLength] = true
	for _, r := range n.Routers {
		ps := o.protocols[r.Name]
		if len(ps) > 1 {
			k[AdminDistance] = true
		}
		for _, s := range r.StaticRoutes {
			if s.AdminCost != 0 {
				k[AdminDistance] = true
			}
		}
		if o.cfg.Repair && r.BGP != nil {
			k[AdminDistance] = true
		}
		for _, p := range ps {
			switch p {
			case OSPF:
				k[Metric] = true
			case BGP:
				k[LocalPref] = true
				k[Metric] = true
				k[Med] = true
			case Connected, Static, Best:
			default:
				panic("unknown protocol " + p.String())
			}
		}
		if r.BGP != nil && len(o.bgpEdges(r)) > 1 {
			k[RouterID] = true
		}
		if r.OSPF != nil && len(r.OSPF.Redistribute) > 0 {
			k[OspfType] = true
		}
		if (r.OSPF != nil && len(r.OSPF.Redistribute) > 0) || (r.BGP != nil && len(r.BGP.Redistribute) > 0) {
			k[History] = true
		}
		if o.cfg.Repair && (r.OSPF != nil || r.BGP != nil) {
			k[History] = true
			k[OspfType] = true
		}
		for _, e := range o.graph.Edges(r.Name) {
			switch o.graph.PeerType(e) {
			case network.IBGPClient, network.IBGPNonClient:
				k[BgpInternal] = true
				k[IgpMetric] = true
			case network.EBGP, network.NoSession:
			}
		}
		if o.graph.IsReflector(r.Name) {
			k[ClientID] = true
		}
	}
	if len(o.areas()) > 1 {
		k[OspfArea] = true
		k[OspfType] = true
	}
}

// areas returns the distinct OSPF areas configured anywhere, sorted.
func (o *Optimizer) areas() []int {
	seen := map[int]struct{}{}
	for _, r := range o.graph.Network.Routers {
		for _, i := range r.Interfaces {
			if i.OSPFEnabled() {
				seen[i.OSPF.Area] = struct{}{}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Ints(out)
	return out
}

func (o *Optimizer) keptFields() []string {
	var out []string
	for f := Field(0); f < numFields; f++ {
		if o.keep[f] {
			out = append(out, f.String())
		}
	}
	return out
}

// Protocols returns the protocols modelled on a router, connected first.
func (o *Optimizer) Protocols(router string) []Protocol {
	return o.protocols[router]
}

// SingleProtocol reports whether the router's overall best doubles as its
// only protocol's best.
func (o *Optimizer) SingleProtocol(router string) bool {
	return len(o.protocols[router]) == 1
}

// SharesExport reports whether one SINGLE-EXPORT record serves every export
// edge of the protocol.
func (o *Optimizer) SharesExport(router string, p Protocol) bool {
	return o.singleExport[router][p]
}

// MergesImport reports whether the BGP import on iface aliases the peer's
// export record.
func (o *Optimizer) MergesImport(router, iface string) bool {
	return o.merged[router][iface]
}

// ConnectedRelevant reports whether the interface's prefix overlaps the
// header space.
func (o *Optimizer) ConnectedRelevant(router, iface string) bool {
	return o.connected[router][iface]
}

// Keeps reports whether an attribute is modelled.
func (o *Optimizer) Keeps(f Field) bool {
	return o.keep[f]
}
