package encoder

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netverify/cpverify/pkg/headerspace"
	"github.com/netverify/cpverify/pkg/network"
	"github.com/netverify/cpverify/pkg/solver"
)

const (
	dirImport       = "IMPORT"
	dirExport       = "EXPORT"
	dirSingleExport = "SINGLE-EXPORT"
	dirBest         = "BEST"
)

// Slice is the constraint system of one header space: every router's
// candidate routes, selections and forwarding decisions for the packets of
// that header space.
type Slice struct {
	ID          int
	Name        string
	HeaderSpace *headerspace.HeaderSpace

	enc     *Encoder
	x       *solver.Context
	graph   *network.Graph
	cfg     *Config
	layout  *layout
	opt     *Optimizer
	records *recordFactory
	topo    *LogicalTopology

	decisions map[string]*DecisionState
	packet    Packet
	reach     map[string]z.Lit
	filters   map[string]FilterTerms
	// nextHopOf names the router whose loopback this slice resolves, or is
	// empty for slices requested by the caller.
	nextHopOf string
	log       logrus.FieldLogger
}

func newSlice(ctx context.Context, e *Encoder, id int, hs *headerspace.HeaderSpace, nextHopOf string) (*Slice, error) {
	opt, err := NewOptimizer(ctx, e.graph, hs, &e.cfg, nextHopOf != "")
	if err != nil {
		return nil, err
	}
	s := &Slice{
		ID:          id,
		Name:        sliceName(hs),
		HeaderSpace: hs,
		enc:         e,
		x:           e.x,
		graph:       e.graph,
		cfg:         &e.cfg,
		layout:      e.layout,
		opt:         opt,
		topo:        newLogicalTopology(e.graph),
		decisions:   map[string]*DecisionState{},
		filters:     map[string]FilterTerms{},
		nextHopOf:   nextHopOf,
	}
	s.log = e.log.WithFields(logrus.Fields{"slice": s.Name, "id": id})
	s.records = &recordFactory{
		x:           e.x,
		layout:      e.layout,
		keep:        opt.keep,
		communities: opt.communities.concrete,
	}
	if err := s.build(); err != nil {
		return nil, errors.Wrapf(err, "building slice %s", s.Name)
	}
	return s, nil
}

// sliceName turns a header space into a name usable inside variable names.
func sliceName(hs *headerspace.HeaderSpace) string {
	name := hs.String()
	return strings.NewReplacer("_", "-", " ", "").Replace(name)
}

func (s *Slice) build() error {
	s.packet = s.newPacket()
	s.constrainPacket()
	if err := s.buildTopology(); err != nil {
		return err
	}
	s.buildDecisions()
	if s.records.err != nil {
		return s.records.err
	}
	for _, r := range s.records.created {
		s.normalise(r)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"imports", s.encodeImports},
		{"exports", s.encodeExports},
		{"selection", s.encodeSelection},
		{"forwarding", s.encodeForwarding},
		{"reachability", s.encodeReachability},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return errors.Wrapf(err, "encoding %s", step.name)
		}
	}
	if s.records.err != nil {
		return s.records.err
	}
	s.log.WithField("records", len(s.records.created)).Debug("slice built")
	return nil
}

func (s *Slice) key(router, proto, dir, iface string) solver.Key {
	return solver.Key{SliceID: s.ID, Slice: s.Name, Router: router, Protocol: proto, Direction: dir, Interface: iface}
}

// name builds an assertion name in the same scheme as variable names.
func (s *Slice) name(parts ...string) string {
	return fmt.Sprintf("%d_%s_%s", s.ID, s.Name, strings.Join(parts, "_"))
}

func (s *Slice) router(name string) *network.Router {
	return s.graph.Network.Router(name)
}

// linkUp is true iff the link under a physical edge has not failed.
func (s *Slice) linkUp(e *network.GraphEdge) z.Lit {
	if e.Abstract {
		return s.x.True()
	}
	return s.enc.failures.Up(e)
}

// active is the administrative state of a physical edge's interface.
func (s *Slice) active(e *network.GraphEdge) z.Lit {
	if e.Abstract {
		return s.x.True()
	}
	return s.x.Const(e.Interface.Active())
}

// staticRoutes returns the relevant static routes out of an interface in
// the order they are tried.
func (s *Slice) staticRoutes(r *network.Router, iface string) []*network.StaticRoute {
	var out []*network.StaticRoute
	for _, sr := range r.StaticRoutes {
		if sr.Interface == iface && s.opt.relevant(sr.Prefix.Prefix) {
			out = append(out, sr)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func isInternal(t network.PeerType) bool {
	return t == network.IBGPClient || t == network.IBGPNonClient
}

func (s *Slice) buildTopology() error {
	for _, name := range s.graph.Routers() {
		r := s.router(name)
		for _, p := range s.opt.Protocols(name) {
			var shared *RouteRecord
			export := func(e *network.GraphEdge, internal bool) *LogicalEdge {
				le := &LogicalEdge{Edge: e, Type: Export, Protocol: p}
				if s.opt.SharesExport(name, p) {
					if shared == nil {
						shared = s.records.newRecord(s.key(name, p.String(), dirSingleExport, ""), p, Full, internal)
					}
					le.Record = shared
					return le
				}
				le.Record = s.records.newRecord(s.key(name, p.String(), dirExport, e.Name()), p, Full, internal)
				return le
			}

			for _, e := range s.graph.Edges(name) {
				switch p {
				case Connected:
					if e.Abstract || !s.opt.ConnectedRelevant(name, e.Interface.Name) {
						continue
					}
					rec := s.records.newRecord(s.key(name, p.String(), dirImport, e.Name()), p, PermittedOnly, false)
					s.topo.add(&EdgePair{Edge: e, Import: &LogicalEdge{Edge: e, Type: Import, Protocol: p, Record: rec}}, p)
				case Static:
					if e.Abstract || (!s.cfg.Repair && len(s.staticRoutes(r, e.Interface.Name)) == 0) {
						continue
					}
					rec := s.records.newRecord(s.key(name, p.String(), dirImport, e.Name()), p, PermittedOnly, false)
					s.topo.add(&EdgePair{Edge: e, Import: &LogicalEdge{Edge: e, Type: Import, Protocol: p, Record: rec}}, p)
				case OSPF:
					if !s.opt.ospfAdjacent(e) {
						continue
					}
					rec := s.records.newRecord(s.key(name, p.String(), dirImport, e.Name()), p, Full, false)
					s.topo.add(&EdgePair{
						Edge:   e,
						Import: &LogicalEdge{Edge: e, Type: Import, Protocol: p, Record: rec},
						Export: export(e, false),
					}, p)
				case BGP:
					pt := s.graph.PeerType(e)
					if pt == network.NoSession && !s.opt.potentialSession(e) {
						continue
					}
					internal := isInternal(pt)
					imp := &LogicalEdge{Edge: e, Type: Import, Protocol: p}
					if !s.opt.MergesImport(name, e.Name()) {
						imp.Record = s.records.newRecord(s.key(name, p.String(), dirImport, e.Name()), p, Full, internal)
					}
					s.topo.add(&EdgePair{Edge: e, Import: imp, Export: export(e, internal)}, p)
				case Best:
					return invariant("router %s: best is not a routing protocol", name)
				default:
					panic("unknown protocol " + p.String())
				}
			}
		}
	}
	s.topo.link()

	// Merged imports alias the export on the far end, which now exists.
	for _, name := range s.graph.Routers() {
		for _, pair := range s.topo.Pairs(name, BGP) {
			imp := pair.Import
			if imp == nil || imp.Record != nil {
				continue
			}
			k := s.key(name, BGP.String(), dirImport, pair.Edge.Name())
			other := s.topo.OtherEnd(imp)
			if other == nil || other.Record == nil {
				imp.Record = s.records.newRecord(k, BGP, Full, isInternal(s.graph.PeerType(pair.Edge)))
				continue
			}
			imp.Record = s.records.merged(k, other.Record)
		}
	}
	return nil
}

func (s *Slice) buildDecisions() {
	for _, name := range s.graph.Routers() {
		d := newDecisionState()
		ps := s.opt.Protocols(name)
		switch len(ps) {
		case 0:
			d.BestOverall = s.records.newRecord(s.key(name, "OVERALL", dirBest, ""), Best, Full, false)
			d.BestPerProtocol = map[Protocol]*RouteRecord{}
		case 1:
			d.BestOverall = s.records.newRecord(s.key(name, ps[0].String(), dirBest, ""), ps[0], Full, false)
		default:
			d.BestOverall = s.records.newRecord(s.key(name, "OVERALL", dirBest, ""), Best, Full, false)
			d.BestPerProtocol = map[Protocol]*RouteRecord{}
			for _, p := range ps {
				d.BestPerProtocol[p] = s.records.newRecord(s.key(name, p.String(), dirBest, ""), p, Full, false)
			}
		}
		for _, p := range ps {
			for _, le := range s.topo.Imports(name, p) {
				d.Choice[le] = s.records.boolVar(s.key(name, p.String(), dirImport, le.Edge.Name()).With("choice"))
			}
		}
		for _, e := range s.graph.Edges(name) {
			d.Control[e] = s.records.boolVar(s.key(name, "", "CONTROL", e.Name()).With("fwd"))
			if !e.Abstract {
				d.Data[e] = s.records.boolVar(s.key(name, "", "DATA", e.Name()).With("fwd"))
			}
		}
		s.decisions[name] = d
	}
}

// Decisions returns the decision state of a router.
func (s *Slice) Decisions(router string) *DecisionState {
	return s.decisions[router]
}

// Topology returns the logical edges of the slice.
func (s *Slice) Topology() *LogicalTopology {
	return s.topo
}

// Optimizer returns the analysis the slice was built with.
func (s *Slice) Optimizer() *Optimizer {
	return s.opt
}

// Packet returns the symbolic packet.
func (s *Slice) Packet() Packet {
	return s.packet
}

// Value returns the term of a record's field, substituting the default for
// omitted slots.
func (s *Slice) Value(r *RouteRecord, f Field) solver.BitVec {
	return s.value(r, f)
}

// Geq is true iff a is at least as preferred as b.
func (s *Slice) Geq(a, b *RouteRecord) z.Lit {
	return s.geq(s.valuesOf(a), s.valuesOf(b))
}

// Equal is attribute equality of two records.
func (s *Slice) Equal(a, b *RouteRecord, communities bool) z.Lit {
	return s.equal(a, b, communities)
}

// Tied is true iff a and b agree on every compared field.
func (s *Slice) Tied(a, b *RouteRecord) z.Lit {
	return s.tied(s.valuesOf(a), s.valuesOf(b))
}

func prefixes(ps []network.Prefix) []netip.Prefix {
	out := make([]netip.Prefix, len(ps))
	for i, p := range ps {
		out[i] = p.Network()
	}
	return out
}
