package encoder

import (
	"context"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netverify/cpverify/pkg/headerspace"
	"github.com/netverify/cpverify/pkg/metrics"
	"github.com/netverify/cpverify/pkg/network"
	"github.com/netverify/cpverify/pkg/solver"
)

// Encoder owns the slices of one network and the state they share: the
// term context, the failure model, the repair registry and the next-hop
// slices used to resolve iBGP.
type Encoder struct {
	cfg      Config
	graph    *network.Graph
	x        *solver.Context
	layout   *layout
	failures *FailureModel
	registry *Registry
	log      logrus.FieldLogger

	slices  []*Slice
	nextHop map[string]*Slice
	nextID  int
}

// New builds an encoder for a validated network.
func New(n *network.Network, options ...Option) (*Encoder, error) {
	var cfg Config
	for _, option := range append(options, defaults...) {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}
	g, err := network.NewGraph(n)
	if err != nil {
		return nil, errors.Wrap(err, "building graph")
	}
	x := solver.NewContext()
	e := &Encoder{
		cfg:    cfg,
		graph:  g,
		x:      x,
		layout: newLayout(cfg.Widths, g),
		log:    cfg.Logger,
	}
	e.registry = newRegistry(x, e.cfg.weight)
	if e.failures, err = newFailureModel(x, g, cfg.MaxFailures); err != nil {
		return nil, errors.Wrap(err, "declaring failure variables")
	}
	metrics.Register()
	return e, nil
}

func newLayout(w Widths, g *network.Graph) *layout {
	maxArea := 0
	for _, r := range g.Network.Routers {
		for _, i := range r.Interfaces {
			if i.OSPF != nil && i.OSPF.Area > maxArea {
				maxArea = i.OSPF.Area
			}
		}
	}
	ids := solver.BitsFor(uint64(len(g.Routers())))
	l := &layout{}
	l.widths = [numFields]int{
		PrefixLength:  w.PrefixLength,
		AdminDistance: w.AdminDistance,
		LocalPref:     w.LocalPref,
		Metric:        w.Metric,
		Med:           w.Med,
		OspfType:      2,
		BgpInternal:   1,
		IgpMetric:     w.IgpMetric,
		RouterID:      ids,
		ClientID:      ids,
		OspfArea:      solver.BitsFor(uint64(maxArea)),
		History:       2,
	}
	return l
}

// AddSlice encodes one header space. The next-hop slices needed by iBGP are
// built first, on the first call.
func (e *Encoder) AddSlice(ctx context.Context, hs *headerspace.HeaderSpace) (*Slice, error) {
	if err := e.ensureNextHopSlices(ctx); err != nil {
		return nil, err
	}
	s, err := e.newSlice(ctx, hs, "")
	if err != nil {
		return nil, err
	}
	e.slices = append(e.slices, s)
	metrics.SetSliceCount(len(e.slices) + len(e.nextHop))
	return s, nil
}

// nextHopTargets returns the routers whose loopbacks some router must reach
// to receive iBGP routes.
func (e *Encoder) nextHopTargets() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range e.graph.Routers() {
		for _, ge := range e.graph.Edges(name) {
			if !isInternal(e.graph.PeerType(ge)) {
				continue
			}
			targets := []string{ge.Peer}
			if e.graph.LearnsFromReflector(ge) {
				targets = append(targets, e.graph.Clients(ge.Peer)...)
			}
			for _, t := range targets {
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
	}
	return out
}

func (e *Encoder) ensureNextHopSlices(ctx context.Context) error {
	if e.nextHop != nil {
		return nil
	}
	e.nextHop = map[string]*Slice{}
	for _, target := range e.nextHopTargets() {
		addr, ok := e.graph.Network.Router(target).LoopbackAddress()
		if !ok {
			e.log.WithField("router", target).Warn("router has no address, iBGP sessions to it never come up")
			continue
		}
		hs, err := headerspace.New("nexthop-"+target, netip.PrefixFrom(addr, addr.BitLen()))
		if err != nil {
			return err
		}
		s, err := e.newSlice(ctx, hs, target)
		if err != nil {
			return err
		}
		e.nextHop[target] = s
	}
	return nil
}

func (e *Encoder) newSlice(ctx context.Context, hs *headerspace.HeaderSpace, nextHopOf string) (*Slice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	id := e.nextID
	e.nextID++
	s, err := newSlice(ctx, e, id, hs, nextHopOf)
	if err != nil {
		return nil, err
	}
	d := time.Since(start)
	metrics.RegisterSliceBuild(s.Name, d)
	st := e.x.Stats()
	e.log.WithFields(logrus.Fields{
		"slice":     s.Name,
		"id":        id,
		"variables": st.Variables,
		"gates":     st.Gates,
		"hard":      st.Hard,
		"soft":      st.Soft,
		"duration":  d,
	}).Debug("encoded slice")
	return s, nil
}

// Slices returns the slices added by callers, in order.
func (e *Encoder) Slices() []*Slice {
	return e.slices
}

// NextHopSlice returns the slice resolving the loopback of a router, or nil.
func (e *Encoder) NextHopSlice(router string) *Slice {
	return e.nextHop[router]
}

// Graph returns the graph the encoder was built from.
func (e *Encoder) Graph() *network.Graph {
	return e.graph
}

// Registry returns the repair registry shared by all slices.
func (e *Encoder) Registry() *Registry {
	return e.registry
}

// Failures returns the failure model shared by all slices.
func (e *Encoder) Failures() *FailureModel {
	return e.failures
}

// Context returns the term context.
func (e *Encoder) Context() *solver.Context {
	return e.x
}

// Solve looks for a model of the encoding together with the given query
// assertions, minimising the weight of applied repairs. Unsatisfiability is
// reported as solver.NotSatisfiable.
func (e *Encoder) Solve(ctx context.Context, query ...solver.Assertion) (*Result, error) {
	st := e.x.Stats()
	metrics.EmitEncodingSize(st.Variables, st.Gates, st.Hard, st.Soft)

	s, err := solver.New(e.x,
		solver.WithTracer(e.cfg.Tracer),
		solver.WithLogger(e.log),
		solver.WithAssertions(query...),
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid encoding")
	}

	start := time.Now()
	m, err := s.Solve(ctx)
	outcome := metrics.Sat
	var unsat solver.NotSatisfiable
	switch {
	case err == nil:
	case errors.As(err, &unsat):
		outcome = metrics.Unsat
	case errors.Is(err, solver.Incomplete):
		outcome = metrics.Cancelled
	default:
		outcome = metrics.Failed
	}
	metrics.RegisterSolve(outcome, time.Since(start))
	e.log.WithFields(logrus.Fields{"outcome": outcome, "duration": time.Since(start)}).Debug("solved")
	if err != nil {
		return nil, err
	}
	return e.result(m), nil
}
