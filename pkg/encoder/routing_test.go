package encoder

import (
	"context"
	"fmt"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netverify/cpverify/pkg/solver"
)

// redistributeStatic has a originate 172.16.0.0/24 into OSPF from a static
// route when the redistribution list allows it.
const redistributeStatic = `
routers:
- name: a
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
    ospf: {enabled: true}
  - name: eth1
    address: 192.168.1.1/24
  staticRoutes:
  - prefix: 172.16.0.0/24
    interface: eth1
  ospf:
    redistribute: %s
- name: b
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
    ospf: {enabled: true}
  ospf: {}
links:
- a: {router: a, interface: eth0}
  b: {router: b, interface: eth0}
`

// reflector has rr reflect c2's 10.9.0.0/16 to c1. The inbound filter on
// rr can cut c1 off from c2's loopback.
const reflector = `
routers:
- name: c1
  loopback: 1.1.1.1/32
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
    ospf: {enabled: true}
  ospf: {}
  bgp:
    as: 1
    neighbors:
    - peer: rr
      remoteAs: 1
- name: c2
  loopback: 2.2.2.2/32
  interfaces:
  - name: eth0
    address: 10.0.1.2/30
    ospf: {enabled: true}
  - name: eth1
    address: 10.9.0.1/16
  ospf: {}
  bgp:
    as: 1
    networks: [10.9.0.0/16]
    neighbors:
    - peer: rr
      remoteAs: 1
- name: rr
  loopback: 3.3.3.3/32
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
    ospf: {enabled: true}
    inboundAcl: %s
  - name: eth1
    address: 10.0.1.1/30
    ospf: {enabled: true}
  ospf: {}
  bgp:
    as: 1
    neighbors:
    - peer: c1
      remoteAs: 1
      routeReflectorClient: true
    - peer: c2
      remoteAs: 1
      routeReflectorClient: true
  acls:
    noc2:
      lines:
      - action: deny
        dst: [2.2.2.2/32]
      - action: permit
links:
- a: {router: c1, interface: eth0}
  b: {router: rr, interface: eth0}
- a: {router: rr, interface: eth1}
  b: {router: c2, interface: eth0}
`

// ospfAreas is ospfLine with the b-c link in area 1.
const ospfAreas = `
routers:
- name: a
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
    ospf: {enabled: true}
  ospf: {}
- name: b
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
    ospf: {enabled: true}
  - name: eth1
    address: 10.0.1.1/30
    ospf: {enabled: true, cost: 5, area: 1}
  ospf: {}
- name: c
  loopback: 3.3.3.3/32
  interfaces:
  - name: eth0
    address: 10.0.1.2/30
    ospf: {enabled: true, area: 1}
  ospf: {}
links:
- a: {router: a, interface: eth0}
  b: {router: b, interface: eth0}
- a: {router: b, interface: eth0}
  b: {router: c, interface: eth0}
`

// communities has b announce 10.9.0.0/16 to a through b's export policy
// and a's import policy.
const communities = `
routers:
- name: a
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
  bgp:
    as: 1
    neighbors:
    - peer: b
      interface: eth0
      remoteAs: 2
      importPolicy: %s
  policies:
    match:
      statements:
      - action: permit
        match: {communities: ["1:100"]}
        set: {localPref: 200}
      defaultAction: deny
    regex:
      statements:
      - action: permit
        match: {communities: ["^1:"]}
      defaultAction: deny
    strip:
      statements:
      - action: permit
        set: {deleteCommunities: ["^1:"]}
- name: b
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
  - name: eth1
    address: 10.9.0.1/16
  bgp:
    as: 2
    networks: [10.9.0.0/16]
    neighbors:
    - peer: a
      interface: eth0
      remoteAs: 1
      exportPolicy: %s
  policies:
    tag:
      statements:
      - action: permit
        set: {addCommunities: ["1:100"], med: 50}
links:
- a: {router: a, interface: eth0}
  b: {router: b, interface: eth0}
`

// deadEnd gives a one way out through b and one into c, which has no
// route anywhere.
const deadEnd = `
routers:
- name: a
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
  - name: eth1
    address: 10.0.2.1/30
  staticRoutes: %s
- name: b
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
  - name: eth1
    address: 172.16.0.1/16
- name: c
  interfaces:
  - name: eth0
    address: 10.0.2.2/30
links:
- a: {router: a, interface: eth0}
  b: {router: b, interface: eth0}
- a: {router: a, interface: eth1}
  b: {router: c, interface: eth0}
`

// ospfExit runs OSPF between a and b; b's outside network is not in OSPF.
const ospfExit = `
routers:
- name: a
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
    ospf: {enabled: true}
  ospf: {}
- name: b
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
    ospf: {enabled: true}
  - name: eth1
    address: 172.16.5.1/24
  ospf: {}
links:
- a: {router: a, interface: eth0}
  b: {router: b, interface: eth0}
`

// redistributedDeadEnd has b redistribute a static route towards c into
// OSPF, drawing a's traffic away from its own outside interface.
const redistributedDeadEnd = `
routers:
- name: a
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
    ospf: {enabled: true}
  - name: eth1
    address: 172.16.0.1/16
  ospf: {}
- name: b
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
    ospf: {enabled: true}
  - name: eth1
    address: 10.0.1.1/30
  staticRoutes:
  - prefix: 172.16.5.0/24
    interface: eth1
  ospf:
    redistribute: [{from: static}]
- name: c
  interfaces:
  - name: eth0
    address: 10.0.1.2/30
links:
- a: {router: a, interface: eth0}
  b: {router: b, interface: eth0}
- a: {router: b, interface: eth1}
  b: {router: c, interface: eth0}
`

// noAdjacency has OSPF processes on both routers but OSPF is off on b's
// side of the link.
const noAdjacency = `
routers:
- name: a
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
    ospf: {enabled: true}
  ospf: {}
- name: b
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
  - name: eth1
    address: 172.16.5.1/24
  ospf:
    networks: [172.16.5.0/24]
links:
- a: {router: a, interface: eth0}
  b: {router: b, interface: eth0}
`

// bgpDeadEnd has b announce a prefix it cannot deliver; a's outside
// interface covers it.
const bgpDeadEnd = `
routers:
- name: a
  interfaces:
  - name: eth0
    address: 10.0.0.1/30
  - name: eth1
    address: 172.16.0.1/16
  bgp:
    as: 1
    neighbors:
    - peer: b
      interface: eth0
      remoteAs: 2
- name: b
  interfaces:
  - name: eth0
    address: 10.0.0.2/30
  bgp:
    as: 2
    networks: [172.16.5.0/24]
    neighbors:
    - peer: a
      interface: eth0
      remoteAs: 1
links:
- a: {router: a, interface: eth0}
  b: {router: b, interface: eth0}
`

func pinDst(s *Slice, addr string) solver.Assertion {
	return solver.Assertion{
		Name: "pinned dst",
		Lit:  s.x.EqConst(s.Packet().DstIP, addrBits(netip.MustParseAddr(addr))),
	}
}

func TestStaticRedistributedIntoOSPF(t *testing.T) {
	for _, tt := range []struct {
		Name         string
		Redistribute string
		Holds        bool
	}{
		{Name: "redistributed", Redistribute: "[{from: static}]", Holds: true},
		{Name: "not redistributed", Redistribute: "[]"},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			e, s := build(t, fmt.Sprintf(redistributeStatic, tt.Redistribute), "172.16.0.0/24")

			v, err := e.VerifyReachability(context.Background(), s, "b")
			require.NoError(t, err)
			assert.Equal(t, tt.Holds, v.Holds)

			res := solveModel(t, e)
			m := res.Model
			best := s.Decisions("b").BestOverall
			b, _ := res.Slices[0].Router("b")
			if !tt.Holds {
				assert.False(t, m.Value(best.Permitted))
				assert.True(t, b.BlackHole())
				return
			}
			assert.Equal(t, []Protocol{OSPF}, b.Protocols)
			assert.Equal(t, []string{"eth0"}, b.Forwarding)
			// The prefix survives; the metric restarts at the external
			// default plus one hop.
			assert.Equal(t, uint64(24), m.Uint(s.Value(best, PrefixLength)))
			assert.Equal(t, uint64(redistributedOspfMetric+1), m.Uint(s.Value(best, Metric)))
			assert.Equal(t, uint64(ospfE2), m.Uint(s.Value(best, OspfType)))
			assert.Equal(t, Static.historyCode(), m.Uint(s.Value(best, History)))
		})
	}
}

func TestRedistributedBeatsDirect(t *testing.T) {
	for _, tt := range []struct {
		Name                  string
		Redistributed, Direct map[Field]uint64
		Want                  bool
	}{
		{
			Name:          "longer prefix wins over distance",
			Redistributed: map[Field]uint64{PrefixLength: 24, AdminDistance: 110},
			Direct:        map[Field]uint64{PrefixLength: 16, AdminDistance: 1},
			Want:          true,
		},
		{
			Name:          "shorter prefix loses",
			Redistributed: map[Field]uint64{PrefixLength: 16, AdminDistance: 1},
			Direct:        map[Field]uint64{PrefixLength: 24, AdminDistance: 110},
		},
		{
			Name:          "lower distance wins on equal prefix",
			Redistributed: map[Field]uint64{PrefixLength: 24, AdminDistance: 20},
			Direct:        map[Field]uint64{PrefixLength: 24, AdminDistance: 110},
			Want:          true,
		},
		{
			Name:          "tie keeps the direct route",
			Redistributed: map[Field]uint64{PrefixLength: 24, AdminDistance: 110},
			Direct:        map[Field]uint64{PrefixLength: 24, AdminDistance: 110},
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			e, s := build(t, twoRouters, "10.0.0.2/32", WithoutOptimizations())
			var r, d [numFields]uint64
			for f, v := range tt.Redistributed {
				r[f] = v
			}
			for f, v := range tt.Direct {
				d[f] = v
			}
			beats := s.redistributedBeatsDirect(s.constValues(r), s.constValues(d))
			assert.Equal(t, tt.Want, solveModel(t, e).Model.Value(beats))
		})
	}
}

func TestRouteReflectorClients(t *testing.T) {
	for _, tt := range []struct {
		Name      string
		ACL       string
		Reflected bool
	}{
		{Name: "reflected", ACL: `""`, Reflected: true},
		// c1 still reaches rr but not c2, which the route came from.
		{Name: "originating client unreachable", ACL: "noc2"},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			e, s := build(t, fmt.Sprintf(reflector, tt.ACL), "10.9.1.0/24")
			c1, c2 := uint64(e.Graph().Index("c1")), uint64(e.Graph().Index("c2"))
			require.NotZero(t, c1)
			require.NotZero(t, c2)
			require.NotNil(t, e.NextHopSlice("c2"))

			m := solveModel(t, e).Model
			rr := s.Decisions("rr").Best(BGP)
			require.NotNil(t, rr)
			require.True(t, m.Value(rr.Permitted))
			assert.Equal(t, c2, m.Uint(s.Value(rr, ClientID)))
			assert.Equal(t, uint64(1), m.Uint(s.Value(rr, BgpInternal)))

			best := s.Decisions("c1").Best(BGP)
			require.NotNil(t, best)
			assert.Equal(t, tt.Reflected, m.Value(best.Permitted))
			if tt.Reflected {
				// The client id survives reflection; the router id is the
				// reflector's.
				assert.Equal(t, c2, m.Uint(s.Value(best, ClientID)))
				assert.Equal(t, uint64(e.Graph().Index("rr")), m.Uint(s.Value(best, RouterID)))
			}
		})
	}
}

func TestSingleExport(t *testing.T) {
	for _, tt := range []struct {
		Name    string
		Network string
		Options []Option
		Shares  bool
	}{
		{Name: "identical edges", Network: ospfLine, Shares: true},
		{Name: "failures", Network: ospfLine, Options: []Option{WithFailures(1)}},
		{Name: "repair", Network: ospfLine, Options: []Option{WithRepair()}},
		{Name: "without optimisations", Network: ospfLine, Options: []Option{WithoutOptimizations()}},
		{Name: "different areas", Network: ospfAreas},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			_, s := build(t, tt.Network, "3.3.3.3/32", tt.Options...)
			assert.Equal(t, tt.Shares, s.Optimizer().SharesExport("b", OSPF))

			pairs := s.Topology().Pairs("b", OSPF)
			require.Len(t, pairs, 2)
			first, second := pairs[0].Export.Record, pairs[1].Export.Record
			assert.Equal(t, tt.Shares, first == second)
			for _, r := range []*RouteRecord{first, second} {
				if tt.Shares {
					assert.Equal(t, dirSingleExport, r.Key.Direction)
					assert.Empty(t, r.Key.Interface)
				} else {
					assert.NotEqual(t, dirSingleExport, r.Key.Direction)
				}
			}
		})
	}

	e, s := build(t, ospfLine, "3.3.3.3/32")
	v, err := e.VerifyReachability(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, v.Holds)
}

func TestBGPLoopPrevention(t *testing.T) {
	for _, tt := range []struct {
		Name    string
		Options []Option
		Shape   Shape
	}{
		{Name: "merged import", Shape: Merged},
		{Name: "full import", Options: []Option{WithFailures(1)}, Shape: Full},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			e, s := build(t, fmt.Sprintf(ebgp, `""`), "10.9.1.0/24", tt.Options...)
			if tt.Shape == Full {
				require.NoError(t, e.Failures().Fix("a:eth0|b:eth0", false))
			}
			toB := s.Topology().Pair(edge(t, e, "a", "eth0"), BGP)
			fromA := s.Topology().Pair(edge(t, e, "b", "eth0"), BGP)
			require.NotNil(t, toB)
			require.NotNil(t, fromA)
			assert.Equal(t, tt.Shape, fromA.Import.Record.Shape)

			m := solveModel(t, e).Model
			// a advertises b's route back, and forwards towards b, so b
			// ignores it.
			assert.True(t, m.Value(toB.Export.Record.Permitted))
			assert.True(t, m.Value(s.Decisions("a").Control[toB.Edge]))
			assert.False(t, m.Value(fromA.Import.Record.Permitted))
		})
	}
}

func TestCommunityPolicies(t *testing.T) {
	for _, tt := range []struct {
		Name      string
		Import    string
		Export    string
		Accepted  bool
		LocalPref uint64
		Tagged    bool
	}{
		{Name: "tagged route matches", Import: "match", Export: "tag", Accepted: true, LocalPref: 200, Tagged: true},
		{Name: "untagged route is rejected", Import: "match", Export: `""`},
		{Name: "expression matches", Import: "regex", Export: "tag", Accepted: true, LocalPref: defaultLocalPref, Tagged: true},
		{Name: "expression deletes", Import: "strip", Export: "tag", Accepted: true, LocalPref: defaultLocalPref},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			e, s := build(t, fmt.Sprintf(communities, tt.Import, tt.Export), "10.9.1.0/24")

			v, err := e.VerifyReachability(context.Background(), s, "a")
			require.NoError(t, err)
			assert.Equal(t, tt.Accepted, v.Holds)

			m := solveModel(t, e).Model
			best := s.Decisions("a").Best(BGP)
			require.NotNil(t, best)
			require.Equal(t, tt.Accepted, m.Value(best.Permitted))
			if !tt.Accepted {
				return
			}
			assert.Equal(t, tt.LocalPref, m.Uint(s.Value(best, LocalPref)))
			assert.Equal(t, uint64(50), m.Uint(s.Value(best, Med)))
			tag, ok := best.Community("1:100")
			require.True(t, ok)
			assert.Equal(t, tt.Tagged, m.Value(tag))
		})
	}
}

func TestRepairCategories(t *testing.T) {
	const deadEndRoutes = `[{prefix: 172.16.0.0/16, interface: eth0}, {prefix: 172.16.5.128/25, interface: eth1}]`
	for _, tt := range []struct {
		Name    string
		Network string
		Dst     string
		Options []Option
		Pin     string
		Cost    int
		Want    Suggestion
	}{
		{
			Name:    "add static route",
			Network: fmt.Sprintf(deadEnd, "[]"),
			Cost:    1,
			Want:    Suggestion{Router: "a", Category: StaticEdit, Rule: "eth0", Kind: Add, Label: "StaticAdd"},
		},
		{
			// Without the pin the solver could pick a packet the /25 does
			// not cover.
			Name:    "remove static route",
			Network: fmt.Sprintf(deadEnd, deadEndRoutes),
			Pin:     "172.16.5.200",
			Cost:    1,
			Want:    Suggestion{Router: "a", Category: StaticEdit, Rule: "172.16.5.128/25->eth1", Kind: Remove, Label: "StaticRemove"},
		},
		{
			Name:    "originate into ospf",
			Network: ospfExit,
			Options: []Option{WithWeight(StaticEdit, 9)},
			Cost:    1,
			Want:    Suggestion{Router: "b", Category: OSPFExportEdit, Rule: "originate", Kind: Add, Label: "OSPFExportAdd"},
		},
		{
			Name:    "remove ospf export",
			Network: redistributedDeadEnd,
			Options: []Option{WithWeight(StaticEdit, 9)},
			Cost:    1,
			Want:    Suggestion{Router: "b", Category: OSPFExportEdit, Rule: "eth0", Kind: Remove, Label: "OSPFExportRemove"},
		},
		{
			Name:    "enable redistribution",
			Network: ospfExit,
			Options: []Option{WithWeight(StaticEdit, 9), WithWeight(OSPFExportEdit, 5)},
			Cost:    2,
			Want:    Suggestion{Router: "b", Category: RedistributionEdit, Rule: "CONNECTED->OSPF", Kind: Add, Label: "RedistributionEnable"},
		},
		{
			Name:    "disable redistribution",
			Network: redistributedDeadEnd,
			Options: []Option{WithWeight(StaticEdit, 9), WithWeight(OSPFExportEdit, 9)},
			Cost:    2,
			Want:    Suggestion{Router: "b", Category: RedistributionEdit, Rule: "STATIC->OSPF", Kind: Remove, Label: "RedistributionDisable"},
		},
		{
			Name:    "filter bgp route",
			Network: bgpDeadEnd,
			Options: []Option{WithWeight(StaticEdit, 9)},
			Cost:    1,
			Want:    Suggestion{Router: "a", Category: BGPFilterEdit, Rule: "eth0", Kind: Add, Label: "BGPFilterAdd"},
		},
		{
			Name:    "allow bgp route",
			Network: fmt.Sprintf(ebgp, "reject"),
			Dst:     "10.9.1.0/24",
			Options: []Option{WithWeight(StaticEdit, 9)},
			Cost:    1,
			Want:    Suggestion{Router: "a", Category: BGPFilterEdit, Rule: "eth0", Kind: Remove, Label: "AllowRoute"},
		},
		{
			// The lexicographically smaller end owns the edit.
			Name:    "enable adjacency",
			Network: noAdjacency,
			Options: []Option{WithWeight(StaticEdit, 9)},
			Cost:    3,
			Want:    Suggestion{Router: "a", Category: AdjacencyEdit, Rule: "OSPF:a:eth0|b:eth0", Kind: Add, Label: "AdjacencyEnable"},
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			dst := tt.Dst
			if dst == "" {
				dst = "172.16.5.0/24"
			}
			e, s := build(t, tt.Network, dst, append(tt.Options, WithRepair())...)
			var pins []solver.Assertion
			if tt.Pin != "" {
				pins = append(pins, pinDst(s, tt.Pin))
			}

			// Without edits a cannot deliver.
			res := solveModel(t, e, pins...)
			require.Zero(t, res.Cost)
			a, _ := res.Slices[0].Router("a")
			require.False(t, a.Reachable)

			res = solveModel(t, e, append(pins, s.RequireReachable("a")...)...)
			assert.Equal(t, tt.Cost, res.Cost)
			if diff := cmp.Diff([]Suggestion{tt.Want}, res.Suggestions); diff != "" {
				t.Errorf("unexpected suggestions (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOSPFAreas(t *testing.T) {
	for _, tt := range []struct {
		Name      string
		Network   string
		KeepsArea bool
		TypeAtB   uint64
		TypeAtA   uint64
	}{
		{Name: "single area", Network: ospfLine, TypeAtB: ospfIntraArea, TypeAtA: ospfIntraArea},
		{Name: "two areas", Network: ospfAreas, KeepsArea: true, TypeAtB: ospfIntraArea, TypeAtA: ospfInterArea},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			e, s := build(t, tt.Network, "3.3.3.3/32")
			assert.Equal(t, tt.KeepsArea, s.Optimizer().Keeps(OspfArea))

			v, err := e.VerifyReachability(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, v.Holds)

			m := solveModel(t, e).Model
			b, a := s.Decisions("b").BestOverall, s.Decisions("a").BestOverall
			assert.Equal(t, tt.TypeAtB, m.Uint(s.Value(b, OspfType)))
			assert.Equal(t, tt.TypeAtA, m.Uint(s.Value(a, OspfType)))
			assert.Equal(t, uint64(6), m.Uint(s.Value(a, Metric)))
			if tt.KeepsArea {
				assert.Equal(t, uint64(1), m.Uint(s.Value(b, OspfArea)))
				assert.Equal(t, uint64(0), m.Uint(s.Value(a, OspfArea)))
			}
		})
	}
}
