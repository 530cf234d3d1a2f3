package network

import (
	"fmt"
	"net/netip"
	"strings"
)

// Network is the read-only model of a set of router configurations and the
// physical links between their interfaces.
type Network struct {
	Routers []*Router `yaml:"routers"`
	Links   []Link    `yaml:"links"`

	byName map[string]*Router
}

// Router returns the router with the given name, or nil.
func (n *Network) Router(name string) *Router {
	if n.byName != nil {
		return n.byName[name]
	}
	for _, r := range n.Routers {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Endpoint names one side of a physical link.
type Endpoint struct {
	Router    string `yaml:"router"`
	Interface string `yaml:"interface"`
}

func (e Endpoint) String() string {
	return e.Router + ":" + e.Interface
}

// Link is a point-to-point physical connection.
type Link struct {
	A Endpoint `yaml:"a"`
	B Endpoint `yaml:"b"`
}

// Prefix wraps netip.Prefix so it can be read from YAML. The address bits are
// kept as written, so "10.0.0.1/24" names both an interface address and its
// attached network.
type Prefix struct {
	netip.Prefix
}

// MustParsePrefix is a test helper that panics on malformed input.
func MustParsePrefix(s string) Prefix {
	return Prefix{netip.MustParsePrefix(s)}
}

func (p *Prefix) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := parsePrefix(s)
	if err != nil {
		return err
	}
	p.Prefix = parsed
	return nil
}

func (p Prefix) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// Network returns the masked prefix.
func (p Prefix) Network() netip.Prefix {
	return p.Masked()
}

func parsePrefix(s string) (netip.Prefix, error) {
	if !strings.Contains(s, "/") {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return netip.PrefixFrom(a, a.BitLen()), nil
	}
	return netip.ParsePrefix(s)
}

// Router is one device configuration.
type Router struct {
	Name         string                  `yaml:"name"`
	Loopback     *Prefix                 `yaml:"loopback,omitempty"`
	Interfaces   []*Interface            `yaml:"interfaces"`
	StaticRoutes []*StaticRoute          `yaml:"staticRoutes,omitempty"`
	ACLs         map[string]*ACL         `yaml:"acls,omitempty"`
	Policies     map[string]*RoutePolicy `yaml:"policies,omitempty"`
	OSPF         *OSPFProcess            `yaml:"ospf,omitempty"`
	BGP          *BGPProcess             `yaml:"bgp,omitempty"`
}

// Interface returns the named interface, or nil.
func (r *Router) Interface(name string) *Interface {
	for _, i := range r.Interfaces {
		if i.Name == name {
			return i
		}
	}
	return nil
}

// Policy returns the named route policy. An empty name yields nil, which
// callers treat as accept-all.
func (r *Router) Policy(name string) (*RoutePolicy, error) {
	if name == "" {
		return nil, nil
	}
	p, ok := r.Policies[name]
	if !ok {
		return nil, fmt.Errorf("router %s: undefined route policy %q", r.Name, name)
	}
	return p, nil
}

// ACL returns the named access list. An empty name yields nil (permit all).
func (r *Router) ACL(name string) (*ACL, error) {
	if name == "" {
		return nil, nil
	}
	a, ok := r.ACLs[name]
	if !ok {
		return nil, fmt.Errorf("router %s: undefined access list %q", r.Name, name)
	}
	return a, nil
}

// LoopbackAddress returns the address used as the router's BGP next hop.
func (r *Router) LoopbackAddress() (netip.Addr, bool) {
	if r.Loopback != nil {
		return r.Loopback.Addr(), true
	}
	for _, i := range r.Interfaces {
		if i.Address.IsValid() {
			return i.Address.Addr(), true
		}
	}
	return netip.Addr{}, false
}

// Interface is a layer 3 interface.
type Interface struct {
	Name        string         `yaml:"name"`
	Address     Prefix         `yaml:"address"`
	Shutdown    bool           `yaml:"shutdown,omitempty"`
	InboundACL  string         `yaml:"inboundAcl,omitempty"`
	OutboundACL string         `yaml:"outboundAcl,omitempty"`
	OSPF        *InterfaceOSPF `yaml:"ospf,omitempty"`
}

// Active reports whether the interface is administratively up.
func (i *Interface) Active() bool {
	return !i.Shutdown
}

// OSPFEnabled reports whether OSPF runs on the interface.
func (i *Interface) OSPFEnabled() bool {
	return i.OSPF != nil && i.OSPF.Enabled
}

type InterfaceOSPF struct {
	Enabled bool `yaml:"enabled"`
	Cost    int  `yaml:"cost,omitempty"`
	Area    int  `yaml:"area,omitempty"`
	Passive bool `yaml:"passive,omitempty"`
}

// StaticRoute is a configured static route out of an interface.
type StaticRoute struct {
	Prefix    Prefix `yaml:"prefix"`
	Interface string `yaml:"interface"`
	AdminCost int    `yaml:"adminCost,omitempty"`
	// Priority orders routes on the same interface; lower is tried first.
	Priority int `yaml:"priority,omitempty"`
}

// ID identifies the route inside repair suggestions.
func (s *StaticRoute) ID() string {
	return fmt.Sprintf("%s->%s", s.Prefix.Network(), s.Interface)
}

// Action is the verdict of an ACL line or policy statement.
type Action string

const (
	Permit Action = "permit"
	Deny   Action = "deny"
)

// ACL is an ordered list of packet filter lines with an implicit deny.
type ACL struct {
	Lines []ACLLine `yaml:"lines"`
}

type ACLLine struct {
	Action    Action      `yaml:"action"`
	Dst       []Prefix    `yaml:"dst,omitempty"`
	Src       []Prefix    `yaml:"src,omitempty"`
	Protocols []int       `yaml:"protocols,omitempty"`
	DstPorts  []PortRange `yaml:"dstPorts,omitempty"`
	SrcPorts  []PortRange `yaml:"srcPorts,omitempty"`
}

type PortRange struct {
	Low  int `yaml:"low"`
	High int `yaml:"high"`
}

// RoutePolicy is an ordered list of statements; a route matching no statement
// is rejected unless DefaultAction says otherwise.
type RoutePolicy struct {
	Statements    []Statement `yaml:"statements"`
	DefaultAction Action      `yaml:"defaultAction,omitempty"`
}

type Statement struct {
	Match  Match  `yaml:"match,omitempty"`
	Set    Set    `yaml:"set,omitempty"`
	Action Action `yaml:"action"`
}

// Match conditions are conjunctive; each list is a disjunction. Empty lists
// match everything.
type Match struct {
	Prefixes    []PrefixRange `yaml:"prefixes,omitempty"`
	Communities []string      `yaml:"communities,omitempty"`
	Protocols   []string      `yaml:"protocols,omitempty"`
}

// PrefixRange matches routes inside Prefix whose length lies in [Ge, Le].
// Zero bounds default to the prefix's own length.
type PrefixRange struct {
	Prefix Prefix `yaml:"prefix"`
	Ge     int    `yaml:"ge,omitempty"`
	Le     int    `yaml:"le,omitempty"`
}

// Bounds returns the effective length range.
func (p PrefixRange) Bounds() (int, int) {
	switch {
	case p.Ge == 0 && p.Le == 0:
		return p.Prefix.Bits(), p.Prefix.Bits()
	case p.Le == 0:
		return p.Ge, p.Prefix.Addr().BitLen()
	case p.Ge == 0:
		return p.Prefix.Bits(), p.Le
	}
	return p.Ge, p.Le
}

type Set struct {
	LocalPref         *int     `yaml:"localPref,omitempty"`
	Metric            *int     `yaml:"metric,omitempty"`
	AddMetric         int      `yaml:"addMetric,omitempty"`
	Med               *int     `yaml:"med,omitempty"`
	AddCommunities    []string `yaml:"addCommunities,omitempty"`
	DeleteCommunities []string `yaml:"deleteCommunities,omitempty"`
}

// Redistribution injects the best routes of another protocol.
type Redistribution struct {
	From   string `yaml:"from"`
	Policy string `yaml:"policy,omitempty"`
}

type OSPFProcess struct {
	Networks     []Prefix         `yaml:"networks,omitempty"`
	Redistribute []Redistribution `yaml:"redistribute,omitempty"`
	ImportPolicy string           `yaml:"importPolicy,omitempty"`
	ExportPolicy string           `yaml:"exportPolicy,omitempty"`
}

type BGPProcess struct {
	AS           int              `yaml:"as"`
	Networks     []Prefix         `yaml:"networks,omitempty"`
	Redistribute []Redistribution `yaml:"redistribute,omitempty"`
	Neighbors    []*BGPNeighbor   `yaml:"neighbors"`
}

// Neighbor returns the session towards peer, or nil.
func (b *BGPProcess) Neighbor(peer string) *BGPNeighbor {
	for _, n := range b.Neighbors {
		if n.Peer == peer {
			return n
		}
	}
	return nil
}

// BGPNeighbor is a BGP session. An empty Interface denotes a multi-hop
// (loopback) session, which the graph models as an abstract edge.
type BGPNeighbor struct {
	Peer                 string `yaml:"peer"`
	Interface            string `yaml:"interface,omitempty"`
	RemoteAS             int    `yaml:"remoteAs"`
	ImportPolicy         string `yaml:"importPolicy,omitempty"`
	ExportPolicy         string `yaml:"exportPolicy,omitempty"`
	RouteReflectorClient bool   `yaml:"routeReflectorClient,omitempty"`
}
