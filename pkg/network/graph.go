package network

import (
	"sort"

	"github.com/pkg/errors"
)

// GraphEdge is one router-side endpoint of a link. Physical edges carry the
// local interface and, when the interface is cabled to another router, the
// peer and its interface. Abstract edges model multi-hop iBGP sessions and
// carry no interface.
type GraphEdge struct {
	Router        string
	Interface     *Interface
	Peer          string
	PeerInterface *Interface
	Abstract      bool
}

func (e *GraphEdge) String() string {
	local := e.Router
	if e.Interface != nil {
		local += ":" + e.Interface.Name
	}
	if e.Peer == "" {
		return local
	}
	peer := e.Peer
	if e.PeerInterface != nil {
		peer += ":" + e.PeerInterface.Name
	}
	return local + "->" + peer
}

// Name is the interface-like label used in variable names.
func (e *GraphEdge) Name() string {
	if e.Abstract {
		return "iBGP-" + e.Peer
	}
	return e.Interface.Name
}

// Graph is the edge view of a Network with dense router indices.
type Graph struct {
	Network *Network

	edges    map[string][]*GraphEdge
	otherEnd map[*GraphEdge]*GraphEdge
	index    map[string]int
	routers  []string
}

// NewGraph builds the graph. Every interface becomes a physical edge; links
// fill in the peer side. iBGP sessions without an interface become abstract
// edges in both directions.
func NewGraph(n *Network) (*Graph, error) {
	g := &Graph{
		Network:  n,
		edges:    make(map[string][]*GraphEdge, len(n.Routers)),
		otherEnd: make(map[*GraphEdge]*GraphEdge),
		index:    make(map[string]int, len(n.Routers)),
	}
	for _, r := range n.Routers {
		g.routers = append(g.routers, r.Name)
	}
	sort.Strings(g.routers)
	for i, name := range g.routers {
		// Index zero is reserved as "none" for client ids.
		g.index[name] = i + 1
	}

	byEndpoint := make(map[Endpoint]*GraphEdge)
	for _, name := range g.routers {
		r := n.Router(name)
		for _, iface := range r.Interfaces {
			e := &GraphEdge{Router: r.Name, Interface: iface}
			g.edges[r.Name] = append(g.edges[r.Name], e)
			byEndpoint[Endpoint{Router: r.Name, Interface: iface.Name}] = e
		}
	}
	for _, l := range n.Links {
		a, b := byEndpoint[l.A], byEndpoint[l.B]
		if a == nil || b == nil {
			return nil, errors.Errorf("link %s-%s references an unknown interface", l.A, l.B)
		}
		if a.Peer != "" || b.Peer != "" {
			return nil, errors.Errorf("link %s-%s: interface already connected", l.A, l.B)
		}
		a.Peer, a.PeerInterface = b.Router, b.Interface
		b.Peer, b.PeerInterface = a.Router, a.Interface
		g.otherEnd[a] = b
		g.otherEnd[b] = a
	}

	for _, name := range g.routers {
		r := n.Router(name)
		if r.BGP == nil {
			continue
		}
		for _, nb := range r.BGP.Neighbors {
			if nb.Interface != "" || nb.RemoteAS != r.BGP.AS || nb.Peer < r.Name {
				continue
			}
			a := &GraphEdge{Router: r.Name, Peer: nb.Peer, Abstract: true}
			b := &GraphEdge{Router: nb.Peer, Peer: r.Name, Abstract: true}
			g.edges[a.Router] = append(g.edges[a.Router], a)
			g.edges[b.Router] = append(g.edges[b.Router], b)
			g.otherEnd[a] = b
			g.otherEnd[b] = a
		}
	}
	return g, nil
}

// Routers returns the router names in index order.
func (g *Graph) Routers() []string {
	return g.routers
}

// Edges returns the edges of a router in a stable order.
func (g *Graph) Edges(router string) []*GraphEdge {
	return g.edges[router]
}

// OtherEnd returns the opposite endpoint of the same link, or nil for
// interfaces facing the outside world.
func (g *Graph) OtherEnd(e *GraphEdge) *GraphEdge {
	return g.otherEnd[e]
}

// Index returns the dense, 1-based index of a router.
func (g *Graph) Index(router string) int {
	return g.index[router]
}

// PeerType classifies a BGP session from one side.
type PeerType int

const (
	// NoSession means the edge carries no BGP session.
	NoSession PeerType = iota
	EBGP
	// IBGPClient means the peer is our route-reflector client.
	IBGPClient
	IBGPNonClient
)

func (t PeerType) String() string {
	switch t {
	case NoSession:
		return "none"
	case EBGP:
		return "ebgp"
	case IBGPClient:
		return "ibgp-client"
	case IBGPNonClient:
		return "ibgp"
	}
	return "unknown"
}

// BGPNeighbor returns the session configured on e, if any.
func (g *Graph) BGPNeighbor(e *GraphEdge) *BGPNeighbor {
	r := g.Network.Router(e.Router)
	if r == nil || r.BGP == nil || e.Peer == "" {
		return nil
	}
	for _, nb := range r.BGP.Neighbors {
		if nb.Peer != e.Peer {
			continue
		}
		if e.Abstract && nb.Interface == "" {
			return nb
		}
		if !e.Abstract && e.Interface != nil && nb.Interface == e.Interface.Name {
			return nb
		}
	}
	return nil
}

// PeerType classifies the BGP session on e from e.Router's point of view.
func (g *Graph) PeerType(e *GraphEdge) PeerType {
	nb := g.BGPNeighbor(e)
	if nb == nil {
		return NoSession
	}
	local := g.Network.Router(e.Router)
	if nb.RemoteAS != local.BGP.AS {
		return EBGP
	}
	if nb.RouteReflectorClient {
		return IBGPClient
	}
	return IBGPNonClient
}

// LearnsFromReflector reports whether e.Router is a route-reflector client of
// the peer on e.
func (g *Graph) LearnsFromReflector(e *GraphEdge) bool {
	other := g.OtherEnd(e)
	if other == nil {
		return false
	}
	return g.PeerType(other) == IBGPClient
}

// IsReflector reports whether the router has at least one client.
func (g *Graph) IsReflector(router string) bool {
	r := g.Network.Router(router)
	if r == nil || r.BGP == nil {
		return false
	}
	for _, nb := range r.BGP.Neighbors {
		if nb.RouteReflectorClient && nb.RemoteAS == r.BGP.AS {
			return true
		}
	}
	return false
}

// Clients returns the route-reflector clients of a router, sorted.
func (g *Graph) Clients(router string) []string {
	r := g.Network.Router(router)
	if r == nil || r.BGP == nil {
		return nil
	}
	var out []string
	for _, nb := range r.BGP.Neighbors {
		if nb.RouteReflectorClient && nb.RemoteAS == r.BGP.AS {
			out = append(out, nb.Peer)
		}
	}
	sort.Strings(out)
	return out
}

// PhysicalLinks returns one edge per cabled link, in a stable order.
func (g *Graph) PhysicalLinks() []*GraphEdge {
	var out []*GraphEdge
	seen := make(map[string]struct{})
	for _, name := range g.routers {
		for _, e := range g.edges[name] {
			key := g.LinkKey(e)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// LinkKey identifies the physical link under both of its edges.
func (g *Graph) LinkKey(e *GraphEdge) string {
	if e.Abstract || e.Peer == "" {
		return ""
	}
	a := Endpoint{Router: e.Router, Interface: e.Interface.Name}
	b := Endpoint{Router: e.Peer, Interface: e.PeerInterface.Name}
	if b.String() < a.String() {
		a, b = b, a
	}
	return a.String() + "|" + b.String()
}

// RouterOwning returns the router with an interface or loopback address equal
// to the given address.
func (g *Graph) RouterOwning(p Prefix) string {
	for _, name := range g.routers {
		r := g.Network.Router(name)
		if r.Loopback != nil && r.Loopback.Addr() == p.Addr() {
			return name
		}
		for _, i := range r.Interfaces {
			if i.Address.Addr() == p.Addr() {
				return name
			}
		}
	}
	return ""
}
