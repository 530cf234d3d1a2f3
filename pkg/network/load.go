package network

import (
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Load reads and validates a network description from a YAML file.
func Load(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read network file %s", path)
	}
	n, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid network file %s", path)
	}
	return n, nil
}

// Parse decodes and validates a YAML network description.
func Parse(data []byte) (*Network, error) {
	var n Network
	if err := yaml.UnmarshalStrict(data, &n); err != nil {
		return nil, errors.Wrap(err, "error decoding network")
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

var knownProtocols = map[string]struct{}{
	"connected": {},
	"static":    {},
	"ospf":      {},
	"bgp":       {},
}

// Validate checks internal references and indexes the routers by name. It
// must be called before the network is shared between goroutines.
func (n *Network) Validate() error {
	n.byName = nil
	seen := make(map[string]*Router, len(n.Routers))
	for _, r := range n.Routers {
		if r.Name == "" {
			return errors.New("router without a name")
		}
		if _, ok := seen[r.Name]; ok {
			return errors.Errorf("duplicate router %q", r.Name)
		}
		seen[r.Name] = r
		if err := validateRouter(r); err != nil {
			return errors.Wrapf(err, "router %s", r.Name)
		}
	}
	n.byName = seen

	for _, l := range n.Links {
		for _, ep := range []Endpoint{l.A, l.B} {
			r, ok := seen[ep.Router]
			if !ok {
				return errors.Errorf("link %s-%s: unknown router %q", l.A, l.B, ep.Router)
			}
			if r.Interface(ep.Interface) == nil {
				return errors.Errorf("link %s-%s: unknown interface %s", l.A, l.B, ep)
			}
		}
	}

	for _, r := range n.Routers {
		if r.BGP == nil {
			continue
		}
		for _, nb := range r.BGP.Neighbors {
			peer, ok := seen[nb.Peer]
			if !ok {
				return errors.Errorf("router %s: bgp neighbor %q is not a known router", r.Name, nb.Peer)
			}
			if peer.BGP == nil {
				return errors.Errorf("router %s: bgp neighbor %s runs no bgp process", r.Name, nb.Peer)
			}
			if peer.BGP.AS != nb.RemoteAS {
				return errors.Errorf("router %s: neighbor %s remote-as %d does not match its as %d", r.Name, nb.Peer, nb.RemoteAS, peer.BGP.AS)
			}
			if peer.BGP.Neighbor(r.Name) == nil {
				return errors.Errorf("router %s: session to %s is not configured on the peer", r.Name, nb.Peer)
			}
		}
	}
	return nil
}

func validateRouter(r *Router) error {
	for _, i := range r.Interfaces {
		if !i.Address.IsValid() {
			return errors.Errorf("interface %s has no address", i.Name)
		}
		if !i.Address.Addr().Is4() {
			return errors.Errorf("interface %s: only ipv4 addresses are supported", i.Name)
		}
		for _, acl := range []string{i.InboundACL, i.OutboundACL} {
			if _, err := r.ACL(acl); err != nil {
				return err
			}
		}
	}
	for _, s := range r.StaticRoutes {
		if r.Interface(s.Interface) == nil {
			return errors.Errorf("static route %s: unknown interface %q", s.Prefix, s.Interface)
		}
	}
	var redistributions []Redistribution
	if r.OSPF != nil {
		for _, name := range []string{r.OSPF.ImportPolicy, r.OSPF.ExportPolicy} {
			if _, err := r.Policy(name); err != nil {
				return err
			}
		}
		redistributions = append(redistributions, r.OSPF.Redistribute...)
	}
	if r.BGP != nil {
		for _, nb := range r.BGP.Neighbors {
			if nb.Interface != "" && r.Interface(nb.Interface) == nil {
				return errors.Errorf("bgp neighbor %s: unknown interface %q", nb.Peer, nb.Interface)
			}
			for _, name := range []string{nb.ImportPolicy, nb.ExportPolicy} {
				if _, err := r.Policy(name); err != nil {
					return err
				}
			}
		}
		redistributions = append(redistributions, r.BGP.Redistribute...)
	}
	for _, rd := range redistributions {
		if _, ok := knownProtocols[rd.From]; !ok {
			return errors.Errorf("redistribution from unknown protocol %q", rd.From)
		}
		if _, err := r.Policy(rd.Policy); err != nil {
			return err
		}
	}
	for name, p := range r.Policies {
		for _, st := range p.Statements {
			if st.Action != Permit && st.Action != Deny {
				return errors.Errorf("policy %s: statement action must be permit or deny, got %q", name, st.Action)
			}
			for _, proto := range st.Match.Protocols {
				if _, ok := knownProtocols[proto]; !ok {
					return errors.Errorf("policy %s: unknown protocol %q", name, proto)
				}
			}
			for _, c := range append(append([]string(nil), st.Match.Communities...), st.Set.DeleteCommunities...) {
				if _, err := regexp.Compile(c); err != nil {
					return errors.Wrapf(err, "policy %s: invalid community expression %q", name, c)
				}
			}
		}
	}
	for name, a := range r.ACLs {
		for _, l := range a.Lines {
			if l.Action != Permit && l.Action != Deny {
				return errors.Errorf("acl %s: line action must be permit or deny, got %q", name, l.Action)
			}
		}
	}
	return nil
}
