package encoder

import (
	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/headerspace"
	"github.com/netverify/cpverify/pkg/network"
)

// aclPermits translates an access list into a term over the slice's packet.
// Lines are tried in order and the first match decides; a packet matching
// no line is denied. A nil list permits everything.
func (s *Slice) aclPermits(acl *network.ACL) z.Lit {
	if acl == nil {
		return s.x.True()
	}
	verdict := s.x.False()
	for i := len(acl.Lines) - 1; i >= 0; i-- {
		l := acl.Lines[i]
		verdict = s.x.Ite(s.aclMatches(l), s.x.Const(l.Action == network.Permit), verdict)
	}
	return verdict
}

func (s *Slice) aclMatches(l network.ACLLine) z.Lit {
	p := s.packet
	var cs []z.Lit
	if len(l.Dst) > 0 {
		cs = append(cs, s.inAnyPrefix(p.DstIP, prefixes(l.Dst)))
	}
	if len(l.Src) > 0 {
		cs = append(cs, s.inAnyPrefix(p.SrcIP, prefixes(l.Src)))
	}
	if len(l.Protocols) > 0 {
		ors := make([]z.Lit, len(l.Protocols))
		for i, proto := range l.Protocols {
			ors[i] = s.x.EqConst(p.Protocol, uint64(proto))
		}
		cs = append(cs, s.x.Or(ors...))
	}
	if len(l.DstPorts) > 0 {
		cs = append(cs, s.inAnyRange(p.DstPort, portRanges(l.DstPorts)))
	}
	if len(l.SrcPorts) > 0 {
		cs = append(cs, s.inAnyRange(p.SrcPort, portRanges(l.SrcPorts)))
	}
	return s.x.And(cs...)
}

func portRanges(rs []network.PortRange) []headerspace.PortRange {
	out := make([]headerspace.PortRange, len(rs))
	for i, r := range rs {
		out[i] = headerspace.PortRange{Low: r.Low, High: r.High}
	}
	return out
}
