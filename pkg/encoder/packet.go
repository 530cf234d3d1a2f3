package encoder

import (
	"encoding/binary"
	"net/netip"

	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/headerspace"
	"github.com/netverify/cpverify/pkg/solver"
)

// Packet is the symbolic packet of a slice.
type Packet struct {
	DstIP    solver.BitVec
	SrcIP    solver.BitVec
	DstPort  solver.BitVec
	SrcPort  solver.BitVec
	Protocol solver.BitVec
}

func addrBits(a netip.Addr) uint64 {
	b := a.As4()
	return uint64(binary.BigEndian.Uint32(b[:]))
}

func (s *Slice) newPacket() Packet {
	k := s.key("", "", "", "")
	return Packet{
		DstIP:    s.records.bitVecVar(k.With("dst-ip"), 32),
		SrcIP:    s.records.bitVecVar(k.With("src-ip"), 32),
		DstPort:  s.records.bitVecVar(k.With("dst-port"), 16),
		SrcPort:  s.records.bitVecVar(k.With("src-port"), 16),
		Protocol: s.records.bitVecVar(k.With("ip-protocol"), 8),
	}
}

// inPrefix is true iff ip lies in p.
func (s *Slice) inPrefix(ip solver.BitVec, p netip.Prefix) z.Lit {
	p = p.Masked()
	return s.x.TopBitsEq(ip, addrBits(p.Addr()), p.Bits())
}

// dstIn is true iff the packet's destination lies in p.
func (s *Slice) dstIn(p netip.Prefix) z.Lit {
	return s.inPrefix(s.packet.DstIP, p)
}

func (s *Slice) inAnyPrefix(ip solver.BitVec, ps []netip.Prefix) z.Lit {
	ors := make([]z.Lit, len(ps))
	for i, p := range ps {
		ors[i] = s.inPrefix(ip, p)
	}
	return s.x.Or(ors...)
}

func (s *Slice) inAnyRange(v solver.BitVec, rs []headerspace.PortRange) z.Lit {
	ors := make([]z.Lit, len(rs))
	for i, r := range rs {
		ors[i] = s.x.InRange(v, uint64(r.Low), uint64(r.High))
	}
	return s.x.Or(ors...)
}

// constrainPacket restricts the symbolic packet to the header space.
func (s *Slice) constrainPacket() {
	hs, p := s.HeaderSpace, s.packet
	cs := []z.Lit{s.inAnyPrefix(p.DstIP, hs.DstPrefixes())}
	if hs.Src != nil {
		cs = append(cs, s.inAnyPrefix(p.SrcIP, hs.Src.Prefixes()))
	}
	if len(hs.Protocols) > 0 {
		ors := make([]z.Lit, len(hs.Protocols))
		for i, proto := range hs.Protocols {
			ors[i] = s.x.EqConst(p.Protocol, uint64(proto))
		}
		cs = append(cs, s.x.Or(ors...))
	}
	if len(hs.DstPorts) > 0 {
		cs = append(cs, s.inAnyRange(p.DstPort, hs.DstPorts))
	}
	if len(hs.SrcPorts) > 0 {
		cs = append(cs, s.inAnyRange(p.SrcPort, hs.SrcPorts))
	}
	s.x.Assert(s.name("headerspace"), s.x.And(cs...))
}
