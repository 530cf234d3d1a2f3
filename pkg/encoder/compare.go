package encoder

import (
	"github.com/go-air/gini/z"
)

// rank is one step of the decision process.
type rank struct {
	field      Field
	higherWins bool
}

// decisionProcess lists the compared fields, most significant first.
var decisionProcess = []rank{
	{PrefixLength, true},
	{AdminDistance, false},
	{LocalPref, true},
	{Metric, false},
	{Med, false},
	{OspfType, false},
	{BgpInternal, false},
	{IgpMetric, false},
	{RouterID, false},
}

// geq is true iff route a is at least as preferred as route b. It is built
// from the least significant field up: better_i or (equal_i and rest).
func (s *Slice) geq(a, b RouteValues) z.Lit {
	rest := s.x.True()
	for i := len(decisionProcess) - 1; i >= 0; i-- {
		r := decisionProcess[i]
		if !s.opt.Keeps(r.field) {
			continue
		}
		av, bv := a.Fields[r.field], b.Fields[r.field]
		better := s.x.Ult(av, bv)
		if r.higherWins {
			better = s.x.Ugt(av, bv)
		}
		rest = s.x.Or(better, s.x.And(s.x.Eq(av, bv), rest))
	}
	return rest
}

// tied is true iff a and b agree on every compared field.
func (s *Slice) tied(a, b RouteValues) z.Lit {
	var eqs []z.Lit
	for _, r := range decisionProcess {
		if s.opt.Keeps(r.field) {
			eqs = append(eqs, s.x.Eq(a.Fields[r.field], b.Fields[r.field]))
		}
	}
	return s.x.And(eqs...)
}

// redistributedBeatsDirect decides between a redistributed route and a
// locally originated one: longer prefix first, then lower administrative
// distance.
func (s *Slice) redistributedBeatsDirect(r, d RouteValues) z.Lit {
	rl, dl := r.Fields[PrefixLength], d.Fields[PrefixLength]
	ra, da := r.Fields[AdminDistance], d.Fields[AdminDistance]
	return s.x.Or(
		s.x.Ugt(rl, dl),
		s.x.And(s.x.Eq(rl, dl), s.x.Ult(ra, da)),
	)
}
