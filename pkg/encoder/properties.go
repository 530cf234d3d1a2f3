package encoder

import (
	"context"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/netverify/cpverify/pkg/solver"
)

// Reachable is true iff the slice's packet sent by router is delivered.
func (s *Slice) Reachable(router string) z.Lit {
	if l, ok := s.reach[router]; ok {
		return l
	}
	return s.x.False()
}

func (s *Slice) sources(routers []string) []string {
	if len(routers) == 0 {
		return s.graph.Routers()
	}
	return routers
}

// RequireReachable returns query assertions demanding delivery from every
// source router, or from every router when none are given.
func (s *Slice) RequireReachable(sources ...string) []solver.Assertion {
	var out []solver.Assertion
	for _, r := range s.sources(sources) {
		out = append(out, solver.Assertion{Name: s.name(r, "reachable"), Lit: s.Reachable(r)})
	}
	return out
}

// Verdict is the answer to a verification query. A property that does not
// hold comes with a counterexample.
type Verdict struct {
	Holds          bool
	Counterexample *Result
}

// VerifyReachability checks that every source router delivers every packet
// of the slice, under every admissible failure, by asking for a model in
// which some source does not. It fails with ErrInconsistent when the
// encoding itself has no model.
func (e *Encoder) VerifyReachability(ctx context.Context, s *Slice, sources ...string) (*Verdict, error) {
	var all []z.Lit
	for _, r := range s.sources(sources) {
		all = append(all, s.Reachable(r))
	}
	violation := solver.Assertion{Name: s.name("unreachable"), Lit: solver.Not(e.x.And(all...))}
	res, err := e.Solve(ctx, violation)
	var unsat solver.NotSatisfiable
	switch {
	case err == nil:
		return &Verdict{Counterexample: res}, nil
	case errors.As(err, &unsat):
	default:
		return nil, err
	}
	// The violation is impossible; make sure that is not because nothing is
	// possible.
	if _, err := e.Solve(ctx); err != nil {
		if errors.As(err, &unsat) {
			return nil, errors.Wrapf(ErrInconsistent, "%v", err)
		}
		return nil, err
	}
	return &Verdict{Holds: true}, nil
}
