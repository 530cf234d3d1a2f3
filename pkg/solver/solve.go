package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/z"
	"github.com/sirupsen/logrus"
)

var Incomplete = errors.New("cancelled before a solution could be found")

// NotSatisfiable is an error listing the named hard assertions of an unsat
// core: a subset sufficient to make a solution impossible.
type NotSatisfiable []Assertion

func (e NotSatisfiable) Error() string {
	const msg = "constraints not satisfiable"
	if len(e) == 0 {
		return msg
	}
	s := make([]string, len(e))
	for i, a := range e {
		s[i] = a.Name
	}
	return fmt.Sprintf("%s: %s", msg, strings.Join(s, ", "))
}

const (
	satisfiable   = 1
	unsatisfiable = -1
	unknown       = 0
)

const pollInterval = 10 * time.Millisecond

type Solver interface {
	Solve(context.Context) (*Model, error)
}

type solver struct {
	x      *Context
	g      *gini.Gini
	tracer Tracer
	log    logrus.FieldLogger
	// extra holds query assertions that are not part of the context.
	extra []Assertion
}

// New returns a Solver over the assertions of x. The context must not be
// modified afterwards.
func New(x *Context, options ...Option) (Solver, error) {
	if err := x.Error(); err != nil {
		return nil, err
	}
	s := solver{x: x}
	for _, option := range append(options, defaults...) {
		if err := option(&s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

type Option func(s *solver) error

func WithTracer(t Tracer) Option {
	return func(s *solver) error {
		s.tracer = t
		return nil
	}
}

// WithAssertions adds hard assertions for this solver only, leaving the
// context untouched so that it can answer further queries.
func WithAssertions(as ...Assertion) Option {
	return func(s *solver) error {
		for _, a := range as {
			if a.Lit == z.LitNull {
				return fmt.Errorf("assertion %q has no term", a.Name)
			}
		}
		s.extra = append(s.extra, as...)
		return nil
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *solver) error {
		s.log = l
		return nil
	}
}

var defaults = []Option{
	func(s *solver) error {
		if s.tracer == nil {
			s.tracer = DefaultTracer{}
		}
		return nil
	},
	func(s *solver) error {
		if s.log == nil {
			s.log = logrus.StandardLogger()
		}
		return nil
	},
}

// Solve searches for a model satisfying every hard assertion that minimises
// the total weight of violated soft assertions. If the hard assertions are
// inconsistent, the error is NotSatisfiable. If ctx ends first, the error is
// Incomplete.
func (s *solver) Solve(ctx context.Context) (*Model, error) {
	x := s.x
	all := append(append([]Assertion(nil), x.hard...), s.extra...)
	hard := make([]z.Lit, len(all))
	byLit := make(map[z.Lit][]Assertion, len(all))
	for i, a := range all {
		hard[i] = a.Lit
		byLit[a.Lit] = append(byLit[a.Lit], a)
	}

	// Each soft constraint contributes its weight in copies of its violation
	// literal; the sorting network then bounds the total violated weight.
	cs := x.violationSorter()

	s.g = gini.NewV(x.c.Len())
	x.c.ToCnf(s.g)
	for s.g.MaxVar() < z.Var(x.c.Len()-1) {
		s.g.Lit()
	}

	s.g.Assume(hard...)
	outcome := s.run(ctx)
	s.tracer.Trace(Step{Bound: -1, Outcome: outcome})
	switch outcome {
	case unsatisfiable:
		var core NotSatisfiable
		for _, m := range s.g.Why(nil) {
			core = append(core, byLit[m]...)
		}
		return nil, core
	case unknown:
		return nil, Incomplete
	}
	if cs == nil {
		return newModel(x, s.g, 0), nil
	}

	for w := 0; w <= cs.N(); w++ {
		s.g.Assume(hard...)
		s.g.Assume(cs.Leq(w))
		outcome := s.run(ctx)
		s.tracer.Trace(Step{Bound: w, Outcome: outcome})
		switch outcome {
		case satisfiable:
			s.log.WithField("cost", w).Debug("found minimal model")
			return newModel(x, s.g, w), nil
		case unknown:
			return nil, Incomplete
		}
	}
	// Something is wrong if we can't find a model anymore after optimizing
	// for cardinality.
	return nil, fmt.Errorf("unexpected internal error")
}

// run solves under the pending assumptions, polling ctx while the search
// runs in the background.
func (s *solver) run(ctx context.Context) int {
	if ctx.Done() == nil {
		return s.g.Solve()
	}
	var h inter.Solve = s.g.GoSolve()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if res, ok := h.Test(); ok {
			return res
		}
		select {
		case <-ctx.Done():
			return h.Stop()
		case <-ticker.C:
		}
	}
}
