package solver

import (
	"fmt"
	"io"
)

// Step describes one call into the SAT back end. Bound is the weight limit
// on violated soft constraints, or -1 for the initial feasibility check.
type Step struct {
	Bound   int
	Outcome int
}

type Tracer interface {
	Trace(s Step)
}

type DefaultTracer struct{}

func (DefaultTracer) Trace(_ Step) {
}

type LoggingTracer struct {
	Writer io.Writer
}

func (t LoggingTracer) Trace(s Step) {
	outcome := "unknown"
	switch s.Outcome {
	case satisfiable:
		outcome = "sat"
	case unsatisfiable:
		outcome = "unsat"
	}
	if s.Bound < 0 {
		fmt.Fprintf(t.Writer, "---\nfeasibility: %s\n", outcome)
		return
	}
	fmt.Fprintf(t.Writer, "bound %d: %s\n", s.Bound, outcome)
}
