package solver

import (
	"fmt"
	"strings"

	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
)

// Lit is a boolean term: a literal of the underlying circuit.
type Lit = z.Lit

type termKind int

const (
	boolTerm termKind = iota
	bitVecTerm
)

type namedTerm struct {
	key  Key
	kind termKind
	lit  z.Lit
	bv   BitVec
}

// Assertion is a named hard constraint.
type Assertion struct {
	Name string
	Lit  z.Lit
}

// Soft is a named, weighted constraint the solver prefers to satisfy. Label
// groups soft constraints by category for attribution.
type Soft struct {
	Name   string
	Label  string
	Lit    z.Lit
	Weight int
}

// Context accumulates terms and assertions over a single and-inverter
// circuit. It is not safe for concurrent use.
type Context struct {
	c       *logic.C
	terms   []namedTerm
	handles map[Key]Handle
	hard    []Assertion
	soft    []Soft
	errs    contextError
	// sorter bounds the violated weight of the first sorted soft
	// constraints; it is rebuilt only when more are added.
	sorter *logic.CardSort
	sorted int
}

type contextError []error

func (contextError) Error() string {
	return "internal encoding failure"
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		c:       logic.NewCCap(1024),
		handles: make(map[Key]Handle),
	}
}

// True returns the constant true literal.
func (x *Context) True() z.Lit {
	return x.c.T
}

// False returns the constant false literal.
func (x *Context) False() z.Lit {
	return x.c.F
}

// Const returns the constant literal for b.
func (x *Context) Const(b bool) z.Lit {
	if b {
		return x.c.T
	}
	return x.c.F
}

func (x *Context) intern(t namedTerm) (Handle, error) {
	if _, ok := x.handles[t.key]; ok {
		return -1, DuplicateIdentifier(t.key)
	}
	h := Handle(len(x.terms))
	x.terms = append(x.terms, t)
	x.handles[t.key] = h
	return h, nil
}

// Bool declares a fresh named boolean variable.
func (x *Context) Bool(key Key) (z.Lit, error) {
	m := x.c.Lit()
	if _, err := x.intern(namedTerm{key: key, kind: boolTerm, lit: m}); err != nil {
		return z.LitNull, err
	}
	return m, nil
}

// BitVec declares a fresh named unsigned bit-vector of the given width.
func (x *Context) BitVec(key Key, width int) (BitVec, error) {
	if width <= 0 {
		return BitVec{}, fmt.Errorf("bit-vector %s: invalid width %d", key, width)
	}
	bits := make([]z.Lit, width)
	for i := range bits {
		bits[i] = x.c.Lit()
	}
	bv := BitVec{bits: bits}
	if _, err := x.intern(namedTerm{key: key, kind: bitVecTerm, bv: bv}); err != nil {
		return BitVec{}, err
	}
	return bv, nil
}

// Lookup returns the handle of a declared term.
func (x *Context) Lookup(key Key) (Handle, bool) {
	h, ok := x.handles[key]
	return h, ok
}

// Name returns the formatted name of a handle.
func (x *Context) Name(h Handle) string {
	return x.terms[h].key.String()
}

// Not negates a literal.
func Not(m z.Lit) z.Lit {
	return m.Not()
}

func (x *Context) And(ms ...z.Lit) z.Lit {
	return x.c.Ands(ms...)
}

func (x *Context) Or(ms ...z.Lit) z.Lit {
	return x.c.Ors(ms...)
}

func (x *Context) Implies(a, b z.Lit) z.Lit {
	return x.c.Implies(a, b)
}

func (x *Context) Iff(a, b z.Lit) z.Lit {
	return x.c.Xor(a, b).Not()
}

func (x *Context) Xor(a, b z.Lit) z.Lit {
	return x.c.Xor(a, b)
}

// Ite returns "if c then t else e".
func (x *Context) Ite(c, t, e z.Lit) z.Lit {
	if c == x.c.T {
		return t
	}
	if c == x.c.F {
		return e
	}
	return x.c.Choice(c, t, e)
}

// AtMost is true iff no more than k of ms are true.
func (x *Context) AtMost(k int, ms ...z.Lit) z.Lit {
	if k >= len(ms) {
		return x.c.T
	}
	return x.c.CardSort(ms).Leq(k)
}

// Assert adds a named hard constraint. Constant true assertions are dropped.
func (x *Context) Assert(name string, m z.Lit) {
	if m == z.LitNull {
		x.errs = append(x.errs, fmt.Errorf("assertion %q has no term", name))
		return
	}
	if m == x.c.T {
		return
	}
	x.hard = append(x.hard, Assertion{Name: name, Lit: m})
}

// AssertSoft adds a weighted soft constraint.
func (x *Context) AssertSoft(name, label string, m z.Lit, weight int) {
	if weight <= 0 {
		x.errs = append(x.errs, fmt.Errorf("soft constraint %q: weight must be positive, got %d", name, weight))
		return
	}
	x.soft = append(x.soft, Soft{Name: name, Label: label, Lit: m, Weight: weight})
}

// violationSorter returns the cardinality sorter over the violation
// literals of the soft constraints, each repeated by its weight, or nil when
// there are none. The sorter is added to the circuit once per set of soft
// constraints.
func (x *Context) violationSorter() *logic.CardSort {
	if x.sorter != nil && x.sorted == len(x.soft) {
		return x.sorter
	}
	var violations []z.Lit
	for _, soft := range x.soft {
		for i := 0; i < soft.Weight; i++ {
			violations = append(violations, soft.Lit.Not())
		}
	}
	if len(violations) == 0 {
		return nil
	}
	x.sorter, x.sorted = x.c.CardSort(violations), len(x.soft)
	return x.sorter
}

// Assertions returns the hard constraints in insertion order.
func (x *Context) Assertions() []Assertion {
	return x.hard
}

// SoftAssertions returns the soft constraints in insertion order.
func (x *Context) SoftAssertions() []Soft {
	return x.soft
}

// Stats summarises the size of the encoding.
type Stats struct {
	Variables int
	Gates     int
	Hard      int
	Soft      int
}

func (x *Context) Stats() Stats {
	vars := 0
	for _, t := range x.terms {
		if t.kind == boolTerm {
			vars++
			continue
		}
		vars += t.bv.Width()
	}
	return Stats{
		Variables: vars,
		Gates:     x.c.Len(),
		Hard:      len(x.hard),
		Soft:      len(x.soft),
	}
}

// Error returns a single error value that is an aggregation of all errors
// encountered while building the context, or nil.
func (x *Context) Error() error {
	if len(x.errs) == 0 {
		return nil
	}
	s := make([]string, len(x.errs))
	for i, err := range x.errs {
		s[i] = err.Error()
	}
	return fmt.Errorf("%d errors encountered: %s", len(s), strings.Join(s, ", "))
}
