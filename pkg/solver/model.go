package solver

import (
	"sort"
	"strconv"

	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/z"
)

// Model is a satisfying assignment together with the total weight of the
// soft constraints it violates.
type Model struct {
	x    *Context
	m    inter.Model
	max  z.Var
	Cost int
}

type maxVarModel interface {
	inter.Model
	inter.MaxVar
}

func newModel(x *Context, g maxVarModel, cost int) *Model {
	return &Model{x: x, m: g, max: g.MaxVar(), Cost: cost}
}

// Value returns the truth value of a literal.
func (m *Model) Value(l z.Lit) bool {
	if l == m.x.c.T {
		return true
	}
	if l == m.x.c.F || l.Var() > m.max {
		return false
	}
	return m.m.Value(l)
}

// Uint returns the value of a bit-vector term.
func (m *Model) Uint(v BitVec) uint64 {
	var out uint64
	for i, b := range v.bits {
		if m.Value(b) {
			out |= 1 << uint(i)
		}
	}
	return out
}

// Bool returns the value of a named boolean, and whether it was declared.
func (m *Model) Bool(key Key) (bool, bool) {
	h, ok := m.x.handles[key]
	if !ok || m.x.terms[h].kind != boolTerm {
		return false, false
	}
	return m.Value(m.x.terms[h].lit), true
}

// Int returns the value of a named bit-vector, and whether it was declared.
func (m *Model) Int(key Key) (uint64, bool) {
	h, ok := m.x.handles[key]
	if !ok || m.x.terms[h].kind != bitVecTerm {
		return 0, false
	}
	return m.Uint(m.x.terms[h].bv), true
}

// ViolatedSoft returns the soft constraints the model does not satisfy.
func (m *Model) ViolatedSoft() []Soft {
	var out []Soft
	for _, s := range m.x.soft {
		if !m.Value(s.Lit) {
			out = append(out, s)
		}
	}
	return out
}

// Assignments renders every named term, keyed by its formatted name.
func (m *Model) Assignments() map[string]string {
	out := make(map[string]string, len(m.x.terms))
	for _, t := range m.x.terms {
		switch t.kind {
		case boolTerm:
			out[t.key.String()] = strconv.FormatBool(m.Value(t.lit))
		case bitVecTerm:
			out[t.key.String()] = strconv.FormatUint(m.Uint(t.bv), 10)
		}
	}
	return out
}

// Names returns the formatted names of all declared terms, sorted.
func (x *Context) Names() []string {
	out := make([]string, len(x.terms))
	for i, t := range x.terms {
		out[i] = t.key.String()
	}
	sort.Strings(out)
	return out
}
