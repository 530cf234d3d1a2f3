package solver

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-air/gini/z"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func key(name string) Key {
	return Key{Slice: "test", Field: name}
}

func solve(t *testing.T, x *Context, options ...Option) (*Model, error) {
	t.Helper()
	s, err := New(x, options...)
	require.NoError(t, err)
	return s.Solve(context.Background())
}

func TestNotSatisfiableError(t *testing.T) {
	type tc struct {
		Name   string
		Error  NotSatisfiable
		String string
	}

	for _, tt := range []tc{
		{
			Name:   "nil",
			String: "constraints not satisfiable",
		},
		{
			Name:   "empty",
			Error:  NotSatisfiable{},
			String: "constraints not satisfiable",
		},
		{
			Name:   "single failure",
			Error:  NotSatisfiable{{Name: "a"}},
			String: "constraints not satisfiable: a",
		},
		{
			Name:   "multiple failures",
			Error:  NotSatisfiable{{Name: "a"}, {Name: "b"}},
			String: "constraints not satisfiable: a, b",
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			assert.Equal(t, tt.String, tt.Error.Error())
		})
	}
}

func TestSolve(t *testing.T) {
	type tc struct {
		Name string
		// Build declares terms and assertions and returns a check of the
		// model.
		Build func(x *Context) func(t *testing.T, m *Model)
		// Core, when set, lists assertions that must not be blamed.
		Core []string
	}

	for _, tt := range []tc{
		{
			Name: "no assertions",
			Build: func(x *Context) func(*testing.T, *Model) {
				return func(t *testing.T, m *Model) {
					assert.Equal(t, 0, m.Cost)
				}
			},
		},
		{
			Name: "asserted variable is true",
			Build: func(x *Context) func(*testing.T, *Model) {
				a, _ := x.Bool(key("a"))
				x.Assert("a", a)
				return func(t *testing.T, m *Model) {
					v, ok := m.Bool(key("a"))
					assert.True(t, ok)
					assert.True(t, v)
				}
			},
		},
		{
			Name: "implication propagates",
			Build: func(x *Context) func(*testing.T, *Model) {
				a, _ := x.Bool(key("a"))
				b, _ := x.Bool(key("b"))
				x.Assert("a", a)
				x.Assert("a implies not b", x.Implies(a, Not(b)))
				return func(t *testing.T, m *Model) {
					assert.True(t, m.Value(a))
					assert.False(t, m.Value(b))
				}
			},
		},
		{
			Name: "contradiction reports core",
			Build: func(x *Context) func(*testing.T, *Model) {
				a, _ := x.Bool(key("a"))
				b, _ := x.Bool(key("b"))
				c, _ := x.Bool(key("c"))
				x.Assert("c", c)
				x.Assert("a", a)
				x.Assert("a implies b", x.Implies(a, b))
				x.Assert("not b", Not(b))
				return nil
			},
			Core: []string{"c"},
		},
		{
			Name: "bit-vector equality",
			Build: func(x *Context) func(*testing.T, *Model) {
				v, _ := x.BitVec(key("v"), 8)
				x.Assert("v", x.EqConst(v, 42))
				return func(t *testing.T, m *Model) {
					n, ok := m.Int(key("v"))
					assert.True(t, ok)
					assert.Equal(t, uint64(42), n)
				}
			},
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			x := NewContext()
			check := tt.Build(x)
			m, err := solve(t, x)
			if tt.Core != nil {
				var core NotSatisfiable
				require.ErrorAs(t, err, &core)
				require.NotEmpty(t, core)
				var names []string
				for _, a := range core {
					names = append(names, a.Name)
				}
				for _, innocent := range tt.Core {
					assert.NotContains(t, names, innocent)
				}
				return
			}
			require.NoError(t, err)
			check(t, m)
		})
	}
}

func TestSolveMinimisesSoftWeight(t *testing.T) {
	x := NewContext()
	a, _ := x.Bool(key("a"))
	b, _ := x.Bool(key("b"))
	c, _ := x.Bool(key("c"))
	x.Assert("one of a or b", x.Or(a, b))
	x.Assert("c", c)
	x.AssertSoft("prefer not a", "A", Not(a), 3)
	x.AssertSoft("prefer not b", "B", Not(b), 1)
	x.AssertSoft("prefer not c", "C", Not(c), 2)

	m, err := solve(t, x)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Cost)
	assert.False(t, m.Value(a))
	assert.True(t, m.Value(b))

	var labels []string
	for _, s := range m.ViolatedSoft() {
		labels = append(labels, s.Label)
	}
	assert.ElementsMatch(t, []string{"B", "C"}, labels)
}

func TestRepeatedSolveReusesSorter(t *testing.T) {
	x := NewContext()
	a, _ := x.Bool(key("a"))
	b, _ := x.Bool(key("b"))
	x.Assert("one of a or b", x.Or(a, b))
	x.AssertSoft("prefer not a", "A", Not(a), 2)
	x.AssertSoft("prefer not b", "B", Not(b), 1)

	m, err := solve(t, x)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Cost)
	gates := x.Stats().Gates

	for _, query := range []Assertion{{Name: "a", Lit: a}, {Name: "b", Lit: b}, {Name: "trivial", Lit: x.True()}} {
		_, err := solve(t, x, WithAssertions(query))
		require.NoError(t, err)
		assert.Equal(t, gates, x.Stats().Gates, query.Name)
	}

	// A new soft constraint needs a new sorter.
	x.AssertSoft("prefer a", "A", a, 5)
	m, err = solve(t, x)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Cost)
	assert.Greater(t, x.Stats().Gates, gates)
}

func TestWithAssertionsLeavesContextUntouched(t *testing.T) {
	x := NewContext()
	a, _ := x.Bool(key("a"))
	x.Assert("a", a)

	_, err := solve(t, x, WithAssertions(Assertion{Name: "query", Lit: Not(a)}))
	var core NotSatisfiable
	require.ErrorAs(t, err, &core)

	m, err := solve(t, x)
	require.NoError(t, err)
	assert.True(t, m.Value(a))
	assert.Len(t, x.Assertions(), 1)
}

func TestWithAssertionsRejectsNullTerm(t *testing.T) {
	_, err := New(NewContext(), WithAssertions(Assertion{Name: "broken", Lit: z.LitNull}))
	assert.Error(t, err)
}

func TestSolveCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Pigeonhole with 9 pigeons and 8 holes is hard enough to outlast an
	// expired context.
	x := NewContext()
	const holes = 8
	var rows [][]z.Lit
	for p := 0; p <= holes; p++ {
		var row []z.Lit
		for h := 0; h < holes; h++ {
			l, err := x.Bool(Key{Slice: "php", Router: string(rune('a' + p)), Interface: string(rune('a' + h))})
			require.NoError(t, err)
			row = append(row, l)
		}
		x.Assert("pigeon-"+string(rune('a'+p)), x.Or(row...))
		rows = append(rows, row)
	}
	for h := 0; h < holes; h++ {
		var col []z.Lit
		for p := range rows {
			col = append(col, rows[p][h])
		}
		x.Assert("hole-"+string(rune('a'+h)), x.AtMost(1, col...))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	s, err := New(x)
	require.NoError(t, err)
	_, err = s.Solve(ctx)
	require.Error(t, err)
	var core NotSatisfiable
	if !errors.As(err, &core) {
		assert.ErrorIs(t, err, Incomplete)
	}
}

func TestDuplicateIdentifier(t *testing.T) {
	x := NewContext()
	_, err := x.Bool(key("a"))
	require.NoError(t, err)
	_, err = x.BitVec(key("a"), 4)
	assert.Equal(t, DuplicateIdentifier(key("a")), err)
}

func TestContextErrors(t *testing.T) {
	x := NewContext()
	x.Assert("null", z.LitNull)
	x.AssertSoft("zero", "Z", x.True(), 0)
	_, err := New(x)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors encountered")
}

func TestLoggingTracer(t *testing.T) {
	var buf bytes.Buffer
	x := NewContext()
	a, _ := x.Bool(key("a"))
	x.AssertSoft("prefer a", "A", a, 1)

	_, err := solve(t, x, WithTracer(LoggingTracer{Writer: &buf}))
	require.NoError(t, err)
	assert.Equal(t, "---\nfeasibility: sat\nbound 0: sat\n", buf.String())
}

func TestKeyString(t *testing.T) {
	for _, tt := range []struct {
		Name string
		Key  Key
		Want string
	}{
		{
			Name: "full",
			Key:  Key{SliceID: 2, Slice: "hs", Router: "r1", Protocol: "BGP", Direction: "IMPORT", Interface: "eth0", Field: "metric"},
			Want: "2_hs_r1_BGP_IMPORT_eth0_metric",
		},
		{
			Name: "empty parts keep their position",
			Key:  Key{SliceID: 0, Slice: "failure", Interface: "a|b", Field: "failed"},
			Want: "0_failure_-_-_-_a|b_failed",
		},
		{
			Name: "router only",
			Key:  Key{SliceID: 1, Slice: "hs", Router: "x", Field: "reach"},
			Want: "1_hs_x_-_-_-_reach",
		},
		{
			Name: "interface only",
			Key:  Key{SliceID: 1, Slice: "hs", Interface: "x", Field: "reach"},
			Want: "1_hs_-_-_-_x_reach",
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			assert.Equal(t, tt.Want, tt.Key.String())
		})
	}
}

func TestKeysDifferingInEmptyPartDoNotCollide(t *testing.T) {
	x := NewContext()
	_, err := x.Bool(Key{Slice: "hs", Router: "x", Field: "reach"})
	require.NoError(t, err)
	_, err = x.Bool(Key{Slice: "hs", Interface: "x", Field: "reach"})
	require.NoError(t, err)
	require.NoError(t, x.Error())

	names := map[string]bool{}
	for h := Handle(0); int(h) < len(x.terms); h++ {
		names[x.Name(h)] = true
	}
	assert.Len(t, names, 2)
}
