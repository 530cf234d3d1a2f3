package solver

import (
	"github.com/go-air/gini/z"
)

// BitVec is an unsigned fixed-width integer term. Bit 0 is the least
// significant bit.
type BitVec struct {
	bits []z.Lit
}

// Width returns the number of bits.
func (v BitVec) Width() int {
	return len(v.bits)
}

// bit returns bit i, or false beyond the width.
func (v BitVec) bit(x *Context, i int) z.Lit {
	if i < len(v.bits) {
		return v.bits[i]
	}
	return x.c.F
}

// MaxValue returns the largest value representable in width bits.
func MaxValue(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(width) - 1
}

// BitsFor returns the width needed to represent n.
func BitsFor(n uint64) int {
	w := 1
	for n > MaxValue(w) {
		w++
	}
	return w
}

// Constant returns the bit-vector of the given width holding v. Values that
// do not fit saturate at the maximum.
func (x *Context) Constant(width int, v uint64) BitVec {
	if max := MaxValue(width); v > max {
		v = max
	}
	bits := make([]z.Lit, width)
	for i := range bits {
		bits[i] = x.Const(v&(1<<uint(i)) != 0)
	}
	return BitVec{bits: bits}
}

func widest(a, b BitVec) int {
	if a.Width() > b.Width() {
		return a.Width()
	}
	return b.Width()
}

// Eq is true iff both vectors hold the same value. Narrower vectors are zero
// extended.
func (x *Context) Eq(a, b BitVec) z.Lit {
	n := widest(a, b)
	eqs := make([]z.Lit, n)
	for i := 0; i < n; i++ {
		eqs[i] = x.Iff(a.bit(x, i), b.bit(x, i))
	}
	return x.And(eqs...)
}

// EqConst is Eq against a constant.
func (x *Context) EqConst(a BitVec, v uint64) z.Lit {
	if v > MaxValue(a.Width()) {
		return x.c.F
	}
	return x.Eq(a, x.Constant(a.Width(), v))
}

// Ult is unsigned a < b.
func (x *Context) Ult(a, b BitVec) z.Lit {
	n := widest(a, b)
	lt := x.c.F
	for i := 0; i < n; i++ {
		ai, bi := a.bit(x, i), b.bit(x, i)
		here := x.And(ai.Not(), bi)
		lt = x.Or(here, x.And(x.Iff(ai, bi), lt))
	}
	return lt
}

// Ule is unsigned a <= b.
func (x *Context) Ule(a, b BitVec) z.Lit {
	return x.Ult(b, a).Not()
}

// Ugt is unsigned a > b.
func (x *Context) Ugt(a, b BitVec) z.Lit {
	return x.Ult(b, a)
}

// Uge is unsigned a >= b.
func (x *Context) Uge(a, b BitVec) z.Lit {
	return x.Ult(a, b).Not()
}

// IteBV selects t when c holds and e otherwise.
func (x *Context) IteBV(c z.Lit, t, e BitVec) BitVec {
	if c == x.c.T {
		return t
	}
	if c == x.c.F {
		return e
	}
	n := widest(t, e)
	bits := make([]z.Lit, n)
	for i := range bits {
		bits[i] = x.Ite(c, t.bit(x, i), e.bit(x, i))
	}
	return BitVec{bits: bits}
}

// Add returns a + b in the width of the wider operand, saturating at its
// maximum value on overflow.
func (x *Context) Add(a, b BitVec) BitVec {
	n := widest(a, b)
	sum := make([]z.Lit, n)
	carry := x.c.F
	for i := 0; i < n; i++ {
		ai, bi := a.bit(x, i), b.bit(x, i)
		sum[i] = x.Xor(x.Xor(ai, bi), carry)
		carry = x.Or(x.And(ai, bi), x.And(carry, x.Xor(ai, bi)))
	}
	for i := range sum {
		sum[i] = x.Or(carry, sum[i])
	}
	return BitVec{bits: sum}
}

// AddConst is Add with a constant operand expressed in a's width.
func (x *Context) AddConst(a BitVec, v uint64) BitVec {
	if v == 0 {
		return a
	}
	return x.Add(a, x.Constant(a.Width(), v))
}

// Resize truncates or zero extends v to width bits. Truncation saturates:
// values that do not fit become the maximum.
func (x *Context) Resize(v BitVec, width int) BitVec {
	if width >= v.Width() {
		bits := make([]z.Lit, width)
		for i := range bits {
			bits[i] = v.bit(x, i)
		}
		return BitVec{bits: bits}
	}
	over := x.Or(v.bits[width:]...)
	bits := make([]z.Lit, width)
	for i := range bits {
		bits[i] = x.Or(over, v.bits[i])
	}
	return BitVec{bits: bits}
}

// TopBitsEq is true iff the most significant n bits of a equal those of the
// constant v interpreted in a's width. It implements prefix matching on
// addresses.
func (x *Context) TopBitsEq(a BitVec, v uint64, n int) z.Lit {
	w := a.Width()
	if n > w {
		n = w
	}
	eqs := make([]z.Lit, 0, n)
	for i := w - n; i < w; i++ {
		want := v&(1<<uint(i)) != 0
		if want {
			eqs = append(eqs, a.bits[i])
		} else {
			eqs = append(eqs, a.bits[i].Not())
		}
	}
	return x.And(eqs...)
}

// InRange is true iff lo <= a <= hi.
func (x *Context) InRange(a BitVec, lo, hi uint64) z.Lit {
	return x.And(
		x.Uge(a, x.Constant(a.Width(), lo)),
		x.Ule(a, x.Constant(a.Width(), hi)),
	)
}
