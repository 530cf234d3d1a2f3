package solver

import (
	"fmt"
	"strings"
)

// Key is the structured identity of a named term. Two calls that produce
// equal keys refer to the same variable; the formatted name is only used at
// the solver boundary and in models.
type Key struct {
	SliceID   int
	Slice     string
	Router    string
	Protocol  string
	Direction string
	Interface string
	Field     string
}

// emptyPart holds the position of an unset part so that keys differing only
// in which part is set render differently.
const emptyPart = "-"

// String renders the deterministic, globally unique variable name.
func (k Key) String() string {
	parts := []string{fmt.Sprintf("%d", k.SliceID)}
	for _, p := range []string{k.Slice, k.Router, k.Protocol, k.Direction, k.Interface, k.Field} {
		if p == "" {
			p = emptyPart
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "_")
}

// With returns a copy of k naming a different field.
func (k Key) With(field string) Key {
	k.Field = field
	return k
}

// Handle is the interned reference to a named term.
type Handle int

// DuplicateIdentifier is reported when two terms are declared under the same
// key.
type DuplicateIdentifier Key

func (e DuplicateIdentifier) Error() string {
	return fmt.Sprintf("duplicate identifier %q in input", Key(e).String())
}
