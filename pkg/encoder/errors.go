package encoder

import (
	"github.com/pkg/errors"
)

// ErrInvariant is the cause of every error reporting an internal
// inconsistency found while building constraints.
var ErrInvariant = errors.New("encoder invariant violated")

// ErrInconsistent is returned by verification when the encoding has no model
// even without the property, so no verdict can be drawn.
var ErrInconsistent = errors.New("encoding has no model")

func invariant(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvariant, format, args...)
}
