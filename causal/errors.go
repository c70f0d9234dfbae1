package causal

import "errors"

// ErrInvalidArgument reports a caller error, e.g. Push with a zero length.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrInconsistentHistory reports merge input whose dependencies can never be
// satisfied: a missing replica root, a cyclic reference or corrupted nodes.
// The graph stays in its last causally-closed state when this is returned.
var ErrInconsistentHistory = errors.New("inconsistent history")
