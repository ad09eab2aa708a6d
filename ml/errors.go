// errors.go - shape error taxonomy
package ml

import "errors"

// Shape errors indicate misuse of the view API by the caller. They are
// programming errors, not transient conditions, so the tensor operations
// panic with one of these sentinels wrapped in the message.
var (
	ErrRankMismatch  = errors.New("rank mismatch")
	ErrDimMismatch   = errors.New("dimension mismatch")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrNotReformable = errors.New("not reformable without a copy")
	ErrNotContiguous = errors.New("tensor is not contiguous")
	ErrOutOfRange    = errors.New("index out of range")
)
