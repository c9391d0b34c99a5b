package dynamics

import "errors"

var (
	ErrInvalidDimension  = errors.New("invalid dimension")
	ErrInvalidConfig     = errors.New("invalid dynamics config")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrNumerical         = errors.New("non-finite value in weight update")
)
