package dynamics

import (
	"gonum.org/v1/gonum/mat"

	"promptcompiler/internal/linalg"
)

const (
	RuleOuterProduct = "outer_product"
	RuleDecay        = "decay"
	RuleSkip         = "skip"
	RuleDecaySkip    = "decay_skip"
)

// updateRule turns the scaled outer product of one association into the
// increment that is reported and the candidate next weights. Implementations
// never modify weights; the engine commits the candidate after validation.
type updateRule interface {
	name() string
	apply(weights, outer *mat.Dense, target linalg.Vector) (increment, next *mat.Dense)
}

func ruleFor(cfg Config) updateRule {
	decay := cfg.RegularizationStrength > 0
	switch {
	case decay && cfg.UseSkipConnections:
		return decaySkipRule{keep: 1 - cfg.RegularizationStrength}
	case decay:
		return decayRule{keep: 1 - cfg.RegularizationStrength}
	case cfg.UseSkipConnections:
		return skipRule{}
	default:
		return outerProductRule{}
	}
}

// W' = W + Δ
type outerProductRule struct{}

func (outerProductRule) name() string { return RuleOuterProduct }

func (outerProductRule) apply(weights, outer *mat.Dense, _ linalg.Vector) (*mat.Dense, *mat.Dense) {
	return outer, linalg.Add(weights, outer)
}

// W' = (1-λ)W + Δ
type decayRule struct {
	keep float64
}

func (decayRule) name() string { return RuleDecay }

func (r decayRule) apply(weights, outer *mat.Dense, _ linalg.Vector) (*mat.Dense, *mat.Dense) {
	next := linalg.Scale(r.keep, weights)
	next.Add(next, outer)
	return outer, next
}

// W' = W + Δ + diag(target)
type skipRule struct{}

func (skipRule) name() string { return RuleSkip }

func (skipRule) apply(weights, outer *mat.Dense, target linalg.Vector) (*mat.Dense, *mat.Dense) {
	increment := withResidual(outer, target)
	return increment, linalg.Add(weights, increment)
}

// W' = (1-λ)W + Δ + diag(target)
type decaySkipRule struct {
	keep float64
}

func (decaySkipRule) name() string { return RuleDecaySkip }

func (r decaySkipRule) apply(weights, outer *mat.Dense, target linalg.Vector) (*mat.Dense, *mat.Dense) {
	increment := withResidual(outer, target)
	next := linalg.Scale(r.keep, weights)
	next.Add(next, increment)
	return increment, next
}

// withResidual adds the raw target along the main diagonal of outer, covering
// the first min(rows, cols) entries. outer is owned by the caller's step and
// is updated in place.
func withResidual(outer *mat.Dense, target linalg.Vector) *mat.Dense {
	r, c := outer.Dims()
	n := min(r, c)
	for i := 0; i < n; i++ {
		outer.Set(i, i, outer.At(i, i)+target[i])
	}
	return outer
}
