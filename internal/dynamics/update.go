package dynamics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"promptcompiler/internal/linalg"
)

// WeightUpdate is an immutable record of one applied increment.
type WeightUpdate struct {
	// Delta is the increment added on top of the (possibly decayed) weights:
	// the scaled outer product plus any skip contribution.
	Delta *mat.Dense
	// TargetNorm is ‖target‖₂ of the association that produced Delta.
	TargetNorm float64
	// Attention holds the softmax weights of an attended batch step.
	Attention []float64
}

// Magnitude is the Frobenius norm of Delta.
func (u WeightUpdate) Magnitude() float64 {
	if u.Delta == nil {
		return 0
	}
	return linalg.FrobeniusNorm(u.Delta)
}

// EffectivenessScore is ‖Δ‖_F / max(‖target‖₂, ε).
func (u WeightUpdate) EffectivenessScore() float64 {
	return u.Magnitude() / math.Max(u.TargetNorm, effectivenessEpsilon)
}

// Record returns the delta in row-major wire form.
func (u WeightUpdate) Record() linalg.MatrixRecord {
	if u.Delta == nil {
		return linalg.MatrixRecord{}
	}
	return linalg.RecordOf(u.Delta)
}
