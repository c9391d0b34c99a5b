package dynamics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"promptcompiler/internal/linalg"
)

// AttendedUpdateStep folds several contexts into one step. Each context k is
// weighted by α = softmax(targetᵀ·W·context_k) and the increment is
// LearningRate·Σ α_k (target⊗context_k), followed by the configured rule.
func (e *Engine) AttendedUpdateStep(contexts []linalg.Vector, target linalg.Vector) (WeightUpdate, error) {
	if len(contexts) == 0 {
		return WeightUpdate{}, fmt.Errorf("%w: no contexts", ErrDimensionMismatch)
	}
	for i, context := range contexts {
		if err := e.checkContext(context); err != nil {
			return WeightUpdate{}, fmt.Errorf("context %d: %w", i, err)
		}
	}
	if err := e.checkTarget(target); err != nil {
		return WeightUpdate{}, err
	}

	targetVec := target.VecDense()
	logits := make([]float64, len(contexts))
	var projected mat.VecDense
	for i, context := range contexts {
		projected.MulVec(e.weights, context.VecDense())
		logits[i] = mat.Dot(targetVec, &projected)
	}
	if !linalg.Vector(logits).Finite() {
		return WeightUpdate{}, fmt.Errorf("%w: attention logits", ErrNumerical)
	}
	attention := linalg.Softmax(logits)

	outer := linalg.Zeros(e.taskDim, e.contextDim)
	for i, context := range contexts {
		outer.RankOne(outer, e.cfg.LearningRate*attention[i], targetVec, context.VecDense())
	}
	return e.commit(outer, target, attention)
}
