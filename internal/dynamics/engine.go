// Package dynamics implements the implicit weight dynamics engine: a latent
// task×context weight matrix that accumulates one rank-one association per
// context vector, plus the convergence diagnostic over the resulting
// trajectory.
//
// An Engine is single-owner mutable state. Mutating calls on one Engine must
// not run concurrently; distinct engines are independent.
package dynamics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"promptcompiler/internal/linalg"
)

const effectivenessEpsilon = 1e-8

type Engine struct {
	contextDim int
	taskDim    int
	cfg        Config
	rule       updateRule
	weights    *mat.Dense
}

// New returns an engine with zero weights of shape taskDim×contextDim.
func New(contextDim, taskDim int, cfg Config) (*Engine, error) {
	if contextDim <= 0 || taskDim <= 0 {
		return nil, fmt.Errorf("%w: context=%d task=%d", ErrInvalidDimension, contextDim, taskDim)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		contextDim: contextDim,
		taskDim:    taskDim,
		cfg:        cfg,
		rule:       ruleFor(cfg),
		weights:    linalg.Zeros(taskDim, contextDim),
	}, nil
}

func (e *Engine) ContextDim() int {
	return e.contextDim
}

func (e *Engine) TaskDim() int {
	return e.taskDim
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Rule names the update rule variant selected at construction.
func (e *Engine) Rule() string {
	return e.rule.name()
}

// Weights returns a copy of the current weight matrix.
func (e *Engine) Weights() *mat.Dense {
	return mat.DenseCopyOf(e.weights)
}

// LoadWeights replaces the engine state with m after checking its shape and
// values. The engine keeps its own buffer; m is not retained.
func (e *Engine) LoadWeights(m mat.Matrix) error {
	if m == nil {
		return fmt.Errorf("%w: nil weights", ErrDimensionMismatch)
	}
	r, c := m.Dims()
	if r != e.taskDim || c != e.contextDim {
		return fmt.Errorf("%w: weights got=%dx%d want=%dx%d", ErrDimensionMismatch, r, c, e.taskDim, e.contextDim)
	}
	if !linalg.AllFinite(m) {
		return fmt.Errorf("%w: loaded weights", ErrNumerical)
	}
	e.weights.Copy(m)
	return nil
}

// UpdateStep applies one context/target association and returns the
// increment that was added.
func (e *Engine) UpdateStep(context, target linalg.Vector) (WeightUpdate, error) {
	if err := e.checkContext(context); err != nil {
		return WeightUpdate{}, err
	}
	if err := e.checkTarget(target); err != nil {
		return WeightUpdate{}, err
	}
	outer := linalg.Outer(e.cfg.LearningRate, target, context)
	return e.commit(outer, target, nil)
}

// commit runs the configured rule and swaps in the candidate weights only if
// every value is finite.
func (e *Engine) commit(outer *mat.Dense, target linalg.Vector, attention []float64) (WeightUpdate, error) {
	increment, next := e.rule.apply(e.weights, outer, target)
	if !linalg.AllFinite(increment) {
		return WeightUpdate{}, fmt.Errorf("%w: delta", ErrNumerical)
	}
	if !linalg.AllFinite(next) {
		return WeightUpdate{}, fmt.Errorf("%w: weights", ErrNumerical)
	}
	targetNorm := target.Norm()
	if !finite(targetNorm) {
		return WeightUpdate{}, fmt.Errorf("%w: target norm", ErrNumerical)
	}
	update := WeightUpdate{
		Delta:      mat.DenseCopyOf(increment),
		TargetNorm: targetNorm,
		Attention:  attention,
	}
	// Finite entries can still overflow the norm.
	if !finite(update.Magnitude()) || !finite(update.EffectivenessScore()) {
		return WeightUpdate{}, fmt.Errorf("%w: delta norm", ErrNumerical)
	}

	e.weights = next
	return update, nil
}

func (e *Engine) checkContext(context linalg.Vector) error {
	if len(context) != e.contextDim {
		return fmt.Errorf("%w: context got=%d want=%d", ErrDimensionMismatch, len(context), e.contextDim)
	}
	return nil
}

func (e *Engine) checkTarget(target linalg.Vector) error {
	if len(target) != e.taskDim {
		return fmt.Errorf("%w: target got=%d want=%d", ErrDimensionMismatch, len(target), e.taskDim)
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
