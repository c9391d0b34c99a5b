// Package analyzer scores prompts by running their encoded features through
// the implicit weight dynamics engine.
//
// An Analyzer owns one engine. Every public operation snapshots the weights
// first and restores them before returning, so results never depend on the
// order of earlier calls. An Analyzer is not safe for concurrent use.
package analyzer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/encoder"
)

var ErrInvalidInput = errors.New("invalid analyzer input")

const (
	WinnerA   = "A"
	WinnerB   = "B"
	WinnerTie = "tie"
)

// Analysis is the single-update verdict for one prompt.
type Analysis struct {
	EffectivenessScore float64 `json:"effectiveness_score"`
	ConvergenceRate    float64 `json:"convergence_rate"`
	UpdateMagnitude    float64 `json:"update_magnitude"`
	IsStable           bool    `json:"is_stable"`
}

type Comparison struct {
	PromptAScore       float64 `json:"prompt_a_score"`
	PromptBScore       float64 `json:"prompt_b_score"`
	ConvergenceDiff    float64 `json:"convergence_diff"`
	EffectivenessRatio float64 `json:"effectiveness_ratio"`
	Winner             string  `json:"winner"`
	Confidence         float64 `json:"confidence"`
}

type Analyzer struct {
	enc         *encoder.Encoder
	engine      *dynamics.Engine
	convergence dynamics.ConvergenceAnalyzer
}

// New builds an analyzer whose engine is shaped by the encoder dimensions.
// A nil encoder uses the default encoder.
func New(cfg dynamics.Config, enc *encoder.Encoder) (*Analyzer, error) {
	if enc == nil {
		enc = encoder.New(encoder.Config{})
	}
	engine, err := dynamics.New(enc.PromptDim(), enc.TaskDim(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return &Analyzer{enc: enc, engine: engine}, nil
}

// SetConvergenceThreshold changes the rate above which trajectories count as
// converged. Values <= 0 restore the default.
func (a *Analyzer) SetConvergenceThreshold(threshold float64) {
	a.convergence = dynamics.ConvergenceAnalyzer{Threshold: threshold}
}

func (a *Analyzer) Encoder() *encoder.Encoder {
	return a.enc
}

func (a *Analyzer) Config() dynamics.Config {
	return a.engine.Config()
}

func (a *Analyzer) Rule() string {
	return a.engine.Rule()
}

// Weights returns a copy of the shared engine state.
func (a *Analyzer) Weights() *mat.Dense {
	return a.engine.Weights()
}

// LoadWeights replaces the shared engine state, e.g. from a stored snapshot.
func (a *Analyzer) LoadWeights(m mat.Matrix) error {
	return a.engine.LoadWeights(m)
}

// Observe applies one prompt/task association to the shared engine and keeps
// it. Later analyses run against the accumulated state.
func (a *Analyzer) Observe(prompt, task string) (dynamics.WeightUpdate, error) {
	return a.engine.UpdateStep(a.enc.EncodePrompt(prompt), a.enc.EncodeTask(task))
}

func (a *Analyzer) AnalyzePrompt(prompt, task string) (Analysis, error) {
	snapshot := a.engine.Weights()
	defer a.restore(snapshot)

	update, err := a.Observe(prompt, task)
	if err != nil {
		return Analysis{}, err
	}
	return a.analysisOf(update), nil
}

func (a *Analyzer) analysisOf(update dynamics.WeightUpdate) Analysis {
	convergence := a.convergence.Predict([]dynamics.WeightUpdate{update})
	return Analysis{
		EffectivenessScore: update.EffectivenessScore(),
		ConvergenceRate:    convergence.ConvergenceRate,
		UpdateMagnitude:    update.Magnitude(),
		IsStable:           convergence.IsConverged,
	}
}

// Compare scores both prompts from the same starting weights.
func (a *Analyzer) Compare(promptA, promptB, task string) (Comparison, error) {
	contextA := a.enc.EncodePrompt(promptA)
	contextB := a.enc.EncodePrompt(promptB)
	target := a.enc.EncodeTask(task)

	snapshot := a.engine.Weights()
	defer a.restore(snapshot)

	updateA, err := a.engine.UpdateStep(contextA, target)
	if err != nil {
		return Comparison{}, fmt.Errorf("prompt A: %w", err)
	}
	scoreA := updateA.EffectivenessScore()

	if err := a.engine.LoadWeights(snapshot); err != nil {
		return Comparison{}, fmt.Errorf("restore snapshot: %w", err)
	}

	updateB, err := a.engine.UpdateStep(contextB, target)
	if err != nil {
		return Comparison{}, fmt.Errorf("prompt B: %w", err)
	}
	scoreB := updateB.EffectivenessScore()

	convergenceA := a.convergence.Predict([]dynamics.WeightUpdate{updateA})
	convergenceB := a.convergence.Predict([]dynamics.WeightUpdate{updateB})

	ratio := scoreA * 10
	if scoreB > 0 {
		ratio = scoreA / scoreB
	}
	winner := WinnerTie
	switch {
	case scoreA > scoreB:
		winner = WinnerA
	case scoreB > scoreA:
		winner = WinnerB
	}

	return Comparison{
		PromptAScore:       scoreA,
		PromptBScore:       scoreB,
		ConvergenceDiff:    convergenceA.ConvergenceRate - convergenceB.ConvergenceRate,
		EffectivenessRatio: ratio,
		Winner:             winner,
		Confidence:         math.Min(math.Abs(scoreA-scoreB)*10, 1),
	}, nil
}

// restore puts the engine back to a snapshot taken from the same engine, so
// shape and values are already known to be valid.
func (a *Analyzer) restore(snapshot *mat.Dense) {
	_ = a.engine.LoadWeights(snapshot)
}
