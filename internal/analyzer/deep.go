package analyzer

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/encoder"
)

type ConvergenceType string

const (
	ConvergenceRapid       ConvergenceType = "rapid"
	ConvergenceSteady      ConvergenceType = "steady"
	ConvergenceSlow        ConvergenceType = "slow"
	ConvergenceOscillating ConvergenceType = "oscillating"
	ConvergenceDiverging   ConvergenceType = "diverging"
	ConvergenceStable      ConvergenceType = "stable"
)

const (
	divergenceNorm       = 10.0
	adaptiveWindow       = 3
	adaptiveVariance     = 0.1
	adaptiveDecayFactor  = 0.9
	defaultDeepMaxSteps  = 50
	defaultDeepThreshold = 0.01
)

// DeepConfig drives DeepConvergence. Zero MaxIterations and Threshold take
// the defaults.
type DeepConfig struct {
	LearningRate           float64 `json:"learning_rate" yaml:"learning_rate"`
	RegularizationStrength float64 `json:"regularization_strength" yaml:"regularization_strength"`
	MaxIterations          int     `json:"max_iterations" yaml:"max_iterations"`
	// Threshold is the update norm below which the run counts as converged.
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// AdaptiveLearningRate shrinks the learning rate while recent update
	// norms are volatile.
	AdaptiveLearningRate bool `json:"adaptive_learning_rate" yaml:"adaptive_learning_rate"`
}

func DefaultDeepConfig() DeepConfig {
	return DeepConfig{
		LearningRate:           0.1,
		RegularizationStrength: 0.05,
		MaxIterations:          defaultDeepMaxSteps,
		Threshold:              defaultDeepThreshold,
		AdaptiveLearningRate:   true,
	}
}

type DetailedConvergence struct {
	GradientNorms        []float64       `json:"gradient_norms"`
	EffectivenessScores  []float64       `json:"effectiveness_scores"`
	FinalConvergenceRate float64         `json:"final_convergence_rate"`
	Converged            bool            `json:"converged"`
	// ConvergenceSteps is the 1-based step that converged, 0 if none did.
	ConvergenceSteps int             `json:"convergence_steps,omitempty"`
	Type             ConvergenceType `json:"convergence_type"`
}

// DeepConvergence repeats the same prompt/task association on a dedicated
// engine until the update norm drops below the threshold, diverges past 10,
// or the iteration budget runs out.
func DeepConvergence(enc *encoder.Encoder, cfg DeepConfig, prompt, task string) (DetailedConvergence, error) {
	if enc == nil {
		enc = encoder.New(encoder.Config{})
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultDeepMaxSteps
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultDeepThreshold
	}
	dynCfg := dynamics.Config{
		LearningRate:           cfg.LearningRate,
		RegularizationStrength: cfg.RegularizationStrength,
		UseSkipConnections:     true,
	}
	engine, err := dynamics.New(enc.PromptDim(), enc.TaskDim(), dynCfg)
	if err != nil {
		return DetailedConvergence{}, err
	}

	context := enc.EncodePrompt(prompt)
	target := enc.EncodeTask(task)
	var norms, scores []float64

	for step := 0; step < cfg.MaxIterations; step++ {
		if cfg.AdaptiveLearningRate && step > 0 && recentVariance(norms, adaptiveWindow) > adaptiveVariance {
			dynCfg.LearningRate *= adaptiveDecayFactor
			if engine, err = rebuild(engine, dynCfg); err != nil {
				return DetailedConvergence{}, err
			}
		}

		update, err := engine.UpdateStep(context, target)
		if err != nil {
			return DetailedConvergence{}, fmt.Errorf("step %d: %w", step+1, err)
		}
		norm := update.Magnitude()
		norms = append(norms, norm)
		scores = append(scores, update.EffectivenessScore())

		if norm < cfg.Threshold {
			return DetailedConvergence{
				GradientNorms:        norms,
				EffectivenessScores:  scores,
				FinalConvergenceRate: earlyLateRate(norms),
				Converged:            true,
				ConvergenceSteps:     step + 1,
				Type:                 classify(norms),
			}, nil
		}
		if norm > divergenceNorm {
			break
		}
	}

	return DetailedConvergence{
		GradientNorms:        norms,
		EffectivenessScores:  scores,
		FinalConvergenceRate: earlyLateRate(norms),
		Type:                 classify(norms),
	}, nil
}

// rebuild carries the accumulated weights into an engine with a new config.
func rebuild(engine *dynamics.Engine, cfg dynamics.Config) (*dynamics.Engine, error) {
	next, err := dynamics.New(engine.ContextDim(), engine.TaskDim(), cfg)
	if err != nil {
		return nil, err
	}
	if err := next.LoadWeights(engine.Weights()); err != nil {
		return nil, err
	}
	return next, nil
}

// recentVariance is the population variance of the last window values, or 0
// when fewer are available.
func recentVariance(values []float64, window int) float64 {
	if len(values) < window || window == 0 {
		return 0
	}
	_, variance := stat.PopMeanVariance(values[len(values)-window:], nil)
	return variance
}

// earlyLateRate is the relative drop from the mean of the first three norms
// to the mean of the last three.
func earlyLateRate(norms []float64) float64 {
	if len(norms) < 4 {
		return 0
	}
	early := stat.Mean(norms[:3], nil)
	late := stat.Mean(norms[len(norms)-3:], nil)
	if early <= 0 {
		return 0
	}
	return (early - late) / early
}

func classify(norms []float64) ConvergenceType {
	if len(norms) < 3 {
		return ConvergenceStable
	}
	first, last := norms[0], norms[len(norms)-1]
	variance := recentVariance(norms, len(norms))

	switch {
	case last > first*1.5:
		return ConvergenceDiverging
	case last < first*0.1 && variance < 0.01:
		return ConvergenceRapid
	case last < first*0.1:
		return ConvergenceOscillating
	case last < first*0.5 && variance < 0.05:
		return ConvergenceSteady
	case last < first*0.8:
		return ConvergenceSlow
	}
	return ConvergenceStable
}
