package dynamics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultConvergenceThreshold is the minimum rate reported as converged.
const DefaultConvergenceThreshold = 0.8

// ConvergenceResult describes how stable the update magnitudes of a
// trajectory are. A constant-amplitude trajectory counts as converged.
type ConvergenceResult struct {
	ConvergenceRate    float64   `json:"convergence_rate"`
	IsConverged        bool      `json:"is_converged"`
	Magnitudes         []float64 `json:"magnitudes,omitempty"`
	MeanDifference     float64   `json:"mean_difference"`
	VarianceDifference float64   `json:"variance_difference"`
}

// ConvergenceAnalyzer scores trajectories. The zero value uses
// DefaultConvergenceThreshold.
type ConvergenceAnalyzer struct {
	Threshold float64
}

func PredictConvergence(updates []WeightUpdate) ConvergenceResult {
	return ConvergenceAnalyzer{}.Predict(updates)
}

func (a ConvergenceAnalyzer) Predict(updates []WeightUpdate) ConvergenceResult {
	switch len(updates) {
	case 0:
		return ConvergenceResult{}
	case 1:
		return ConvergenceResult{
			ConvergenceRate: 1,
			IsConverged:     true,
			Magnitudes:      []float64{updates[0].Magnitude()},
		}
	}

	magnitudes := make([]float64, len(updates))
	for i, u := range updates {
		magnitudes[i] = u.Magnitude()
	}
	diffs := make([]float64, len(magnitudes)-1)
	for i := 1; i < len(magnitudes); i++ {
		diffs[i-1] = math.Abs(magnitudes[i] - magnitudes[i-1])
	}
	mean, variance := stat.PopMeanVariance(diffs, nil)

	rate := 1 - math.Sqrt(variance)
	if math.IsNaN(rate) {
		rate = 0
	}
	rate = math.Max(0, math.Min(1, rate))

	return ConvergenceResult{
		ConvergenceRate:    rate,
		IsConverged:        rate >= a.threshold(),
		Magnitudes:         magnitudes,
		MeanDifference:     mean,
		VarianceDifference: variance,
	}
}

func (a ConvergenceAnalyzer) threshold() float64 {
	if a.Threshold <= 0 {
		return DefaultConvergenceThreshold
	}
	return a.Threshold
}
