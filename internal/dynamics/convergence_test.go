package dynamics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"promptcompiler/internal/linalg"
)

func updateWithMagnitude(m float64) WeightUpdate {
	return WeightUpdate{Delta: mat.NewDense(1, 1, []float64{m}), TargetNorm: 1}
}

func TestPredictConvergenceBoundaries(t *testing.T) {
	empty := PredictConvergence(nil)
	if empty.IsConverged || empty.ConvergenceRate != 0 {
		t.Fatalf("unexpected empty result: %+v", empty)
	}
	single := PredictConvergence([]WeightUpdate{updateWithMagnitude(3)})
	if !single.IsConverged || single.ConvergenceRate != 1 {
		t.Fatalf("unexpected single result: %+v", single)
	}
}

func TestPredictConvergenceStableVersusErratic(t *testing.T) {
	stable := []WeightUpdate{
		updateWithMagnitude(1), updateWithMagnitude(1.1), updateWithMagnitude(1.2), updateWithMagnitude(1.3),
	}
	result := PredictConvergence(stable)
	if !result.IsConverged {
		t.Fatalf("expected linear trajectory to converge: %+v", result)
	}
	if math.Abs(result.ConvergenceRate-1) > 1e-9 {
		t.Fatalf("expected rate ~1 for constant differences, got=%f", result.ConvergenceRate)
	}
	if len(result.Magnitudes) != len(stable) {
		t.Fatalf("expected %d magnitudes, got=%d", len(stable), len(result.Magnitudes))
	}

	erratic := []WeightUpdate{
		updateWithMagnitude(0), updateWithMagnitude(3), updateWithMagnitude(3), updateWithMagnitude(0),
		updateWithMagnitude(0), updateWithMagnitude(4),
	}
	result = PredictConvergence(erratic)
	if result.IsConverged {
		t.Fatalf("expected erratic trajectory not to converge: %+v", result)
	}
	if result.ConvergenceRate < 0 || result.ConvergenceRate > 1 {
		t.Fatalf("rate out of range: %f", result.ConvergenceRate)
	}
}

func TestPredictConvergenceConstantOscillation(t *testing.T) {
	oscillating := []WeightUpdate{
		updateWithMagnitude(1), updateWithMagnitude(2), updateWithMagnitude(1), updateWithMagnitude(2),
	}
	result := PredictConvergence(oscillating)
	if !result.IsConverged || result.ConvergenceRate != 1 {
		t.Fatalf("expected constant-amplitude oscillation to count as converged: %+v", result)
	}
	if result.MeanDifference != 1 || result.VarianceDifference != 0 {
		t.Fatalf("unexpected difference statistics: %+v", result)
	}
}

func TestPredictConvergencePopulationVariance(t *testing.T) {
	// magnitudes 0, 0.2, 0.2 -> diffs 0.2, 0 -> population variance 0.01
	updates := []WeightUpdate{updateWithMagnitude(0), updateWithMagnitude(0.2), updateWithMagnitude(0.2)}
	result := PredictConvergence(updates)
	if math.Abs(result.VarianceDifference-0.01) > 1e-12 {
		t.Fatalf("expected population variance 0.01, got=%f", result.VarianceDifference)
	}
	if math.Abs(result.ConvergenceRate-0.9) > 1e-12 {
		t.Fatalf("expected rate 0.9, got=%f", result.ConvergenceRate)
	}
}

func TestConvergenceAnalyzerThreshold(t *testing.T) {
	updates := []WeightUpdate{updateWithMagnitude(0), updateWithMagnitude(0.2), updateWithMagnitude(0.2)}
	if !(ConvergenceAnalyzer{}).Predict(updates).IsConverged {
		t.Fatal("expected default threshold 0.8 to accept rate 0.9")
	}
	if (ConvergenceAnalyzer{Threshold: 0.95}).Predict(updates).IsConverged {
		t.Fatal("expected threshold 0.95 to reject rate 0.9")
	}
}

func TestPredictConvergenceOnEngineTrajectory(t *testing.T) {
	engine, err := New(3, 2, Config{LearningRate: 0.05, RegularizationStrength: 0.01})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	base := linalg.Vector{1.0, 0.5, 0.2}
	contexts := make([]linalg.Vector, 10)
	for i := range contexts {
		noise := 0.01 * float64(i)
		contexts[i] = linalg.Vector{base[0] + noise, base[1] - noise, base[2] + noise}
	}
	updates, err := engine.ComputeSequentialUpdates(contexts, linalg.Vector{0.8, 0.6})
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	result := PredictConvergence(updates)
	if !result.IsConverged {
		t.Fatalf("expected slowly varying trajectory to converge: %+v", result)
	}
	if len(result.Magnitudes) != 10 {
		t.Fatalf("expected 10 magnitudes, got=%d", len(result.Magnitudes))
	}
}
