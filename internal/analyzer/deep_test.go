package analyzer

import (
	"math"
	"strings"
	"testing"
)

func TestDeepConvergenceZeroTargetConvergesImmediately(t *testing.T) {
	got, err := DeepConvergence(nil, DefaultDeepConfig(), "Please analyze", "do something")
	if err != nil {
		t.Fatalf("deep convergence: %v", err)
	}
	if !got.Converged || got.ConvergenceSteps != 1 {
		t.Fatalf("expected convergence at step 1: %+v", got)
	}
	if got.Type != ConvergenceStable || got.FinalConvergenceRate != 0 {
		t.Fatalf("unexpected short-run classification: %+v", got)
	}
}

func TestDeepConvergenceRunsToBudget(t *testing.T) {
	cfg := DefaultDeepConfig()
	cfg.MaxIterations = 5
	got, err := DeepConvergence(nil, cfg, "Please analyze", "analyze sales")
	if err != nil {
		t.Fatalf("deep convergence: %v", err)
	}
	if got.Converged || len(got.GradientNorms) != 5 || len(got.EffectivenessScores) != 5 {
		t.Fatalf("expected five unconverged steps: %+v", got)
	}
	if got.Type != ConvergenceStable {
		t.Fatalf("constant norms should classify as stable, got=%s", got.Type)
	}
}

func TestDeepConvergenceStopsOnDivergence(t *testing.T) {
	got, err := DeepConvergence(nil, DefaultDeepConfig(), strings.Repeat("please ", 200), "analyze sales")
	if err != nil {
		t.Fatalf("deep convergence: %v", err)
	}
	if got.Converged || len(got.GradientNorms) != 1 {
		t.Fatalf("expected a single diverging step: %+v", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		norms []float64
		want  ConvergenceType
	}{
		{[]float64{1, 1}, ConvergenceStable},
		{[]float64{1, 1, 2}, ConvergenceDiverging},
		{[]float64{0.1, 0.09, 0.005}, ConvergenceRapid},
		{[]float64{1, 0.5, 0.05}, ConvergenceOscillating},
		{[]float64{0.5, 0.4, 0.2}, ConvergenceSteady},
		{[]float64{1, 0.9, 0.7}, ConvergenceSlow},
		{[]float64{1, 1, 1}, ConvergenceStable},
	}
	for _, tc := range cases {
		if got := classify(tc.norms); got != tc.want {
			t.Fatalf("classify(%v): got=%s want=%s", tc.norms, got, tc.want)
		}
	}
}

func TestEarlyLateRate(t *testing.T) {
	if got := earlyLateRate([]float64{4, 4, 4, 1, 1, 1}); math.Abs(got-0.75) > 1e-12 {
		t.Fatalf("expected 0.75, got=%f", got)
	}
	if got := earlyLateRate([]float64{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0 for short series, got=%f", got)
	}
}
