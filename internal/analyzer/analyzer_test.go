package analyzer

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/encoder"
)

const (
	goodPrompt = "Please analyze following the steps: 1) Understand the problem background 2) List key points 3) Provide specific conclusions"
	badPrompt  = "analyze this"
	marketTask = "analyze market trends"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(dynamics.Config{LearningRate: 0.5, RegularizationStrength: 0.01, UseSkipConnections: true}, nil)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(dynamics.Config{}, nil); !errors.Is(err, dynamics.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAnalyzePromptRestoresWeights(t *testing.T) {
	a := newTestAnalyzer(t)
	if _, err := a.Observe("Please be specific", "explain"); err != nil {
		t.Fatalf("observe: %v", err)
	}
	before := a.Weights()

	first, err := a.AnalyzePrompt(goodPrompt, marketTask)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, err := a.AnalyzePrompt(goodPrompt, marketTask)
	if err != nil {
		t.Fatalf("analyze again: %v", err)
	}
	if first != second {
		t.Fatalf("expected repeatable analysis: %+v vs %+v", first, second)
	}
	if !mat.Equal(before, a.Weights()) {
		t.Fatal("expected weights restored after analysis")
	}
	if !first.IsStable || first.ConvergenceRate != 1 {
		t.Fatalf("single update should be stable: %+v", first)
	}
	if first.EffectivenessScore <= 0 || first.UpdateMagnitude <= 0 {
		t.Fatalf("expected positive scores: %+v", first)
	}
}

func TestAnalyzePromptScoreMatchesUpdate(t *testing.T) {
	a := newTestAnalyzer(t)
	// target e0, context [0.12, 0...] -> delta row 0 = 0.5*context + e0
	got, err := a.AnalyzePrompt(badPrompt, marketTask)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if math.Abs(got.EffectivenessScore-1.06) > 1e-12 {
		t.Fatalf("unexpected effectiveness: got=%f want=1.06", got.EffectivenessScore)
	}
	if math.Abs(got.UpdateMagnitude-1.06) > 1e-12 {
		t.Fatalf("unexpected magnitude: got=%f want=1.06", got.UpdateMagnitude)
	}
}

func TestCompareStructuredPromptWins(t *testing.T) {
	a := newTestAnalyzer(t)
	before := a.Weights()

	cmp, err := a.Compare(goodPrompt, badPrompt, marketTask)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.Winner != WinnerA {
		t.Fatalf("expected structured prompt to win: %+v", cmp)
	}
	if cmp.EffectivenessRatio <= 1 {
		t.Fatalf("expected ratio > 1: %+v", cmp)
	}
	if cmp.Confidence <= 0 || cmp.Confidence > 1 {
		t.Fatalf("confidence out of range: %+v", cmp)
	}
	if cmp.ConvergenceDiff != 0 {
		t.Fatalf("single-update convergence rates should match: %+v", cmp)
	}
	if !mat.Equal(before, a.Weights()) {
		t.Fatal("expected weights restored after comparison")
	}

	swapped, err := a.Compare(badPrompt, goodPrompt, marketTask)
	if err != nil {
		t.Fatalf("compare swapped: %v", err)
	}
	if swapped.Winner != WinnerB {
		t.Fatalf("expected B to win when swapped: %+v", swapped)
	}
	if swapped.PromptAScore != cmp.PromptBScore || swapped.PromptBScore != cmp.PromptAScore {
		t.Fatal("comparison depends on call order")
	}
}

func TestCompareTies(t *testing.T) {
	a := newTestAnalyzer(t)
	same, err := a.Compare(goodPrompt, goodPrompt, marketTask)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if same.Winner != WinnerTie || same.Confidence != 0 || same.EffectivenessRatio != 1 {
		t.Fatalf("expected exact tie: %+v", same)
	}

	// no task keywords -> zero target -> zero scores
	zero, err := a.Compare(goodPrompt, badPrompt, "do something")
	if err != nil {
		t.Fatalf("compare zero: %v", err)
	}
	if zero.Winner != WinnerTie || zero.EffectivenessRatio != 0 {
		t.Fatalf("expected zero-score tie: %+v", zero)
	}
}

func TestAnalyzeSequence(t *testing.T) {
	a := newTestAnalyzer(t)
	before := a.Weights()
	segments := encoder.SplitSegments(goodPrompt + ". Then summarize the findings. Be clear.")

	got, err := a.AnalyzeSequence(segments, marketTask)
	if err != nil {
		t.Fatalf("analyze sequence: %v", err)
	}
	if len(got.Steps) != len(segments) {
		t.Fatalf("expected %d steps, got=%d", len(segments), len(got.Steps))
	}
	if len(got.Convergence.Magnitudes) != len(segments) {
		t.Fatalf("expected %d magnitudes, got=%d", len(segments), len(got.Convergence.Magnitudes))
	}
	if got.Rule != dynamics.RuleDecaySkip {
		t.Fatalf("unexpected rule: %s", got.Rule)
	}
	if got.MeanEffectiveness <= 0 {
		t.Fatalf("expected positive mean effectiveness, got=%f", got.MeanEffectiveness)
	}
	if !mat.Equal(before, a.Weights()) {
		t.Fatal("expected weights restored after sequence analysis")
	}

	if _, err := a.AnalyzeSequence(nil, marketTask); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTrajectory(t *testing.T) {
	res, err := Trajectory(TrajectoryRequest{
		Config:   dynamics.Config{LearningRate: 0.5},
		Contexts: [][]float64{{1, 0}},
		Target:   []float64{1, 0},
	})
	if err != nil {
		t.Fatalf("trajectory: %v", err)
	}
	want := []float64{0.5, 0, 0, 0}
	for i, v := range want {
		if res.Weights.Data[i] != v {
			t.Fatalf("unexpected weights: %v", res.Weights.Data)
		}
	}
	if res.ContextDim != 2 || res.TaskDim != 2 || len(res.Steps) != 1 {
		t.Fatalf("unexpected result shape: %+v", res)
	}
	if !res.Convergence.IsConverged {
		t.Fatal("single update should converge")
	}

	attended, err := Trajectory(TrajectoryRequest{
		Config:   dynamics.DefaultConfig(),
		Contexts: [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Target:   []float64{1, 1},
		Attended: true,
	})
	if err != nil {
		t.Fatalf("attended trajectory: %v", err)
	}
	if len(attended.Steps) != 1 || len(attended.Steps[0].Attention) != 3 {
		t.Fatalf("expected one attended step over three contexts: %+v", attended.Steps)
	}

	if _, err := Trajectory(TrajectoryRequest{Config: dynamics.DefaultConfig()}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, err = Trajectory(TrajectoryRequest{
		Config:   dynamics.DefaultConfig(),
		Contexts: [][]float64{{1, 0}, {1}},
		Target:   []float64{1},
	})
	if !errors.Is(err, dynamics.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}
