package stats

import (
	"context"
	"errors"
	"math"
	"testing"

	"promptcompiler/internal/analyzer"
	"promptcompiler/internal/dynamics"
)

func TestRunDynamicsBenchmark(t *testing.T) {
	cfg := BenchmarkConfig{
		Dimensions: []DimensionPair{{ContextDim: 4, TaskDim: 2}, {ContextDim: 16, TaskDim: 8}},
		Steps:      20,
		Seed:       7,
		Workers:    2,
		Dynamics:   dynamics.DefaultConfig(),
	}
	report, err := RunDynamicsBenchmark(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run benchmark: %v", err)
	}
	if report.Rule != dynamics.RuleDecaySkip {
		t.Fatalf("unexpected rule: %s", report.Rule)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
	for i, result := range report.Results {
		if result.Dimensions != cfg.Dimensions[i] {
			t.Fatalf("result %d out of order: %+v", i, result.Dimensions)
		}
		if result.Steps != 20 || len(result.Samples) != 20 {
			t.Fatalf("result %d: unexpected steps %d samples %d", i, result.Steps, len(result.Samples))
		}
		l := result.Latency
		if l.P50NS > l.P95NS || l.P95NS > l.MaxNS {
			t.Fatalf("result %d: latency quantiles out of order: %+v", i, l)
		}
		if result.FinalNorm <= 0 || math.IsNaN(result.FinalNorm) {
			t.Fatalf("result %d: unexpected final norm %v", i, result.FinalNorm)
		}
		if result.ConvergenceRate < 0 || result.ConvergenceRate > 1 {
			t.Fatalf("result %d: convergence rate out of range: %v", i, result.ConvergenceRate)
		}
	}
}

func TestRunDynamicsBenchmarkIsSeeded(t *testing.T) {
	cfg := BenchmarkConfig{
		Dimensions: []DimensionPair{{ContextDim: 6, TaskDim: 3}},
		Steps:      10,
		Seed:       42,
		Dynamics:   dynamics.DefaultConfig(),
	}
	a, err := RunDynamicsBenchmark(context.Background(), cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := RunDynamicsBenchmark(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if a.Results[0].FinalNorm != b.Results[0].FinalNorm || a.Results[0].MeanMagnitude != b.Results[0].MeanMagnitude {
		t.Fatalf("expected identical trajectories: %+v vs %+v", a.Results[0], b.Results[0])
	}
}

func TestRunDynamicsBenchmarkValidates(t *testing.T) {
	if _, err := RunDynamicsBenchmark(context.Background(), BenchmarkConfig{Dynamics: dynamics.DefaultConfig()}); err == nil {
		t.Fatal("expected steps error")
	}
	if _, err := RunDynamicsBenchmark(context.Background(), BenchmarkConfig{Steps: 1}); !errors.Is(err, dynamics.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRunDynamicsBenchmarkHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunDynamicsBenchmark(ctx, BenchmarkConfig{Steps: 5, Dynamics: dynamics.DefaultConfig()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSummarizeLatency(t *testing.T) {
	got := summarizeLatency([]int64{40, 10, 30, 20})
	if got.MeanNS != 25 || got.P50NS != 20 || got.P95NS != 40 || got.MaxNS != 40 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if (summarizeLatency(nil) != LatencySummary{}) {
		t.Fatal("expected zero summary for no samples")
	}
}

func TestQualityScore(t *testing.T) {
	cases := []struct {
		name     string
		analysis analyzer.DetailedConvergence
		want     float64
	}{
		{
			name: "rapid convergence",
			analysis: analyzer.DetailedConvergence{
				Converged:           true,
				ConvergenceSteps:    2,
				Type:                analyzer.ConvergenceRapid,
				EffectivenessScores: []float64{0.2, 0.05},
				GradientNorms:       []float64{0.5, 0.005},
			},
			want: 0.35 + 0.30 + 0.20 + 0.10,
		},
		{
			name: "partial steady",
			analysis: analyzer.DetailedConvergence{
				FinalConvergenceRate: 0.5,
				Type:                 analyzer.ConvergenceSteady,
				EffectivenessScores:  []float64{0.04},
				GradientNorms:        []float64{1, 1, 1, 1},
			},
			want: 0.25 + 0.28 + 0.10 + 0.05,
		},
		{
			name: "diverging",
			analysis: analyzer.DetailedConvergence{
				FinalConvergenceRate: 0.05,
				Type:                 analyzer.ConvergenceDiverging,
			},
			want: 0,
		},
		{
			name: "slow late convergence",
			analysis: analyzer.DetailedConvergence{
				Converged:        true,
				ConvergenceSteps: 25,
				Type:             analyzer.ConvergenceSlow,
			},
			want: 0.35 + 0.22 + 0.02,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := QualityScore(tc.analysis)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestRateAndMatchQuality(t *testing.T) {
	if RateQuality(0.8) != QualityExcellent || RateQuality(0.6) != QualityGood || RateQuality(0.4) != QualityFair || RateQuality(0.1) != QualityPoor {
		t.Fatal("unexpected rating thresholds")
	}
	if !MatchesExpectation(QualityPoor, QualityPoor) || !MatchesExpectation(QualityPoor, QualityExcellent) {
		t.Fatal("poor expectations always match")
	}
	if !MatchesExpectation(QualityGood, QualityExcellent) || MatchesExpectation(QualityGood, QualityFair) {
		t.Fatal("unexpected good expectation matching")
	}
	if MatchesExpectation(QualityExcellent, QualityGood) {
		t.Fatal("excellent requires excellent")
	}
}

func TestRunQualityBenchmark(t *testing.T) {
	report, err := RunQualityBenchmark(context.Background(), QualityConfig{MaxIterations: 10, Workers: 4})
	if err != nil {
		t.Fatalf("run quality benchmark: %v", err)
	}
	cases := DefaultQualityCases()
	if len(report.Results) != len(cases) {
		t.Fatalf("expected %d results, got %d", len(cases), len(report.Results))
	}
	for i, result := range report.Results {
		if result.Case.Name != cases[i].Name {
			t.Fatalf("result %d out of order: %s", i, result.Case.Name)
		}
		if result.QualityScore < 0 || result.QualityScore > 1 {
			t.Fatalf("%s: score out of range: %v", result.Case.Name, result.QualityScore)
		}
		if result.Rating != RateQuality(result.QualityScore) {
			t.Fatalf("%s: rating does not match score", result.Case.Name)
		}
		if len(result.Recommendations) == 0 {
			t.Fatalf("%s: expected recommendations", result.Case.Name)
		}
		if len(result.Analysis.GradientNorms) == 0 || len(result.Analysis.GradientNorms) > 10 {
			t.Fatalf("%s: unexpected iteration count %d", result.Case.Name, len(result.Analysis.GradientNorms))
		}
	}
	if report.MatchRate < 0 || report.MatchRate > 1 || len(report.ByCategory) != 6 {
		t.Fatalf("unexpected summary: match=%v categories=%d", report.MatchRate, len(report.ByCategory))
	}
}

func TestRunQualityBenchmarkCustomCases(t *testing.T) {
	report, err := RunQualityBenchmark(context.Background(), QualityConfig{
		Cases:         []QualityCase{{Name: "one", Prompt: "do it", Task: "task", Expected: QualityPoor, Category: CategorySimple}},
		MaxIterations: 5,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 1 || !report.Results[0].MatchesExpectation || report.MatchRate != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
