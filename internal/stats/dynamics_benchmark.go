package stats

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/linalg"
)

// convergenceWindow bounds how many trailing updates feed the convergence
// verdict of a benchmark run.
const convergenceWindow = 32

type DimensionPair struct {
	ContextDim int `json:"context_dim" yaml:"context_dim"`
	TaskDim    int `json:"task_dim" yaml:"task_dim"`
}

func (d DimensionPair) String() string {
	return fmt.Sprintf("%dx%d", d.TaskDim, d.ContextDim)
}

func DefaultDimensions() []DimensionPair {
	return []DimensionPair{
		{ContextDim: 16, TaskDim: 8},
		{ContextDim: 64, TaskDim: 32},
		{ContextDim: 256, TaskDim: 64},
	}
}

type BenchmarkConfig struct {
	Dimensions []DimensionPair `json:"dimensions"`
	Steps      int             `json:"steps"`
	Seed       int64           `json:"seed"`
	Workers    int             `json:"workers"`
	Dynamics   dynamics.Config `json:"dynamics"`
}

type LatencySummary struct {
	MeanNS int64 `json:"mean_ns"`
	P50NS  int64 `json:"p50_ns"`
	P95NS  int64 `json:"p95_ns"`
	MaxNS  int64 `json:"max_ns"`
}

type DimensionResult struct {
	Dimensions      DimensionPair  `json:"dimensions"`
	Steps           int            `json:"steps"`
	Latency         LatencySummary `json:"latency"`
	NSPerOp         int64          `json:"ns_per_op"`
	FinalNorm       float64        `json:"final_weight_norm"`
	MeanMagnitude   float64        `json:"mean_update_magnitude"`
	ConvergenceRate float64        `json:"convergence_rate"`
	Converged       bool           `json:"converged"`
	// Samples holds per-step latencies in nanoseconds.
	Samples []int64 `json:"-"`
}

type DynamicsReport struct {
	Config  BenchmarkConfig   `json:"config"`
	Rule    string            `json:"rule"`
	Results []DimensionResult `json:"results"`
	Elapsed time.Duration     `json:"elapsed_ns"`
}

// RunDynamicsBenchmark drives one engine per dimension pair through Steps
// random updates. Pairs run concurrently, bounded by Workers.
func RunDynamicsBenchmark(ctx context.Context, cfg BenchmarkConfig) (DynamicsReport, error) {
	if len(cfg.Dimensions) == 0 {
		cfg.Dimensions = DefaultDimensions()
	}
	if cfg.Steps <= 0 {
		return DynamicsReport{}, fmt.Errorf("benchmark steps must be > 0: %d", cfg.Steps)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if err := cfg.Dynamics.Validate(); err != nil {
		return DynamicsReport{}, err
	}

	started := time.Now()
	results := make([]DimensionResult, len(cfg.Dimensions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, dims := range cfg.Dimensions {
		g.Go(func() error {
			result, err := benchmarkDimension(gctx, dims, cfg.Steps, cfg.Seed+int64(i), cfg.Dynamics)
			if err != nil {
				return fmt.Errorf("dimensions %s: %w", dims, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DynamicsReport{}, err
	}

	return DynamicsReport{
		Config:  cfg,
		Rule:    cfg.Dynamics.RuleName(),
		Results: results,
		Elapsed: time.Since(started),
	}, nil
}

func benchmarkDimension(ctx context.Context, dims DimensionPair, steps int, seed int64, cfg dynamics.Config) (DimensionResult, error) {
	engine, err := dynamics.New(dims.ContextDim, dims.TaskDim, cfg)
	if err != nil {
		return DimensionResult{}, err
	}
	rng := rand.New(rand.NewSource(seed))
	samples := make([]int64, 0, steps)
	magnitudes := make([]float64, 0, steps)
	window := make([]dynamics.WeightUpdate, 0, convergenceWindow)

	var total time.Duration
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return DimensionResult{}, err
		}
		contextVec := randomVector(rng, dims.ContextDim)
		target := randomVector(rng, dims.TaskDim)

		began := time.Now()
		update, err := engine.UpdateStep(contextVec, target)
		elapsed := time.Since(began)
		if err != nil {
			return DimensionResult{}, fmt.Errorf("step %d: %w", step, err)
		}
		total += elapsed
		samples = append(samples, elapsed.Nanoseconds())
		magnitudes = append(magnitudes, update.Magnitude())
		if len(window) == convergenceWindow {
			window = append(window[:0], window[1:]...)
		}
		window = append(window, update)
	}

	convergence := dynamics.PredictConvergence(window)
	return DimensionResult{
		Dimensions:      dims,
		Steps:           steps,
		Latency:         summarizeLatency(samples),
		NSPerOp:         total.Nanoseconds() / int64(steps),
		FinalNorm:       linalg.FrobeniusNorm(engine.Weights()),
		MeanMagnitude:   stat.Mean(magnitudes, nil),
		ConvergenceRate: convergence.ConvergenceRate,
		Converged:       convergence.IsConverged,
		Samples:         samples,
	}, nil
}

// randomVector draws unit-normalized entries so the weight norm stays bounded
// under decay.
func randomVector(rng *rand.Rand, n int) linalg.Vector {
	v := linalg.NewVector(n)
	for i := range v {
		v[i] = rng.Float64()*2 - 1
	}
	if norm := v.Norm(); norm > 0 {
		return v.Scaled(1 / norm)
	}
	return v
}

func summarizeLatency(samples []int64) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}
	sorted := make([]float64, len(samples))
	for i, s := range samples {
		sorted[i] = float64(s)
	}
	sort.Float64s(sorted)
	return LatencySummary{
		MeanNS: int64(stat.Mean(sorted, nil)),
		P50NS:  int64(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		P95NS:  int64(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
		MaxNS:  int64(sorted[len(sorted)-1]),
	}
}
