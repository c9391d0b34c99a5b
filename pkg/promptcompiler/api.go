package promptcompiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"promptcompiler/internal/analyzer"
	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/encoder"
	"promptcompiler/internal/linalg"
	"promptcompiler/internal/model"
	"promptcompiler/internal/stats"
	"promptcompiler/internal/storage"
)

const (
	defaultBenchmarksDir  = "benchmarks"
	defaultExportsDir     = "exports"
	defaultOptimizeSteps  = 5
	defaultListLimit      = 20
	defaultBenchmarkSteps = 100
)

var ErrNotFound = errors.New("record not found")

type Options struct {
	StoreKind     string
	DBPath        string
	BenchmarksDir string
	ExportsDir    string
	// Dynamics defaults to {0.5, 0.01, skip connections on}.
	Dynamics             *dynamics.Config
	Encoder              encoder.Config
	ConvergenceThreshold float64
	OptimizeSteps        int
	Logger               *slog.Logger
	// Store overrides StoreKind and DBPath when set.
	Store storage.Store
}

// Client is the programmatic entry point. It is safe for concurrent use;
// operations touching the shared engine are serialized.
type Client struct {
	store  storage.Store
	logger *slog.Logger

	mu       sync.Mutex
	analyzer *analyzer.Analyzer
	enc      *encoder.Encoder

	threshold     float64
	optimizeSteps int
	benchmarksDir string
	exportsDir    string
}

type AnalyzeRequest struct {
	Prompt string
	Task   string
	// Learn folds the prompt into the shared weights after analysis.
	Learn bool
}

type AnalyzeResult struct {
	ID        string            `json:"id"`
	TaskTypes []string          `json:"task_types"`
	Rule      string            `json:"rule"`
	Analysis  analyzer.Analysis `json:"analysis"`
}

type CompareRequest struct {
	PromptA string
	PromptB string
	Task    string
}

type CompareResult struct {
	ID         string              `json:"id"`
	Comparison analyzer.Comparison `json:"comparison"`
}

type OptimizeRequest struct {
	Prompt   string
	Task     string
	MaxSteps int
}

type OptimizeResult struct {
	ID      string                       `json:"id"`
	History analyzer.OptimizationHistory `json:"history"`
}

type SequenceRequest struct {
	// Segments wins over Prompt; otherwise Prompt is split into sentences.
	Prompt   string
	Segments []string
	Task     string
}

type RecordsRequest struct {
	Kind  string
	Limit int
}

type BenchmarkRequest struct {
	Kind     string
	Dynamics stats.BenchmarkConfig
	Quality  stats.QualityConfig
}

type BenchmarkSummary struct {
	RunID        string                `json:"run_id"`
	ArtifactsDir string                `json:"artifacts_dir"`
	Entry        stats.RunIndexEntry   `json:"entry"`
	Dynamics     *stats.DynamicsReport `json:"dynamics,omitempty"`
	Quality      *stats.QualityReport  `json:"quality,omitempty"`
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	cfg := dynamics.Config{LearningRate: 0.5, RegularizationStrength: 0.01, UseSkipConnections: true}
	if opts.Dynamics != nil {
		cfg = *opts.Dynamics
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	optimizeSteps := opts.OptimizeSteps
	if optimizeSteps <= 0 {
		optimizeSteps = defaultOptimizeSteps
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enc := encoder.New(opts.Encoder)
	a, err := analyzer.New(cfg, enc)
	if err != nil {
		return nil, err
	}
	a.SetConvergenceThreshold(opts.ConvergenceThreshold)

	store := opts.Store
	if store == nil {
		store, err = storage.NewStoreWithLogger(opts.StoreKind, opts.DBPath, logger)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		store:         store,
		logger:        logger,
		analyzer:      a,
		enc:           enc,
		threshold:     opts.ConvergenceThreshold,
		optimizeSteps: optimizeSteps,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Config() dynamics.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyzer.Config()
}

func (c *Client) Rule() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyzer.Rule()
}

// Weights returns a copy of the shared engine weights.
func (c *Client) Weights() linalg.MatrixRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return linalg.RecordOf(c.analyzer.Weights())
}

func (c *Client) Encoder() *encoder.Encoder {
	return c.enc
}

func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	if err := requireText("prompt", req.Prompt); err != nil {
		return AnalyzeResult{}, err
	}

	c.mu.Lock()
	analysis, err := c.analyzer.AnalyzePrompt(req.Prompt, req.Task)
	if err == nil && req.Learn {
		_, err = c.analyzer.Observe(req.Prompt, req.Task)
	}
	rule := c.analyzer.Rule()
	c.mu.Unlock()
	if err != nil {
		return AnalyzeResult{}, err
	}

	versions, id, now := model.NewHeader()
	taskTypes := c.enc.TaskTypes(req.Task)
	record := model.AnalysisRecord{
		VersionedRecord:    versions,
		ID:                 id,
		CreatedAt:          now,
		Prompt:             req.Prompt,
		Task:               req.Task,
		TaskTypes:          taskTypes,
		Rule:               rule,
		EffectivenessScore: analysis.EffectivenessScore,
		ConvergenceRate:    analysis.ConvergenceRate,
		UpdateMagnitude:    analysis.UpdateMagnitude,
		IsStable:           analysis.IsStable,
	}
	if err := c.store.SaveAnalysis(ctx, record); err != nil {
		return AnalyzeResult{}, fmt.Errorf("save analysis: %w", err)
	}
	c.logger.Debug("analysis stored", "id", id, "effectiveness", analysis.EffectivenessScore)
	return AnalyzeResult{ID: id, TaskTypes: taskTypes, Rule: rule, Analysis: analysis}, nil
}

func (c *Client) Compare(ctx context.Context, req CompareRequest) (CompareResult, error) {
	if err := requireText("prompt_a", req.PromptA); err != nil {
		return CompareResult{}, err
	}
	if err := requireText("prompt_b", req.PromptB); err != nil {
		return CompareResult{}, err
	}

	c.mu.Lock()
	comparison, err := c.analyzer.Compare(req.PromptA, req.PromptB, req.Task)
	c.mu.Unlock()
	if err != nil {
		return CompareResult{}, err
	}

	versions, id, now := model.NewHeader()
	record := model.ComparisonRecord{
		VersionedRecord:    versions,
		ID:                 id,
		CreatedAt:          now,
		PromptA:            req.PromptA,
		PromptB:            req.PromptB,
		Task:               req.Task,
		PromptAScore:       comparison.PromptAScore,
		PromptBScore:       comparison.PromptBScore,
		ConvergenceDiff:    comparison.ConvergenceDiff,
		EffectivenessRatio: comparison.EffectivenessRatio,
		Winner:             comparison.Winner,
		Confidence:         comparison.Confidence,
	}
	if err := c.store.SaveComparison(ctx, record); err != nil {
		return CompareResult{}, fmt.Errorf("save comparison: %w", err)
	}
	return CompareResult{ID: id, Comparison: comparison}, nil
}

func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (OptimizeResult, error) {
	if err := requireText("prompt", req.Prompt); err != nil {
		return OptimizeResult{}, err
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = c.optimizeSteps
	}

	c.mu.Lock()
	history, err := c.analyzer.Optimize(req.Prompt, req.Task, req.MaxSteps)
	c.mu.Unlock()
	if err != nil {
		return OptimizeResult{}, err
	}

	versions, id, now := model.NewHeader()
	record := model.OptimizationRecord{
		VersionedRecord:      versions,
		ID:                   id,
		CreatedAt:            now,
		OriginalPrompt:       history.OriginalPrompt,
		FinalPrompt:          history.FinalPrompt,
		Task:                 history.Task,
		Steps:                make([]model.OptimizationStepRecord, 0, len(history.Steps)),
		FinalConvergenceRate: history.FinalConvergenceRate,
		Converged:            history.Converged,
		TotalImprovement:     history.TotalImprovement,
	}
	for _, step := range history.Steps {
		texts := make([]string, 0, len(step.Suggestions))
		for _, s := range step.Suggestions {
			texts = append(texts, s.Text)
		}
		record.Steps = append(record.Steps, model.OptimizationStepRecord{
			StepNumber:         step.StepNumber,
			Prompt:             step.Prompt,
			EffectivenessScore: step.Analysis.EffectivenessScore,
			UpdateMagnitude:    step.Analysis.UpdateMagnitude,
			IsStable:           step.Analysis.IsStable,
			Suggestions:        texts,
		})
	}
	if err := c.store.SaveOptimization(ctx, record); err != nil {
		return OptimizeResult{}, fmt.Errorf("save optimization: %w", err)
	}
	return OptimizeResult{ID: id, History: history}, nil
}

func (c *Client) AnalyzeSequence(_ context.Context, req SequenceRequest) (analyzer.SequenceAnalysis, error) {
	segments := req.Segments
	if len(segments) == 0 {
		segments = encoder.SplitSegments(req.Prompt)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyzer.AnalyzeSequence(segments, req.Task)
}

// Trajectory runs raw vectors on a dedicated engine. A zero config takes the
// client's configuration.
func (c *Client) Trajectory(_ context.Context, req analyzer.TrajectoryRequest) (analyzer.TrajectoryResult, error) {
	if req.Config == (dynamics.Config{}) {
		req.Config = c.Config()
	}
	if req.Threshold <= 0 {
		req.Threshold = c.threshold
	}
	return analyzer.Trajectory(req)
}

func (c *Client) DeepConvergence(_ context.Context, prompt, task string, cfg analyzer.DeepConfig) (analyzer.DetailedConvergence, error) {
	if err := requireText("prompt", prompt); err != nil {
		return analyzer.DetailedConvergence{}, err
	}
	if cfg == (analyzer.DeepConfig{}) {
		cfg = analyzer.DefaultDeepConfig()
	}
	return analyzer.DeepConvergence(c.enc, cfg, prompt, task)
}

func (c *Client) Records(ctx context.Context, req RecordsRequest) ([]model.RecordSummary, error) {
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	var kind model.RecordKind
	if req.Kind != "" {
		parsed, err := model.ParseKind(req.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", analyzer.ErrInvalidInput, err)
		}
		kind = parsed
	}
	return c.store.ListRecords(ctx, kind, req.Limit)
}

// Record loads one record by kind and id. The returned value is the concrete
// model record type.
func (c *Client) Record(ctx context.Context, kind, id string) (any, error) {
	parsed, err := model.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analyzer.ErrInvalidInput, err)
	}
	var (
		record any
		ok     bool
	)
	switch parsed {
	case model.KindAnalysis:
		record, ok, err = c.store.GetAnalysis(ctx, id)
	case model.KindComparison:
		record, ok, err = c.store.GetComparison(ctx, id)
	case model.KindOptimization:
		record, ok, err = c.store.GetOptimization(ctx, id)
	case model.KindSnapshot:
		record, ok, err = c.store.GetSnapshot(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, parsed, id)
	}
	return record, nil
}

func (c *Client) DeleteRecord(ctx context.Context, kind, id string) error {
	parsed, err := model.ParseKind(kind)
	if err != nil {
		return fmt.Errorf("%w: %v", analyzer.ErrInvalidInput, err)
	}
	deleted, err := c.store.DeleteRecord(ctx, parsed, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s %s", ErrNotFound, parsed, id)
	}
	return nil
}

func (c *Client) Stats(ctx context.Context) (model.Stats, error) {
	return c.store.Stats(ctx)
}

// SaveSnapshot persists the current shared weights and configuration.
func (c *Client) SaveSnapshot(ctx context.Context, name string) (model.WeightSnapshot, error) {
	c.mu.Lock()
	weights := linalg.RecordOf(c.analyzer.Weights())
	cfg := c.analyzer.Config()
	c.mu.Unlock()

	versions, id, now := model.NewHeader()
	snapshot := model.WeightSnapshot{
		VersionedRecord: versions,
		ID:              id,
		Name:            name,
		CreatedAt:       now,
		Rows:            weights.Rows,
		Cols:            weights.Cols,
		Data:            weights.Data,
		Config:          cfg,
	}
	if err := c.store.SaveSnapshot(ctx, snapshot); err != nil {
		return model.WeightSnapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	return snapshot, nil
}

// LoadSnapshot replaces the shared weights with a stored snapshot. A
// snapshot taken under another configuration also restores that
// configuration.
func (c *Client) LoadSnapshot(ctx context.Context, id string) (model.WeightSnapshot, error) {
	snapshot, ok, err := c.store.GetSnapshot(ctx, id)
	if err != nil {
		return model.WeightSnapshot{}, err
	}
	if !ok {
		return model.WeightSnapshot{}, fmt.Errorf("%w: snapshot %s", ErrNotFound, id)
	}
	weights, err := linalg.MatrixRecord{Rows: snapshot.Rows, Cols: snapshot.Cols, Data: snapshot.Data}.Dense()
	if err != nil {
		return model.WeightSnapshot{}, fmt.Errorf("%w: %v", dynamics.ErrDimensionMismatch, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.analyzer
	if snapshot.Config != c.analyzer.Config() {
		target, err = analyzer.New(snapshot.Config, c.enc)
		if err != nil {
			return model.WeightSnapshot{}, err
		}
		target.SetConvergenceThreshold(c.threshold)
	}
	if err := target.LoadWeights(weights); err != nil {
		return model.WeightSnapshot{}, err
	}
	c.analyzer = target
	c.logger.Info("snapshot loaded", "id", id, "rule", target.Rule())
	return snapshot, nil
}

// Benchmark runs a dynamics or quality benchmark and records its artifacts
// under the benchmarks directory.
func (c *Client) Benchmark(ctx context.Context, req BenchmarkRequest) (BenchmarkSummary, error) {
	now := time.Now().UTC()
	runID := fmt.Sprintf("%s-%s-%s", req.Kind, now.Format("20060102T150405Z"), uuid.NewString()[:8])
	artifacts := stats.BenchmarkArtifacts{Config: stats.NewRunConfig(runID, req.Kind, now)}

	switch req.Kind {
	case stats.BenchmarkDynamics:
		if req.Dynamics.Dynamics == (dynamics.Config{}) {
			req.Dynamics.Dynamics = c.Config()
		}
		if req.Dynamics.Steps <= 0 {
			req.Dynamics.Steps = defaultBenchmarkSteps
		}
		report, err := stats.RunDynamicsBenchmark(ctx, req.Dynamics)
		if err != nil {
			return BenchmarkSummary{}, err
		}
		artifacts.Config.Dynamics = &report.Config
		artifacts.Dynamics = &report
	case stats.BenchmarkQuality:
		report, err := stats.RunQualityBenchmark(ctx, req.Quality)
		if err != nil {
			return BenchmarkSummary{}, err
		}
		artifacts.Config.Quality = &req.Quality
		artifacts.Quality = &report
	default:
		return BenchmarkSummary{}, fmt.Errorf("%w: unsupported benchmark kind %q", analyzer.ErrInvalidInput, req.Kind)
	}

	runDir, err := stats.WriteBenchmarkArtifacts(c.benchmarksDir, artifacts)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	entry := stats.IndexEntryFor(artifacts)
	if err := stats.AppendRunIndex(c.benchmarksDir, entry); err != nil {
		return BenchmarkSummary{}, err
	}
	return BenchmarkSummary{
		RunID:        runID,
		ArtifactsDir: runDir,
		Entry:        entry,
		Dynamics:     artifacts.Dynamics,
		Quality:      artifacts.Quality,
	}, nil
}

func (c *Client) Runs(_ context.Context, limit int) ([]stats.RunIndexEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.benchmarksDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", analyzer.ErrInvalidInput, field)
	}
	return nil
}
