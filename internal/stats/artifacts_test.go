package stats

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"promptcompiler/internal/dynamics"
)

func sampleDynamicsArtifacts(runID string) BenchmarkArtifacts {
	cfg := BenchmarkConfig{
		Dimensions: []DimensionPair{{ContextDim: 4, TaskDim: 2}},
		Steps:      3,
		Seed:       1,
		Workers:    1,
		Dynamics:   dynamics.DefaultConfig(),
	}
	runCfg := NewRunConfig(runID, BenchmarkDynamics, time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC))
	runCfg.Dynamics = &cfg
	return BenchmarkArtifacts{
		Config: runCfg,
		Dynamics: &DynamicsReport{
			Config: cfg,
			Rule:   dynamics.RuleDecaySkip,
			Results: []DimensionResult{{
				Dimensions: DimensionPair{ContextDim: 4, TaskDim: 2},
				Steps:      3,
				NSPerOp:    1200,
				Samples:    []int64{1000, 1200, 1400},
			}},
		},
	}
}

func TestWriteAndExportBenchmarkArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	runDir, err := WriteBenchmarkArtifacts(baseDir, sampleDynamicsArtifacts(runID))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	for _, file := range []string{configFile, dynamicsReportFile, latencySeriesFile} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, qualityReportFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no quality report, got %v", err)
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range []string{configFile, dynamicsReportFile, latencySeriesFile} {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(exportedDir, "")
	if err != nil || !ok {
		t.Fatalf("read exported config: ok=%t err=%v", ok, err)
	}
	if cfg.RunID != runID || cfg.Kind != BenchmarkDynamics || cfg.CreatedAtUTC != "2026-02-10T10:00:00Z" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	report, ok, err := ReadDynamicsReport(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read report: ok=%t err=%v", ok, err)
	}
	if report.Rule != dynamics.RuleDecaySkip || len(report.Results) != 1 || report.Results[0].NSPerOp != 1200 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Results[0].Samples != nil {
		t.Fatal("samples belong in the csv series, not the report")
	}

	series, ok, err := ReadLatencySeries(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read series: ok=%t err=%v", ok, err)
	}
	got := series["2x4"]
	if len(got) != 3 || got[0] != 1000 || got[2] != 1400 {
		t.Fatalf("unexpected series: %+v", series)
	}
}

func TestWriteBenchmarkArtifactsValidates(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := WriteBenchmarkArtifacts(baseDir, BenchmarkArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
	if _, err := WriteBenchmarkArtifacts(baseDir, BenchmarkArtifacts{Config: RunConfig{RunID: "r", Kind: BenchmarkQuality}}); err == nil {
		t.Fatal("expected missing quality report error")
	}
	if _, err := WriteBenchmarkArtifacts(baseDir, BenchmarkArtifacts{Config: RunConfig{RunID: "r", Kind: "latency"}}); err == nil {
		t.Fatal("expected unsupported kind error")
	}
}

func TestReadMissingArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	if _, ok, err := ReadRunConfig(baseDir, "nope"); err != nil || ok {
		t.Fatalf("expected missing config; ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadQualityReport(baseDir, "nope"); err != nil || ok {
		t.Fatalf("expected missing quality report; ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadLatencySeries(baseDir, "nope"); err != nil || ok {
		t.Fatalf("expected missing series; ok=%t err=%v", ok, err)
	}
}

func TestIndexEntryFor(t *testing.T) {
	entry := IndexEntryFor(sampleDynamicsArtifacts("run-1"))
	if entry.RunID != "run-1" || entry.Kind != BenchmarkDynamics || entry.Rule != dynamics.RuleDecaySkip {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Items != 1 || entry.Headline != 1200 {
		t.Fatalf("unexpected headline: %+v", entry)
	}

	quality := IndexEntryFor(BenchmarkArtifacts{
		Config:  RunConfig{RunID: "q", Kind: BenchmarkQuality},
		Quality: &QualityReport{Results: make([]QualityResult, 4), MeanScore: 0.6},
	})
	if quality.Items != 4 || quality.Headline != 0.6 {
		t.Fatalf("unexpected quality entry: %+v", quality)
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Kind:         BenchmarkDynamics,
		Items:        3,
		Headline:     1500,
		CreatedAtUTC: "2026-02-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-2",
		Kind:         BenchmarkQuality,
		Items:        13,
		Headline:     0.61,
		CreatedAtUTC: "2026-02-10T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Kind:         BenchmarkDynamics,
		Items:        3,
		Headline:     900,
		CreatedAtUTC: "2026-02-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].Headline != 900 {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}
