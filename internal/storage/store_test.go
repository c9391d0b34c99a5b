package storage

import (
	"context"
	"testing"
	"time"

	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/model"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testAnalysis(id string, offset time.Duration) model.AnalysisRecord {
	return model.AnalysisRecord{
		VersionedRecord:    model.CurrentVersion(),
		ID:                 id,
		CreatedAt:          baseTime.Add(offset),
		Prompt:             "Please analyze following the steps",
		Task:               "analyze market trends",
		TaskTypes:          []string{"analyze"},
		Rule:               dynamics.RuleDecaySkip,
		EffectivenessScore: 1.4,
		ConvergenceRate:    1,
		UpdateMagnitude:    1.4,
		IsStable:           true,
	}
}

func testSnapshot(id string, offset time.Duration) model.WeightSnapshot {
	return model.WeightSnapshot{
		VersionedRecord: model.CurrentVersion(),
		ID:              id,
		Name:            "baseline",
		CreatedAt:       baseTime.Add(offset),
		Rows:            2,
		Cols:            3,
		Data:            []float64{1, 2, 3, 4, 5, 6},
		Config:          dynamics.DefaultConfig(),
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.GetAnalysis(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	for i, id := range []string{"a1", "a2", "a3"} {
		if err := store.SaveAnalysis(ctx, testAnalysis(id, time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("save analysis %s: %v", id, err)
		}
	}
	loaded, ok, err := store.GetAnalysis(ctx, "a2")
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if !ok {
		t.Fatal("expected analysis a2")
	}
	if loaded.Prompt != "Please analyze following the steps" || !loaded.CreatedAt.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("unexpected analysis loaded: %+v", loaded)
	}
	if len(loaded.TaskTypes) != 1 || loaded.TaskTypes[0] != "analyze" {
		t.Fatalf("unexpected task types: %+v", loaded.TaskTypes)
	}

	comparison := model.ComparisonRecord{
		VersionedRecord: model.CurrentVersion(),
		ID:              "c1",
		CreatedAt:       baseTime.Add(10 * time.Minute),
		PromptA:         "a",
		PromptB:         "b",
		Winner:          "A",
		Confidence:      0.7,
	}
	if err := store.SaveComparison(ctx, comparison); err != nil {
		t.Fatalf("save comparison: %v", err)
	}
	loadedComparison, ok, err := store.GetComparison(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("get comparison: ok=%v err=%v", ok, err)
	}
	if loadedComparison.Winner != "A" || loadedComparison.Confidence != 0.7 {
		t.Fatalf("unexpected comparison loaded: %+v", loadedComparison)
	}

	optimization := model.OptimizationRecord{
		VersionedRecord: model.CurrentVersion(),
		ID:              "o1",
		CreatedAt:       baseTime.Add(-time.Hour),
		OriginalPrompt:  "analyze this",
		FinalPrompt:     "Please analyze this",
		Steps: []model.OptimizationStepRecord{
			{StepNumber: 1, Prompt: "analyze this", Suggestions: []string{"Add polite language to enhance guidance"}},
			{StepNumber: 2, Prompt: "Please analyze this"},
		},
		TotalImprovement: 12.5,
	}
	if err := store.SaveOptimization(ctx, optimization); err != nil {
		t.Fatalf("save optimization: %v", err)
	}
	loadedOptimization, ok, err := store.GetOptimization(ctx, "o1")
	if err != nil || !ok {
		t.Fatalf("get optimization: ok=%v err=%v", ok, err)
	}
	if len(loadedOptimization.Steps) != 2 || loadedOptimization.Steps[0].Suggestions[0] != "Add polite language to enhance guidance" {
		t.Fatalf("unexpected optimization loaded: %+v", loadedOptimization)
	}

	if err := store.SaveSnapshot(ctx, testSnapshot("s1", 5*time.Minute)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	snapshot, ok, err := store.GetSnapshot(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("get snapshot: ok=%v err=%v", ok, err)
	}
	if snapshot.Rows != 2 || snapshot.Cols != 3 || snapshot.Data[5] != 6 || snapshot.Config != dynamics.DefaultConfig() {
		t.Fatalf("unexpected snapshot loaded: %+v", snapshot)
	}

	analyses, err := store.ListRecords(ctx, model.KindAnalysis, 0)
	if err != nil {
		t.Fatalf("list analyses: %v", err)
	}
	if ids(analyses) != "a3,a2,a1" {
		t.Fatalf("expected newest first, got %s", ids(analyses))
	}
	limited, err := store.ListRecords(ctx, model.KindAnalysis, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if ids(limited) != "a3,a2" {
		t.Fatalf("unexpected limited listing: %s", ids(limited))
	}
	all, err := store.ListRecords(ctx, "", 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if ids(all) != "c1,s1,a3,a2,a1,o1" {
		t.Fatalf("unexpected combined listing: %s", ids(all))
	}
	if all[0].Kind != model.KindComparison || all[1].Title != "baseline" {
		t.Fatalf("unexpected summaries: %+v", all[:2])
	}
	if _, err := store.ListRecords(ctx, "embedding", 0); err == nil {
		t.Fatal("expected unknown kind error")
	}

	// re-saving with a new timestamp moves the record in the listing
	if err := store.SaveAnalysis(ctx, testAnalysis("a1", time.Hour)); err != nil {
		t.Fatalf("resave analysis: %v", err)
	}
	analyses, err = store.ListRecords(ctx, model.KindAnalysis, 0)
	if err != nil {
		t.Fatalf("list after resave: %v", err)
	}
	if ids(analyses) != "a1,a3,a2" {
		t.Fatalf("unexpected listing after resave: %s", ids(analyses))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := map[model.RecordKind]int{
		model.KindAnalysis:     3,
		model.KindComparison:   1,
		model.KindOptimization: 1,
		model.KindSnapshot:     1,
	}
	for k, n := range want {
		if stats.Counts[k] != n {
			t.Fatalf("unexpected %s count: got=%d want=%d", k, stats.Counts[k], n)
		}
	}

	deleted, err := store.DeleteRecord(ctx, model.KindAnalysis, "a2")
	if err != nil || !deleted {
		t.Fatalf("delete analysis: deleted=%v err=%v", deleted, err)
	}
	if _, ok, _ := store.GetAnalysis(ctx, "a2"); ok {
		t.Fatal("expected a2 to be gone")
	}
	deleted, err = store.DeleteRecord(ctx, model.KindAnalysis, "a2")
	if err != nil || deleted {
		t.Fatalf("second delete should report not found: deleted=%v err=%v", deleted, err)
	}
	analyses, err = store.ListRecords(ctx, model.KindAnalysis, 0)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if ids(analyses) != "a1,a3" {
		t.Fatalf("unexpected listing after delete: %s", ids(analyses))
	}
}

func ids(summaries []model.RecordSummary) string {
	out := ""
	for i, s := range summaries {
		if i > 0 {
			out += ","
		}
		out += s.ID
	}
	return out
}
