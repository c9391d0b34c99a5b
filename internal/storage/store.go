package storage

import (
	"context"

	"promptcompiler/internal/model"
)

// Store defines persistence for analysis results and weight snapshots.
// Lookups report a missing record with ok=false rather than an error.
type Store interface {
	Init(ctx context.Context) error
	SaveAnalysis(ctx context.Context, record model.AnalysisRecord) error
	GetAnalysis(ctx context.Context, id string) (model.AnalysisRecord, bool, error)
	SaveComparison(ctx context.Context, record model.ComparisonRecord) error
	GetComparison(ctx context.Context, id string) (model.ComparisonRecord, bool, error)
	SaveOptimization(ctx context.Context, record model.OptimizationRecord) error
	GetOptimization(ctx context.Context, id string) (model.OptimizationRecord, bool, error)
	SaveSnapshot(ctx context.Context, snapshot model.WeightSnapshot) error
	GetSnapshot(ctx context.Context, id string) (model.WeightSnapshot, bool, error)
	// ListRecords returns summaries newest first. An empty kind lists every
	// kind; limit <= 0 means no limit.
	ListRecords(ctx context.Context, kind model.RecordKind, limit int) ([]model.RecordSummary, error)
	DeleteRecord(ctx context.Context, kind model.RecordKind, id string) (bool, error)
	Stats(ctx context.Context) (model.Stats, error)
}
