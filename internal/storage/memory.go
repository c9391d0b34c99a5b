package storage

import (
	"context"
	"errors"
	"sync"

	"promptcompiler/internal/model"
)

type MemoryStore struct {
	mu            sync.RWMutex
	initialized   bool
	analyses      map[string]model.AnalysisRecord
	comparisons   map[string]model.ComparisonRecord
	optimizations map[string]model.OptimizationRecord
	snapshots     map[string]model.WeightSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.analyses = make(map[string]model.AnalysisRecord)
	s.comparisons = make(map[string]model.ComparisonRecord)
	s.optimizations = make(map[string]model.OptimizationRecord)
	s.snapshots = make(map[string]model.WeightSnapshot)
	return nil
}

func (s *MemoryStore) SaveAnalysis(_ context.Context, record model.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	record.TaskTypes = append([]string(nil), record.TaskTypes...)
	s.analyses[record.ID] = record
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, id string) (model.AnalysisRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.analyses[id]
	if !ok {
		return model.AnalysisRecord{}, false, nil
	}
	record.TaskTypes = append([]string(nil), record.TaskTypes...)
	return record, true, nil
}

func (s *MemoryStore) SaveComparison(_ context.Context, record model.ComparisonRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.comparisons[record.ID] = record
	return nil
}

func (s *MemoryStore) GetComparison(_ context.Context, id string) (model.ComparisonRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.comparisons[id]
	return record, ok, nil
}

func (s *MemoryStore) SaveOptimization(_ context.Context, record model.OptimizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.optimizations[record.ID] = copyOptimization(record)
	return nil
}

func (s *MemoryStore) GetOptimization(_ context.Context, id string) (model.OptimizationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.optimizations[id]
	if !ok {
		return model.OptimizationRecord{}, false, nil
	}
	return copyOptimization(record), true, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot model.WeightSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if len(snapshot.Data) != snapshot.Rows*snapshot.Cols {
		return errors.New("snapshot data does not match its shape")
	}
	snapshot.Data = append([]float64(nil), snapshot.Data...)
	s.snapshots[snapshot.ID] = snapshot
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, id string) (model.WeightSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[id]
	if !ok {
		return model.WeightSnapshot{}, false, nil
	}
	snapshot.Data = append([]float64(nil), snapshot.Data...)
	return snapshot, true, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, kind model.RecordKind, limit int) ([]model.RecordSummary, error) {
	kinds, err := kindsFor(kind)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RecordSummary
	for _, k := range kinds {
		switch k {
		case model.KindAnalysis:
			for _, r := range s.analyses {
				out = append(out, r.Summary())
			}
		case model.KindComparison:
			for _, r := range s.comparisons {
				out = append(out, r.Summary())
			}
		case model.KindOptimization:
			for _, r := range s.optimizations {
				out = append(out, r.Summary())
			}
		case model.KindSnapshot:
			for _, r := range s.snapshots {
				out = append(out, r.Summary())
			}
		}
	}
	sortSummaries(out)
	return truncate(out, limit), nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, kind model.RecordKind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	switch kind {
	case model.KindAnalysis:
		_, found = s.analyses[id]
		delete(s.analyses, id)
	case model.KindComparison:
		_, found = s.comparisons[id]
		delete(s.comparisons, id)
	case model.KindOptimization:
		_, found = s.optimizations[id]
		delete(s.optimizations, id)
	case model.KindSnapshot:
		_, found = s.snapshots[id]
		delete(s.snapshots, id)
	default:
		_, err := model.ParseKind(string(kind))
		return false, err
	}
	return found, nil
}

func (s *MemoryStore) Stats(_ context.Context) (model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.Stats{
		Backend: "memory",
		Counts: map[model.RecordKind]int{
			model.KindAnalysis:     len(s.analyses),
			model.KindComparison:   len(s.comparisons),
			model.KindOptimization: len(s.optimizations),
			model.KindSnapshot:     len(s.snapshots),
		},
	}, nil
}

func copyOptimization(record model.OptimizationRecord) model.OptimizationRecord {
	steps := make([]model.OptimizationStepRecord, len(record.Steps))
	for i, step := range record.Steps {
		step.Suggestions = append([]string(nil), step.Suggestions...)
		steps[i] = step
	}
	record.Steps = steps
	return record
}
