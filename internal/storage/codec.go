package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"promptcompiler/internal/model"
)

const (
	CurrentSchemaVersion = model.CurrentSchemaVersion
	CurrentCodecVersion  = model.CurrentCodecVersion
)

var ErrVersionMismatch = errors.New("record version mismatch")

type versioned interface {
	Versions() model.VersionedRecord
}

func EncodeAnalysis(r model.AnalysisRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeAnalysis(data []byte) (model.AnalysisRecord, error) {
	return decode[model.AnalysisRecord](data)
}

func EncodeComparison(r model.ComparisonRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeComparison(data []byte) (model.ComparisonRecord, error) {
	return decode[model.ComparisonRecord](data)
}

func EncodeOptimization(r model.OptimizationRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeOptimization(data []byte) (model.OptimizationRecord, error) {
	return decode[model.OptimizationRecord](data)
}

func EncodeSnapshot(s model.WeightSnapshot) ([]byte, error) {
	if len(s.Data) != s.Rows*s.Cols {
		return nil, fmt.Errorf("snapshot %s: %d values for %dx%d", s.ID, len(s.Data), s.Rows, s.Cols)
	}
	return json.Marshal(s)
}

func DecodeSnapshot(data []byte) (model.WeightSnapshot, error) {
	snapshot, err := decode[model.WeightSnapshot](data)
	if err != nil {
		return model.WeightSnapshot{}, err
	}
	if len(snapshot.Data) != snapshot.Rows*snapshot.Cols {
		return model.WeightSnapshot{}, fmt.Errorf("snapshot %s: %d values for %dx%d", snapshot.ID, len(snapshot.Data), snapshot.Rows, snapshot.Cols)
	}
	return snapshot, nil
}

func decode[T versioned](data []byte) (T, error) {
	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		var zero T
		return zero, err
	}
	if err := checkVersion(record.Versions()); err != nil {
		var zero T
		return zero, err
	}
	return record, nil
}

// DecodeSummary decodes a payload of the given kind into its listing view.
func DecodeSummary(kind model.RecordKind, data []byte) (model.RecordSummary, error) {
	switch kind {
	case model.KindAnalysis:
		r, err := DecodeAnalysis(data)
		return r.Summary(), err
	case model.KindComparison:
		r, err := DecodeComparison(data)
		return r.Summary(), err
	case model.KindOptimization:
		r, err := DecodeOptimization(data)
		return r.Summary(), err
	case model.KindSnapshot:
		r, err := DecodeSnapshot(data)
		return r.Summary(), err
	default:
		return model.RecordSummary{}, fmt.Errorf("unknown record kind: %q", kind)
	}
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// sortSummaries orders newest first, breaking ties by id.
func sortSummaries(summaries []model.RecordSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].ID > summaries[j].ID
	})
}

func truncate(summaries []model.RecordSummary, limit int) []model.RecordSummary {
	if limit > 0 && len(summaries) > limit {
		return summaries[:limit]
	}
	return summaries
}

func kindsFor(kind model.RecordKind) ([]model.RecordKind, error) {
	if kind == "" {
		return model.Kinds, nil
	}
	if _, err := model.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	return []model.RecordKind{kind}, nil
}
