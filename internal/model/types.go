package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"promptcompiler/internal/dynamics"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

type RecordKind string

const (
	KindAnalysis     RecordKind = "analysis"
	KindComparison   RecordKind = "comparison"
	KindOptimization RecordKind = "optimization"
	KindSnapshot     RecordKind = "snapshot"
)

var Kinds = []RecordKind{KindAnalysis, KindComparison, KindOptimization, KindSnapshot}

func ParseKind(s string) (RecordKind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown record kind: %q", s)
}

type AnalysisRecord struct {
	VersionedRecord
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	Prompt             string    `json:"prompt"`
	Task               string    `json:"task"`
	TaskTypes          []string  `json:"task_types,omitempty"`
	Rule               string    `json:"rule"`
	EffectivenessScore float64   `json:"effectiveness_score"`
	ConvergenceRate    float64   `json:"convergence_rate"`
	UpdateMagnitude    float64   `json:"update_magnitude"`
	IsStable           bool      `json:"is_stable"`
}

type ComparisonRecord struct {
	VersionedRecord
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	PromptA            string    `json:"prompt_a"`
	PromptB            string    `json:"prompt_b"`
	Task               string    `json:"task"`
	PromptAScore       float64   `json:"prompt_a_score"`
	PromptBScore       float64   `json:"prompt_b_score"`
	ConvergenceDiff    float64   `json:"convergence_diff"`
	EffectivenessRatio float64   `json:"effectiveness_ratio"`
	Winner             string    `json:"winner"`
	Confidence         float64   `json:"confidence"`
}

type OptimizationStepRecord struct {
	StepNumber         int      `json:"step_number"`
	Prompt             string   `json:"prompt"`
	EffectivenessScore float64  `json:"effectiveness_score"`
	UpdateMagnitude    float64  `json:"update_magnitude"`
	IsStable           bool     `json:"is_stable"`
	Suggestions        []string `json:"suggestions,omitempty"`
}

type OptimizationRecord struct {
	VersionedRecord
	ID                   string                   `json:"id"`
	CreatedAt            time.Time                `json:"created_at"`
	OriginalPrompt       string                   `json:"original_prompt"`
	FinalPrompt          string                   `json:"final_prompt"`
	Task                 string                   `json:"task"`
	Steps                []OptimizationStepRecord `json:"steps"`
	FinalConvergenceRate float64                  `json:"final_convergence_rate"`
	Converged            bool                     `json:"converged"`
	TotalImprovement     float64                  `json:"total_improvement"`
}

// WeightSnapshot is a persisted engine state. Data is row-major.
type WeightSnapshot struct {
	VersionedRecord
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Rows      int             `json:"rows"`
	Cols      int             `json:"cols"`
	Data      []float64       `json:"data"`
	Config    dynamics.Config `json:"config"`
}

// RecordSummary is the listing view shared by every record kind.
type RecordSummary struct {
	Kind      RecordKind `json:"kind"`
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Title     string     `json:"title"`
	Score     float64    `json:"score"`
}

// Stats counts stored records per kind.
type Stats struct {
	Backend string             `json:"backend"`
	Counts  map[RecordKind]int `json:"counts"`
}

// NewHeader returns a fresh id, the current UTC time and current versions.
func NewHeader() (VersionedRecord, string, time.Time) {
	return CurrentVersion(), uuid.NewString(), time.Now().UTC()
}

func (v VersionedRecord) Versions() VersionedRecord {
	return v
}
