// Package encoder turns prompt and task text into the fixed-length feature
// vectors consumed by the dynamics engine. The features are keyword
// heuristics, not embeddings.
package encoder

import (
	"math"
	"strings"
	"unicode/utf8"

	"promptcompiler/internal/linalg"
)

const (
	PromptDim = 16
	TaskDim   = 8

	maxLengthFeature = 3.0
	lengthScale      = 100.0
)

// promptMarkers are counted in order after the length feature.
var promptMarkers = [PromptDim - 1]string{
	// structure
	"step", "follow", "first", "then",
	// politeness
	"please", "could you",
	// specificity
	"detailed", "specific", "clear",
	// expertise
	"as a", "expert", "according to",
	// examples and format
	"for example", "format", "e.g.",
}

// taskTypes maps each task feature to the stems that switch it on.
var taskTypes = [TaskDim][]string{
	{"analy"},
	{"translat"},
	{"summar"},
	{"creat", "writ"},
	{"answer"},
	{"explain"},
	{"compar"},
	{"evaluat", "assess"},
}

var taskTypeNames = [TaskDim]string{
	"analyze", "translate", "summarize", "create", "answer", "explain", "compare", "evaluate",
}

type Config struct {
	// Positional adds a sinusoidal position signal to each segment
	// returned by EncodeSequence.
	Positional bool `json:"positional" yaml:"positional"`
}

type Encoder struct {
	cfg Config
}

func New(cfg Config) *Encoder {
	return &Encoder{cfg: cfg}
}

func (e *Encoder) Config() Config {
	return e.cfg
}

func (e *Encoder) PromptDim() int {
	return PromptDim
}

func (e *Encoder) TaskDim() int {
	return TaskDim
}

// EncodePrompt returns the normalized length followed by the occurrence count
// of each marker phrase. Matching is case-insensitive.
func (e *Encoder) EncodePrompt(text string) linalg.Vector {
	lower := strings.ToLower(text)
	features := linalg.NewVector(PromptDim)
	features[0] = math.Min(float64(utf8.RuneCountInString(text))/lengthScale, maxLengthFeature)
	for i, marker := range promptMarkers {
		features[i+1] = float64(strings.Count(lower, marker))
	}
	return features
}

// EncodeTask returns one binary feature per task type.
func (e *Encoder) EncodeTask(text string) linalg.Vector {
	lower := strings.ToLower(text)
	features := linalg.NewVector(TaskDim)
	for i, stems := range taskTypes {
		for _, stem := range stems {
			if strings.Contains(lower, stem) {
				features[i] = 1
				break
			}
		}
	}
	return features
}

// TaskTypes lists the task types detected in text.
func (e *Encoder) TaskTypes(text string) []string {
	var out []string
	for i, v := range e.EncodeTask(text) {
		if v > 0 {
			out = append(out, taskTypeNames[i])
		}
	}
	return out
}

// EncodeSequence encodes each segment as a prompt. With Positional set, the
// segment at index i carries position i.
func (e *Encoder) EncodeSequence(segments []string) []linalg.Vector {
	out := make([]linalg.Vector, len(segments))
	for i, segment := range segments {
		v := e.EncodePrompt(segment)
		if e.cfg.Positional {
			v = PositionalEncoding(v, i)
		}
		out[i] = v
	}
	return out
}

// PositionalEncoding returns a copy of v with the transformer sinusoid for
// position added: sin on even indices, cos on odd ones.
func PositionalEncoding(v linalg.Vector, position int) linalg.Vector {
	out := v.Clone()
	d := float64(len(v))
	for i := range out {
		angle := float64(position) / math.Pow(10000, 2*float64(i)/d)
		if i%2 == 0 {
			out[i] += math.Sin(angle)
		} else {
			out[i] += math.Cos(angle)
		}
	}
	return out
}

// SplitSegments breaks a prompt into sentence-like segments for sequential
// analysis. Empty segments are dropped.
func SplitSegments(prompt string) []string {
	fields := strings.FieldsFunc(prompt, func(r rune) bool {
		switch r {
		case '.', '!', '?', ';', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	return out
}
