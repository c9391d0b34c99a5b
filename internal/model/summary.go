package model

import "unicode/utf8"

const titleLimit = 60

func (r AnalysisRecord) Summary() RecordSummary {
	return RecordSummary{Kind: KindAnalysis, ID: r.ID, CreatedAt: r.CreatedAt, Title: Title(r.Prompt), Score: r.EffectivenessScore}
}

func (r ComparisonRecord) Summary() RecordSummary {
	return RecordSummary{
		Kind:      KindComparison,
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Title:     Title(r.PromptA) + " vs " + Title(r.PromptB),
		Score:     r.Confidence,
	}
}

func (r OptimizationRecord) Summary() RecordSummary {
	return RecordSummary{Kind: KindOptimization, ID: r.ID, CreatedAt: r.CreatedAt, Title: Title(r.OriginalPrompt), Score: r.TotalImprovement}
}

func (s WeightSnapshot) Summary() RecordSummary {
	title := s.Name
	if title == "" {
		title = s.ID
	}
	return RecordSummary{Kind: KindSnapshot, ID: s.ID, CreatedAt: s.CreatedAt, Title: title}
}

// Title shortens text to a single display line.
func Title(text string) string {
	if utf8.RuneCountInString(text) <= titleLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleLimit-3]) + "..."
}
