package stats

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"promptcompiler/internal/analyzer"
	"promptcompiler/internal/encoder"
)

type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
)

type PromptCategory string

const (
	CategorySimple       PromptCategory = "simple"
	CategoryStructured   PromptCategory = "structured"
	CategoryProfessional PromptCategory = "professional"
	CategoryComplex      PromptCategory = "complex"
	CategoryCreative     PromptCategory = "creative"
	CategoryAnalytical   PromptCategory = "analytical"
)

// learningRate is the per-category deep convergence learning rate.
func (c PromptCategory) learningRate() float64 {
	switch c {
	case CategorySimple:
		return 0.03
	case CategoryStructured:
		return 0.05
	case CategoryProfessional:
		return 0.08
	case CategoryComplex:
		return 0.1
	case CategoryCreative:
		return 0.06
	case CategoryAnalytical:
		return 0.07
	default:
		return analyzer.DefaultDeepConfig().LearningRate
	}
}

type QualityCase struct {
	Name     string         `json:"name" yaml:"name"`
	Prompt   string         `json:"prompt" yaml:"prompt"`
	Task     string         `json:"task" yaml:"task"`
	Expected QualityLevel   `json:"expected_quality" yaml:"expected_quality"`
	Category PromptCategory `json:"category" yaml:"category"`
}

type QualityResult struct {
	Case               QualityCase                  `json:"case"`
	Analysis           analyzer.DetailedConvergence `json:"analysis"`
	QualityScore       float64                      `json:"quality_score"`
	Rating             QualityLevel                 `json:"rating"`
	MatchesExpectation bool                         `json:"matches_expectation"`
	Recommendations    []string                     `json:"recommendations"`
}

type QualityReport struct {
	Results    []QualityResult            `json:"results"`
	MeanScore  float64                    `json:"mean_score"`
	MatchRate  float64                    `json:"match_rate"`
	ByCategory map[PromptCategory]float64 `json:"by_category"`
	Curves     QualityCurves              `json:"curves"`
}

type QualityConfig struct {
	Cases         []QualityCase `json:"cases,omitempty"`
	MaxIterations int           `json:"max_iterations"`
	Workers       int           `json:"workers"`
}

func DefaultQualityCases() []QualityCase {
	return []QualityCase{
		{Name: "simple_analysis", Prompt: "analyze data", Task: "data analysis", Expected: QualityPoor, Category: CategorySimple},
		{Name: "basic_request", Prompt: "write code", Task: "programming task", Expected: QualityPoor, Category: CategorySimple},
		{
			Name:     "structured_analysis",
			Prompt:   "Please analyze following these steps: 1) Understand the problem 2) Collect data 3) Draw conclusions",
			Task:     "data analysis",
			Expected: QualityGood,
			Category: CategoryStructured,
		},
		{
			Name:     "formatted_response",
			Prompt:   "Please answer in this format:\nQuestion: [restate the question]\nAnalysis: [detailed analysis]\nConclusion: [clear conclusion]",
			Task:     "answer the question",
			Expected: QualityGood,
			Category: CategoryStructured,
		},
		{
			Name:     "professional_analyst",
			Prompt:   "As a professional data analyst, please analyze user behavior patterns in detail and provide actionable recommendations",
			Task:     "user behavior analysis",
			Expected: QualityGood,
			Category: CategoryProfessional,
		},
		{
			Name:     "expert_consultant",
			Prompt:   "As a senior technical consultant, please evaluate the feasibility of the proposal and give optimization suggestions",
			Task:     "technical consulting",
			Expected: QualityGood,
			Category: CategoryProfessional,
		},
		{
			Name:     "complex_workflow",
			Prompt:   "As a professional analyst, please analyze user behavior patterns in detail, identify key trends, evaluate potential risks, then create a specific optimization strategy and implementation plan",
			Task:     "comprehensive analysis",
			Expected: QualityFair,
			Category: CategoryComplex,
		},
		{
			Name:     "structured_market_analysis",
			Prompt:   "Please analyze following the steps: 1) Understand the problem background 2) List key points 3) Provide specific conclusions",
			Task:     "analyze market trends",
			Expected: QualityExcellent,
			Category: CategoryStructured,
		},
		{
			Name:     "customer_service",
			Prompt:   "As a professional customer service representative, please handle the inquiry following these steps: 1) Greet the customer and confirm the issue 2) Understand their needs in detail 3) Provide a specific solution 4) Confirm satisfaction and record feedback. Stay patient and clear throughout.",
			Task:     "customer service",
			Expected: QualityExcellent,
			Category: CategoryProfessional,
		},
		{
			Name:     "creative_writing",
			Prompt:   "Please write an engaging story with: 1) a clear protagonist 2) a gripping opening 3) a coherent plot 4) an unexpected twist 5) a satisfying ending. Keep the style vivid and under 800 words.",
			Task:     "creative writing",
			Expected: QualityGood,
			Category: CategoryCreative,
		},
		{
			Name:     "code_review",
			Prompt:   "As a senior software engineer, please review the code against these criteria: 1) check logic correctness 2) evaluate performance and security 3) verify style and readability 4) propose specific improvements 5) give an overall score with reasons. Use precise terminology and provide actionable fixes.",
			Task:     "evaluate code quality",
			Expected: QualityExcellent,
			Category: CategoryProfessional,
		},
		{
			Name:     "critical_thinking",
			Prompt:   "Please apply critical thinking to the problem: 1) identify the core issue and key assumptions 2) gather relevant data and evidence 3) consider multiple perspectives and biases 4) reason to a conclusion 5) assess its reliability and limits.",
			Task:     "critical analysis",
			Expected: QualityGood,
			Category: CategoryAnalytical,
		},
		{Name: "poor_quality_example", Prompt: "do it", Task: "unspecified task", Expected: QualityPoor, Category: CategorySimple},
	}
}

// RunQualityBenchmark runs deep convergence for every case and grades the
// resulting trajectory.
func RunQualityBenchmark(ctx context.Context, cfg QualityConfig) (QualityReport, error) {
	cases := cfg.Cases
	if len(cases) == 0 {
		cases = DefaultQualityCases()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 30
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	enc := encoder.New(encoder.Config{})
	results := make([]QualityResult, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, c := range cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			deep := analyzer.DeepConfig{
				LearningRate:           c.Category.learningRate(),
				RegularizationStrength: 0.05,
				MaxIterations:          cfg.MaxIterations,
				Threshold:              0.01,
				AdaptiveLearningRate:   true,
			}
			analysis, err := analyzer.DeepConvergence(enc, deep, c.Prompt, c.Task)
			if err != nil {
				return fmt.Errorf("case %s: %w", c.Name, err)
			}
			results[i] = gradeCase(c, analysis)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return QualityReport{}, err
	}
	return summarizeQuality(results), nil
}

func gradeCase(c QualityCase, analysis analyzer.DetailedConvergence) QualityResult {
	score := QualityScore(analysis)
	rating := RateQuality(score)
	return QualityResult{
		Case:               c,
		Analysis:           analysis,
		QualityScore:       score,
		Rating:             rating,
		MatchesExpectation: MatchesExpectation(c.Expected, rating),
		Recommendations:    recommendations(analysis.Type, c.Category),
	}
}

// QualityScore combines convergence success, convergence type, peak
// effectiveness, speed and gradient stability into a score in [0, 1].
func QualityScore(a analyzer.DetailedConvergence) float64 {
	score := 0.0

	switch {
	case a.Converged:
		score += 0.35
	case a.FinalConvergenceRate > 0.3:
		score += 0.25
	case a.FinalConvergenceRate > 0.1:
		score += 0.15
	}

	switch a.Type {
	case analyzer.ConvergenceRapid:
		score += 0.30
	case analyzer.ConvergenceSteady:
		score += 0.28
	case analyzer.ConvergenceSlow:
		score += 0.22
	case analyzer.ConvergenceOscillating:
		score += 0.15
	case analyzer.ConvergenceStable:
		score += 0.10
	}

	if len(a.EffectivenessScores) > 0 {
		score += min(slices.Max(a.EffectivenessScores)*2.5, 0.20)
	}

	if a.ConvergenceSteps > 0 {
		switch {
		case a.ConvergenceSteps <= 3:
			score += 0.10
		case a.ConvergenceSteps <= 10:
			score += 0.08
		case a.ConvergenceSteps <= 20:
			score += 0.05
		default:
			score += 0.02
		}
	}

	if len(a.GradientNorms) > 3 {
		_, variance := stat.PopMeanVariance(a.GradientNorms, nil)
		switch {
		case variance < 0.001:
			score += 0.05
		case variance < 0.01:
			score += 0.03
		case variance < 0.05:
			score += 0.01
		}
	}

	return max(0, min(score, 1))
}

func RateQuality(score float64) QualityLevel {
	switch {
	case score >= 0.75:
		return QualityExcellent
	case score >= 0.55:
		return QualityGood
	case score >= 0.35:
		return QualityFair
	default:
		return QualityPoor
	}
}

// MatchesExpectation accepts any rating at or above the expected level.
// Cases expected to be poor always match.
func MatchesExpectation(expected, actual QualityLevel) bool {
	rank := map[QualityLevel]int{QualityPoor: 0, QualityFair: 1, QualityGood: 2, QualityExcellent: 3}
	if expected == QualityPoor {
		return true
	}
	return rank[actual] >= rank[expected]
}

func recommendations(kind analyzer.ConvergenceType, category PromptCategory) []string {
	var out []string
	switch kind {
	case analyzer.ConvergenceDiverging:
		out = append(out, "diverging: simplify the prompt", "lower the learning rate or raise regularization")
	case analyzer.ConvergenceStable:
		out = append(out, "not fully converged: raise the iteration budget or adjust the learning rate")
	case analyzer.ConvergenceSlow:
		out = append(out, "slow convergence: tighten the prompt structure")
	case analyzer.ConvergenceOscillating:
		out = append(out, "oscillating: lower the learning rate or raise regularization")
	default:
		out = append(out, "converges well")
	}
	switch category {
	case CategorySimple:
		out = append(out, "simple instruction: add detail and structure")
	case CategoryComplex:
		out = append(out, "complex instruction: split it into smaller steps")
	}
	return out
}

func summarizeQuality(results []QualityResult) QualityReport {
	report := QualityReport{Results: results, ByCategory: map[PromptCategory]float64{}}
	if len(results) == 0 {
		return report
	}
	scores := make([]float64, len(results))
	perCategory := map[PromptCategory][]float64{}
	matched := 0
	for i, r := range results {
		scores[i] = r.QualityScore
		perCategory[r.Case.Category] = append(perCategory[r.Case.Category], r.QualityScore)
		if r.MatchesExpectation {
			matched++
		}
	}
	report.MeanScore = stat.Mean(scores, nil)
	report.MatchRate = float64(matched) / float64(len(results))
	for category, values := range perCategory {
		report.ByCategory[category] = stat.Mean(values, nil)
	}
	report.Curves = buildQualityCurves(results)
	return report
}
