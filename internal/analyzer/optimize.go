package analyzer

import (
	"fmt"
	"math"
	"strings"

	"promptcompiler/internal/dynamics"
)

const (
	lowEffectiveness = 0.3
	highMagnitude    = 1.0
	// earlyStopStep is the last step index that never stops early.
	earlyStopStep = 2
)

// SuggestionKind identifies a rewrite ApplySuggestions knows how to perform.
type SuggestionKind string

const (
	SuggestStructure   SuggestionKind = "structure"
	SuggestStepGuide   SuggestionKind = "step_guide"
	SuggestSimplify    SuggestionKind = "simplify"
	SuggestPoliteness  SuggestionKind = "politeness"
	SuggestSpecificity SuggestionKind = "specificity"
	SuggestSteps       SuggestionKind = "steps"
	SuggestNone        SuggestionKind = "none"
)

type Suggestion struct {
	Kind SuggestionKind `json:"kind"`
	Text string         `json:"text"`
}

type OptimizationStep struct {
	StepNumber  int          `json:"step_number"`
	Prompt      string       `json:"prompt"`
	Analysis    Analysis     `json:"analysis"`
	Suggestions []Suggestion `json:"suggestions"`
}

type OptimizationHistory struct {
	OriginalPrompt       string             `json:"original_prompt"`
	Task                 string             `json:"task"`
	FinalPrompt          string             `json:"final_prompt"`
	Steps                []OptimizationStep `json:"steps"`
	FinalConvergenceRate float64            `json:"final_convergence_rate"`
	Converged            bool               `json:"converged"`
	// TotalImprovement is the relative change in effectiveness between the
	// first and last step, in percent.
	TotalImprovement float64 `json:"total_improvement"`
}

// Optimize rewrites prompt for up to maxSteps rounds. Each round analyzes the
// current prompt, records suggestions, feeds the prompt into the trajectory
// and rewrites it. A round after the third that analyzes as stable ends the
// run.
func (a *Analyzer) Optimize(prompt, task string, maxSteps int) (OptimizationHistory, error) {
	if maxSteps < 1 {
		return OptimizationHistory{}, fmt.Errorf("%w: max steps must be >= 1, got %d", ErrInvalidInput, maxSteps)
	}

	snapshot := a.engine.Weights()
	defer a.restore(snapshot)

	current := prompt
	steps := make([]OptimizationStep, 0, maxSteps)
	updates := make([]dynamics.WeightUpdate, 0, maxSteps)

	for step := 0; step < maxSteps; step++ {
		analysis, err := a.AnalyzePrompt(current, task)
		if err != nil {
			return OptimizationHistory{}, fmt.Errorf("step %d: %w", step+1, err)
		}
		suggestions := Suggestions(current, analysis)
		steps = append(steps, OptimizationStep{
			StepNumber:  step + 1,
			Prompt:      current,
			Analysis:    analysis,
			Suggestions: suggestions,
		})

		update, err := a.Observe(current, task)
		if err != nil {
			return OptimizationHistory{}, fmt.Errorf("step %d: %w", step+1, err)
		}
		updates = append(updates, update)

		if analysis.IsStable && step > earlyStopStep {
			break
		}
		if step < maxSteps-1 {
			current = ApplySuggestions(current, suggestions)
		}
	}

	convergence := a.convergence.Predict(updates)
	initial := steps[0].Analysis.EffectivenessScore
	final := steps[len(steps)-1].Analysis.EffectivenessScore

	return OptimizationHistory{
		OriginalPrompt:       prompt,
		Task:                 task,
		FinalPrompt:          steps[len(steps)-1].Prompt,
		Steps:                steps,
		FinalConvergenceRate: convergence.ConvergenceRate,
		Converged:            convergence.IsConverged,
		TotalImprovement:     (final - initial) / math.Max(initial, 0.001) * 100,
	}, nil
}

// Suggestions lists rewrites for prompt given its analysis. It always
// returns at least one entry.
func Suggestions(prompt string, analysis Analysis) []Suggestion {
	lower := strings.ToLower(prompt)
	var out []Suggestion

	if analysis.EffectivenessScore < lowEffectiveness {
		out = append(out,
			Suggestion{SuggestStructure, "Add a clearer instruction structure"},
			Suggestion{SuggestStepGuide, "Use guiding words like 'Please follow these steps'"},
		)
	}
	if analysis.UpdateMagnitude > highMagnitude {
		out = append(out, Suggestion{SuggestSimplify, "Simplify the prompt, avoid excessive complexity"})
	}
	if !strings.Contains(lower, "please") && !strings.Contains(lower, "could you") {
		out = append(out, Suggestion{SuggestPoliteness, "Add polite language to enhance guidance"})
	}
	if !strings.Contains(lower, "detailed") && !strings.Contains(lower, "specific") {
		out = append(out, Suggestion{SuggestSpecificity, "Add 'detailed' or 'specific' requirements for clarity"})
	}
	if !strings.Contains(lower, "steps") && !strings.Contains(lower, "follow") {
		out = append(out, Suggestion{SuggestSteps, "Add step-by-step instructions to improve structure"})
	}
	if len(out) == 0 {
		out = append(out, Suggestion{SuggestNone, "The current prompt is already quite good"})
	}
	return out
}

// ApplySuggestions performs the textual rewrites for the suggestion kinds
// that have one. Structure and simplification advice is left to the author.
func ApplySuggestions(prompt string, suggestions []Suggestion) string {
	improved := prompt
	for _, s := range suggestions {
		lower := strings.ToLower(improved)
		switch s.Kind {
		case SuggestStepGuide, SuggestSteps:
			if !strings.Contains(lower, "steps") {
				improved = fmt.Sprintf("Please follow these steps for %s: 1) Understand requirements 2) Analyze problem 3) Provide results", improved)
			}
		case SuggestSpecificity:
			switch {
			case !strings.Contains(lower, "detailed"):
				improved = "Please provide a detailed " + improved
			case !strings.Contains(lower, "specific"):
				improved = strings.ReplaceAll(improved, "analysis", "specific analysis")
			}
		case SuggestPoliteness:
			if !strings.Contains(lower, "please") {
				improved = "Please " + improved
			}
		}
	}
	return improved
}
