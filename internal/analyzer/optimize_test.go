package analyzer

import (
	"errors"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestOptimizeStopsOnceStable(t *testing.T) {
	a := newTestAnalyzer(t)
	before := a.Weights()

	history, err := a.Optimize(badPrompt, marketTask, 6)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(history.Steps) != 4 {
		t.Fatalf("expected early stop after 4 steps, got=%d", len(history.Steps))
	}
	for i, step := range history.Steps {
		if step.StepNumber != i+1 {
			t.Fatalf("step %d numbered %d", i, step.StepNumber)
		}
		if len(step.Suggestions) == 0 {
			t.Fatalf("step %d has no suggestions", i)
		}
	}
	if history.Steps[0].Prompt != badPrompt || history.OriginalPrompt != badPrompt {
		t.Fatalf("unexpected first prompt: %q", history.Steps[0].Prompt)
	}
	if history.FinalPrompt != history.Steps[3].Prompt {
		t.Fatalf("final prompt should be the last analyzed prompt")
	}
	if !strings.Contains(strings.ToLower(history.FinalPrompt), "steps") {
		t.Fatalf("expected rewritten prompt, got %q", history.FinalPrompt)
	}
	if history.TotalImprovement <= 0 {
		t.Fatalf("expected positive improvement, got=%f", history.TotalImprovement)
	}
	if history.FinalConvergenceRate < 0 || history.FinalConvergenceRate > 1 {
		t.Fatalf("rate out of range: %f", history.FinalConvergenceRate)
	}
	if !mat.Equal(before, a.Weights()) {
		t.Fatal("expected weights restored after optimization")
	}
}

func TestOptimizeSingleStep(t *testing.T) {
	a := newTestAnalyzer(t)
	history, err := a.Optimize(badPrompt, marketTask, 1)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(history.Steps) != 1 || history.FinalPrompt != badPrompt || history.TotalImprovement != 0 {
		t.Fatalf("unexpected single-step history: %+v", history)
	}
	if _, err := a.Optimize(badPrompt, marketTask, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func kinds(s []Suggestion) []SuggestionKind {
	out := make([]SuggestionKind, len(s))
	for i := range s {
		out[i] = s[i].Kind
	}
	return out
}

func TestSuggestions(t *testing.T) {
	got := kinds(Suggestions("Please follow the detailed steps", Analysis{EffectivenessScore: 0.5, UpdateMagnitude: 0.5}))
	if len(got) != 1 || got[0] != SuggestNone {
		t.Fatalf("expected only the no-op suggestion, got %v", got)
	}

	got = kinds(Suggestions("do it", Analysis{EffectivenessScore: 0.1, UpdateMagnitude: 2}))
	want := []SuggestionKind{SuggestStructure, SuggestStepGuide, SuggestSimplify, SuggestPoliteness, SuggestSpecificity, SuggestSteps}
	if len(got) != len(want) {
		t.Fatalf("unexpected suggestions: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("suggestion %d: got=%s want=%s", i, got[i], want[i])
		}
	}
}

func TestApplySuggestions(t *testing.T) {
	cases := []struct {
		prompt string
		kind   SuggestionKind
		want   string
	}{
		{"analyze this", SuggestPoliteness, "Please analyze this"},
		{"please analyze this", SuggestPoliteness, "please analyze this"},
		{"analyze this", SuggestSpecificity, "Please provide a detailed analyze this"},
		{"a detailed analysis", SuggestSpecificity, "a detailed specific analysis"},
		{"x", SuggestSteps, "Please follow these steps for x: 1) Understand requirements 2) Analyze problem 3) Provide results"},
		{"three steps", SuggestStepGuide, "three steps"},
		{"keep me", SuggestSimplify, "keep me"},
	}
	for _, tc := range cases {
		got := ApplySuggestions(tc.prompt, []Suggestion{{Kind: tc.kind}})
		if got != tc.want {
			t.Fatalf("%s on %q: got=%q want=%q", tc.kind, tc.prompt, got, tc.want)
		}
	}
}
