package analyzer

import (
	"fmt"

	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/linalg"
)

// StepScore summarizes one update of a trajectory.
type StepScore struct {
	Index              int       `json:"index"`
	EffectivenessScore float64   `json:"effectiveness_score"`
	UpdateMagnitude    float64   `json:"update_magnitude"`
	Attention          []float64 `json:"attention,omitempty"`
}

type SequenceAnalysis struct {
	Segments          []string                   `json:"segments,omitempty"`
	Steps             []StepScore                `json:"steps"`
	Convergence       dynamics.ConvergenceResult `json:"convergence"`
	MeanEffectiveness float64                    `json:"mean_effectiveness"`
	Rule              string                     `json:"rule"`
}

// AnalyzeSequence applies one update per segment against the task target and
// judges the convergence of the resulting trajectory.
func (a *Analyzer) AnalyzeSequence(segments []string, task string) (SequenceAnalysis, error) {
	if len(segments) == 0 {
		return SequenceAnalysis{}, fmt.Errorf("%w: no prompt segments", ErrInvalidInput)
	}
	contexts := a.enc.EncodeSequence(segments)
	target := a.enc.EncodeTask(task)

	snapshot := a.engine.Weights()
	defer a.restore(snapshot)

	updates, err := a.engine.ComputeSequentialUpdates(contexts, target)
	if err != nil {
		return SequenceAnalysis{}, err
	}
	out := summarize(updates, a.convergence, a.engine.Rule())
	out.Segments = append([]string(nil), segments...)
	return out, nil
}

// TrajectoryRequest drives a raw-vector run on a dedicated engine.
type TrajectoryRequest struct {
	Config   dynamics.Config `json:"config"`
	Contexts [][]float64     `json:"contexts"`
	Target   []float64       `json:"target"`
	// Attended folds all contexts into one softmax-weighted step.
	Attended  bool    `json:"attended"`
	Threshold float64 `json:"threshold,omitempty"`
}

type TrajectoryResult struct {
	SequenceAnalysis
	ContextDim int                 `json:"context_dim"`
	TaskDim    int                 `json:"task_dim"`
	Weights    linalg.MatrixRecord `json:"weights"`
}

// Trajectory runs the request on a fresh zero-weight engine sized from the
// first context and the target.
func Trajectory(req TrajectoryRequest) (TrajectoryResult, error) {
	if len(req.Contexts) == 0 {
		return TrajectoryResult{}, fmt.Errorf("%w: no contexts", ErrInvalidInput)
	}
	contextDim := len(req.Contexts[0])
	engine, err := dynamics.New(contextDim, len(req.Target), req.Config)
	if err != nil {
		return TrajectoryResult{}, err
	}

	contexts := make([]linalg.Vector, len(req.Contexts))
	for i, c := range req.Contexts {
		contexts[i] = linalg.Vector(c)
	}
	target := linalg.Vector(req.Target)

	var updates []dynamics.WeightUpdate
	if req.Attended {
		update, err := engine.AttendedUpdateStep(contexts, target)
		if err != nil {
			return TrajectoryResult{}, err
		}
		updates = []dynamics.WeightUpdate{update}
	} else {
		updates, err = engine.ComputeSequentialUpdates(contexts, target)
		if err != nil {
			return TrajectoryResult{}, err
		}
	}

	convergence := dynamics.ConvergenceAnalyzer{Threshold: req.Threshold}
	return TrajectoryResult{
		SequenceAnalysis: summarize(updates, convergence, engine.Rule()),
		ContextDim:       contextDim,
		TaskDim:          len(req.Target),
		Weights:          linalg.RecordOf(engine.Weights()),
	}, nil
}

func summarize(updates []dynamics.WeightUpdate, convergence dynamics.ConvergenceAnalyzer, rule string) SequenceAnalysis {
	steps := make([]StepScore, len(updates))
	total := 0.0
	for i, u := range updates {
		score := u.EffectivenessScore()
		total += score
		steps[i] = StepScore{
			Index:              i,
			EffectivenessScore: score,
			UpdateMagnitude:    u.Magnitude(),
			Attention:          u.Attention,
		}
	}
	mean := 0.0
	if len(updates) > 0 {
		mean = total / float64(len(updates))
	}
	return SequenceAnalysis{
		Steps:             steps,
		Convergence:       convergence.Predict(updates),
		MeanEffectiveness: mean,
		Rule:              rule,
	}
}
