package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"promptcompiler/internal/analyzer"
	"promptcompiler/internal/model"
	promptapi "promptcompiler/pkg/promptcompiler"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		task  string
		learn bool
	)
	cmd := &cobra.Command{
		Use:   "analyze PROMPT",
		Short: "Score one prompt against a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.Analyze(cmd.Context(), promptapi.AnalyzeRequest{Prompt: args[0], Task: task, Learn: learn})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(result)
			}
			an := result.Analysis
			a.printf("analysis=%s rule=%s task_types=%s\n", result.ID, result.Rule, strings.Join(result.TaskTypes, ","))
			a.printf("effectiveness=%.4f convergence=%.4f magnitude=%.4f stable=%s\n",
				an.EffectivenessScore, an.ConvergenceRate, an.UpdateMagnitude, a.verdict(an.IsStable, "yes", "no"))
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description")
	cmd.Flags().BoolVar(&learn, "learn", false, "fold the prompt into the shared weights")
	return cmd
}

func newCompareCmd(a *app) *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "compare PROMPT_A PROMPT_B",
		Short: "Compare two prompts for the same task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.Compare(cmd.Context(), promptapi.CompareRequest{PromptA: args[0], PromptB: args[1], Task: task})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(result)
			}
			c := result.Comparison
			a.printf("comparison=%s winner=%s confidence=%.2f\n", result.ID, c.Winner, c.Confidence)
			a.printf("score_a=%.4f score_b=%.4f ratio=%.4f convergence_diff=%.4f\n",
				c.PromptAScore, c.PromptBScore, c.EffectivenessRatio, c.ConvergenceDiff)
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description")
	return cmd
}

// optimizeFileEntry is one request in an optimize batch file.
type optimizeFileEntry struct {
	Prompt   string `yaml:"prompt"`
	Task     string `yaml:"task"`
	MaxSteps int    `yaml:"max_steps"`
}

func newOptimizeCmd(a *app) *cobra.Command {
	var (
		task  string
		steps int
		file  string
	)
	cmd := &cobra.Command{
		Use:   "optimize [PROMPT]",
		Short: "Iteratively rewrite a prompt until its updates stabilize",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var requests []promptapi.OptimizeRequest
			switch {
			case file != "" && len(args) > 0:
				return fmt.Errorf("use either a prompt argument or --file")
			case file != "":
				loaded, err := loadOptimizeFile(file)
				if err != nil {
					return err
				}
				requests = loaded
			case len(args) == 1:
				requests = []promptapi.OptimizeRequest{{Prompt: args[0], Task: task, MaxSteps: steps}}
			default:
				return fmt.Errorf("optimize requires a prompt or --file")
			}

			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			results := make([]promptapi.OptimizeResult, 0, len(requests))
			for i, req := range requests {
				result, err := client.Optimize(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("request %d: %w", i+1, err)
				}
				results = append(results, result)
			}
			if a.jsonOut {
				if file == "" {
					return a.printJSON(results[0])
				}
				return a.printJSON(results)
			}
			for _, result := range results {
				h := result.History
				a.printf("optimization=%s steps=%d converged=%s improvement=%.2f%%\n",
					result.ID, len(h.Steps), a.verdict(h.Converged, "yes", "no"), h.TotalImprovement)
				for _, step := range h.Steps {
					a.printf("  step=%d effectiveness=%.4f suggestions=%d\n",
						step.StepNumber, step.Analysis.EffectivenessScore, len(step.Suggestions))
				}
				a.printf("final: %s\n", h.FinalPrompt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description")
	cmd.Flags().IntVar(&steps, "steps", 0, "maximum optimization steps (0 uses the configured default)")
	cmd.Flags().StringVar(&file, "file", "", "YAML file with a list of {prompt, task, max_steps} requests")
	return cmd
}

func loadOptimizeFile(path string) ([]promptapi.OptimizeRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []optimizeFileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s contains no requests", path)
	}
	requests := make([]promptapi.OptimizeRequest, len(entries))
	for i, e := range entries {
		requests[i] = promptapi.OptimizeRequest{Prompt: e.Prompt, Task: e.Task, MaxSteps: e.MaxSteps}
	}
	return requests, nil
}

func newSequenceCmd(a *app) *cobra.Command {
	var (
		task     string
		segments []string
	)
	cmd := &cobra.Command{
		Use:   "sequence [PROMPT]",
		Short: "Apply one update per prompt segment and score the trajectory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := promptapi.SequenceRequest{Segments: segments, Task: task}
			if len(args) == 1 {
				req.Prompt = args[0]
			}
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.AnalyzeSequence(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(result)
			}
			a.printSequence(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description")
	cmd.Flags().StringArrayVar(&segments, "segment", nil, "explicit segment, repeatable; overrides sentence splitting")
	return cmd
}

func (a *app) printSequence(result analyzer.SequenceAnalysis) {
	conv := result.Convergence
	a.printf("rule=%s steps=%d mean_effectiveness=%.4f convergence=%.4f converged=%s\n",
		result.Rule, len(result.Steps), result.MeanEffectiveness, conv.ConvergenceRate, a.verdict(conv.IsConverged, "yes", "no"))
	for _, step := range result.Steps {
		label := ""
		if step.Index < len(result.Segments) {
			label = " " + strconv.Quote(result.Segments[step.Index])
		}
		a.printf("  %d effectiveness=%.4f magnitude=%.4f%s\n", step.Index, step.EffectivenessScore, step.UpdateMagnitude, label)
	}
}

func newDynamicsCmd(a *app) *cobra.Command {
	var (
		contexts []string
		target   string
		attended bool
		file     string
	)
	cmd := &cobra.Command{
		Use:   "dynamics",
		Short: "Run raw context vectors through a fresh engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req analyzer.TrajectoryRequest
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &req); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			} else {
				for i, raw := range contexts {
					v, err := parseVector(raw)
					if err != nil {
						return fmt.Errorf("context %d: %w", i+1, err)
					}
					req.Contexts = append(req.Contexts, v)
				}
				v, err := parseVector(target)
				if err != nil {
					return fmt.Errorf("target: %w", err)
				}
				req.Target = v
				req.Attended = attended
			}

			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.Trajectory(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(result)
			}
			a.printf("weights=%dx%d\n", result.TaskDim, result.ContextDim)
			a.printSequence(result.SequenceAnalysis)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&contexts, "context", nil, "comma separated context vector, repeatable")
	cmd.Flags().StringVar(&target, "target", "", "comma separated target vector")
	cmd.Flags().BoolVar(&attended, "attended", false, "fold all contexts into one attention-weighted step")
	cmd.Flags().StringVar(&file, "file", "", "YAML trajectory request (config, contexts, target, attended)")
	return cmd
}

func parseVector(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty vector")
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func newConvergeCmd(a *app) *cobra.Command {
	var (
		task string
		cfg  = analyzer.DefaultDeepConfig()
	)
	cmd := &cobra.Command{
		Use:   "converge PROMPT",
		Short: "Repeat one association until the update norm settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.DeepConvergence(cmd.Context(), args[0], task, cfg)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(result)
			}
			a.printf("type=%s converged=%s steps=%d iterations=%d rate=%.4f\n",
				result.Type, a.verdict(result.Converged, "yes", "no"), result.ConvergenceSteps,
				len(result.GradientNorms), result.FinalConvergenceRate)
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description")
	cmd.Flags().Float64Var(&cfg.LearningRate, "learning-rate", cfg.LearningRate, "learning rate")
	cmd.Flags().Float64Var(&cfg.RegularizationStrength, "regularization", cfg.RegularizationStrength, "regularization strength")
	cmd.Flags().IntVar(&cfg.MaxIterations, "max-iterations", cfg.MaxIterations, "iteration budget")
	cmd.Flags().Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "update norm counted as converged")
	cmd.Flags().BoolVar(&cfg.AdaptiveLearningRate, "adaptive", cfg.AdaptiveLearningRate, "shrink the learning rate while norms are volatile")
	return cmd
}

func newRecordsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List and inspect stored records",
	}

	var (
		kind  string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			records, err := client.Records(cmd.Context(), promptapi.RecordsRequest{Kind: kind, Limit: limit})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(records)
			}
			if len(records) == 0 {
				a.printf("no records\n")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{string(r.Kind), r.ID, humanize.Time(r.CreatedAt), fmt.Sprintf("%.4f", r.Score), r.Title})
			}
			a.printTable([]string{"KIND", "ID", "CREATED", "SCORE", "TITLE"}, rows)
			return nil
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "record kind: analysis|comparison|optimization|snapshot")
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of records")

	show := &cobra.Command{
		Use:   "show KIND ID",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			record, err := client.Record(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.printJSON(record)
		},
	}

	del := &cobra.Command{
		Use:   "delete KIND ID",
		Short: "Delete one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.DeleteRecord(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			a.printf("deleted %s %s\n", args[0], args[1])
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count stored records per kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(st)
			}
			a.printf("backend=%s\n", st.Backend)
			for _, kind := range model.Kinds {
				a.printf("  %s=%s\n", kind, humanize.Comma(int64(st.Counts[kind])))
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, del, stats)
	return cmd
}

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save or restore the shared engine weights",
	}

	var learn []string
	var task string
	save := &cobra.Command{
		Use:   "save [NAME]",
		Short: "Persist the current weights, optionally after learning prompts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			for _, prompt := range learn {
				if _, err := client.Analyze(cmd.Context(), promptapi.AnalyzeRequest{Prompt: prompt, Task: task, Learn: true}); err != nil {
					return err
				}
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			snapshot, err := client.SaveSnapshot(cmd.Context(), name)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(snapshot)
			}
			a.printf("snapshot=%s weights=%dx%d created=%s\n", snapshot.ID, snapshot.Rows, snapshot.Cols, snapshot.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
	save.Flags().StringArrayVar(&learn, "learn", nil, "prompt to learn before saving, repeatable")
	save.Flags().StringVar(&task, "task", "", "task for learned prompts")

	load := &cobra.Command{
		Use:   "load ID",
		Short: "Check that a snapshot restores into an engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			snapshot, err := client.LoadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printf("restored snapshot=%s rule=%s weights=%dx%d\n", snapshot.ID, client.Rule(), snapshot.Rows, snapshot.Cols)
			return nil
		},
	}

	cmd.AddCommand(save, load)
	return cmd
}
