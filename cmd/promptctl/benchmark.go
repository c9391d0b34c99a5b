package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"promptcompiler/internal/stats"
	promptapi "promptcompiler/pkg/promptcompiler"
)

func newBenchmarkCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Run engine latency or prompt quality benchmarks",
	}

	var (
		dims    string
		steps   int
		seed    int64
		workers int
	)
	dynamicsCmd := &cobra.Command{
		Use:   "dynamics",
		Short: "Time update steps across weight matrix sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pairs, err := parseDimensions(dims)
			if err != nil {
				return err
			}
			if steps <= 0 {
				return errors.New("steps must be > 0")
			}
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Benchmark(cmd.Context(), promptapi.BenchmarkRequest{
				Kind: stats.BenchmarkDynamics,
				Dynamics: stats.BenchmarkConfig{
					Dimensions: pairs,
					Steps:      steps,
					Seed:       seed,
					Workers:    workers,
				},
			})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(summary)
			}
			a.printf("run_id=%s rule=%s artifacts=%s\n", summary.RunID, summary.Dynamics.Rule, summary.ArtifactsDir)
			rows := make([][]string, 0, len(summary.Dynamics.Results))
			for _, r := range summary.Dynamics.Results {
				rows = append(rows, []string{
					r.Dimensions.String(), humanize.Comma(int64(r.Steps)), humanize.Comma(r.NSPerOp),
					time.Duration(r.Latency.P50NS).String(), time.Duration(r.Latency.P95NS).String(),
					time.Duration(r.Latency.MaxNS).String(), fmt.Sprintf("%.4f", r.FinalNorm),
					a.verdict(r.Converged, "yes", "no"),
				})
			}
			a.printTable([]string{"DIMS", "STEPS", "NS/OP", "P50", "P95", "MAX", "NORM", "CONVERGED"}, rows)
			return nil
		},
	}
	dynamicsCmd.Flags().StringVar(&dims, "dims", "", "comma separated TASKxCONTEXT sizes, e.g. 8x16,32x64 (default 8x16,32x64,64x256)")
	dynamicsCmd.Flags().IntVar(&steps, "steps", 100, "update steps per size")
	dynamicsCmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	dynamicsCmd.Flags().IntVar(&workers, "workers", 0, "parallel sizes (0 runs them all at once)")

	var (
		casesFile  string
		iterations int
		qWorkers   int
	)
	qualityCmd := &cobra.Command{
		Use:   "quality",
		Short: "Score the built-in prompt suite by deep convergence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := stats.QualityConfig{MaxIterations: iterations, Workers: qWorkers}
			if casesFile != "" {
				cases, err := loadQualityCases(casesFile)
				if err != nil {
					return err
				}
				cfg.Cases = cases
			}
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Benchmark(cmd.Context(), promptapi.BenchmarkRequest{Kind: stats.BenchmarkQuality, Quality: cfg})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(summary)
			}
			report := summary.Quality
			a.printf("run_id=%s mean_score=%.3f match_rate=%.0f%% artifacts=%s\n",
				summary.RunID, report.MeanScore, report.MatchRate*100, summary.ArtifactsDir)
			rows := make([][]string, 0, len(report.Results))
			for _, r := range report.Results {
				rows = append(rows, []string{
					r.Case.Name, string(r.Case.Category), fmt.Sprintf("%.3f", r.QualityScore),
					string(r.Rating), string(r.Case.Expected), a.verdict(r.MatchesExpectation, "yes", "no"),
				})
			}
			a.printTable([]string{"CASE", "CATEGORY", "SCORE", "RATING", "EXPECTED", "MATCH"}, rows)
			return nil
		},
	}
	qualityCmd.Flags().StringVar(&casesFile, "cases", "", "YAML list of cases replacing the built-in suite")
	qualityCmd.Flags().IntVar(&iterations, "max-iterations", 30, "deep convergence iteration budget per case")
	qualityCmd.Flags().IntVar(&qWorkers, "workers", 0, "parallel cases (0 runs them all at once)")

	cmd.AddCommand(dynamicsCmd, qualityCmd)
	return cmd
}

// parseDimensions reads TASKxCONTEXT pairs, the same form DimensionPair
// prints.
func parseDimensions(raw string) ([]stats.DimensionPair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var pairs []stats.DimensionPair
	for _, item := range strings.Split(raw, ",") {
		taskRaw, contextRaw, ok := strings.Cut(strings.TrimSpace(item), "x")
		if !ok {
			return nil, fmt.Errorf("invalid dimensions %q: want TASKxCONTEXT", item)
		}
		task, err := strconv.Atoi(taskRaw)
		if err != nil || task <= 0 {
			return nil, fmt.Errorf("invalid task dimension in %q", item)
		}
		ctxDim, err := strconv.Atoi(contextRaw)
		if err != nil || ctxDim <= 0 {
			return nil, fmt.Errorf("invalid context dimension in %q", item)
		}
		pairs = append(pairs, stats.DimensionPair{ContextDim: ctxDim, TaskDim: task})
	}
	return pairs, nil
}

func loadQualityCases(path string) ([]stats.QualityCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []stats.QualityCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%s contains no cases", path)
	}
	return cases, nil
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List benchmark runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			entries, err := client.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(entries)
			}
			if len(entries) == 0 {
				a.printf("no runs found\n")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				created := e.CreatedAtUTC
				if ts, err := time.Parse(time.RFC3339, e.CreatedAtUTC); err == nil {
					created = humanize.Time(ts)
				}
				headline := fmt.Sprintf("%.3f", e.Headline)
				if e.Kind == stats.BenchmarkDynamics {
					headline = humanize.Commaf(e.Headline) + " ns/op"
				}
				rows = append(rows, []string{e.RunID, e.Kind, created, strconv.Itoa(e.Items), headline})
			}
			a.printTable([]string{"RUN", "KIND", "CREATED", "ITEMS", "HEADLINE"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a benchmark run's artifacts to another directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Export(cmd.Context(), promptapi.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			a.printf("exported run_id=%s to=%s\n", summary.RunID, summary.Directory)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "", "export output directory (default --exports-dir)")
	return cmd
}
