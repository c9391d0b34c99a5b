package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"promptcompiler/internal/config"
	promptapi "promptcompiler/pkg/promptcompiler"
)

const (
	benchmarksDir = "benchmarks"
	exportsDir    = "exports"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(&app{stdout: stdout, stderr: stderr, out: newOutput(stdout)})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// app carries the global flags and the state resolved from them.
type app struct {
	stdout io.Writer
	stderr io.Writer
	out    *output

	configPath string
	storeKind  string
	dbPath     string
	logLevel   string
	logFormat  string
	jsonOut    bool

	benchmarksDir string
	exportsDir    string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "promptctl",
		Short:         "Analyze, compare and compile prompts with implicit weight dynamics",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.storeKind, "store", "", "store backend: memory|sqlite|badger")
	flags.StringVar(&a.dbPath, "db-path", "", "sqlite database file or badger directory")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text|json")
	flags.BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	flags.StringVar(&a.benchmarksDir, "benchmarks-dir", benchmarksDir, "benchmark artifacts directory")
	flags.StringVar(&a.exportsDir, "exports-dir", exportsDir, "default export directory")

	root.AddCommand(
		newAnalyzeCmd(a),
		newCompareCmd(a),
		newOptimizeCmd(a),
		newSequenceCmd(a),
		newDynamicsCmd(a),
		newConvergeCmd(a),
		newRecordsCmd(a),
		newSnapshotCmd(a),
		newBenchmarkCmd(a),
		newRunsCmd(a),
		newExportCmd(a),
		newServeCmd(a),
		newChatCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup resolves the configuration: file, then environment, then flags.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Storage.Backend = a.storeKind
	}
	if flags.Changed("db-path") {
		cfg.Storage.Path = a.dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := config.NewLogger(a.stderr, cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openClient builds and initializes an SDK client from the resolved config.
// Callers close it.
func (a *app) openClient(ctx context.Context) (*promptapi.Client, error) {
	dyn := a.cfg.Dynamics
	client, err := promptapi.New(promptapi.Options{
		StoreKind:            a.cfg.Storage.Backend,
		DBPath:               a.cfg.Storage.Path,
		BenchmarksDir:        a.benchmarksDir,
		ExportsDir:           a.exportsDir,
		Dynamics:             &dyn,
		Encoder:              a.cfg.Encoder,
		ConvergenceThreshold: a.cfg.Analyzer.ConvergenceThreshold,
		OptimizeSteps:        a.cfg.Analyzer.OptimizeSteps,
		Logger:               a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
