package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	BenchmarkDynamics = "dynamics"
	BenchmarkQuality  = "quality"

	runIndexFile       = "run_index.json"
	configFile         = "config.json"
	dynamicsReportFile = "dynamics_report.json"
	qualityReportFile  = "quality_report.json"
	latencySeriesFile  = "latency_series.csv"
	qualityCurveFile   = "quality_curve.dat"
)

type RunConfig struct {
	RunID        string           `json:"run_id"`
	Kind         string           `json:"kind"`
	CreatedAtUTC string           `json:"created_at_utc"`
	Dynamics     *BenchmarkConfig `json:"dynamics,omitempty"`
	Quality      *QualityConfig   `json:"quality,omitempty"`
}

type BenchmarkArtifacts struct {
	Config   RunConfig       `json:"config"`
	Dynamics *DynamicsReport `json:"dynamics,omitempty"`
	Quality  *QualityReport  `json:"quality,omitempty"`
}

type RunIndexEntry struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`
	Rule  string `json:"rule,omitempty"`
	Items int    `json:"items"`
	// Headline is mean ns/op for dynamics runs and mean quality score for
	// quality runs.
	Headline     float64 `json:"headline"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// IndexEntryFor builds the run index row for artifacts.
func IndexEntryFor(artifacts BenchmarkArtifacts) RunIndexEntry {
	entry := RunIndexEntry{
		RunID:        artifacts.Config.RunID,
		Kind:         artifacts.Config.Kind,
		CreatedAtUTC: artifacts.Config.CreatedAtUTC,
	}
	if r := artifacts.Dynamics; r != nil {
		entry.Rule = r.Rule
		entry.Items = len(r.Results)
		var sum int64
		for _, res := range r.Results {
			sum += res.NSPerOp
		}
		if len(r.Results) > 0 {
			entry.Headline = float64(sum) / float64(len(r.Results))
		}
	}
	if r := artifacts.Quality; r != nil {
		entry.Items = len(r.Results)
		entry.Headline = r.MeanScore
	}
	return entry
}

func NewRunConfig(runID, kind string, now time.Time) RunConfig {
	return RunConfig{RunID: runID, Kind: kind, CreatedAtUTC: now.UTC().Format(time.RFC3339)}
}

func WriteBenchmarkArtifacts(baseDir string, artifacts BenchmarkArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	switch artifacts.Config.Kind {
	case BenchmarkDynamics:
		if artifacts.Dynamics == nil {
			return "", fmt.Errorf("dynamics run %s has no report", artifacts.Config.RunID)
		}
	case BenchmarkQuality:
		if artifacts.Quality == nil {
			return "", fmt.Errorf("quality run %s has no report", artifacts.Config.RunID)
		}
	default:
		return "", fmt.Errorf("unsupported benchmark kind: %q", artifacts.Config.Kind)
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if artifacts.Dynamics != nil {
		if err := writeJSON(filepath.Join(runDir, dynamicsReportFile), artifacts.Dynamics); err != nil {
			return "", err
		}
		if err := WriteLatencySeries(runDir, artifacts.Dynamics.Results); err != nil {
			return "", err
		}
	}
	if artifacts.Quality != nil {
		if err := writeJSON(filepath.Join(runDir, qualityReportFile), artifacts.Quality); err != nil {
			return "", err
		}
		if err := writeCurveFile(filepath.Join(runDir, qualityCurveFile), artifacts.Quality.Curves); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	if err := copyFile(filepath.Join(src, configFile), filepath.Join(dst, configFile)); err != nil {
		return "", err
	}
	for _, file := range []string{dynamicsReportFile, latencySeriesFile, qualityReportFile, qualityCurveFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadDynamicsReport(baseDir, runID string) (DynamicsReport, bool, error) {
	var report DynamicsReport
	ok, err := readJSON(filepath.Join(baseDir, runID, dynamicsReportFile), &report)
	return report, ok, err
}

func ReadQualityReport(baseDir, runID string) (QualityReport, bool, error) {
	var report QualityReport
	ok, err := readJSON(filepath.Join(baseDir, runID, qualityReportFile), &report)
	return report, ok, err
}

// WriteLatencySeries writes one row per update step and dimension pair.
func WriteLatencySeries(runDir string, results []DimensionResult) error {
	path := filepath.Join(runDir, latencySeriesFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"dimensions", "step", "latency_ns"}); err != nil {
		return err
	}
	for _, result := range results {
		dims := result.Dimensions.String()
		for i, ns := range result.Samples {
			if err := writer.Write([]string{dims, strconv.Itoa(i + 1), strconv.FormatInt(ns, 10)}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadLatencySeries returns the per-step latencies keyed by dimension label.
func ReadLatencySeries(baseDir, runID string) (map[string][]int64, bool, error) {
	path := filepath.Join(baseDir, runID, latencySeriesFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return map[string][]int64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 3 {
		return nil, false, fmt.Errorf("latency series header must have at least 3 columns")
	}

	series := map[string][]int64{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("latency series row must have at least 3 columns")
		}
		value, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
		if err != nil {
			return nil, false, err
		}
		series[record[0]] = append(series[record[0]], value)
	}
	return series, true, nil
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
