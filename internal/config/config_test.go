package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Dynamics.LearningRate != 0.5 || cfg.Dynamics.RegularizationStrength != 0.01 || !cfg.Dynamics.UseSkipConnections {
		t.Fatalf("unexpected dynamics defaults: %+v", cfg.Dynamics)
	}
	if cfg.LLM.Enabled() {
		t.Fatal("expected llm disabled without api key")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "promptc.yaml")
	body := `
dynamics:
  learning_rate: 0.25
  regularization_strength: 0.1
  use_skip_connections: false
storage:
  backend: badger
  path: /tmp/promptc
cache:
  ttl: 30m
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dynamics.LearningRate != 0.25 || cfg.Dynamics.RegularizationStrength != 0.1 || cfg.Dynamics.UseSkipConnections {
		t.Fatalf("unexpected dynamics: %+v", cfg.Dynamics)
	}
	if cfg.Storage.Backend != "badger" || cfg.Storage.Path != "/tmp/promptc" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Fatalf("unexpected cache ttl: %s", cfg.Cache.TTL)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr to survive, got %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("PROMPTC_STORE", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("unexpected backend: %q", cfg.Storage.Backend)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}

	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("dynamics:\n  learning_rate: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"OPENAI_API_KEY":           "sk-test",
		"OPENAI_BASE_URL":          "http://localhost:11434/v1",
		"OPENAI_MODEL":             "llama3",
		"PROMPTC_STORE":            "sqlite",
		"PROMPTC_DB_PATH":          "records.db",
		"PROMPTC_LEARNING_RATE":    "0.75",
		"PROMPTC_SKIP_CONNECTIONS": "false",
		"PROMPTC_CACHE_TTL":        "5m",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if !cfg.LLM.Enabled() || cfg.LLM.BaseURL != "http://localhost:11434/v1" || cfg.LLM.Model != "llama3" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "records.db" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Dynamics.LearningRate != 0.75 || cfg.Dynamics.UseSkipConnections {
		t.Fatalf("unexpected dynamics: %+v", cfg.Dynamics)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Fatalf("unexpected ttl: %s", cfg.Cache.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	for _, key := range []string{"PROMPTC_LEARNING_RATE", "PROMPTC_SKIP_CONNECTIONS", "PROMPTC_CACHE_TTL"} {
		cfg := Default()
		if err := cfg.ApplyEnv(envMap(map[string]string{key: "nope"})); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", key, err)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"regularization", func(c *Config) { c.Dynamics.RegularizationStrength = 1.5 }},
		{"threshold", func(c *Config) { c.Analyzer.ConvergenceThreshold = 2 }},
		{"optimize steps", func(c *Config) { c.Analyzer.OptimizeSteps = 0 }},
		{"backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"sqlite path", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"cache ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }},
		{"addr", func(c *Config) { c.Server.Addr = " " }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Default()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "learning_rate: 0.5") || !strings.Contains(buf.String(), "ttl: 1h0m0s") {
		t.Fatalf("unexpected yaml:\n%s", buf.String())
	}

	path := filepath.Join(t.TempDir(), "round.yaml")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_MODEL", "")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != Default() {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output: %s", out)
	}

	if _, err := NewLogger(&buf, LogConfig{Format: "xml"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
