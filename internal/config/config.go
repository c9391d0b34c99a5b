// Package config loads the promptcompiler YAML configuration and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/encoder"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Dynamics dynamics.Config `yaml:"dynamics"`
	Analyzer AnalyzerConfig  `yaml:"analyzer"`
	Encoder  encoder.Config  `yaml:"encoder"`
	Storage  StorageConfig   `yaml:"storage"`
	Cache    CacheConfig     `yaml:"cache"`
	LLM      LLMConfig       `yaml:"llm"`
	Server   ServerConfig    `yaml:"server"`
	Log      LogConfig       `yaml:"log"`
}

type AnalyzerConfig struct {
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`
	OptimizeSteps        int     `yaml:"optimize_steps"`
}

type StorageConfig struct {
	// Backend is one of memory, sqlite or badger.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

type LLMConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Temperature       float32       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// Enabled reports whether enough is configured to talk to an LLM.
func (c LLMConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Dynamics: dynamics.Config{
			LearningRate:           0.5,
			RegularizationStrength: 0.01,
			UseSkipConnections:     true,
		},
		Analyzer: AnalyzerConfig{
			ConvergenceThreshold: dynamics.DefaultConvergenceThreshold,
			OptimizeSteps:        5,
		},
		Storage: StorageConfig{Backend: "memory"},
		Cache:   CacheConfig{Enabled: true, TTL: time.Hour},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			Temperature:       0.7,
			MaxTokens:         1024,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// Environment overrides are applied afterwards and the result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	float := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		*dst = parsed
		return nil
	}

	str("OPENAI_API_KEY", &c.LLM.APIKey)
	str("OPENAI_BASE_URL", &c.LLM.BaseURL)
	str("OPENAI_MODEL", &c.LLM.Model)
	str("PROMPTC_STORE", &c.Storage.Backend)
	str("PROMPTC_DB_PATH", &c.Storage.Path)
	str("PROMPTC_ADDR", &c.Server.Addr)
	str("PROMPTC_LOG_LEVEL", &c.Log.Level)
	str("PROMPTC_LOG_FORMAT", &c.Log.Format)
	if err := float("PROMPTC_LEARNING_RATE", &c.Dynamics.LearningRate); err != nil {
		return err
	}
	if err := float("PROMPTC_REGULARIZATION", &c.Dynamics.RegularizationStrength); err != nil {
		return err
	}
	if v, ok := lookup("PROMPTC_SKIP_CONNECTIONS"); ok && v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: PROMPTC_SKIP_CONNECTIONS: %v", ErrInvalid, err)
		}
		c.Dynamics.UseSkipConnections = parsed
	}
	if v, ok := lookup("PROMPTC_CACHE_TTL"); ok && v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: PROMPTC_CACHE_TTL: %v", ErrInvalid, err)
		}
		c.Cache.TTL = parsed
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.Dynamics.Validate(); err != nil {
		return fmt.Errorf("%w: dynamics: %v", ErrInvalid, err)
	}
	if t := c.Analyzer.ConvergenceThreshold; !(t >= 0 && t <= 1) {
		return fmt.Errorf("%w: analyzer convergence threshold must be in [0, 1], got %v", ErrInvalid, t)
	}
	if c.Analyzer.OptimizeSteps < 1 {
		return fmt.Errorf("%w: analyzer optimize steps must be >= 1, got %d", ErrInvalid, c.Analyzer.OptimizeSteps)
	}
	switch c.Storage.Backend {
	case "", "memory", "badger":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: sqlite storage requires a path", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported storage backend %q", ErrInvalid, c.Storage.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("%w: cache ttl must be >= 0", ErrInvalid)
	}
	if c.LLM.MaxTokens < 0 || c.LLM.RequestsPerSecond < 0 || c.LLM.Timeout < 0 {
		return fmt.Errorf("%w: llm limits must be >= 0", ErrInvalid)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm temperature must be in [0, 2], got %v", ErrInvalid, c.LLM.Temperature)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server addr is required", ErrInvalid)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unsupported log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Write marshals cfg as YAML.
func Write(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unsupported log level %q", ErrInvalid, level)
	}
}

// NewLogger builds a text or JSON slog logger writing to w.
func NewLogger(w io.Writer, cfg LogConfig) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported log format %q", ErrInvalid, cfg.Format)
	}
}
