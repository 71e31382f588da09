// Package config loads and validates the YAML configuration covering every
// backend and ambient component (spec §6.4/§6.5), merged with built-in
// defaults via dario.cat/mergo.
package config

import (
	"errors"
	"fmt"
	"os"
)

// BackendKind selects which Backend implementation the daemon wires.
type BackendKind string

const (
	BackendNull BackendKind = "null"
	BackendFile BackendKind = "file"
	BackendHTTP BackendKind = "http"
	BackendSQL  BackendKind = "sql"
)

// EnvEventsPath and EnvRecordingsDir override file-backend output and
// recording-fixture locations respectively (spec §6.5). EnvEnvironment is
// the Null-backend safety gate, already named in pkg/backend.
const (
	EnvEventsPath    = "AGENTIC_EVENTS_PATH"
	EnvRecordingsDir = "AGENTIC_RECORDINGS_DIR"
	EnvEnvironment   = "AEF_ENVIRONMENT"
)

// FileConfig configures the File backend (C2).
type FileConfig struct {
	OutputPath string `yaml:"output_path"`
}

// HTTPConfig configures the HTTP backend (C3).
type HTTPConfig struct {
	BaseURL            string  `yaml:"base_url"`
	TimeoutSeconds     float64 `yaml:"timeout"`
	MaxRetries         int     `yaml:"max_retries"`
	RetryBackoffFactor float64 `yaml:"retry_backoff_factor"`
	RetryMaxDelay      float64 `yaml:"retry_max_delay"`
	RetryJitter        float64 `yaml:"retry_jitter"`
}

// SQLConfig configures the SQL backend (C4).
type SQLConfig struct {
	DatabaseURL      string `yaml:"database_url"`
	PoolMinSize      int    `yaml:"pool_min_size"`
	PoolMaxSize      int    `yaml:"pool_max_size"`
	UseCopyThreshold int    `yaml:"use_copy_threshold"`
}

// BufferConfig configures the event buffer (C5).
type BufferConfig struct {
	BatchSize      int     `yaml:"batch_size"`
	FlushIntervalS float64 `yaml:"flush_interval_s"`
	MaxBufferSize  int     `yaml:"max_buffer_size"`
}

// Config is the umbrella object returned by Load, covering every
// component's configuration (spec §6.4).
type Config struct {
	Backend BackendKind `yaml:"backend"`

	File   FileConfig   `yaml:"file"`
	HTTP   HTTPConfig   `yaml:"http"`
	SQL    SQLConfig    `yaml:"sql"`
	Buffer BufferConfig `yaml:"buffer"`

	RecordingsDir string `yaml:"recordings_dir"`
}

// Defaults returns the built-in defaults (spec §6.4's enumerated defaults),
// merged with anything loaded from YAML in Load.
func Defaults() *Config {
	return &Config{
		Backend: BackendFile,
		File: FileConfig{
			OutputPath: ".agentic/analytics/events.jsonl",
		},
		HTTP: HTTPConfig{
			TimeoutSeconds:     5.0,
			MaxRetries:         3,
			RetryBackoffFactor: 0.5,
			RetryMaxDelay:      30.0,
			RetryJitter:        0.1,
		},
		SQL: SQLConfig{
			PoolMinSize:      5,
			PoolMaxSize:      20,
			UseCopyThreshold: 100,
		},
		Buffer: BufferConfig{
			BatchSize:      50,
			FlushIntervalS: 1.0,
			MaxBufferSize:  10000,
		},
		RecordingsDir: ".agentic/analytics/recordings",
	}
}

// applyEnvOverrides applies spec §6.5's environment variable overrides on
// top of whatever the YAML/defaults produced.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvEventsPath); v != "" {
		cfg.File.OutputPath = v
	}
	if v := os.Getenv(EnvRecordingsDir); v != "" {
		cfg.RecordingsDir = v
	}
}

// validate eagerly checks the resolved config for the minimal consistency
// spec.md §7 requires of each backend kind, aggregating every problem found
// rather than stopping at the first (teacher's `errors.Join` convention in
// pkg/api/server.go's ValidateWiring).
func validate(cfg *Config) error {
	var errs []error
	switch cfg.Backend {
	case BackendFile:
		if cfg.File.OutputPath == "" {
			errs = append(errs, fmt.Errorf("file backend requires output_path"))
		}
	case BackendHTTP:
		if cfg.HTTP.BaseURL == "" {
			errs = append(errs, fmt.Errorf("http backend requires base_url"))
		}
	case BackendSQL:
		if cfg.SQL.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("sql backend requires database_url"))
		}
	case BackendNull:
		// validated at construction time by pkg/backend.NewNullBackend
	default:
		errs = append(errs, fmt.Errorf("unknown backend kind %q", cfg.Backend))
	}

	if cfg.Buffer.MaxBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer.max_buffer_size must be positive"))
	}
	if cfg.Buffer.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer.batch_size must be positive"))
	}

	return errors.Join(errs...)
}
