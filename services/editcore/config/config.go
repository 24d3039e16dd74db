// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads editcore engine configuration.
//
// Priority: environment variables > config file > defaults. The file is
// parsed as YAML first, then JSON.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/editcore/pkg/logging"
	"github.com/AleutianAI/editcore/services/editcore/document"
	"github.com/AleutianAI/editcore/services/editcore/format"
	"github.com/AleutianAI/editcore/services/editcore/ingest"
	"github.com/AleutianAI/editcore/services/editcore/journal"
	"github.com/AleutianAI/editcore/services/editcore/telemetry"
	"github.com/AleutianAI/editcore/services/editcore/transaction"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EDITCORE_"

// DefaultFile is the config file looked up under the workspace root when
// no path is given.
const DefaultFile = ".editcore.yaml"

// Config is the complete engine configuration.
type Config struct {
	// Root is the workspace root. Relative operation paths resolve
	// against it. Default: current directory.
	Root string `json:"root" yaml:"root"`

	// InputFormat is the default ingest format: auto, structured, text or diff.
	InputFormat string `json:"input_format" yaml:"input_format"`

	// HistoryCapacity bounds the open-document undo ring.
	HistoryCapacity int `json:"history_capacity" yaml:"history_capacity"`

	ValidateEdits     bool `json:"validate_edits" yaml:"validate_edits"`
	FormatEdits       bool `json:"format_edits" yaml:"format_edits"`
	SnapshotOnCreate  bool `json:"snapshot_on_create" yaml:"snapshot_on_create"`
	SyncOpenDocuments bool `json:"sync_open_documents" yaml:"sync_open_documents"`
	RecoverOnInit     bool `json:"recover_on_init" yaml:"recover_on_init"`

	// Journal configures the write-ahead backup journal.
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// Formatters maps a file extension to a formatter argv. Nil keeps the
	// built-in table.
	Formatters map[string][]string `json:"formatters" yaml:"formatters"`

	// FormatTimeout bounds one formatter run.
	FormatTimeout time.Duration `json:"format_timeout" yaml:"format_timeout"`

	// Observability configures logs, traces and metrics.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// JournalConfig contains write-ahead journal settings.
type JournalConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// ObservabilityConfig contains observability settings.
type ObservabilityConfig struct {
	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	LogDir         string `json:"log_dir" yaml:"log_dir"`
	JSONLogs       bool   `json:"json_logs" yaml:"json_logs"`
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	PrometheusAddr string `json:"prometheus_addr" yaml:"prometheus_addr"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Root:              ".",
		InputFormat:       string(ingest.FormatAuto),
		HistoryCapacity:   document.DefaultHistoryCapacity,
		SyncOpenDocuments: true,
		Journal: JournalConfig{
			Enabled:    false,
			Path:       filepath.Join(".editcore", "journal"),
			SyncWrites: true,
		},
		FormatTimeout: 10 * time.Second,
		Observability: ObservabilityConfig{
			TracingEnabled: true,
			MetricsEnabled: true,
			LogLevel:       "info",
			TraceExporter:  telemetry.ExporterNone,
			MetricExporter: telemetry.ExporterNone,
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// # Inputs
//
//   - path: YAML or JSON config file. Empty skips the file; a missing
//     file is not an error.
//
// # Outputs
//
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func loadConfigFromEnv(cfg *Config) {
	envString("ROOT", &cfg.Root)
	envString("INPUT_FORMAT", &cfg.InputFormat)
	if v := os.Getenv(EnvPrefix + "HISTORY_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.HistoryCapacity = i
		}
	}
	envBool("VALIDATE_EDITS", &cfg.ValidateEdits)
	envBool("FORMAT_EDITS", &cfg.FormatEdits)
	envBool("SNAPSHOT_ON_CREATE", &cfg.SnapshotOnCreate)
	envBool("SYNC_OPEN_DOCUMENTS", &cfg.SyncOpenDocuments)
	envBool("RECOVER_ON_INIT", &cfg.RecoverOnInit)
	if v := os.Getenv(EnvPrefix + "FORMAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FormatTimeout = d
		}
	}

	// Journal
	envBool("JOURNAL_ENABLED", &cfg.Journal.Enabled)
	envString("JOURNAL_PATH", &cfg.Journal.Path)
	envBool("JOURNAL_IN_MEMORY", &cfg.Journal.InMemory)
	envBool("JOURNAL_SYNC_WRITES", &cfg.Journal.SyncWrites)

	// Observability
	obs := &cfg.Observability
	envBool("TRACING_ENABLED", &obs.TracingEnabled)
	envBool("METRICS_ENABLED", &obs.MetricsEnabled)
	envString("LOG_LEVEL", &obs.LogLevel)
	envString("LOG_DIR", &obs.LogDir)
	envBool("JSON_LOGS", &obs.JSONLogs)
	envString("TRACE_EXPORTER", &obs.TraceExporter)
	envString("METRIC_EXPORTER", &obs.MetricExporter)
	envString("OTLP_ENDPOINT", &obs.OTLPEndpoint)
	envString("PROMETHEUS_ADDR", &obs.PrometheusAddr)
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root must not be empty")
	}
	if _, err := ingest.ParseFormat(c.InputFormat); err != nil {
		return fmt.Errorf("input_format: %w", err)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history_capacity must be >= 1")
	}
	if c.FormatTimeout <= 0 {
		return fmt.Errorf("format_timeout must be > 0")
	}
	if c.Journal.Enabled && !c.Journal.InMemory && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	for ext, argv := range c.Formatters {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("formatters: extension %q must start with '.'", ext)
		}
		if len(argv) == 0 {
			return fmt.Errorf("formatters: empty command for %q", ext)
		}
	}

	obs := c.Observability
	if _, err := logging.ParseLevel(obs.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch obs.TraceExporter {
	case "", telemetry.ExporterNone, telemetry.ExporterStdout, telemetry.ExporterOTLP:
	default:
		return fmt.Errorf("trace_exporter %q must be one of none, stdout, otlp", obs.TraceExporter)
	}
	switch obs.MetricExporter {
	case "", telemetry.ExporterNone, telemetry.ExporterStdout, telemetry.ExporterPrometheus:
	default:
		return fmt.Errorf("metric_exporter %q must be one of none, stdout, prometheus", obs.MetricExporter)
	}
	if obs.PrometheusAddr != "" && obs.MetricExporter != telemetry.ExporterPrometheus {
		return fmt.Errorf("prometheus_addr requires metric_exporter prometheus")
	}
	return nil
}

// RootDir returns Root as an absolute, cleaned path.
func (c Config) RootDir() (string, error) {
	return filepath.Abs(c.Root)
}

// JournalDir returns the journal directory. A relative Journal.Path is
// resolved against the workspace root.
func (c Config) JournalDir() (string, error) {
	if filepath.IsAbs(c.Journal.Path) {
		return filepath.Clean(c.Journal.Path), nil
	}
	root, err := c.RootDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, c.Journal.Path), nil
}

// TransactionConfig converts to the manager configuration.
func (c Config) TransactionConfig() transaction.Config {
	cfg := transaction.DefaultConfig()
	cfg.Root = c.Root
	cfg.SnapshotOnCreate = c.SnapshotOnCreate
	cfg.SyncOpenDocuments = c.SyncOpenDocuments
	cfg.ValidateEdits = c.ValidateEdits
	cfg.FormatEdits = c.FormatEdits
	cfg.RecoverOnInit = c.RecoverOnInit && c.Journal.Enabled
	cfg.TracingEnabled = c.Observability.TracingEnabled
	cfg.MetricsEnabled = c.Observability.MetricsEnabled
	return cfg
}

// JournalConfig converts to the journal configuration.
func (c Config) JournalConfig(logger *slog.Logger) (journal.Config, error) {
	if c.Journal.InMemory {
		cfg := journal.InMemoryConfig()
		cfg.Logger = logger
		return cfg, nil
	}
	dir, err := c.JournalDir()
	if err != nil {
		return journal.Config{}, fmt.Errorf("resolve journal path: %w", err)
	}
	cfg := journal.DefaultConfig(dir)
	cfg.SyncWrites = c.Journal.SyncWrites
	cfg.Logger = logger
	return cfg, nil
}

// FormatConfig converts to the formatter configuration.
func (c Config) FormatConfig(logger *slog.Logger) format.Config {
	return format.Config{
		Commands: c.Formatters,
		Runner:   format.ExecRunner{Timeout: c.FormatTimeout},
		Logger:   logger,
	}
}

// LoggingConfig converts to the logger configuration. The level was
// checked by Validate; an unparsable one falls back to info.
func (c Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Observability.LogLevel)
	return logging.Config{
		Level:   level,
		LogDir:  c.Observability.LogDir,
		Service: "editcore",
		JSON:    c.Observability.JSONLogs,
	}
}

// TelemetryConfig converts to the telemetry configuration.
func (c Config) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if c.Observability.TraceExporter != "" {
		cfg.TraceExporter = c.Observability.TraceExporter
	}
	if c.Observability.MetricExporter != "" {
		cfg.MetricExporter = c.Observability.MetricExporter
	}
	if c.Observability.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = c.Observability.OTLPEndpoint
	}
	return cfg
}
