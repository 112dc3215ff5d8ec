//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration management for pgedge-salesetl.
// Configuration is loaded from config files and CLI flags (no environment variables).
// CLI flags take precedence over config file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for pgedge-salesetl.
type Config struct {
	// Connection is the PostgreSQL connection string of the analytical store.
	Connection string `mapstructure:"connection"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "console" for human-readable output or "json".
	LogFormat string `mapstructure:"log_format"`

	Source    SourceConfig    `mapstructure:"source"`
	Staging   StagingConfig   `mapstructure:"staging"`
	Transform TransformConfig `mapstructure:"transform"`
	Load      LoadConfig      `mapstructure:"load"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	API       APIConfig       `mapstructure:"api"`
	Generate  GenerateConfig  `mapstructure:"generate"`
}

// SourceConfig selects where transactions are extracted from.
type SourceConfig struct {
	// Kind is one of file, http, sql.
	Kind string `mapstructure:"kind"`

	// Timeout bounds network sources.
	Timeout time.Duration `mapstructure:"timeout"`

	File FileSourceConfig `mapstructure:"file"`
	HTTP HTTPSourceConfig `mapstructure:"http"`
	SQL  SQLSourceConfig  `mapstructure:"sql"`
}

// FileSourceConfig configures the CSV file source.
type FileSourceConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPSourceConfig configures the HTTP API source.
type HTTPSourceConfig struct {
	URL     string            `mapstructure:"url"`
	Params  map[string]string `mapstructure:"params"`
	Headers map[string]string `mapstructure:"headers"`
}

// SQLSourceConfig configures the relational query source.
type SQLSourceConfig struct {
	// Driver is pgx or mysql.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Query  string `mapstructure:"query"`
}

// StagingConfig names the intermediate artifact directories.
type StagingConfig struct {
	RawDir       string `mapstructure:"raw_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
}

// TransformConfig holds the cleaning rules.
type TransformConfig struct {
	// MissingValues maps a column to mean, median, drop or a constant.
	MissingValues map[string]string `mapstructure:"missing_values"`

	// Transformations maps a column to numeric, datetime or categorical.
	// transaction_date datetime, quantity numeric and amount numeric are
	// required; categorical may be added for text columns.
	Transformations map[string]string `mapstructure:"transformations"`
}

// LoadConfig configures the processed table writes.
type LoadConfig struct {
	Table     string `mapstructure:"table"`
	BatchSize int    `mapstructure:"batch_size"`
}

// PipelineConfig controls run orchestration.
type PipelineConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	DependsOnPast bool          `mapstructure:"depends_on_past"`
}

// APIConfig configures the read API.
type APIConfig struct {
	Listen       string        `mapstructure:"listen"`
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
	MaxConns     int           `mapstructure:"max_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// GenerateConfig configures sample data generation.
type GenerateConfig struct {
	Records   int      `mapstructure:"records"`
	Days      int      `mapstructure:"days"`
	Stores    []string `mapstructure:"stores"`
	DirtyRate float64  `mapstructure:"dirty_rate"`
	Seed      uint64   `mapstructure:"seed"`
	Output    string   `mapstructure:"output"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "console",
		Source: SourceConfig{
			Kind:    "file",
			Timeout: 30 * time.Second,
			File: FileSourceConfig{
				Path: "data/sample_sales_data.csv",
			},
		},
		Staging: StagingConfig{
			RawDir:       "data/raw",
			ProcessedDir: "data/processed",
		},
		Transform: TransformConfig{
			MissingValues: map[string]string{
				"quantity":       "0",
				"amount":         "mean",
				"store_location": "Unknown",
			},
			Transformations: map[string]string{
				"transaction_date": "datetime",
				"quantity":         "numeric",
				"amount":           "numeric",
			},
		},
		Load: LoadConfig{
			Table:     "processed_sales_data",
			BatchSize: 1000,
		},
		Pipeline: PipelineConfig{
			MaxRetries: 1,
			RetryDelay: 5 * time.Minute,
		},
		API: APIConfig{
			Listen:       ":8000",
			DefaultLimit: 100,
			MaxLimit:     1000,
			MaxConns:     10,
			QueryTimeout: 15 * time.Second,
		},
		Generate: GenerateConfig{
			Records: 1000,
			Days:    30,
			Output:  "data/sample_sales_data.csv",
		},
	}
}

// Load reads configuration from config files.
// Config file locations (in order of precedence):
// 1. Path specified by configFile parameter
// 2. ./pgedge-salesetl.yaml
// 3. ~/.config/pgedge-salesetl/pgedge-salesetl.yaml
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("pgedge-salesetl")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "pgedge-salesetl"))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()

	// Rule maps replace the defaults rather than merging into them.
	if v.IsSet("transform.missing_values") {
		cfg.Transform.MissingValues = nil
	}
	if v.IsSet("transform.transformations") {
		cfg.Transform.Transformations = nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Connection == "" {
		return fmt.Errorf("connection string is required")
	}
	if c.LogFormat != "" && c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be 'console' or 'json'")
	}
	return nil
}

// ValidateRun checks configuration required for the run command.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}

	switch c.Source.Kind {
	case "file":
		if c.Source.File.Path == "" {
			return fmt.Errorf("source.file.path is required for the file source")
		}
	case "http":
		if c.Source.HTTP.URL == "" {
			return fmt.Errorf("source.http.url is required for the http source")
		}
	case "sql":
		if c.Source.SQL.Driver == "" || c.Source.SQL.DSN == "" || c.Source.SQL.Query == "" {
			return fmt.Errorf("source.sql requires driver, dsn and query")
		}
	default:
		return fmt.Errorf("source.kind must be 'file', 'http' or 'sql'")
	}

	if c.Staging.RawDir == "" || c.Staging.ProcessedDir == "" {
		return fmt.Errorf("staging.raw_dir and staging.processed_dir are required")
	}
	if c.Load.Table == "" {
		return fmt.Errorf("load.table is required")
	}
	if c.Load.BatchSize < 1 {
		return fmt.Errorf("load.batch_size must be at least 1")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be non-negative")
	}
	if c.Pipeline.RetryDelay < 0 {
		return fmt.Errorf("pipeline.retry_delay must be non-negative")
	}
	return nil
}

// ValidateServe checks configuration required for the serve command.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if c.API.DefaultLimit < 1 {
		return fmt.Errorf("api.default_limit must be at least 1")
	}
	if c.API.MaxLimit < c.API.DefaultLimit {
		return fmt.Errorf("api.max_limit must be >= api.default_limit")
	}
	if c.API.MaxConns < 1 {
		return fmt.Errorf("api.max_conns must be at least 1")
	}
	return nil
}
