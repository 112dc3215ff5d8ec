//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package source reads raw sales records from pluggable sources and
// stages them as CSV artifacts between pipeline stages.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// DefaultTimeout bounds every network read.
const DefaultTimeout = 30 * time.Second

// Reader pulls a fully materialized set of raw records from a source.
type Reader interface {
	// Read returns every record of the source, or an error. It never
	// reports an unreachable source as an empty result.
	Read(ctx context.Context) ([]model.RawRecord, error)
}

// Config selects a source kind and carries the settings for each kind.
type Config struct {
	// Kind is the registered source kind: file, http or sql.
	Kind string

	File FileConfig
	HTTP HTTPConfig
	SQL  SQLConfig
}

// FileConfig configures the flat-file source.
type FileConfig struct {
	// Path is the CSV file to read.
	Path string
}

// HTTPConfig configures the HTTP API source.
type HTTPConfig struct {
	URL     string
	Params  map[string]string
	Headers map[string]string

	// Timeout bounds the whole request; DefaultTimeout when zero.
	Timeout time.Duration
}

// SQLConfig configures the relational query source.
type SQLConfig struct {
	// Driver is the database/sql driver name: pgx or mysql.
	Driver string
	DSN    string
	Query  string

	// Timeout bounds connecting and querying; DefaultTimeout when zero.
	Timeout time.Duration
}

// Factory builds a Reader from configuration.
type Factory func(cfg Config) (Reader, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a source kind to the registry.
func Register(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[kind] = factory
}

// New creates the Reader for cfg.Kind.
func New(cfg Config) (Reader, error) {
	mu.RLock()
	factory, ok := registry[cfg.Kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown source kind: %q", cfg.Kind)
	}
	return factory(cfg)
}

// Kinds returns the registered source kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func init() {
	Register("file", newFileReader)
	Register("http", newHTTPReader)
	Register("sql", newSQLReader)
}
