//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Drivers available to the sql source
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// SQLReader runs a query against a relational database and maps the
// result columns onto raw records by name.
type SQLReader struct {
	driver  string
	dsn     string
	query   string
	timeout time.Duration
}

// NewSQLReader creates a relational query reader.
func NewSQLReader(cfg SQLConfig) (*SQLReader, error) {
	driver, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sql source requires a dsn")
	}
	if cfg.Query == "" {
		return nil, fmt.Errorf("sql source requires a query")
	}
	return &SQLReader{
		driver:  driver,
		dsn:     cfg.DSN,
		query:   cfg.Query,
		timeout: timeoutOrDefault(cfg.Timeout),
	}, nil
}

func newSQLReader(cfg Config) (Reader, error) {
	return NewSQLReader(cfg.SQL)
}

func driverName(name string) (string, error) {
	switch name {
	case "", "pgx", "postgres", "postgresql":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported sql driver: %q", name)
}

// Read executes the query and materializes every row.
func (r *SQLReader) Read(ctx context.Context) ([]model.RawRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	db, err := sql.Open(r.driver, r.dsn)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "open "+r.driver, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "connect "+r.driver, err)
	}

	rows, err := db.QueryContext(ctx, r.query)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "query", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	logging.Debug().
		Str("driver", r.driver).
		Int("records", len(records)).
		Msg("Read SQL source")

	return records, nil
}

// rowScanner is the part of *sql.Rows used for mapping.
type rowScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]model.RawRecord, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "columns", err)
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	var records []model.RawRecord
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, etlerr.New(etlerr.MalformedRecord, "scan row", err)
		}

		var rec model.RawRecord
		for i, col := range columns {
			s, err := valueToText(values[i])
			if err != nil {
				return nil, etlerr.New(etlerr.MalformedRecord, "column "+col, err)
			}
			rec.Set(col, s)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "read rows", err)
	}

	return records, nil
}
