//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Fixed table names. The processed table name is configurable.
const (
	AnalyticsTable = "sales_analytics"
	RunsTable      = "etl_runs"

	// DefaultProcessedTable is the default processed table name.
	DefaultProcessedTable = "processed_sales_data"
)

// createProcessedSQL creates the processed table. %[1]s is the quoted
// table name and %[2]s the quoted date index name.
const createProcessedSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id               BIGSERIAL PRIMARY KEY,
    transaction_id   TEXT NOT NULL UNIQUE,
    product_id       TEXT NOT NULL DEFAULT '',
    customer_id      TEXT NOT NULL DEFAULT '',
    transaction_date DATE NOT NULL,
    quantity         BIGINT CHECK (quantity >= 0),
    amount           NUMERIC(12,2),
    store_location   TEXT NOT NULL,
    day_of_week      TEXT NOT NULL,
    month            TEXT NOT NULL,
    quarter          SMALLINT NOT NULL CHECK (quarter BETWEEN 1 AND 4),
    year             INTEGER NOT NULL,
    total_amount     NUMERIC(16,2),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (transaction_date, store_location);
`

const createAnalyticsSQL = `
CREATE TABLE IF NOT EXISTS sales_analytics (
    id                    BIGSERIAL PRIMARY KEY,
    metric_date           DATE NOT NULL,
    metric_type           TEXT NOT NULL,
    store_location        TEXT NOT NULL,
    total_sales           NUMERIC(18,2) NOT NULL,
    total_transactions    BIGINT NOT NULL,
    avg_transaction_value NUMERIC(16,2) NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS sales_analytics_metric_key
    ON sales_analytics (metric_date, metric_type, store_location);
`

const createRunsSQL = `
CREATE TABLE IF NOT EXISTS etl_runs (
    run_id       UUID PRIMARY KEY,
    target_date  DATE NOT NULL,
    state        TEXT NOT NULL,
    failed_stage TEXT NOT NULL DEFAULT '',
    error_kind   TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    attempts     JSONB NOT NULL DEFAULT '{}',
    quality      JSONB,
    extracted    BIGINT NOT NULL DEFAULT 0,
    loaded       BIGINT NOT NULL DEFAULT 0,
    version      TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS etl_runs_target_date_idx ON etl_runs (target_date, state);
`

// CreateSchema creates the processed, analytics and run log tables.
func CreateSchema(ctx context.Context, db DB, processedTable string) error {
	processed := fmt.Sprintf(createProcessedSQL,
		pgx.Identifier{processedTable}.Sanitize(),
		pgx.Identifier{processedTable + "_date_idx"}.Sanitize())

	for _, stmt := range []struct {
		name string
		sql  string
	}{
		{processedTable, processed},
		{AnalyticsTable, createAnalyticsSQL},
		{RunsTable, createRunsSQL},
	} {
		if _, err := db.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}

// DropSchema drops every table created by CreateSchema.
func DropSchema(ctx context.Context, db DB, processedTable string) error {
	_, err := db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s, %s, %s",
		pgx.Identifier{processedTable}.Sanitize(),
		pgx.Identifier{AnalyticsTable}.Sanitize(),
		pgx.Identifier{RunsTable}.Sanitize()))
	return err
}

// SchemaExists checks if the processed table exists.
func SchemaExists(ctx context.Context, db DB, processedTable string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT FROM information_schema.tables
            WHERE table_schema = current_schema() AND table_name = $1
        )
    `, processedTable).Scan(&exists)
	return exists, err
}
