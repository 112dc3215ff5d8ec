//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-salesetl/internal/db"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
)

var (
	initTable        string
	initDropExisting bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the processed, analytics and run log tables",
	Long: `Create the tables the pipeline writes to. Existing tables are left
untouched unless --drop-existing is given.

Example:
  pgedge-salesetl init --connection "postgres://..."`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initTable, "table", "",
		"processed table name (default: processed_sales_data)")
	initCmd.Flags().BoolVar(&initDropExisting, "drop-existing", false,
		"drop existing tables before initialization")
}

func runInit(cmd *cobra.Command, args []string) error {
	if initTable != "" {
		cfg.Load.Table = initTable
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	conn, err := db.ConnectSingle(ctx, cfg.Connection, "init")
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	exists, err := db.SchemaExists(ctx, conn, cfg.Load.Table)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}

	if exists && initDropExisting {
		logging.Warn().
			Str("table", cfg.Load.Table).
			Msg("Dropping existing schema")
		if err := db.DropSchema(ctx, conn, cfg.Load.Table); err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
	}

	logging.Info().
		Str("table", cfg.Load.Table).
		Msg("Creating schema")
	if err := db.CreateSchema(ctx, conn, cfg.Load.Table); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logging.Info().Msg("Database initialization complete")
	return nil
}
