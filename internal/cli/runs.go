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
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-salesetl/internal/db"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

var (
	runsLimit int
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	Long: `List the most recent pipeline runs recorded in the run log, newest
first, with their final state and the stage that failed.`,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20,
		"number of runs to show")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false,
		"print runs as JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if runsLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	ctx := context.Background()
	conn, err := db.ConnectSingle(ctx, cfg.Connection, "runs")
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	runs, err := db.NewStore(conn, cfg.Load.Table).ListRuns(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if runsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(w io.Writer, runs []model.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	fmt.Fprintf(w, "%-36s  %-10s  %-10s  %-16s  %8s  %8s  %s\n",
		"RUN", "DATE", "STATE", "FAILED STAGE", "EXTRACT", "LOADED", "STARTED")
	for _, r := range runs {
		failed := r.FailedStage
		if failed == "" {
			failed = "-"
		}
		fmt.Fprintf(w, "%-36s  %-10s  %-10s  %-16s  %8d  %8d  %s\n",
			r.ID, r.TargetDate.Format(model.DateLayout), r.State, failed,
			r.Extracted, r.Loaded, r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
}
