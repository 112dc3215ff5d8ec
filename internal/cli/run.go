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
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-salesetl/internal/config"
	"github.com/pgEdge/pgedge-salesetl/internal/db"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
	"github.com/pgEdge/pgedge-salesetl/internal/pipeline"
	"github.com/pgEdge/pgedge-salesetl/internal/source"
	"github.com/pgEdge/pgedge-salesetl/internal/staging"
	"github.com/pgEdge/pgedge-salesetl/internal/transform"
)

var (
	runDate          string
	runSourceFile    string
	runMaxRetries    int
	runRetryDelay    time.Duration
	runDependsOnPast bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for one date",
	Long: `Run extract, transform, load, quality check and aggregation for a
single date. The command exits non-zero when the run fails and reports the
stage that failed.

Example:
  pgedge-salesetl run --date 2024-01-01
  pgedge-salesetl run --source-file data/sales.csv --max-retries 0`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "",
		"date to process as YYYY-MM-DD (default: yesterday)")
	runCmd.Flags().StringVar(&runSourceFile, "source-file", "",
		"read transactions from this CSV file instead of the configured source")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", -1,
		"retries per stage after a retryable failure")
	runCmd.Flags().DurationVar(&runRetryDelay, "retry-delay", 0,
		"wait between stage retries (e.g., 30s, 5m)")
	runCmd.Flags().BoolVar(&runDependsOnPast, "depends-on-past", false,
		"refuse to run unless the previous day succeeded")
}

func runRun(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if runSourceFile != "" {
		cfg.Source.Kind = "file"
		cfg.Source.File.Path = runSourceFile
	}
	if runMaxRetries >= 0 {
		cfg.Pipeline.MaxRetries = runMaxRetries
	}
	if runRetryDelay > 0 {
		cfg.Pipeline.RetryDelay = runRetryDelay
	}
	if runDependsOnPast {
		cfg.Pipeline.DependsOnPast = true
	}

	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	date, err := parseRunDate(runDate, time.Now())
	if err != nil {
		return err
	}

	reader, err := source.New(sourceConfig(cfg))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logging.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal; stopping after the current stage")
			cancel()
		case <-ctx.Done():
		}
	}()

	pool, err := db.Connect(ctx, cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	exists, err := db.SchemaExists(ctx, pool, cfg.Load.Table)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if !exists {
		return fmt.Errorf("database has not been initialized; run 'pgedge-salesetl init' first")
	}

	lockConn, err := db.ConnectSingle(ctx, cfg.Connection, "run-lock")
	if err != nil {
		return fmt.Errorf("failed to open lock connection: %w", err)
	}
	defer lockConn.Close(context.Background())

	store := db.NewStore(pool, cfg.Load.Table)
	orch, err := pipeline.New(pipeline.Config{
		Source: reader,
		Staging: staging.Area{
			RawDir:       cfg.Staging.RawDir,
			ProcessedDir: cfg.Staging.ProcessedDir,
		},
		Rules:         transform.RulesFromConfig(cfg.Transform.MissingValues, cfg.Transform.Transformations),
		Writer:        store,
		Table:         cfg.Load.Table,
		BatchSize:     cfg.Load.BatchSize,
		Counter:       store,
		Store:         store,
		RunLog:        store,
		Lock:          db.NewRunLock(lockConn, cfg.Load.Table),
		MaxRetries:    cfg.Pipeline.MaxRetries,
		RetryDelay:    cfg.Pipeline.RetryDelay,
		DependsOnPast: cfg.Pipeline.DependsOnPast,
	})
	if err != nil {
		return err
	}

	logging.Info().
		Str("date", date.Format(model.DateLayout)).
		Str("source", cfg.Source.Kind).
		Int("max_retries", cfg.Pipeline.MaxRetries).
		Msg("Starting pipeline run")

	run, err := orch.Run(ctx, date)
	if run != nil {
		printRunSummary(cmd.OutOrStdout(), run)
	}
	if err != nil {
		return fmt.Errorf("pipeline run for %s failed: %w", date.Format(model.DateLayout), err)
	}
	return nil
}

// parseRunDate returns the calendar date to process; an empty value means
// the day before now.
func parseRunDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return model.Day(now).AddDate(0, 0, -1), nil
	}
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

func sourceConfig(c *config.Config) source.Config {
	return source.Config{
		Kind: c.Source.Kind,
		File: source.FileConfig{Path: c.Source.File.Path},
		HTTP: source.HTTPConfig{
			URL:     c.Source.HTTP.URL,
			Params:  c.Source.HTTP.Params,
			Headers: c.Source.HTTP.Headers,
			Timeout: c.Source.Timeout,
		},
		SQL: source.SQLConfig{
			Driver:  c.Source.SQL.Driver,
			DSN:     c.Source.SQL.DSN,
			Query:   c.Source.SQL.Query,
			Timeout: c.Source.Timeout,
		},
	}
}

func printRunSummary(w io.Writer, run *pipeline.Run) {
	fmt.Fprintf(w, "Run %s for %s: %s\n", run.ID, run.Date.Format(model.DateLayout), run.State)
	if run.State == pipeline.Failed {
		fmt.Fprintf(w, "  failed stage: %s\n", run.FailedStage)
		fmt.Fprintf(w, "  error kind:   %s\n", run.ErrorKind)
		if run.Err != nil {
			fmt.Fprintf(w, "  error:        %v\n", run.Err)
		}
	}

	fmt.Fprintf(w, "  extracted:    %d\n", run.Extracted)
	fmt.Fprintf(w, "  transformed:  %d (duplicates %d, dropped %d, imputed %d)\n",
		run.Stats.OutputRows, run.Stats.Duplicates,
		run.Stats.DroppedByPolicy+run.Stats.DroppedMissingKey, run.Stats.Imputed)
	fmt.Fprintf(w, "  loaded:       %d\n", run.Loaded)

	if q := run.Quality; q != nil {
		fmt.Fprintf(w, "  quality:      %s (total %d, unique %d, null quantity %d, null amount %d)\n",
			run.Verdict, q.TotalRecords, q.UniqueTransactions, q.NullQuantities, q.NullAmounts)
	}
	for _, a := range run.Analytics {
		fmt.Fprintf(w, "  %-20s sales %s  transactions %d  avg %s\n",
			a.StoreLocation, a.TotalSales.StringFixed(2), a.TotalTransactions,
			a.AvgTransactionValue.StringFixed(2))
	}
}
