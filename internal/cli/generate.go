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

	"github.com/pgEdge/pgedge-salesetl/internal/datagen"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
	"github.com/pgEdge/pgedge-salesetl/internal/staging"
)

var (
	genRecords   int
	genDays      int
	genEnd       string
	genDirtyRate float64
	genSeed      uint64
	genOutput    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a sample sales CSV",
	Long: `Generate a CSV of sample transactions spread over the last N days,
suitable as the file source. A dirty rate adds duplicates, missing values
and malformed quantities to exercise the cleaning rules.

Example:
  pgedge-salesetl generate --records 5000 --days 7 --dirty-rate 0.05`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVar(&genRecords, "records", 0,
		"number of rows to generate (default: 1000)")
	generateCmd.Flags().IntVar(&genDays, "days", 0,
		"number of days the rows are spread over (default: 30)")
	generateCmd.Flags().StringVar(&genEnd, "end", "",
		"last date covered as YYYY-MM-DD (default: today)")
	generateCmd.Flags().Float64Var(&genDirtyRate, "dirty-rate", -1,
		"fraction of rows with a data problem (0-1)")
	generateCmd.Flags().Uint64Var(&genSeed, "seed", 0,
		"random seed for reproducible output")
	generateCmd.Flags().StringVar(&genOutput, "output", "",
		"output CSV path")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if genRecords > 0 {
		cfg.Generate.Records = genRecords
	}
	if genDays > 0 {
		cfg.Generate.Days = genDays
	}
	if genDirtyRate >= 0 {
		cfg.Generate.DirtyRate = genDirtyRate
	}
	if genSeed != 0 {
		cfg.Generate.Seed = genSeed
	}
	if genOutput != "" {
		cfg.Generate.Output = genOutput
	}
	if cfg.Generate.Output == "" {
		return fmt.Errorf("an output path is required")
	}

	salesCfg := datagen.DefaultSalesConfig()
	salesCfg.Records = cfg.Generate.Records
	salesCfg.Days = cfg.Generate.Days
	salesCfg.DirtyRate = cfg.Generate.DirtyRate
	salesCfg.Seed = cfg.Generate.Seed
	if len(cfg.Generate.Stores) > 0 {
		salesCfg.Stores = cfg.Generate.Stores
	}
	if genEnd != "" {
		end, err := parseRunDate(genEnd, salesCfg.End)
		if err != nil {
			return err
		}
		salesCfg.End = end
	}

	gen, err := datagen.NewSalesGenerator(salesCfg)
	if err != nil {
		return err
	}

	records, err := gen.Generate(context.Background())
	if err != nil {
		return fmt.Errorf("failed to generate data: %w", err)
	}

	if err := staging.WriteRaw(cfg.Generate.Output, records); err != nil {
		return fmt.Errorf("failed to write sample data: %w", err)
	}

	event := logging.Info().
		Str("output", cfg.Generate.Output).
		Int("records", len(records)).
		Str("through", salesCfg.End.Format(model.DateLayout))
	for kind, n := range gen.Dirt() {
		event = event.Int(kind, n)
	}
	event.Msg("Sample data written")

	return nil
}
