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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-salesetl/internal/api"
	"github.com/pgEdge/pgedge-salesetl/internal/db"
)

var (
	serveListen   string
	serveMaxConns int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only sales API",
	Long: `Serve processed sales and daily analytics over HTTP, along with a
health check and Prometheus metrics.

Example:
  pgedge-salesetl serve --listen :8000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "",
		"listen address (default: :8000)")
	serveCmd.Flags().IntVar(&serveMaxConns, "max-conns", 0,
		"maximum database connections")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListen != "" {
		cfg.API.Listen = serveListen
	}
	if serveMaxConns > 0 {
		cfg.API.MaxConns = serveMaxConns
	}

	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.ConnectWithMaxConns(ctx, cfg.Connection, int32(cfg.API.MaxConns))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	return api.Serve(ctx, db.NewStore(pool, cfg.Load.Table), api.Config{
		Listen:       cfg.API.Listen,
		DefaultLimit: cfg.API.DefaultLimit,
		MaxLimit:     cfg.API.MaxLimit,
		QueryTimeout: cfg.API.QueryTimeout,
	})
}
