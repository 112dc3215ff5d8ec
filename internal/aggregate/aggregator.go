//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package aggregate rolls a day of processed sales into per-store daily
// metrics.
package aggregate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// Store reads per-store totals and replaces the metric rows of a date.
type Store interface {
	DailyStoreTotals(ctx context.Context, date time.Time) ([]model.StoreTotals, error)

	// ReplaceDailyMetrics deletes every daily metric row of date and
	// inserts rows in one transaction.
	ReplaceDailyMetrics(ctx context.Context, date time.Time, rows []model.AnalyticsRecord) error
}

// Aggregator computes and stores daily metrics.
type Aggregator struct {
	store Store
}

// New creates an aggregator over store.
func New(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Aggregate computes one daily row per store for date and replaces the
// stored rows of that date with them. Rerunning it for the same date
// leaves exactly the rows of the last run.
func (a *Aggregator) Aggregate(ctx context.Context, date time.Time) ([]model.AnalyticsRecord, error) {
	date = model.Day(date)

	totals, err := a.store.DailyStoreTotals(ctx, date)
	if err != nil {
		return nil, etlerr.New(etlerr.Aggregation, "read store totals", err)
	}

	rows := Build(date, totals)
	if err := a.store.ReplaceDailyMetrics(ctx, date, rows); err != nil {
		return nil, etlerr.New(etlerr.Aggregation, "replace daily metrics", err)
	}

	logging.Info().
		Str("date", date.Format(model.DateLayout)).
		Int("stores", len(rows)).
		Msg("Daily metrics replaced")

	return rows, nil
}

// Build turns store totals into daily analytics rows. The average is
// total_sales / total_transactions rounded to cents.
func Build(date time.Time, totals []model.StoreTotals) []model.AnalyticsRecord {
	rows := make([]model.AnalyticsRecord, 0, len(totals))
	for _, t := range totals {
		avg := decimal.Zero
		if t.TotalTransactions > 0 {
			avg = t.TotalSales.DivRound(decimal.NewFromInt(t.TotalTransactions), 2)
		}
		rows = append(rows, model.AnalyticsRecord{
			MetricDate:          date,
			MetricType:          model.MetricDaily,
			StoreLocation:       t.StoreLocation,
			TotalSales:          t.TotalSales,
			TotalTransactions:   t.TotalTransactions,
			AvgTransactionValue: avg,
		})
	}
	return rows
}
