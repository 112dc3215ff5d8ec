//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package quality decides whether a day of loaded data may be aggregated.
package quality

import (
	"context"
	"time"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// Verdict is the three-way gate outcome.
type Verdict string

// Gate outcomes.
const (
	Pass Verdict = "pass"
	Warn Verdict = "warn"
	Fail Verdict = "fail"
)

// Counter computes integrity counts over the processed rows of one date.
type Counter interface {
	QualityCounts(ctx context.Context, date time.Time) (model.QualityReport, error)
}

// Gate checks loaded data before aggregation.
type Gate struct {
	counter Counter
}

// New creates a gate reading counts from counter.
func New(counter Counter) *Gate {
	return &Gate{counter: counter}
}

// Check computes the quality report for date.
func (g *Gate) Check(ctx context.Context, date time.Time) (model.QualityReport, error) {
	date = model.Day(date)
	report, err := g.counter.QualityCounts(ctx, date)
	if err != nil {
		if etlerr.KindOf(err) == etlerr.Unknown {
			err = etlerr.New(etlerr.StoreUnavailable, "quality check", err)
		}
		return model.QualityReport{}, err
	}
	report.TargetDate = date
	return report, nil
}

// Evaluate applies the decision rule: no rows fails, any null quantity
// or amount warns, anything else passes. A failing verdict comes with an
// EmptyDataset error.
func (g *Gate) Evaluate(report model.QualityReport) (Verdict, error) {
	if report.TotalRecords == 0 {
		return Fail, etlerr.Errorf(etlerr.EmptyDataset, "quality check",
			"no records for %s", report.TargetDate.Format(model.DateLayout))
	}

	if report.UniqueTransactions != report.TotalRecords {
		logging.Warn().
			Str("date", report.TargetDate.Format(model.DateLayout)).
			Int64("total", report.TotalRecords).
			Int64("unique", report.UniqueTransactions).
			Msg("Transaction ids are not unique")
	}

	if report.NullQuantities > 0 || report.NullAmounts > 0 {
		logging.Warn().
			Str("date", report.TargetDate.Format(model.DateLayout)).
			Int64("null_quantities", report.NullQuantities).
			Int64("null_amounts", report.NullAmounts).
			Msg("Processed data has null values")
		return Warn, nil
	}

	return Pass, nil
}
