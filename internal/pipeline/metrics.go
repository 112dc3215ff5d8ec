//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished runs.
	// Labels: outcome (succeeded, failed), error_kind
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "salesetl",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total pipeline runs by outcome",
	}, []string{"outcome", "error_kind"})

	// stageDuration measures each stage attempt.
	// Labels: stage, status (ok, error)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "salesetl",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stage attempts in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"stage", "status"})

	// stageRetries counts automatic stage retries.
	// Labels: stage
	stageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "salesetl",
		Subsystem: "pipeline",
		Name:      "stage_retries_total",
		Help:      "Total automatic stage retries",
	}, []string{"stage"})

	// recordsLoaded counts records upserted into the processed table.
	recordsLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "salesetl",
		Subsystem: "pipeline",
		Name:      "records_loaded_total",
		Help:      "Total processed records upserted",
	})

	// activeRuns is 1 while a run is executing.
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "salesetl",
		Subsystem: "pipeline",
		Name:      "active_runs",
		Help:      "Number of runs currently executing",
	})
)
