//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package pipeline sequences the extract, transform, load, quality and
// aggregate stages for one calendar day.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pgEdge/pgedge-salesetl/internal/aggregate"
	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/load"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
	"github.com/pgEdge/pgedge-salesetl/internal/quality"
	"github.com/pgEdge/pgedge-salesetl/internal/source"
	"github.com/pgEdge/pgedge-salesetl/internal/staging"
	"github.com/pgEdge/pgedge-salesetl/internal/transform"
)

// DefaultRetryDelay is the fixed wait before a stage is retried.
const DefaultRetryDelay = 5 * time.Minute

var (
	// ErrRunInProgress is returned when another run is still active.
	ErrRunInProgress = errors.New("a pipeline run is already in progress")

	// ErrPreviousDayIncomplete is returned when depends-on-past is set and
	// the day before the target date has no succeeded run.
	ErrPreviousDayIncomplete = errors.New("previous day has no succeeded run")
)

// RunLog records run outcomes.
type RunLog interface {
	StartRun(ctx context.Context, run model.RunRecord) error
	FinishRun(ctx context.Context, run model.RunRecord) error
	HasSucceeded(ctx context.Context, date time.Time) (bool, error)
}

// RunLock excludes runs in other processes that share the same target.
type RunLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Config holds the collaborators and policy of an orchestrator.
type Config struct {
	Source  source.Reader
	Staging staging.Area
	Rules   transform.Rules

	Writer    load.ChunkWriter
	Table     string
	BatchSize int

	Counter quality.Counter
	Store   aggregate.Store

	// RunLog and Lock are optional.
	RunLog RunLog
	Lock   RunLock

	MaxRetries    int
	RetryDelay    time.Duration
	DependsOnPast bool
}

// Orchestrator runs the pipeline, one run at a time.
type Orchestrator struct {
	reader      source.Reader
	area        staging.Area
	transformer *transform.Transformer
	loader      *load.Loader
	gate        *quality.Gate
	aggregator  *aggregate.Aggregator
	runLog      RunLog
	lock        RunLock

	maxRetries    int
	retryDelay    time.Duration
	dependsOnPast bool

	active *semaphore.Weighted

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Source == nil:
		return nil, fmt.Errorf("pipeline requires a source")
	case cfg.Writer == nil:
		return nil, fmt.Errorf("pipeline requires a chunk writer")
	case cfg.Counter == nil:
		return nil, fmt.Errorf("pipeline requires a quality counter")
	case cfg.Store == nil:
		return nil, fmt.Errorf("pipeline requires an analytics store")
	case cfg.Staging.RawDir == "" || cfg.Staging.ProcessedDir == "":
		return nil, fmt.Errorf("pipeline requires staging directories")
	}

	transformer, err := transform.New(cfg.Rules)
	if err != nil {
		return nil, err
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Orchestrator{
		reader:        cfg.Source,
		area:          cfg.Staging,
		transformer:   transformer,
		loader:        load.New(cfg.Writer, cfg.Table, cfg.BatchSize),
		gate:          quality.New(cfg.Counter),
		aggregator:    aggregate.New(cfg.Store),
		runLog:        cfg.RunLog,
		lock:          cfg.Lock,
		maxRetries:    maxRetries,
		retryDelay:    cfg.RetryDelay,
		dependsOnPast: cfg.DependsOnPast,
		active:        semaphore.NewWeighted(1),
	}, nil
}

// Cancel marks the active run for cancellation. The run stops at its
// next state transition or retry wait; a stage already executing runs to
// completion. It reports whether a run was active.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancelRun == nil {
		return false
	}
	o.cancelRun()
	return true
}

// Run executes the pipeline for date. The returned Run describes the
// final state even when an error is returned. ErrRunInProgress and
// ErrPreviousDayIncomplete are returned without a Run.
func (o *Orchestrator) Run(ctx context.Context, date time.Time) (*Run, error) {
	if !o.active.TryAcquire(1) {
		return nil, ErrRunInProgress
	}
	defer o.active.Release(1)

	if o.lock != nil {
		ok, err := o.lock.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire run lock: %w", err)
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer func() {
			if err := o.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				logging.Warn().Err(err).Msg("Failed to release run lock")
			}
		}()
	}

	activeRuns.Inc()
	defer activeRuns.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cancelRun = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancelRun = nil
		o.mu.Unlock()
	}()

	run := newRun(date)

	if o.dependsOnPast && o.runLog != nil {
		prev := run.Date.AddDate(0, 0, -1)
		ok, err := o.runLog.HasSucceeded(ctx, prev)
		if err != nil {
			return nil, fmt.Errorf("failed to check previous run: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPreviousDayIncomplete, prev.Format(model.DateLayout))
		}
	}

	if o.runLog != nil {
		if err := o.runLog.StartRun(ctx, run.Record()); err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
	}

	logging.Info().
		Str("run_id", run.ID.String()).
		Str("date", run.Date.Format(model.DateLayout)).
		Msg("Pipeline run started")

	err := o.execute(ctx, run)
	o.finish(ctx, run, err)

	return run, err
}

// execute walks the stages in order, stopping at the first failure.
func (o *Orchestrator) execute(ctx context.Context, run *Run) error {
	stages := []struct {
		state State
		fn    func(ctx context.Context) error
	}{
		{Extracting, func(ctx context.Context) error {
			records, err := o.reader.Read(ctx)
			if err != nil {
				return err
			}
			run.Extracted = int64(len(records))
			return staging.WriteRaw(o.area.RawPath(run.Date), records)
		}},
		{Transforming, func(ctx context.Context) error {
			raw, err := staging.ReadRaw(o.area.RawPath(run.Date))
			if err != nil {
				return err
			}
			out, stats, err := o.transformer.Transform(raw)
			if err != nil {
				return err
			}
			run.Stats = stats
			return staging.WriteProcessed(o.area.ProcessedPath(run.Date), out)
		}},
		{Loading, func(ctx context.Context) error {
			processed, err := staging.ReadProcessed(o.area.ProcessedPath(run.Date))
			if err != nil {
				return err
			}
			n, err := o.loader.Load(ctx, processed)
			run.Loaded = n
			recordsLoaded.Add(float64(n))
			return err
		}},
		{CheckingQuality, func(ctx context.Context) error {
			report, err := o.gate.Check(ctx, run.Date)
			if err != nil {
				return err
			}
			run.Quality = &report
			run.Verdict, err = o.gate.Evaluate(report)
			return err
		}},
		{Aggregating, func(ctx context.Context) error {
			rows, err := o.aggregator.Aggregate(ctx, run.Date)
			if err != nil {
				return err
			}
			run.Analytics = rows
			return nil
		}},
	}

	for _, s := range stages {
		if err := o.runStage(ctx, run, s.state, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// runStage executes one stage with the retry policy. Cancellation is
// checked before every attempt and during retry waits; the attempt
// itself runs on a context that ignores cancellation so a chunk or
// replacement is never cut off half way.
func (o *Orchestrator) runStage(ctx context.Context, run *Run, state State, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			run.FailedStage = state
			return etlerr.New(etlerr.Cancelled, "enter "+string(state), err)
		}

		run.State = state
		run.Attempts[state] = attempt

		logging.Debug().
			Str("run_id", run.ID.String()).
			Str("stage", string(state)).
			Int("attempt", attempt).
			Msg("Stage started")

		start := time.Now()
		err := fn(context.WithoutCancel(ctx))
		elapsed := time.Since(start)

		if err == nil {
			stageDuration.WithLabelValues(string(state), "ok").Observe(elapsed.Seconds())
			logging.Info().
				Str("run_id", run.ID.String()).
				Str("stage", string(state)).
				Dur("duration", elapsed).
				Msg("Stage completed")
			return nil
		}
		stageDuration.WithLabelValues(string(state), "error").Observe(elapsed.Seconds())

		run.FailedStage = state
		kind := etlerr.KindOf(err)
		if !etlerr.Retryable(kind) || attempt > o.maxRetries {
			return err
		}

		logging.Warn().
			Err(err).
			Str("run_id", run.ID.String()).
			Str("stage", string(state)).
			Str("kind", string(kind)).
			Dur("retry_in", o.retryDelay).
			Msg("Stage failed, retrying")
		stageRetries.WithLabelValues(string(state)).Inc()

		timer := time.NewTimer(o.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return etlerr.New(etlerr.Cancelled, "retry "+string(state), ctx.Err())
		case <-timer.C:
		}
	}
}

// finish sets the terminal state, records it and emits metrics.
func (o *Orchestrator) finish(ctx context.Context, run *Run, err error) {
	run.FinishedAt = time.Now().UTC()

	if err == nil {
		run.State = Succeeded
		run.FailedStage = ""
	} else {
		run.State = Failed
		run.Err = err
		run.ErrorKind = etlerr.KindOf(err)
	}

	runsTotal.WithLabelValues(string(run.State), string(run.ErrorKind)).Inc()

	if o.runLog != nil {
		if logErr := o.runLog.FinishRun(context.WithoutCancel(ctx), run.Record()); logErr != nil {
			logging.Error().Err(logErr).Str("run_id", run.ID.String()).Msg("Failed to record run outcome")
		}
	}

	event := logging.Info()
	if err != nil {
		event = logging.Error().
			Err(err).
			Str("failed_stage", string(run.FailedStage)).
			Str("kind", string(run.ErrorKind))
	}
	event = event.
		Str("run_id", run.ID.String()).
		Str("date", run.Date.Format(model.DateLayout)).
		Str("state", string(run.State)).
		Int64("extracted", run.Extracted).
		Int64("loaded", run.Loaded).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt))
	if run.Quality != nil {
		event = event.
			Int64("total_records", run.Quality.TotalRecords).
			Int64("null_quantities", run.Quality.NullQuantities).
			Int64("null_amounts", run.Quality.NullAmounts)
	}
	event.Msg("Pipeline run finished")
}
