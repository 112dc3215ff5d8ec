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
	"time"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
	"github.com/pgEdge/pgedge-salesetl/pkg/version"
)

// StartRun inserts a run when it begins.
func (s *Store) StartRun(ctx context.Context, run model.RunRecord) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}

	_, err = s.db.Exec(ctx, `
        INSERT INTO etl_runs (run_id, target_date, state, attempts, version, started_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, id, run.TargetDate, run.State, attemptsOrEmpty(run.Attempts), version.Short(), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	logging.Debug().
		Str("run_id", run.ID).
		Str("date", run.TargetDate.Format(model.DateLayout)).
		Msg("Saved run start")

	return nil
}

// FinishRun records the final state of a run.
func (s *Store) FinishRun(ctx context.Context, run model.RunRecord) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}

	tag, err := s.db.Exec(ctx, `
        UPDATE etl_runs SET
            state        = $2,
            failed_stage = $3,
            error_kind   = $4,
            error        = $5,
            attempts     = $6,
            quality      = $7,
            extracted    = $8,
            loaded       = $9,
            finished_at  = $10
        WHERE run_id = $1
    `, id, run.State, run.FailedStage, run.ErrorKind, run.Error,
		attemptsOrEmpty(run.Attempts), run.Quality, run.Extracted, run.Loaded, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// HasSucceeded reports whether date has at least one succeeded run.
func (s *Store) HasSucceeded(ctx context.Context, date time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM etl_runs WHERE target_date = $1 AND state = 'succeeded'
        )
    `, date).Scan(&exists)
	return exists, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	rows, err := s.db.Query(ctx, `
        SELECT run_id::text, target_date, state, failed_stage, error_kind, error,
               attempts, quality, extracted, loaded, started_at, finished_at
        FROM etl_runs
        ORDER BY started_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		if err := rows.Scan(&r.ID, &r.TargetDate, &r.State, &r.FailedStage, &r.ErrorKind, &r.Error,
			&r.Attempts, &r.Quality, &r.Extracted, &r.Loaded, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func attemptsOrEmpty(a map[string]int) map[string]int {
	if a == nil {
		return map[string]int{}
	}
	return a
}
