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
	"time"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
	"github.com/pgEdge/pgedge-salesetl/internal/quality"
	"github.com/pgEdge/pgedge-salesetl/internal/transform"
)

// State is the position of a run in its linear state machine.
type State string

// Run states. The non-terminal states after Pending double as stage
// names.
const (
	Pending         State = "pending"
	Extracting      State = "extracting"
	Transforming    State = "transforming"
	Loading         State = "loading"
	CheckingQuality State = "checking_quality"
	Aggregating     State = "aggregating"
	Succeeded       State = "succeeded"
	Failed          State = "failed"
)

// Stages lists the working states in execution order.
var Stages = []State{Extracting, Transforming, Loading, CheckingQuality, Aggregating}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Run is the inspectable state of one pipeline run.
type Run struct {
	ID   uuid.UUID
	Date time.Time

	State State
	// FailedStage is the stage that was executing when the run failed.
	FailedStage State
	ErrorKind   etlerr.Kind
	Err         error

	// Attempts counts executions per stage, retries included.
	Attempts map[State]int

	Quality   *model.QualityReport
	Verdict   quality.Verdict
	Stats     transform.Stats
	Extracted int64
	Loaded    int64
	Analytics []model.AnalyticsRecord

	StartedAt  time.Time
	FinishedAt time.Time
}

func newRun(date time.Time) *Run {
	return &Run{
		ID:        uuid.New(),
		Date:      model.Day(date),
		State:     Pending,
		Attempts:  make(map[State]int, len(Stages)),
		StartedAt: time.Now().UTC(),
	}
}

// Record converts the run to its persisted form.
func (r *Run) Record() model.RunRecord {
	rec := model.RunRecord{
		ID:          r.ID.String(),
		TargetDate:  r.Date,
		State:       string(r.State),
		FailedStage: string(r.FailedStage),
		ErrorKind:   string(r.ErrorKind),
		Attempts:    make(map[string]int, len(r.Attempts)),
		Quality:     r.Quality,
		Extracted:   r.Extracted,
		Loaded:      r.Loaded,
		StartedAt:   r.StartedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	for s, n := range r.Attempts {
		rec.Attempts[string(s)] = n
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		rec.FinishedAt = &finished
	}
	return rec
}
