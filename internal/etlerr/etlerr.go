//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package etlerr classifies pipeline failures so the orchestrator can
// decide whether a stage is retried.
package etlerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of pipeline failure.
type Kind string

const (
	// SourceUnavailable means the source could not be reached or read.
	SourceUnavailable Kind = "source_unavailable"

	// MalformedRecord means input data could not be parsed.
	MalformedRecord Kind = "malformed_record"

	// ConstraintViolation means the store rejected a write outside the
	// upsert path. Retrying an inconsistent chunk is unsafe.
	ConstraintViolation Kind = "constraint_violation"

	// StoreUnavailable means the analytical store failed during load.
	StoreUnavailable Kind = "store_unavailable"

	// EmptyDataset means the quality gate found no rows for the date.
	EmptyDataset Kind = "empty_dataset"

	// Aggregation means writing aggregates failed and was rolled back.
	Aggregation Kind = "aggregation_error"

	// Cancelled means the run was cancelled at a checkpoint.
	Cancelled Kind = "cancelled"

	// Unknown is reported for errors that carry no kind.
	Unknown Kind = "unknown"
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and the operation that failed.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind, so errors.Is can test
// for a kind with a sentinel such as &Error{Kind: EmptyDataset}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Retryable reports whether a failure of this kind may be retried.
func Retryable(kind Kind) bool {
	switch kind {
	case ConstraintViolation, EmptyDataset, Cancelled:
		return false
	}
	return true
}
