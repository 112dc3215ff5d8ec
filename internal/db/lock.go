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

	"github.com/jackc/pgx/v5"
)

// RunLock is a session-level advisory lock keyed on the processed table,
// so runs from separate processes against the same target exclude each
// other. The lock lives as long as the connection; it must not be a
// pooled connection.
type RunLock struct {
	conn *pgx.Conn
	key  string
}

// NewRunLock creates a run lock on a dedicated connection.
func NewRunLock(conn *pgx.Conn, processedTable string) *RunLock {
	if processedTable == "" {
		processedTable = DefaultProcessedTable
	}
	return &RunLock{conn: conn, key: "pgedge-salesetl:" + processedTable}
}

// TryLock attempts to take the lock without waiting.
func (l *RunLock) TryLock(ctx context.Context) (bool, error) {
	var ok bool
	if err := l.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", l.key).Scan(&ok); err != nil {
		return false, classify("try advisory lock", err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *RunLock) Unlock(ctx context.Context) error {
	var ok bool
	if err := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock(hashtext($1))", l.key).Scan(&ok); err != nil {
		return classify("advisory unlock", err)
	}
	if !ok {
		return fmt.Errorf("advisory lock %q was not held", l.key)
	}
	return nil
}
