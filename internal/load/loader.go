//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package load writes processed records to the analytical store in
// sequential, individually committed chunks.
package load

import (
	"context"
	"fmt"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// DefaultBatchSize is the number of records per chunk.
const DefaultBatchSize = 1000

// ChunkWriter upserts one chunk atomically. Either every record of the
// chunk is written or none is.
type ChunkWriter interface {
	WriteChunk(ctx context.Context, table string, records []model.ProcessedRecord) (int64, error)
}

// Loader splits records into chunks and hands them to a ChunkWriter one
// at a time.
type Loader struct {
	writer    ChunkWriter
	table     string
	batchSize int
}

// New creates a loader. A batchSize <= 0 uses DefaultBatchSize.
func New(writer ChunkWriter, table string, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{
		writer:    writer,
		table:     table,
		batchSize: batchSize,
	}
}

// Load writes all records and returns how many were written. On a chunk
// failure the error is returned with the count committed so far; earlier
// chunks stay committed and a rerun with the same input converges on the
// same stored state.
func (l *Loader) Load(ctx context.Context, records []model.ProcessedRecord) (int64, error) {
	var written int64
	chunks := (len(records) + l.batchSize - 1) / l.batchSize

	for i := 0; i < chunks; i++ {
		start := i * l.batchSize
		end := min(start+l.batchSize, len(records))

		n, err := l.writer.WriteChunk(ctx, l.table, records[start:end])
		if err != nil {
			logging.Error().
				Err(err).
				Str("table", l.table).
				Int("chunk", i+1).
				Int("chunks", chunks).
				Int64("written", written).
				Msg("Chunk failed")

			if etlerr.KindOf(err) == etlerr.Unknown {
				err = etlerr.New(etlerr.StoreUnavailable, "load", err)
			}
			return written, fmt.Errorf("chunk %d of %d: %w", i+1, chunks, err)
		}
		written += n

		logging.Debug().
			Str("table", l.table).
			Int("chunk", i+1).
			Int("chunks", chunks).
			Int64("rows", n).
			Msg("Chunk committed")
	}

	logging.Info().
		Str("table", l.table).
		Int64("records", written).
		Int("chunks", chunks).
		Msg("Load complete")

	return written, nil
}
