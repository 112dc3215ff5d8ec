//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// FileReader reads raw records from a CSV file with a header row.
type FileReader struct {
	path string
}

// NewFileReader creates a reader for the CSV file at path.
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

func newFileReader(cfg Config) (Reader, error) {
	if cfg.File.Path == "" {
		return nil, fmt.Errorf("file source requires a path")
	}
	return NewFileReader(cfg.File.Path), nil
}

// Read parses the whole file.
func (r *FileReader) Read(ctx context.Context) ([]model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, etlerr.New(etlerr.Cancelled, "read file", err)
	}

	f, err := os.Open(r.path)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "open "+r.path, err)
	}
	defer f.Close()

	records, err := decodeCSV(f)
	if err != nil {
		return nil, etlerr.New(etlerr.MalformedRecord, "parse "+r.path, err)
	}

	logging.Debug().
		Str("path", r.path).
		Int("records", len(records)).
		Msg("Read CSV source")

	return records, nil
}

// decodeCSV maps CSV rows onto raw records by header name. Unknown
// columns are ignored and absent columns read as missing.
func decodeCSV(in io.Reader) ([]model.RawRecord, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header row")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	hasKey := false
	for _, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), model.ColTransactionID) {
			hasKey = true
		}
	}
	if !hasKey {
		return nil, fmt.Errorf("header has no %s column", model.ColTransactionID)
	}

	var records []model.RawRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var rec model.RawRecord
		for i, value := range row {
			if i < len(header) {
				rec.Set(header[i], value)
			}
		}
		records = append(records, rec)
	}

	return records, nil
}
