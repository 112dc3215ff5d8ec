//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package staging persists the per-run intermediate CSV artifacts so each
// stage can consume its input independently of the previous one.
package staging

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// Area names the directories holding raw and processed artifacts.
type Area struct {
	RawDir       string
	ProcessedDir string
}

// RawPath returns the raw extract path for a run date.
func (a Area) RawPath(date time.Time) string {
	return filepath.Join(a.RawDir, "sales_data_"+date.Format(model.DateLayout)+".csv")
}

// ProcessedPath returns the processed artifact path for a run date.
func (a Area) ProcessedPath(date time.Time) string {
	return filepath.Join(a.ProcessedDir, "processed_sales_"+date.Format(model.DateLayout)+".csv")
}

// WriteRaw writes raw records with a header row.
func WriteRaw(path string, records []model.RawRecord) error {
	return writeCSV(path, model.RawColumns, func(w *csv.Writer) error {
		for _, r := range records {
			if err := w.Write(r.Values()); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadRaw reads a raw artifact written by WriteRaw.
func ReadRaw(path string) ([]model.RawRecord, error) {
	var records []model.RawRecord
	err := readCSV(path, model.RawColumns, func(row []string) error {
		var r model.RawRecord
		for i, col := range model.RawColumns {
			r.Set(col, row[i])
		}
		records = append(records, r)
		return nil
	})
	return records, err
}

// WriteProcessed writes processed records with a header row. Null
// numeric values are written as empty fields.
func WriteProcessed(path string, records []model.ProcessedRecord) error {
	return writeCSV(path, model.ProcessedColumns, func(w *csv.Writer) error {
		for _, r := range records {
			if err := w.Write(processedRow(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadProcessed reads a processed artifact written by WriteProcessed.
func ReadProcessed(path string) ([]model.ProcessedRecord, error) {
	var records []model.ProcessedRecord
	err := readCSV(path, model.ProcessedColumns, func(row []string) error {
		r, err := parseProcessedRow(row)
		if err != nil {
			return err
		}
		records = append(records, r)
		return nil
	})
	return records, err
}

func processedRow(r model.ProcessedRecord) []string {
	quantity := ""
	if r.Quantity != nil {
		quantity = strconv.FormatInt(*r.Quantity, 10)
	}
	return []string{
		r.TransactionID,
		r.ProductID,
		r.CustomerID,
		r.TransactionDate.Format(model.DateLayout),
		quantity,
		nullDecimalText(r.Amount),
		r.StoreLocation,
		r.DayOfWeek,
		r.Month,
		strconv.Itoa(r.Quarter),
		strconv.Itoa(r.Year),
		nullDecimalText(r.TotalAmount),
	}
}

func parseProcessedRow(row []string) (model.ProcessedRecord, error) {
	var r model.ProcessedRecord
	var err error

	r.TransactionID = row[0]
	r.ProductID = row[1]
	r.CustomerID = row[2]
	if r.TransactionDate, err = time.Parse(model.DateLayout, row[3]); err != nil {
		return r, fmt.Errorf("transaction_date: %w", err)
	}
	if row[4] != "" {
		q, err := strconv.ParseInt(row[4], 10, 64)
		if err != nil {
			return r, fmt.Errorf("quantity: %w", err)
		}
		r.Quantity = &q
	}
	if r.Amount, err = parseNullDecimal(row[5]); err != nil {
		return r, fmt.Errorf("amount: %w", err)
	}
	r.StoreLocation = row[6]
	r.DayOfWeek = row[7]
	r.Month = row[8]
	if r.Quarter, err = strconv.Atoi(row[9]); err != nil {
		return r, fmt.Errorf("quarter: %w", err)
	}
	if r.Year, err = strconv.Atoi(row[10]); err != nil {
		return r, fmt.Errorf("year: %w", err)
	}
	if r.TotalAmount, err = parseNullDecimal(row[11]); err != nil {
		return r, fmt.Errorf("total_amount: %w", err)
	}
	return r, nil
}

func nullDecimalText(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func parseNullDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// writeCSV writes to a temporary file and renames it into place so a
// failed write never leaves a truncated artifact behind.
func writeCSV(path string, header []string, body func(w *csv.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".staging-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := body(w); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move staging file into place: %w", err)
	}
	return nil
}

func readCSV(path string, header []string, row func([]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return etlerr.New(etlerr.SourceUnavailable, "open staging "+path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(header)

	got, err := cr.Read()
	if err != nil {
		return etlerr.New(etlerr.MalformedRecord, "read staging header", err)
	}
	if strings.Join(got, ",") != strings.Join(header, ",") {
		return etlerr.Errorf(etlerr.MalformedRecord, "read staging header",
			"unexpected columns in %s: %v", path, got)
	}

	for line := 2; ; line++ {
		values, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return etlerr.New(etlerr.MalformedRecord, fmt.Sprintf("%s line %d", path, line), err)
		}
		if err := row(values); err != nil {
			return etlerr.New(etlerr.MalformedRecord, fmt.Sprintf("%s line %d", path, line), err)
		}
	}
}
