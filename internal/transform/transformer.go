//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package transform cleans, coerces and enriches raw sales records.
package transform

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// Stats counts what happened to a batch.
type Stats struct {
	InputRows         int `json:"input_rows"`
	Duplicates        int `json:"duplicates"`
	DroppedByPolicy   int `json:"dropped_by_policy"`
	DroppedMissingKey int `json:"dropped_missing_key"`
	Imputed           int `json:"imputed"`
	CoercionFailures  int `json:"coercion_failures"`
	OutputRows        int `json:"output_rows"`
}

// Transformer turns raw records into processed records under a fixed
// rule set. It holds no state between batches.
type Transformer struct {
	rules Rules
}

// New validates rules and creates a transformer.
func New(rules Rules) (*Transformer, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transform rules: %w", err)
	}
	return &Transformer{rules: rules}, nil
}

// Transform runs the cleaning pipeline over one batch: de-duplication,
// missing-value policies, type coercion, date enrichment and the total
// amount. An unparseable transaction_date fails the whole batch.
func (t *Transformer) Transform(raw []model.RawRecord) ([]model.ProcessedRecord, Stats, error) {
	stats := Stats{InputRows: len(raw)}

	batch := dedupe(raw)
	stats.Duplicates = len(raw) - len(batch)

	for _, col := range model.RawColumns {
		policy, ok := t.rules.Missing[col]
		if !ok {
			continue
		}
		var filled, dropped int
		batch, filled, dropped = applyPolicy(batch, col, policy)
		stats.Imputed += filled
		stats.DroppedByPolicy += dropped
	}

	keyed := batch[:0]
	for _, r := range batch {
		if isMissing(r.TransactionID) {
			stats.DroppedMissingKey++
			continue
		}
		keyed = append(keyed, r)
	}
	batch = keyed

	out := make([]model.ProcessedRecord, 0, len(batch))
	for i, r := range batch {
		p, failures, err := t.process(r)
		if err != nil {
			return nil, Stats{}, etlerr.New(etlerr.MalformedRecord,
				fmt.Sprintf("transform row %d (%s)", i+1, r.TransactionID), err)
		}
		stats.CoercionFailures += failures
		out = append(out, p)
	}
	stats.OutputRows = len(out)

	logging.Debug().
		Int("input", stats.InputRows).
		Int("duplicates", stats.Duplicates).
		Int("imputed", stats.Imputed).
		Int("coercion_failures", stats.CoercionFailures).
		Int("output", stats.OutputRows).
		Msg("Transformed batch")

	return out, stats, nil
}

// dedupe copies raw without exact duplicate rows, keeping the first.
func dedupe(raw []model.RawRecord) []model.RawRecord {
	seen := make(map[string]struct{}, len(raw))
	out := make([]model.RawRecord, 0, len(raw))
	for _, r := range raw {
		key := strings.Join(r.Values(), "\x1f")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func isMissing(s string) bool {
	return strings.TrimSpace(s) == ""
}

// applyPolicy fills or drops missing values of col. Statistics are taken
// over the batch as it stands when the column is reached.
func applyPolicy(batch []model.RawRecord, col string, p MissingPolicy) ([]model.RawRecord, int, int) {
	if p.Strategy == StrategyDrop {
		kept := batch[:0]
		for _, r := range batch {
			if !isMissing(r.Get(col)) {
				kept = append(kept, r)
			}
		}
		return kept, 0, len(batch) - len(kept)
	}

	fill := p.Value
	if p.Strategy == StrategyMean || p.Strategy == StrategyMedian {
		values := numericValues(batch, col)
		if len(values) == 0 {
			return batch, 0, 0
		}
		var stat decimal.Decimal
		if p.Strategy == StrategyMean {
			stat = mean(values)
		} else {
			stat = median(values)
		}
		if col == model.ColQuantity {
			stat = stat.Round(0)
		}
		fill = stat.String()
	}

	filled := 0
	for i := range batch {
		if isMissing(batch[i].Get(col)) {
			batch[i].Set(col, fill)
			filled++
		}
	}
	return batch, filled, 0
}

func numericValues(batch []model.RawRecord, col string) []decimal.Decimal {
	var values []decimal.Decimal
	for _, r := range batch {
		v := r.Get(col)
		if isMissing(v) {
			continue
		}
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			values = append(values, d)
		}
	}
	return values
}

func mean(values []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))
}

func median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

var maxQuantity = decimal.NewFromInt(math.MaxInt64)

// process coerces and enriches one record. It returns the number of
// numeric values that failed coercion and became null.
func (t *Transformer) process(r model.RawRecord) (model.ProcessedRecord, int, error) {
	for col, typ := range t.rules.Coerce {
		if typ == Categorical {
			r.Set(col, strings.TrimSpace(r.Get(col)))
		}
	}

	date, err := parseDate(r.TransactionDate)
	if err != nil {
		return model.ProcessedRecord{}, 0, err
	}

	p := model.ProcessedRecord{
		TransactionID:   strings.TrimSpace(r.TransactionID),
		ProductID:       r.ProductID,
		CustomerID:      r.CustomerID,
		TransactionDate: date,
		StoreLocation:   r.StoreLocation,
		DayOfWeek:       date.Weekday().String(),
		Month:           date.Month().String(),
		Quarter:         (int(date.Month())-1)/3 + 1,
		Year:            date.Year(),
	}
	if isMissing(p.StoreLocation) {
		p.StoreLocation = model.UnknownStore
	}

	failures := 0
	if !isMissing(r.Quantity) {
		q, ok := parseQuantity(r.Quantity)
		if ok {
			p.Quantity = &q
		} else {
			failures++
		}
	}
	if !isMissing(r.Amount) {
		d, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
		if err == nil {
			// Stored to cents, filled means included; total_amount uses
			// the rounded value.
			p.Amount = decimal.NewNullDecimal(d.Round(2))
		} else {
			failures++
		}
	}

	if p.Quantity != nil && p.Amount.Valid {
		p.TotalAmount = decimal.NewNullDecimal(p.Amount.Decimal.Mul(decimal.NewFromInt(*p.Quantity)))
	}

	return p, failures, nil
}

// parseQuantity accepts whole numbers >= 0, including forms such as
// "2.0" produced by float-typed sources.
func parseQuantity(s string) (int64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsInteger() || d.IsNegative() || d.GreaterThan(maxQuantity) {
		return 0, false
	}
	return d.IntPart(), true
}

// parseDate reads a transaction date in any of the common layouts and
// truncates it to a calendar date.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing transaction_date")
	}
	t, err := cast.ToTimeE(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid transaction_date %q: %w", s, err)
	}
	return model.Day(t), nil
}
