//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// Strategy is a missing-value policy.
type Strategy string

// Missing-value strategies.
const (
	StrategyConstant Strategy = "constant"
	StrategyMean     Strategy = "mean"
	StrategyMedian   Strategy = "median"
	StrategyDrop     Strategy = "drop"
)

// MissingPolicy says how a missing value in one column is handled.
type MissingPolicy struct {
	Strategy Strategy
	// Value is the literal used by StrategyConstant.
	Value string
}

// ParsePolicy reads the configuration shorthand for a policy: the
// keywords mean, median and drop select those strategies, and any other
// text is a constant fill value.
func ParsePolicy(s string) MissingPolicy {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyMean:
		return MissingPolicy{Strategy: StrategyMean}
	case StrategyMedian:
		return MissingPolicy{Strategy: StrategyMedian}
	case StrategyDrop:
		return MissingPolicy{Strategy: StrategyDrop}
	}
	return MissingPolicy{Strategy: StrategyConstant, Value: s}
}

// CoercionType is a type-coercion policy.
type CoercionType string

// Coercion types.
const (
	Numeric     CoercionType = "numeric"
	Datetime    CoercionType = "datetime"
	Categorical CoercionType = "categorical"
)

// typedColumns are parsed into typed fields of the processed record, so
// their coercion is fixed. Rules must carry these entries unchanged;
// only categorical coercion of text columns is configurable.
var typedColumns = map[string]CoercionType{
	model.ColTransactionDate: Datetime,
	model.ColQuantity:        Numeric,
	model.ColAmount:          Numeric,
}

// Rules configures the transformer per column.
type Rules struct {
	Missing map[string]MissingPolicy
	Coerce  map[string]CoercionType
}

// DefaultRules returns the production rule set.
func DefaultRules() Rules {
	return Rules{
		Missing: map[string]MissingPolicy{
			model.ColQuantity:      {Strategy: StrategyConstant, Value: "0"},
			model.ColAmount:        {Strategy: StrategyMean},
			model.ColStoreLocation: {Strategy: StrategyConstant, Value: model.UnknownStore},
		},
		Coerce: map[string]CoercionType{
			model.ColTransactionDate: Datetime,
			model.ColQuantity:        Numeric,
			model.ColAmount:          Numeric,
		},
	}
}

// RulesFromConfig builds rules from the configuration maps, where
// missing values use the ParsePolicy shorthand.
func RulesFromConfig(missing, coerce map[string]string) Rules {
	rules := Rules{
		Missing: make(map[string]MissingPolicy, len(missing)),
		Coerce:  make(map[string]CoercionType, len(coerce)),
	}
	for col, s := range missing {
		rules.Missing[normalize(col)] = ParsePolicy(s)
	}
	for col, t := range coerce {
		rules.Coerce[normalize(col)] = CoercionType(strings.ToLower(strings.TrimSpace(t)))
	}
	return rules
}

func normalize(col string) string {
	return strings.ToLower(strings.TrimSpace(col))
}

func isNumericColumn(col string) bool {
	return col == model.ColQuantity || col == model.ColAmount
}

// Validate checks that every rule names a known column and a strategy or
// type that applies to it, and that the typed columns keep their fixed
// coercion.
func (r Rules) Validate() error {
	for _, col := range sortedKeys(r.Missing) {
		p := r.Missing[col]
		if !model.IsRawColumn(col) {
			return fmt.Errorf("missing-value rule for unknown column %q", col)
		}
		switch p.Strategy {
		case StrategyConstant:
			if p.Value == "" {
				return fmt.Errorf("constant rule for %s needs a value", col)
			}
		case StrategyMean, StrategyMedian:
			if !isNumericColumn(col) {
				return fmt.Errorf("%s rule only applies to quantity and amount, not %s",
					p.Strategy, col)
			}
		case StrategyDrop:
		default:
			return fmt.Errorf("unknown missing-value strategy %q for %s", p.Strategy, col)
		}
	}

	for _, col := range sortedKeys(r.Coerce) {
		t := r.Coerce[col]
		if !model.IsRawColumn(col) {
			return fmt.Errorf("coercion rule for unknown column %q", col)
		}
		switch t {
		case Numeric:
			if !isNumericColumn(col) {
				return fmt.Errorf("numeric coercion only applies to quantity and amount, not %s", col)
			}
		case Datetime:
			if col != model.ColTransactionDate {
				return fmt.Errorf("datetime coercion only applies to %s, not %s",
					model.ColTransactionDate, col)
			}
		case Categorical:
			if isNumericColumn(col) || col == model.ColTransactionDate {
				return fmt.Errorf("categorical coercion does not apply to %s", col)
			}
		default:
			return fmt.Errorf("unknown coercion type %q for %s", t, col)
		}
	}

	for _, col := range sortedKeys(typedColumns) {
		want := typedColumns[col]
		got, ok := r.Coerce[col]
		if !ok {
			return fmt.Errorf("coercion rule for %s is required and must be %s", col, want)
		}
		if got != want {
			return fmt.Errorf("coercion of %s is fixed to %s, got %s", col, want, got)
		}
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
