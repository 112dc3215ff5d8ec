//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package model defines the record shapes shared by the pipeline stages.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the sales input, in canonical order.
const (
	ColTransactionID   = "transaction_id"
	ColProductID       = "product_id"
	ColCustomerID      = "customer_id"
	ColTransactionDate = "transaction_date"
	ColQuantity        = "quantity"
	ColAmount          = "amount"
	ColStoreLocation   = "store_location"
)

// RawColumns lists the input columns in the order they are written to
// the raw staging artifact.
var RawColumns = []string{
	ColTransactionID,
	ColProductID,
	ColCustomerID,
	ColTransactionDate,
	ColQuantity,
	ColAmount,
	ColStoreLocation,
}

// UnknownStore is stored when a record has no store location.
const UnknownStore = "Unknown"

// MetricDaily is the only analytics metric type produced today.
const MetricDaily = "daily"

// RawRecord is a transaction exactly as read from a source. Every field is
// kept as text; an empty string means the value is missing.
type RawRecord struct {
	TransactionID   string `json:"transaction_id"`
	ProductID       string `json:"product_id"`
	CustomerID      string `json:"customer_id"`
	TransactionDate string `json:"transaction_date"`
	Quantity        string `json:"quantity"`
	Amount          string `json:"amount"`
	StoreLocation   string `json:"store_location"`
}

// Get returns the value of the named column.
func (r *RawRecord) Get(column string) string {
	if p := r.field(column); p != nil {
		return *p
	}
	return ""
}

// Set assigns the value of the named column. Unknown columns are ignored.
func (r *RawRecord) Set(column, value string) {
	if p := r.field(column); p != nil {
		*p = value
	}
}

// Values returns the record in RawColumns order.
func (r RawRecord) Values() []string {
	return []string{
		r.TransactionID,
		r.ProductID,
		r.CustomerID,
		r.TransactionDate,
		r.Quantity,
		r.Amount,
		r.StoreLocation,
	}
}

func (r *RawRecord) field(column string) *string {
	switch strings.ToLower(strings.TrimSpace(column)) {
	case ColTransactionID:
		return &r.TransactionID
	case ColProductID:
		return &r.ProductID
	case ColCustomerID:
		return &r.CustomerID
	case ColTransactionDate:
		return &r.TransactionDate
	case ColQuantity:
		return &r.Quantity
	case ColAmount:
		return &r.Amount
	case ColStoreLocation:
		return &r.StoreLocation
	}
	return nil
}

// IsRawColumn reports whether column names one of the input columns.
func IsRawColumn(column string) bool {
	var r RawRecord
	return r.field(column) != nil
}

// ProcessedRecord is a cleaned and enriched transaction, keyed by
// TransactionID. Quantity and Amount are nil/invalid only when numeric
// coercion failed after missing values were filled.
type ProcessedRecord struct {
	TransactionID   string              `json:"transaction_id"`
	ProductID       string              `json:"product_id"`
	CustomerID      string              `json:"customer_id"`
	TransactionDate time.Time           `json:"transaction_date"`
	Quantity        *int64              `json:"quantity"`
	Amount          decimal.NullDecimal `json:"amount"`
	StoreLocation   string              `json:"store_location"`
	DayOfWeek       string              `json:"day_of_week"`
	Month           string              `json:"month"`
	Quarter         int                 `json:"quarter"`
	Year            int                 `json:"year"`
	TotalAmount     decimal.NullDecimal `json:"total_amount"`
}

// ProcessedColumns lists the processed columns in staging and insert order.
var ProcessedColumns = []string{
	"transaction_id",
	"product_id",
	"customer_id",
	"transaction_date",
	"quantity",
	"amount",
	"store_location",
	"day_of_week",
	"month",
	"quarter",
	"year",
	"total_amount",
}

// AnalyticsRecord is one aggregate metric row.
type AnalyticsRecord struct {
	MetricDate          time.Time       `json:"metric_date"`
	MetricType          string          `json:"metric_type"`
	StoreLocation       string          `json:"store_location"`
	TotalSales          decimal.Decimal `json:"total_sales"`
	TotalTransactions   int64           `json:"total_transactions"`
	AvgTransactionValue decimal.Decimal `json:"avg_transaction_value"`
}

// StoreTotals holds the summed sales of one store for one day.
type StoreTotals struct {
	StoreLocation     string
	TotalSales        decimal.Decimal
	TotalTransactions int64
}

// QualityReport holds integrity counts over one day of processed data.
type QualityReport struct {
	TargetDate         time.Time `json:"target_date"`
	TotalRecords       int64     `json:"total_records"`
	UniqueTransactions int64     `json:"unique_transactions"`
	NullQuantities     int64     `json:"null_quantities"`
	NullAmounts        int64     `json:"null_amounts"`
}

// Day truncates t to a calendar date in UTC, keeping t's own
// year/month/day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateLayout is the textual date format used in artifacts and the CLI.
const DateLayout = "2006-01-02"

// RunRecord is the persisted outcome of one pipeline run.
type RunRecord struct {
	ID          string         `json:"id"`
	TargetDate  time.Time      `json:"target_date"`
	State       string         `json:"state"`
	FailedStage string         `json:"failed_stage,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    map[string]int `json:"attempts"`
	Quality     *QualityReport `json:"quality,omitempty"`
	Extracted   int64          `json:"extracted"`
	Loaded      int64          `json:"loaded"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}
