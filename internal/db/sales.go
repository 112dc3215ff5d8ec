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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// upsertSQL inserts a processed record or, when the transaction already
// exists, overwrites only its quantity, amount and total_amount.
const upsertSQL = `
INSERT INTO %s (
    transaction_id, product_id, customer_id, transaction_date, quantity,
    amount, store_location, day_of_week, month, quarter, year, total_amount
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (transaction_id) DO UPDATE SET
    quantity     = EXCLUDED.quantity,
    amount       = EXCLUDED.amount,
    total_amount = EXCLUDED.total_amount`

const qualitySQL = `
SELECT
    COUNT(*),
    COUNT(DISTINCT transaction_id),
    COUNT(*) FILTER (WHERE quantity IS NULL),
    COUNT(*) FILTER (WHERE amount IS NULL)
FROM %s
WHERE transaction_date = $1`

const storeTotalsSQL = `
SELECT store_location, COALESCE(SUM(total_amount), 0), COUNT(*)
FROM %s
WHERE transaction_date = $1
GROUP BY store_location
ORDER BY store_location`

const insertMetricSQL = `
INSERT INTO sales_analytics (
    metric_date, metric_type, store_location,
    total_sales, total_transactions, avg_transaction_value
) VALUES ($1, $2, $3, $4, $5, $6)`

// Store is the PostgreSQL analytical store. It implements the chunk
// writer, quality counter and aggregate store used by the pipeline, and
// the read queries served by the API.
type Store struct {
	db    DB
	table string
}

// NewStore creates a store whose reads use the given processed table.
func NewStore(db DB, processedTable string) *Store {
	if processedTable == "" {
		processedTable = DefaultProcessedTable
	}
	return &Store{db: db, table: processedTable}
}

func (s *Store) processed() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// WriteChunk upserts records into table in one transaction.
func (s *Store) WriteChunk(ctx context.Context, table string, records []model.ProcessedRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, classify("begin chunk", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(upsertSQL, pgx.Identifier{table}.Sanitize())
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query,
			r.TransactionID,
			r.ProductID,
			r.CustomerID,
			r.TransactionDate,
			r.Quantity,
			numericArg(r.Amount),
			r.StoreLocation,
			r.DayOfWeek,
			r.Month,
			r.Quarter,
			r.Year,
			numericArg(r.TotalAmount),
		)
	}

	br := tx.SendBatch(ctx, batch)
	var written int64
	for _, r := range records {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, classify("upsert "+r.TransactionID, err)
		}
		written += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, classify("close batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify("commit chunk", err)
	}
	return written, nil
}

// QualityCounts computes the integrity counts for one date.
func (s *Store) QualityCounts(ctx context.Context, date time.Time) (model.QualityReport, error) {
	report := model.QualityReport{TargetDate: date}
	err := s.db.QueryRow(ctx, fmt.Sprintf(qualitySQL, s.processed()), date).Scan(
		&report.TotalRecords,
		&report.UniqueTransactions,
		&report.NullQuantities,
		&report.NullAmounts,
	)
	if err != nil {
		return model.QualityReport{}, classify("quality counts", err)
	}
	return report, nil
}

// DailyStoreTotals sums total_amount per store for one date. Null totals
// contribute nothing to the sum but count as transactions.
func (s *Store) DailyStoreTotals(ctx context.Context, date time.Time) ([]model.StoreTotals, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(storeTotalsSQL, s.processed()), date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []model.StoreTotals
	for rows.Next() {
		var t model.StoreTotals
		var sales pgtype.Numeric
		if err := rows.Scan(&t.StoreLocation, &sales, &t.TotalTransactions); err != nil {
			return nil, err
		}
		if t.TotalSales, err = numericToDecimal(sales); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// ReplaceDailyMetrics deletes the daily metric rows of date and inserts
// rows in one transaction, so readers see either the old or the new set.
func (s *Store) ReplaceDailyMetrics(ctx context.Context, date time.Time, rows []model.AnalyticsRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        DELETE FROM sales_analytics WHERE metric_date = $1 AND metric_type = $2
    `, date, model.MetricDaily)
	if err != nil {
		return fmt.Errorf("failed to delete daily metrics: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertMetricSQL,
			r.MetricDate,
			r.MetricType,
			r.StoreLocation,
			numericArg(decimal.NewNullDecimal(r.TotalSales)),
			r.TotalTransactions,
			numericArg(decimal.NewNullDecimal(r.AvgTransactionValue)),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert daily metrics: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit daily metrics: %w", err)
	}

	logging.Debug().
		Str("date", date.Format(model.DateLayout)).
		Int64("deleted", tag.RowsAffected()).
		Int("inserted", len(rows)).
		Msg("Replaced daily metrics")

	return nil
}

// SalesFilter narrows ListProcessed. Zero values do not filter.
type SalesFilter struct {
	StartDate     time.Time
	EndDate       time.Time
	StoreLocation string
	Limit         int
}

// ListProcessed returns processed records ordered by date and id.
func (s *Store) ListProcessed(ctx context.Context, f SalesFilter) ([]model.ProcessedRecord, error) {
	var where []string
	var args []any
	if !f.StartDate.IsZero() {
		args = append(args, f.StartDate)
		where = append(where, fmt.Sprintf("transaction_date >= $%d", len(args)))
	}
	if !f.EndDate.IsZero() {
		args = append(args, f.EndDate)
		where = append(where, fmt.Sprintf("transaction_date <= $%d", len(args)))
	}
	if f.StoreLocation != "" {
		args = append(args, f.StoreLocation)
		where = append(where, fmt.Sprintf("store_location = $%d", len(args)))
	}

	query := `
SELECT transaction_id, product_id, customer_id, transaction_date, quantity,
       amount, store_location, day_of_week, month, quarter, year, total_amount
FROM ` + s.processed()
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY transaction_date, transaction_id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ProcessedRecord
	for rows.Next() {
		var r model.ProcessedRecord
		var amount, total pgtype.Numeric
		var quarter int16
		var year int32
		if err := rows.Scan(
			&r.TransactionID, &r.ProductID, &r.CustomerID, &r.TransactionDate, &r.Quantity,
			&amount, &r.StoreLocation, &r.DayOfWeek, &r.Month, &quarter, &year, &total,
		); err != nil {
			return nil, err
		}
		r.Quarter, r.Year = int(quarter), int(year)
		if r.Amount, err = numericToNullDecimal(amount); err != nil {
			return nil, err
		}
		if r.TotalAmount, err = numericToNullDecimal(total); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListAnalytics returns the metric rows of one date and type, ordered by
// store.
func (s *Store) ListAnalytics(ctx context.Context, date time.Time, metricType string) ([]model.AnalyticsRecord, error) {
	rows, err := s.db.Query(ctx, `
        SELECT metric_date, metric_type, store_location,
               total_sales, total_transactions, avg_transaction_value
        FROM sales_analytics
        WHERE metric_date = $1 AND metric_type = $2
        ORDER BY store_location
    `, date, metricType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AnalyticsRecord
	for rows.Next() {
		var r model.AnalyticsRecord
		var sales, avg pgtype.Numeric
		if err := rows.Scan(&r.MetricDate, &r.MetricType, &r.StoreLocation,
			&sales, &r.TotalTransactions, &avg); err != nil {
			return nil, err
		}
		if r.TotalSales, err = numericToDecimal(sales); err != nil {
			return nil, err
		}
		if r.AvgTransactionValue, err = numericToDecimal(avg); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// classify maps integrity violations (SQLSTATE class 23) to
// ConstraintViolation and every other failure to StoreUnavailable.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return etlerr.New(etlerr.ConstraintViolation, op, err)
	}
	return etlerr.New(etlerr.StoreUnavailable, op, err)
}

func numericArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

func numericToNullDecimal(n pgtype.Numeric) (decimal.NullDecimal, error) {
	if !n.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := numericToDecimal(n)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func numericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("numeric value is not finite")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}
