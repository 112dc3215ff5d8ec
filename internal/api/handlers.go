//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-salesetl/internal/db"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

type handlers struct {
	reader Reader
	cfg    Config
}

// saleResponse is a processed record with dates as plain dates and
// amounts as JSON numbers.
type saleResponse struct {
	TransactionID   string       `json:"transaction_id"`
	ProductID       string       `json:"product_id"`
	CustomerID      string       `json:"customer_id"`
	TransactionDate string       `json:"transaction_date"`
	Quantity        *int64       `json:"quantity"`
	Amount          *json.Number `json:"amount"`
	StoreLocation   string       `json:"store_location"`
	DayOfWeek       string       `json:"day_of_week"`
	Month           string       `json:"month"`
	Quarter         int          `json:"quarter"`
	Year            int          `json:"year"`
	TotalAmount     *json.Number `json:"total_amount"`
}

type analyticsResponse struct {
	MetricDate          string      `json:"metric_date"`
	MetricType          string      `json:"metric_type"`
	StoreLocation       string      `json:"store_location"`
	TotalSales          json.Number `json:"total_sales"`
	TotalTransactions   int64       `json:"total_transactions"`
	AvgTransactionValue json.Number `json:"avg_transaction_value"`
}

func (h *handlers) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Sales ETL API is running"})
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := h.queryContext(c)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if err := h.reader.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Health check failed")
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "timestamp": time.Now().UTC()})
}

func (h *handlers) listSales(c *gin.Context) {
	var f db.SalesFilter
	var err error

	if f.StartDate, err = parseDateParam(c, "start_date"); err != nil {
		badRequest(c, err)
		return
	}
	if f.EndDate, err = parseDateParam(c, "end_date"); err != nil {
		badRequest(c, err)
		return
	}
	if f.Limit, err = h.limit(c); err != nil {
		badRequest(c, err)
		return
	}
	f.StoreLocation = c.Query("store_location")

	ctx, cancel := h.queryContext(c)
	defer cancel()

	records, err := h.reader.ListProcessed(ctx, f)
	if err != nil {
		internalError(c, "Failed to list sales data", err)
		return
	}

	out := make([]saleResponse, 0, len(records))
	for _, r := range records {
		out = append(out, saleResponse{
			TransactionID:   r.TransactionID,
			ProductID:       r.ProductID,
			CustomerID:      r.CustomerID,
			TransactionDate: r.TransactionDate.Format(model.DateLayout),
			Quantity:        r.Quantity,
			Amount:          nullNumber(r.Amount),
			StoreLocation:   r.StoreLocation,
			DayOfWeek:       r.DayOfWeek,
			Month:           r.Month,
			Quarter:         r.Quarter,
			Year:            r.Year,
			TotalAmount:     nullNumber(r.TotalAmount),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) dailyAnalytics(c *gin.Context) {
	date, err := parseDateParam(c, "date")
	if err != nil {
		badRequest(c, err)
		return
	}
	if date.IsZero() {
		date = model.Day(time.Now())
	}
	metricType := c.DefaultQuery("metric_type", model.MetricDaily)

	ctx, cancel := h.queryContext(c)
	defer cancel()

	records, err := h.reader.ListAnalytics(ctx, date, metricType)
	if err != nil {
		internalError(c, "Failed to list analytics", err)
		return
	}

	out := make([]analyticsResponse, 0, len(records))
	for _, r := range records {
		out = append(out, analyticsResponse{
			MetricDate:          r.MetricDate.Format(model.DateLayout),
			MetricType:          r.MetricType,
			StoreLocation:       r.StoreLocation,
			TotalSales:          number(r.TotalSales),
			TotalTransactions:   r.TotalTransactions,
			AvgTransactionValue: number(r.AvgTransactionValue),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) queryContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := h.cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().QueryTimeout
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

// limit reads the limit parameter, defaulting and capping it.
func (h *handlers) limit(c *gin.Context) (int, error) {
	limit := h.cfg.DefaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("limit must be a positive integer")
		}
		limit = n
	}
	if h.cfg.MaxLimit > 0 && limit > h.cfg.MaxLimit {
		limit = h.cfg.MaxLimit
	}
	return limit, nil
}

// parseDateParam accepts YYYY-MM-DD or RFC 3339 and returns the calendar
// date; a missing parameter returns the zero time.
func parseDateParam(c *gin.Context, name string) (time.Time, error) {
	s := c.Query(name)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(model.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date (YYYY-MM-DD)", name)
	}
	return model.Day(t), nil
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func nullNumber(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	n := number(d.Decimal)
	return &n
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func internalError(c *gin.Context, msg string, err error) {
	logging.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
