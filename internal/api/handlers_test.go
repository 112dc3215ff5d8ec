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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-salesetl/internal/db"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

type fakeReader struct {
	processed []model.ProcessedRecord
	analytics []model.AnalyticsRecord
	err       error
	pingErr   error

	lastFilter db.SalesFilter
	lastDate   time.Time
	lastType   string
}

func (f *fakeReader) ListProcessed(_ context.Context, filter db.SalesFilter) ([]model.ProcessedRecord, error) {
	f.lastFilter = filter
	return f.processed, f.err
}

func (f *fakeReader) ListAnalytics(_ context.Context, date time.Time, metricType string) ([]model.AnalyticsRecord, error) {
	f.lastDate = date
	f.lastType = metricType
	return f.analytics, f.err
}

func (f *fakeReader) Ping(context.Context) error {
	return f.pingErr
}

func init() {
	gin.SetMode(gin.TestMode)
}

func get(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRoot(t *testing.T) {
	router := NewRouter(&fakeReader{}, DefaultConfig())
	rec := get(t, router, "/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sales ETL API is running")
}

func TestHealth(t *testing.T) {
	rec := get(t, NewRouter(&fakeReader{}, DefaultConfig()), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])

	rec = get(t, NewRouter(&fakeReader{pingErr: errors.New("down")}, DefaultConfig()), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestListSales(t *testing.T) {
	qty := int64(2)
	reader := &fakeReader{processed: []model.ProcessedRecord{{
		TransactionID:   "T1",
		ProductID:       "P1",
		CustomerID:      "C1",
		TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Quantity:        &qty,
		Amount:          decimal.NewNullDecimal(decimal.RequireFromString("10.5")),
		StoreLocation:   "NYC",
		DayOfWeek:       "Monday",
		Month:           "January",
		Quarter:         1,
		Year:            2024,
		TotalAmount:     decimal.NewNullDecimal(decimal.RequireFromString("21")),
	}, {
		TransactionID:   "T2",
		TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		StoreLocation:   model.UnknownStore,
	}}}

	rec := get(t, NewRouter(reader, DefaultConfig()),
		"/sales/data?start_date=2024-01-01&end_date=2024-01-31&store_location=NYC&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), reader.lastFilter.StartDate)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), reader.lastFilter.EndDate)
	assert.Equal(t, "NYC", reader.lastFilter.StoreLocation)
	assert.Equal(t, 5, reader.lastFilter.Limit)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "2024-01-01", body[0]["transaction_date"])
	assert.Equal(t, 10.5, body[0]["amount"])
	assert.Equal(t, 21.0, body[0]["total_amount"])
	assert.Equal(t, 2.0, body[0]["quantity"])
	assert.Equal(t, 1.0, body[0]["quarter"])
	assert.Nil(t, body[1]["quantity"])
	assert.Nil(t, body[1]["amount"])
	assert.Nil(t, body[1]["total_amount"])
}

func TestListSalesLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimit = 100
	cfg.MaxLimit = 500

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"default", "", 100},
		{"explicit", "?limit=20", 20},
		{"capped", "?limit=10000", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{}
			rec := get(t, NewRouter(reader, cfg), "/sales/data"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, reader.lastFilter.Limit)
			assert.Equal(t, "[]", rec.Body.String())
		})
	}
}

func TestListSalesBadParams(t *testing.T) {
	tests := []string{
		"/sales/data?start_date=yesterday",
		"/sales/data?end_date=2024-13-01",
		"/sales/data?limit=abc",
		"/sales/data?limit=0",
		"/sales/data?limit=-3",
		"/sales/analytics/daily?date=01/02/2024",
	}

	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			rec := get(t, NewRouter(&fakeReader{}, DefaultConfig()), target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestStoreErrorIsInternal(t *testing.T) {
	reader := &fakeReader{err: errors.New("connection refused")}
	router := NewRouter(reader, DefaultConfig())

	for _, target := range []string{"/sales/data", "/sales/analytics/daily?date=2024-01-01"} {
		rec := get(t, router, target)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	}
}

func TestDailyAnalytics(t *testing.T) {
	reader := &fakeReader{analytics: []model.AnalyticsRecord{{
		MetricDate:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MetricType:          model.MetricDaily,
		StoreLocation:       "NYC",
		TotalSales:          decimal.RequireFromString("25"),
		TotalTransactions:   2,
		AvgTransactionValue: decimal.RequireFromString("12.5"),
	}}}

	rec := get(t, NewRouter(reader, DefaultConfig()), "/sales/analytics/daily?date=2024-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), reader.lastDate)
	assert.Equal(t, model.MetricDaily, reader.lastType)
	assert.JSONEq(t, `[{
		"metric_date": "2024-01-01",
		"metric_type": "daily",
		"store_location": "NYC",
		"total_sales": 25.00,
		"total_transactions": 2,
		"avg_transaction_value": 12.50
	}]`, rec.Body.String())
}

func TestDailyAnalyticsDefaults(t *testing.T) {
	reader := &fakeReader{}
	rec := get(t, NewRouter(reader, DefaultConfig()), "/sales/analytics/daily")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, model.Day(time.Now()), reader.lastDate)
	assert.Equal(t, model.MetricDaily, reader.lastType)

	get(t, NewRouter(reader, DefaultConfig()), "/sales/analytics/daily?metric_type=weekly")
	assert.Equal(t, "weekly", reader.lastType)
}

func TestCORS(t *testing.T) {
	router := NewRouter(&fakeReader{}, DefaultConfig())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dashboard.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, NewRouter(&fakeReader{}, DefaultConfig()), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
