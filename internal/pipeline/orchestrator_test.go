//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
	"github.com/pgEdge/pgedge-salesetl/internal/staging"
	"github.com/pgEdge/pgedge-salesetl/internal/transform"
)

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu      sync.Mutex
	records []model.RawRecord
	errs    []error
	calls   int

	// When set, Read signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSource) Read(ctx context.Context) ([]model.RawRecord, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if call <= len(f.errs) {
		return nil, f.errs[call-1]
	}
	return f.records, nil
}

// memStore is an in-memory analytical store.
type memStore struct {
	mu           sync.Mutex
	rows         map[string]model.ProcessedRecord
	metrics      map[string]model.AnalyticsRecord
	writeErrs    []error
	writeCalls   int
	replaceCalls int
}

func newMemStore() *memStore {
	return &memStore{
		rows:    make(map[string]model.ProcessedRecord),
		metrics: make(map[string]model.AnalyticsRecord),
	}
}

func (m *memStore) WriteChunk(ctx context.Context, table string, records []model.ProcessedRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	if m.writeCalls <= len(m.writeErrs) {
		return 0, m.writeErrs[m.writeCalls-1]
	}
	for _, r := range records {
		if existing, ok := m.rows[r.TransactionID]; ok {
			existing.Quantity, existing.Amount, existing.TotalAmount = r.Quantity, r.Amount, r.TotalAmount
			r = existing
		}
		m.rows[r.TransactionID] = r
	}
	return int64(len(records)), nil
}

func (m *memStore) QualityCounts(ctx context.Context, date time.Time) (model.QualityReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report model.QualityReport
	ids := make(map[string]struct{})
	for _, r := range m.rows {
		if !r.TransactionDate.Equal(date) {
			continue
		}
		report.TotalRecords++
		ids[r.TransactionID] = struct{}{}
		if r.Quantity == nil {
			report.NullQuantities++
		}
		if !r.Amount.Valid {
			report.NullAmounts++
		}
	}
	report.UniqueTransactions = int64(len(ids))
	return report, nil
}

func (m *memStore) DailyStoreTotals(ctx context.Context, date time.Time) ([]model.StoreTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStore := make(map[string]*model.StoreTotals)
	for _, r := range m.rows {
		if !r.TransactionDate.Equal(date) {
			continue
		}
		t, ok := byStore[r.StoreLocation]
		if !ok {
			t = &model.StoreTotals{StoreLocation: r.StoreLocation}
			byStore[r.StoreLocation] = t
		}
		t.TotalTransactions++
		if r.TotalAmount.Valid {
			t.TotalSales = t.TotalSales.Add(r.TotalAmount.Decimal)
		}
	}

	var totals []model.StoreTotals
	for _, t := range byStore {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].StoreLocation < totals[j].StoreLocation })
	return totals, nil
}

func (m *memStore) ReplaceDailyMetrics(ctx context.Context, date time.Time, rows []model.AnalyticsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replaceCalls++
	for k, r := range m.metrics {
		if r.MetricDate.Equal(date) {
			delete(m.metrics, k)
		}
	}
	for _, r := range rows {
		m.metrics[r.StoreLocation] = r
	}
	return nil
}

type memRunLog struct {
	mu        sync.Mutex
	succeeded map[string]bool
	started   []model.RunRecord
	finished  []model.RunRecord
}

func (l *memRunLog) StartRun(ctx context.Context, run model.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, run)
	return nil
}

func (l *memRunLog) FinishRun(ctx context.Context, run model.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, run)
	return nil
}

func (l *memRunLog) HasSucceeded(ctx context.Context, date time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.succeeded[date.Format(model.DateLayout)], nil
}

// memLock stands in for a lock shared by several processes.
type memLock struct {
	mu       sync.Mutex
	held     bool
	err      error
	released int
}

func (l *memLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *memLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released++
	return nil
}

func scenarioRecords() []model.RawRecord {
	return []model.RawRecord{
		{TransactionID: "TXN_1", TransactionDate: "2024-01-01", Quantity: "2", Amount: "10.00", StoreLocation: "Store A"},
		{TransactionID: "TXN_1", TransactionDate: "2024-01-01", Quantity: "2", Amount: "10.00", StoreLocation: "Store A"},
		{TransactionID: "TXN_2", TransactionDate: "2024-01-01", Quantity: "", Amount: "5.00", StoreLocation: "Store A"},
	}
}

func scenarioRules() transform.Rules {
	rules := transform.DefaultRules()
	rules.Missing[model.ColQuantity] = transform.MissingPolicy{Strategy: transform.StrategyConstant, Value: "1"}
	return rules
}

func newOrchestrator(t *testing.T, src *fakeSource, store *memStore, mutate func(*Config)) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Source:     src,
		Staging:    staging.Area{RawDir: dir + "/raw", ProcessedDir: dir + "/processed"},
		Rules:      scenarioRules(),
		Writer:     store,
		Table:      "processed_sales_data",
		BatchSize:  1000,
		Counter:    store,
		Store:      store,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return o
}

func TestRunEndToEndScenario(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{records: scenarioRecords()}
	o := newOrchestrator(t, src, store, nil)

	run, err := o.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, Succeeded, run.State)
	assert.Empty(t, run.FailedStage)
	assert.EqualValues(t, 3, run.Extracted)
	assert.EqualValues(t, 2, run.Loaded)
	assert.Equal(t, 1, run.Stats.Duplicates)
	for _, s := range Stages {
		assert.Equal(t, 1, run.Attempts[s], "attempts for %s", s)
	}

	require.Len(t, store.rows, 2)
	assert.True(t, store.rows["TXN_1"].TotalAmount.Decimal.Equal(decimal.RequireFromString("20.00")))
	assert.True(t, store.rows["TXN_2"].TotalAmount.Decimal.Equal(decimal.RequireFromString("5.00")))

	require.NotNil(t, run.Quality)
	assert.EqualValues(t, 2, run.Quality.TotalRecords)
	assert.EqualValues(t, 2, run.Quality.UniqueTransactions)

	require.Len(t, run.Analytics, 1)
	row := run.Analytics[0]
	assert.Equal(t, "Store A", row.StoreLocation)
	assert.Equal(t, model.MetricDaily, row.MetricType)
	assert.True(t, row.TotalSales.Equal(decimal.RequireFromString("25.00")), "total_sales %s", row.TotalSales)
	assert.EqualValues(t, 2, row.TotalTransactions)
	assert.True(t, row.AvgTransactionValue.Equal(decimal.RequireFromString("12.50")), "avg %s", row.AvgTransactionValue)
}

func TestRunWritesStagingArtifacts(t *testing.T) {
	store := newMemStore()
	dir := t.TempDir()
	area := staging.Area{RawDir: dir + "/raw", ProcessedDir: dir + "/processed"}
	o := newOrchestrator(t, &fakeSource{records: scenarioRecords()}, store, func(c *Config) {
		c.Staging = area
	})

	_, err := o.Run(context.Background(), day)
	require.NoError(t, err)

	_, err = os.Stat(area.RawPath(day))
	assert.NoError(t, err)

	processed, err := staging.ReadProcessed(area.ProcessedPath(day))
	require.NoError(t, err)
	assert.Len(t, processed, 2)
}

func TestRunIsIdempotent(t *testing.T) {
	store := newMemStore()
	o := newOrchestrator(t, &fakeSource{records: scenarioRecords()}, store, nil)

	_, err := o.Run(context.Background(), day)
	require.NoError(t, err)
	first := store.metrics["Store A"]

	_, err = o.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Len(t, store.rows, 2)
	assert.Len(t, store.metrics, 1)
	assert.True(t, first.TotalSales.Equal(store.metrics["Store A"].TotalSales))
}

func TestRunEmptyDateSkipsAggregation(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{records: []model.RawRecord{
		{TransactionID: "TXN_9", TransactionDate: "2023-12-30", Quantity: "1", Amount: "1.00", StoreLocation: "Store A"},
	}}
	o := newOrchestrator(t, src, store, nil)

	run, err := o.Run(context.Background(), day)
	require.Error(t, err)

	assert.Equal(t, Failed, run.State)
	assert.Equal(t, CheckingQuality, run.FailedStage)
	assert.Equal(t, etlerr.EmptyDataset, run.ErrorKind)
	assert.Equal(t, 1, run.Attempts[CheckingQuality], "empty dataset must not be retried")
	assert.Zero(t, run.Attempts[Aggregating])
	assert.Zero(t, store.replaceCalls, "aggregator must not run")

	require.NotNil(t, run.Quality)
	assert.Zero(t, run.Quality.TotalRecords)
}

func TestRunNullQuantitiesStillAggregate(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{records: []model.RawRecord{
		{TransactionID: "TXN_1", TransactionDate: "2024-01-01", Quantity: "many", Amount: "3.00", StoreLocation: "Store A"},
		{TransactionID: "TXN_2", TransactionDate: "2024-01-01", Quantity: "1", Amount: "3.00", StoreLocation: "Store A"},
	}}
	o := newOrchestrator(t, src, store, nil)

	run, err := o.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, Succeeded, run.State)
	assert.EqualValues(t, 1, run.Quality.NullQuantities)
	assert.EqualValues(t, "warn", run.Verdict)
	require.Len(t, run.Analytics, 1)
	assert.EqualValues(t, 2, run.Analytics[0].TotalTransactions)
	assert.True(t, run.Analytics[0].TotalSales.Equal(decimal.RequireFromString("3.00")))
}

func TestRunRetriesStageOnce(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{
		records: scenarioRecords(),
		errs:    []error{etlerr.New(etlerr.SourceUnavailable, "GET", errors.New("timeout"))},
	}
	o := newOrchestrator(t, src, store, nil)

	run, err := o.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, run.State)
	assert.Equal(t, 2, run.Attempts[Extracting])
	assert.Equal(t, 1, run.Attempts[Transforming])
}

func TestRunFailsAfterRetriesExhausted(t *testing.T) {
	tests := []struct {
		name         string
		maxRetries   int
		wantAttempts int
	}{
		{"default single retry", 1, 2},
		{"no retries", 0, 1},
		{"two retries", 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unavailable := etlerr.New(etlerr.SourceUnavailable, "open", errors.New("no such file"))
			src := &fakeSource{errs: []error{unavailable, unavailable, unavailable, unavailable}}
			store := newMemStore()
			o := newOrchestrator(t, src, store, func(c *Config) { c.MaxRetries = tt.maxRetries })

			run, err := o.Run(context.Background(), day)
			require.Error(t, err)
			assert.Equal(t, Failed, run.State)
			assert.Equal(t, Extracting, run.FailedStage)
			assert.Equal(t, etlerr.SourceUnavailable, run.ErrorKind)
			assert.Equal(t, tt.wantAttempts, run.Attempts[Extracting])
			assert.Zero(t, run.Attempts[Transforming], "no stage may run after a failure")
			assert.Zero(t, store.writeCalls)
		})
	}
}

func TestRunConstraintViolationNotRetried(t *testing.T) {
	store := newMemStore()
	store.writeErrs = []error{etlerr.New(etlerr.ConstraintViolation, "write chunk", errors.New("violates check constraint"))}
	o := newOrchestrator(t, &fakeSource{records: scenarioRecords()}, store, nil)

	run, err := o.Run(context.Background(), day)
	require.Error(t, err)
	assert.Equal(t, Loading, run.FailedStage)
	assert.Equal(t, etlerr.ConstraintViolation, run.ErrorKind)
	assert.Equal(t, 1, run.Attempts[Loading])
	assert.Zero(t, run.Attempts[CheckingQuality])
}

func TestRunStoreUnavailableRetried(t *testing.T) {
	store := newMemStore()
	store.writeErrs = []error{errors.New("connection reset by peer")}
	o := newOrchestrator(t, &fakeSource{records: scenarioRecords()}, store, nil)

	run, err := o.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Attempts[Loading])
	assert.EqualValues(t, 2, run.Loaded)
}

func TestRunMalformedDate(t *testing.T) {
	src := &fakeSource{records: []model.RawRecord{
		{TransactionID: "TXN_1", TransactionDate: "yesterday-ish", Quantity: "1", Amount: "1.00"},
	}}
	store := newMemStore()
	o := newOrchestrator(t, src, store, nil)

	run, err := o.Run(context.Background(), day)
	require.Error(t, err)
	assert.Equal(t, Transforming, run.FailedStage)
	assert.Equal(t, etlerr.MalformedRecord, run.ErrorKind)
	assert.Equal(t, 2, run.Attempts[Transforming])
	assert.Equal(t, 1, src.calls, "a transform retry must not re-read the source")
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	src := &fakeSource{
		records: scenarioRecords(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	o := newOrchestrator(t, src, newMemStore(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), day)
		done <- err
	}()
	<-src.entered

	run, err := o.Run(context.Background(), day.AddDate(0, 0, 1))
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(src.release)
	require.NoError(t, <-done)

	src.entered = nil
	_, err = o.Run(context.Background(), day)
	assert.NoError(t, err, "a new run may start once the first finished")
}

func TestRunLockExcludesOtherOrchestrator(t *testing.T) {
	lock := &memLock{}
	store := newMemStore()
	runLog := &memRunLog{}
	withShared := func(c *Config) {
		c.Lock = lock
		c.RunLog = runLog
	}

	blocked := &fakeSource{
		records: scenarioRecords(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	first := newOrchestrator(t, blocked, store, withShared)
	second := newOrchestrator(t, &fakeSource{records: scenarioRecords()}, store, withShared)

	done := make(chan error, 1)
	go func() {
		_, err := first.Run(context.Background(), day)
		done <- err
	}()
	<-blocked.entered

	run, err := second.Run(context.Background(), day)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrRunInProgress)
	runLog.mu.Lock()
	assert.Len(t, runLog.started, 1, "a refused run must not be recorded")
	runLog.mu.Unlock()

	close(blocked.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, lock.released)

	run, err = second.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, run.State)
	assert.Equal(t, 2, lock.released)
	assert.False(t, lock.held)
}

func TestRunLockError(t *testing.T) {
	lock := &memLock{err: errors.New("connection reset")}
	src := &fakeSource{records: scenarioRecords()}
	o := newOrchestrator(t, src, newMemStore(), func(c *Config) { c.Lock = lock })

	run, err := o.Run(context.Background(), day)
	assert.Nil(t, run)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 0, src.calls)
}

func TestCancelBetweenStages(t *testing.T) {
	src := &fakeSource{
		records: scenarioRecords(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := newMemStore()
	o := newOrchestrator(t, src, store, nil)

	assert.False(t, o.Cancel(), "no active run")

	type result struct {
		run *Run
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, err := o.Run(context.Background(), day)
		done <- result{run, err}
	}()
	<-src.entered

	assert.True(t, o.Cancel())
	close(src.release)

	res := <-done
	require.Error(t, res.err)
	assert.Equal(t, Failed, res.run.State)
	assert.Equal(t, etlerr.Cancelled, res.run.ErrorKind)
	assert.EqualValues(t, 3, res.run.Extracted, "the running stage completes")
	assert.Zero(t, res.run.Attempts[Transforming])
	assert.Zero(t, store.writeCalls)
}

func TestCancelDuringRetryWait(t *testing.T) {
	src := &fakeSource{errs: []error{etlerr.New(etlerr.SourceUnavailable, "GET", errors.New("refused"))}}
	o := newOrchestrator(t, src, newMemStore(), func(c *Config) { c.RetryDelay = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			src.mu.Lock()
			calls := src.calls
			src.mu.Unlock()
			if calls > 0 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	start := time.Now()
	run, err := o.Run(ctx, day)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, etlerr.Cancelled, run.ErrorKind)
	assert.Equal(t, 1, run.Attempts[Extracting])
}

func TestDependsOnPast(t *testing.T) {
	runLog := &memRunLog{succeeded: map[string]bool{}}
	o := newOrchestrator(t, &fakeSource{records: scenarioRecords()}, newMemStore(), func(c *Config) {
		c.DependsOnPast = true
		c.RunLog = runLog
	})

	run, err := o.Run(context.Background(), day)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrPreviousDayIncomplete)
	assert.Empty(t, runLog.started)

	runLog.succeeded["2023-12-31"] = true
	run, err = o.Run(context.Background(), day)
	require.NoError(t, err)

	require.Len(t, runLog.started, 1)
	require.Len(t, runLog.finished, 1)
	assert.Equal(t, run.ID.String(), runLog.finished[0].ID)
	assert.Equal(t, string(Pending), runLog.started[0].State)
	assert.Equal(t, string(Succeeded), runLog.finished[0].State)
	assert.Equal(t, 1, runLog.finished[0].Attempts[string(Aggregating)])
	assert.NotNil(t, runLog.finished[0].FinishedAt)
}

func TestRunLogRecordsFailure(t *testing.T) {
	runLog := &memRunLog{}
	src := &fakeSource{records: []model.RawRecord{
		{TransactionID: "TXN_9", TransactionDate: "2023-12-30", Quantity: "1", Amount: "1.00"},
	}}
	o := newOrchestrator(t, src, newMemStore(), func(c *Config) { c.RunLog = runLog })

	_, err := o.Run(context.Background(), day)
	require.Error(t, err)

	require.Len(t, runLog.finished, 1)
	rec := runLog.finished[0]
	assert.Equal(t, string(Failed), rec.State)
	assert.Equal(t, string(CheckingQuality), rec.FailedStage)
	assert.Equal(t, string(etlerr.EmptyDataset), rec.ErrorKind)
	assert.NotEmpty(t, rec.Error)
	require.NotNil(t, rec.Quality)
}

func TestNewValidation(t *testing.T) {
	store := newMemStore()
	_, err := New(Config{Writer: store, Counter: store, Store: store})
	assert.Error(t, err)

	_, err = New(Config{
		Source:  &fakeSource{},
		Staging: staging.Area{RawDir: "r", ProcessedDir: "p"},
		Writer:  store, Counter: store, Store: store,
		Rules: transform.Rules{Coerce: map[string]transform.CoercionType{"amount": "text"}},
	})
	assert.Error(t, err)
}
