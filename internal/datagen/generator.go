//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package datagen

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// DefaultStores are the store locations used when none are configured.
var DefaultStores = []string{"New York", "Los Angeles", "Chicago", "Houston", "Phoenix"}

// Dirt kinds injected into generated data.
const (
	DirtDuplicate     = "duplicate"
	DirtMissingQty    = "missing_quantity"
	DirtMissingAmount = "missing_amount"
	DirtMissingStore  = "missing_store"
	DirtPaddedStore   = "padded_store"
	DirtBadQuantity   = "bad_quantity"
)

var dirtKinds = []string{
	DirtDuplicate,
	DirtMissingQty,
	DirtMissingAmount,
	DirtMissingStore,
	DirtPaddedStore,
	DirtBadQuantity,
}

// SalesConfig controls sample data generation.
type SalesConfig struct {
	// Records is the total number of rows to produce, duplicates included.
	Records int

	// End is the last date covered; rows are spread over Days days ending here.
	End  time.Time
	Days int

	Stores    []string
	Products  int
	Customers int

	MinQuantity int
	MaxQuantity int
	MinAmount   float64
	MaxAmount   float64

	// DirtyRate is the fraction of rows given one data problem.
	DirtyRate float64

	// Seed makes output reproducible; 0 picks a random seed.
	Seed uint64

	// ProgressInterval is how often to log progress (in rows).
	ProgressInterval int
}

// DefaultSalesConfig returns default generation settings.
func DefaultSalesConfig() SalesConfig {
	return SalesConfig{
		Records:          1000,
		End:              model.Day(time.Now()),
		Days:             30,
		Stores:           DefaultStores,
		Products:         50,
		Customers:        1000,
		MinQuantity:      1,
		MaxQuantity:      9,
		MinAmount:        10,
		MaxAmount:        500,
		ProgressInterval: 100000,
	}
}

// Validate checks generation settings.
func (c SalesConfig) Validate() error {
	if c.Records <= 0 {
		return fmt.Errorf("records must be positive")
	}
	if c.Days <= 0 {
		return fmt.Errorf("days must be positive")
	}
	if c.Products <= 0 || c.Customers <= 0 {
		return fmt.Errorf("products and customers must be positive")
	}
	if c.MinQuantity < 0 || c.MaxQuantity < c.MinQuantity {
		return fmt.Errorf("invalid quantity range %d-%d", c.MinQuantity, c.MaxQuantity)
	}
	if c.MinAmount < 0 || c.MaxAmount < c.MinAmount {
		return fmt.Errorf("invalid amount range %.2f-%.2f", c.MinAmount, c.MaxAmount)
	}
	if c.DirtyRate < 0 || c.DirtyRate > 1 {
		return fmt.Errorf("dirty rate must be between 0 and 1")
	}
	return nil
}

// SalesGenerator produces raw sales records.
type SalesGenerator struct {
	cfg   SalesConfig
	faker *Faker
	dirt  map[string]int
}

// NewSalesGenerator creates a generator for the given settings.
func NewSalesGenerator(cfg SalesConfig) (*SalesGenerator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Stores) == 0 {
		cfg.Stores = DefaultStores
	}
	if cfg.End.IsZero() {
		cfg.End = model.Day(time.Now())
	}

	faker := NewFaker()
	if cfg.Seed != 0 {
		faker = NewFakerWithSeed(cfg.Seed)
	}

	return &SalesGenerator{cfg: cfg, faker: faker, dirt: make(map[string]int)}, nil
}

// Generate returns cfg.Records raw records.
func (g *SalesGenerator) Generate(ctx context.Context) ([]model.RawRecord, error) {
	progress := NewProgressReporter(g.cfg.Records, g.cfg.ProgressInterval)
	records := make([]model.RawRecord, 0, g.cfg.Records)

	start := g.cfg.End.AddDate(0, 0, -(g.cfg.Days - 1))
	end := g.cfg.End.Add(24*time.Hour - time.Second)

	for i := 0; i < g.cfg.Records; i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var r model.RawRecord
		if len(records) > 0 && g.faker.Chance(g.cfg.DirtyRate) {
			kind := Choose(g.faker, dirtKinds)
			if kind == DirtDuplicate {
				r = Choose(g.faker, records)
			} else {
				r = g.record(i, start, end)
				dirty(&r, kind)
			}
			g.dirt[kind]++
		} else {
			r = g.record(i, start, end)
		}

		records = append(records, r)
		progress.Update(1)
	}

	progress.Done()
	return records, nil
}

// Dirt returns how many rows of each dirt kind were produced.
func (g *SalesGenerator) Dirt() map[string]int {
	out := make(map[string]int, len(g.dirt))
	for k, v := range g.dirt {
		out[k] = v
	}
	return out
}

func (g *SalesGenerator) record(seq int, start, end time.Time) model.RawRecord {
	store := ChooseWeighted(g.faker, g.cfg.Stores, storeWeights(len(g.cfg.Stores)))
	return model.RawRecord{
		TransactionID:   fmt.Sprintf("TXN_%06d", seq),
		ProductID:       fmt.Sprintf("PROD_%03d", g.faker.Int(1, g.cfg.Products)),
		CustomerID:      fmt.Sprintf("CUST_%05d", g.faker.Int(1, g.cfg.Customers)),
		TransactionDate: g.faker.DateRange(start, end).UTC().Format("2006-01-02 15:04:05"),
		Quantity:        strconv.Itoa(g.faker.Int(g.cfg.MinQuantity, g.cfg.MaxQuantity)),
		Amount:          strconv.FormatFloat(g.faker.Price(g.cfg.MinAmount, g.cfg.MaxAmount), 'f', 2, 64),
		StoreLocation:   store,
	}
}

func dirty(r *model.RawRecord, kind string) {
	switch kind {
	case DirtMissingQty:
		r.Quantity = ""
	case DirtMissingAmount:
		r.Amount = ""
	case DirtMissingStore:
		r.StoreLocation = ""
	case DirtPaddedStore:
		r.StoreLocation = "  " + r.StoreLocation + " "
	case DirtBadQuantity:
		r.Quantity = "n/a"
	}
}

// storeWeights favours earlier stores so daily totals differ per store.
func storeWeights(n int) []int {
	weights := make([]int, n)
	for i := range weights {
		weights[i] = n - i + 1
	}
	return weights
}

// ProgressReporter tracks and reports generation progress.
type ProgressReporter struct {
	totalRows        int
	currentRow       int
	progressInterval int
}

// NewProgressReporter creates a new progress reporter.
func NewProgressReporter(totalRows, interval int) *ProgressReporter {
	if interval <= 0 {
		interval = totalRows + 1
	}
	return &ProgressReporter{
		totalRows:        totalRows,
		progressInterval: interval,
	}
}

// Update updates the progress and logs if necessary.
func (p *ProgressReporter) Update(rows int) {
	oldRow := p.currentRow
	p.currentRow += rows

	if p.currentRow/p.progressInterval > oldRow/p.progressInterval {
		pct := float64(p.currentRow) / float64(p.totalRows) * 100
		logging.Info().
			Int("rows", p.currentRow).
			Int("total", p.totalRows).
			Float64("percent", pct).
			Msg("Generating sales data")
	}
}

// Done logs completion.
func (p *ProgressReporter) Done() {
	logging.Info().
		Int("rows", p.currentRow).
		Msg("Sales data generated")
}
