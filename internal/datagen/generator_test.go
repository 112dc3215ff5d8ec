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
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

func testConfig() SalesConfig {
	cfg := DefaultSalesConfig()
	cfg.Records = 500
	cfg.End = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	cfg.Days = 7
	cfg.Seed = 42
	return cfg
}

func TestSalesConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *SalesConfig)
		wantErr bool
	}{
		{"defaults", func(c *SalesConfig) {}, false},
		{"zero records", func(c *SalesConfig) { c.Records = 0 }, true},
		{"zero days", func(c *SalesConfig) { c.Days = 0 }, true},
		{"zero products", func(c *SalesConfig) { c.Products = 0 }, true},
		{"inverted quantity", func(c *SalesConfig) { c.MinQuantity, c.MaxQuantity = 5, 2 }, true},
		{"negative amount", func(c *SalesConfig) { c.MinAmount = -1 }, true},
		{"dirty rate too high", func(c *SalesConfig) { c.DirtyRate = 1.5 }, true},
		{"dirty rate ok", func(c *SalesConfig) { c.DirtyRate = 0.2 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSalesConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateClean(t *testing.T) {
	cfg := testConfig()
	g, err := NewSalesGenerator(cfg)
	if err != nil {
		t.Fatalf("NewSalesGenerator failed: %v", err)
	}

	records, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(records) != cfg.Records {
		t.Fatalf("Expected %d records, got %d", cfg.Records, len(records))
	}

	first := time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for _, r := range records {
		if seen[r.TransactionID] {
			t.Errorf("Duplicate transaction id %s in clean data", r.TransactionID)
		}
		seen[r.TransactionID] = true

		ts, err := time.Parse("2006-01-02 15:04:05", r.TransactionDate)
		if err != nil {
			t.Fatalf("Unparseable date %q: %v", r.TransactionDate, err)
		}
		if day := model.Day(ts); day.Before(first) || day.After(cfg.End) {
			t.Errorf("Date %s outside the generated window", r.TransactionDate)
		}

		q, err := strconv.Atoi(r.Quantity)
		if err != nil || q < cfg.MinQuantity || q > cfg.MaxQuantity {
			t.Errorf("Quantity %q out of range", r.Quantity)
		}
		a, err := strconv.ParseFloat(r.Amount, 64)
		if err != nil || a < cfg.MinAmount || a > cfg.MaxAmount {
			t.Errorf("Amount %q out of range", r.Amount)
		}
		if !strings.Contains(r.Amount, ".") || len(r.Amount)-strings.Index(r.Amount, ".") != 3 {
			t.Errorf("Expected amount with two decimals, got %q", r.Amount)
		}
		if r.StoreLocation == "" || r.ProductID == "" || r.CustomerID == "" {
			t.Errorf("Expected all fields set, got %+v", r)
		}
	}

	if len(g.Dirt()) != 0 {
		t.Errorf("Expected no dirt with rate 0, got %v", g.Dirt())
	}
}

func TestGenerateReproducible(t *testing.T) {
	g1, _ := NewSalesGenerator(testConfig())
	g2, _ := NewSalesGenerator(testConfig())

	r1, _ := g1.Generate(context.Background())
	r2, _ := g2.Generate(context.Background())

	if !reflect.DeepEqual(r1, r2) {
		t.Error("Same seed produced different records")
	}
}

func TestGenerateDirty(t *testing.T) {
	cfg := testConfig()
	cfg.Records = 2000
	cfg.DirtyRate = 0.3

	g, err := NewSalesGenerator(cfg)
	if err != nil {
		t.Fatalf("NewSalesGenerator failed: %v", err)
	}
	records, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	dirt := g.Dirt()
	total := 0
	for _, kind := range dirtKinds {
		if dirt[kind] == 0 {
			t.Errorf("Expected some %s rows, got none", kind)
		}
		total += dirt[kind]
	}
	if total < 300 || total > 900 {
		t.Errorf("Expected roughly 30%% dirty rows, got %d of %d", total, len(records))
	}

	missingQty := 0
	for _, r := range records {
		if r.Quantity == "" {
			missingQty++
		}
	}
	// Duplicates may copy a row that already lacks a quantity.
	if missingQty < dirt[DirtMissingQty] {
		t.Errorf("Expected at least %d rows without quantity, got %d", dirt[DirtMissingQty], missingQty)
	}
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g, _ := NewSalesGenerator(testConfig())
	if _, err := g.Generate(ctx); err == nil {
		t.Error("Expected error from cancelled context")
	}
}

func TestStoreWeights(t *testing.T) {
	got := storeWeights(3)
	want := []int{4, 3, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
