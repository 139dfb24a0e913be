package service

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
)

var wib = time.FixedZone("WIB", 7*3600)

func txn(id, txType, category string, amount float64, date time.Time) domain.Transaction {
	return domain.Transaction{
		ID:       id,
		Type:     txType,
		Amount:   amount,
		Category: category,
		Date:     date,
	}
}

func TestComputeCategoryStats(t *testing.T) {
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, wib)
	txns := []domain.Transaction{
		txn("1", domain.TypeExpense, "Bahan Baku", 10, base),
		txn("2", domain.TypeExpense, "Bahan Baku", 20, base),
		txn("3", domain.TypeExpense, "Bahan Baku", 30, base),
		txn("4", domain.TypeExpense, "", 100, base),
	}

	stats := computeCategoryStats(txns)

	bahan, ok := stats["Bahan Baku"]
	if !ok {
		t.Fatal("missing stats for Bahan Baku")
	}
	if bahan.Count != 3 {
		t.Errorf("count = %d, want 3", bahan.Count)
	}
	if bahan.Mean != 20 {
		t.Errorf("mean = %f, want 20", bahan.Mean)
	}
	wantStd := math.Sqrt(200.0 / 3.0)
	if math.Abs(bahan.Std-wantStd) > 1e-9 {
		t.Errorf("std = %f, want %f", bahan.Std, wantStd)
	}

	if _, ok := stats[Uncategorized]; !ok {
		t.Error("empty category not grouped under Uncategorized")
	}
}

func TestStatsFor_UnknownCategoryDefaults(t *testing.T) {
	tx := txn("1", domain.TypeExpense, "Sewa", 100, time.Date(2025, 3, 3, 10, 0, 0, 0, wib))
	cs := statsFor(map[string]domain.CategoryStat{}, tx)
	if cs.Mean != 0 || cs.Std != 1 || cs.Count != 1 {
		t.Errorf("default stats = %+v, want {0 1 1}", cs)
	}
}

func TestBuildFeatures(t *testing.T) {
	// 2025-03-03 is a Monday; weekday must encode as 0.
	date := time.Date(2025, 3, 3, 14, 30, 0, 0, wib)
	tx := txn("1", domain.TypeExpense, "Bahan Baku", 50000, date)

	stats := map[string]domain.CategoryStat{
		"Bahan Baku": {Mean: 40000, Std: 5000, Count: 12},
	}
	profile := domain.BusinessProfile{
		HourPattern: domain.HourPattern{
			Distribution: map[int]float64{14: 0.25},
		},
	}

	features, err := buildFeatures(tx, profile, stats, wib)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(features) != featureCount {
		t.Fatalf("feature count = %d, want %d", len(features), featureCount)
	}

	want := []float64{50000, 14, 0, 1, 50000.0 / 40001.0, 12, 0.75}
	for i := range want {
		if math.Abs(features[i]-want[i]) > 1e-9 {
			t.Errorf("feature %d = %f, want %f", i, features[i], want[i])
		}
	}
}

func TestBuildFeatures_Deterministic(t *testing.T) {
	date := time.Date(2025, 3, 5, 9, 0, 0, 0, wib)
	tx := txn("1", domain.TypeIncome, "Penjualan", 75000, date)
	txns := []domain.Transaction{tx}
	stats := computeCategoryStats(txns)
	profile := analyzeBusinessPattern(txns, wib)

	a, err := buildFeatures(tx, profile, stats, wib)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	b, err := buildFeatures(tx, profile, stats, wib)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("feature %d differs between runs: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestBuildFeatures_RejectsZeroTimestamp(t *testing.T) {
	tx := domain.Transaction{ID: "1", Type: domain.TypeExpense, Amount: 100}
	_, err := buildFeatures(tx, domain.BusinessProfile{}, nil, wib)
	if err == nil {
		t.Fatal("expected error for zero timestamp")
	}
	var vErr *domain.ErrValidation
	if !errors.As(err, &vErr) {
		t.Errorf("expected ErrValidation, got %T", err)
	}
}
