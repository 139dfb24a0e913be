package service

import (
	"testing"
	"time"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
)

func batchWithCategories(categories ...string) []domain.Transaction {
	txns := make([]domain.Transaction, 0, len(categories))
	for i, cat := range categories {
		txns = append(txns, domain.Transaction{
			ID:       string(rune('a' + i)),
			Type:     domain.TypeIncome,
			Amount:   10000,
			Category: cat,
			Date:     time.Date(2025, 3, 3, 10, 0, 0, 0, wib),
		})
	}
	return txns
}

func TestAnalyzeBusinessPattern_Classification(t *testing.T) {
	cases := []struct {
		name       string
		categories []string
		want       string
	}{
		{"restaurant", []string{"Penjualan Menu", "Bahan Baku"}, domain.BusinessRestaurant},
		{"retail", []string{"Stok Barang Toko"}, domain.BusinessRetail},
		{"online", []string{"Jualan Online", "Produk Digital"}, domain.BusinessOnline},
		{"general", []string{"Sewa", "Lainnya"}, domain.BusinessGeneral},
		{"restaurant wins over online", []string{"Penjualan Online"}, domain.BusinessRestaurant},
		{"case insensitive", []string{"MAKANAN RINGAN"}, domain.BusinessRestaurant},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			profile := analyzeBusinessPattern(batchWithCategories(tc.categories...), wib)
			if profile.BusinessType != tc.want {
				t.Errorf("business type = %q, want %q", profile.BusinessType, tc.want)
			}
		})
	}
}

func TestAnalyzeHourPattern(t *testing.T) {
	var txns []domain.Transaction
	// 10 transactions at 09:00, 10 at 10:00, a single one at 23:00.
	for day := 1; day <= 10; day++ {
		txns = append(txns,
			txn("a", domain.TypeIncome, "Penjualan", 10000, time.Date(2025, 3, day, 9, 0, 0, 0, wib)),
			txn("b", domain.TypeIncome, "Penjualan", 10000, time.Date(2025, 3, day, 10, 0, 0, 0, wib)),
		)
	}
	txns = append(txns, txn("c", domain.TypeIncome, "Penjualan", 10000, time.Date(2025, 3, 11, 23, 0, 0, 0, wib)))

	pattern := analyzeHourPattern(txns, wib)

	if got := pattern.Distribution[9]; got != 10.0/21.0 {
		t.Errorf("fraction for 09:00 = %f, want %f", got, 10.0/21.0)
	}
	if pattern.CommonHours != "09:00, 10:00" {
		t.Errorf("common hours = %q, want %q", pattern.CommonHours, "09:00, 10:00")
	}
	// 23:00 carries under 5% of volume, so it is not a common hour.
	for _, h := range pattern.CommonHourList {
		if h == 23 {
			t.Error("23:00 listed as common despite a single transaction")
		}
	}
}

func TestAnalyzeHourPattern_EmptyBatch(t *testing.T) {
	pattern := analyzeHourPattern(nil, wib)
	if pattern.CommonHours != defaultCommonHours {
		t.Errorf("common hours = %q, want default %q", pattern.CommonHours, defaultCommonHours)
	}
	if len(pattern.Distribution) != 0 {
		t.Errorf("distribution not empty: %v", pattern.Distribution)
	}
}

func TestAnalyzeHourPattern_SkipsZeroDates(t *testing.T) {
	txns := []domain.Transaction{
		{ID: "1", Type: domain.TypeIncome, Amount: 100},
		txn("2", domain.TypeIncome, "Penjualan", 100, time.Date(2025, 3, 3, 9, 0, 0, 0, wib)),
	}
	pattern := analyzeHourPattern(txns, wib)
	if got := pattern.Distribution[9]; got != 1.0 {
		t.Errorf("fraction for 09:00 = %f, want 1.0 after excluding the zero date", got)
	}
}

func TestFormatCommonHours(t *testing.T) {
	cases := []struct {
		name  string
		hours []int
		want  string
	}{
		{"empty falls back", nil, defaultCommonHours},
		{"single hour", []int{9}, "09:00"},
		{"short list", []int{9, 12, 15}, "09:00, 12:00, 15:00"},
		{"contiguous range", []int{8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18}, "08:00-18:00"},
		{"range with gap", []int{8, 9, 10, 11, 14}, "08:00-11:00, 14:00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatCommonHours(tc.hours); got != tc.want {
				t.Errorf("formatCommonHours(%v) = %q, want %q", tc.hours, got, tc.want)
			}
		})
	}
}

func TestIsUnusualHour(t *testing.T) {
	daytime := domain.HourPattern{
		Distribution: map[int]float64{
			9:  0.4,
			10: 0.4,
			11: 0.19,
			3:  0.01,
		},
		UnusualThreshold: unusualThreshold,
	}

	cases := []struct {
		name  string
		hour  int
		total int
		want  bool
	}{
		{"busy hour", 9, 100, false},
		{"rare early-morning hour", 3, 100, true},
		{"unseen midday hour", 13, 100, false},
		{"unseen night hour with history", 4, 100, true},
		{"unseen night hour, small history", 4, 15, false},
		{"unseen late evening", 22, 100, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isUnusualHour(tc.hour, daytime, tc.total); got != tc.want {
				t.Errorf("isUnusualHour(%d) = %v, want %v", tc.hour, got, tc.want)
			}
		})
	}
}

func TestIsUnusualHour_EstablishedFractionNeverUnusual(t *testing.T) {
	pattern := domain.HourPattern{
		Distribution:     map[int]float64{3: 0.025},
		UnusualThreshold: unusualThreshold,
	}
	// 2.5% is below the unusual threshold but above the established
	// floor: the business really does transact at this hour.
	if isUnusualHour(3, pattern, 100) {
		t.Error("hour with established volume reported as unusual")
	}
}

func TestHourDeviation(t *testing.T) {
	pattern := domain.HourPattern{Distribution: map[int]float64{9: 0.4}}
	if got := hourDeviation(9, pattern); got != 0.6 {
		t.Errorf("deviation for seen hour = %f, want 0.6", got)
	}
	if got := hourDeviation(3, pattern); got != 1.0 {
		t.Errorf("deviation for unseen hour = %f, want 1.0", got)
	}
}
