package service

import (
	"math"
	"time"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
)

// Uncategorized groups transactions without a category label.
const Uncategorized = "Uncategorized"

// featureCount is the fixed dimensionality of the ensemble input.
const featureCount = 7

// computeCategoryStats aggregates mean, population standard deviation
// and count of amounts per category over one batch.
func computeCategoryStats(txns []domain.Transaction) map[string]domain.CategoryStat {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, tx := range txns {
		cat := categoryLabel(tx)
		sums[cat] += tx.Amount
		counts[cat]++
	}

	stats := make(map[string]domain.CategoryStat, len(counts))
	for cat, count := range counts {
		mean := sums[cat] / float64(count)
		var sqDiff float64
		for _, tx := range txns {
			if categoryLabel(tx) == cat {
				d := tx.Amount - mean
				sqDiff += d * d
			}
		}
		stats[cat] = domain.CategoryStat{
			Mean:  mean,
			Std:   math.Sqrt(sqDiff / float64(count)),
			Count: count,
		}
	}
	return stats
}

func categoryLabel(tx domain.Transaction) string {
	if tx.Category == "" {
		return Uncategorized
	}
	return tx.Category
}

// statsFor looks up the stats of a transaction's category, defaulting
// to {mean 0, std 1, count 1} so downstream ratios never divide by zero.
func statsFor(stats map[string]domain.CategoryStat, tx domain.Transaction) domain.CategoryStat {
	if s, ok := stats[categoryLabel(tx)]; ok {
		return s
	}
	return domain.CategoryStat{Mean: 0, Std: 1, Count: 1}
}

// buildFeatures converts one transaction into the fixed-length numeric
// vector consumed by the outlier ensemble. Pure and deterministic for a
// given transaction, profile and stats. Fails only on a transaction
// whose timestamp cannot be interpreted.
func buildFeatures(
	tx domain.Transaction,
	profile domain.BusinessProfile,
	stats map[string]domain.CategoryStat,
	loc *time.Location,
) ([]float64, error) {
	if tx.Date.IsZero() {
		return nil, &domain.ErrValidation{Field: "transaction_date", Message: "missing or unparseable timestamp"}
	}

	local := tx.Date.In(loc)
	hour := local.Hour()
	// Monday=0 .. Sunday=6.
	dayOfWeek := (int(local.Weekday()) + 6) % 7

	isExpense := 0.0
	if tx.Type == domain.TypeExpense {
		isExpense = 1.0
	}

	cs := statsFor(stats, tx)

	return []float64{
		tx.Amount,
		float64(hour),
		float64(dayOfWeek),
		isExpense,
		tx.Amount / (cs.Mean + 1),
		float64(cs.Count),
		hourDeviation(hour, profile.HourPattern),
	}, nil
}
