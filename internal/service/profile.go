package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
)

// Default thresholds for the hour-pattern analysis.
const (
	commonHourFraction  = 0.05 // hour is "common" when it carries >=5% of transactions
	unusualThreshold    = 0.03 // hour is unusual below this fraction
	establishedFraction = 0.02 // >=2% observed means the hour is never unusual
	defaultCommonHours  = "08:00-18:00"
)

// businessTypeRules maps category keywords to a business type.
// Ordered: the first matching rule wins. Matching is case-insensitive
// substring over the category labels seen in the batch.
var businessTypeRules = []struct {
	businessType string
	keywords     []string
}{
	{domain.BusinessRestaurant, []string{"makanan", "menu", "penjualan"}},
	{domain.BusinessRetail, []string{"toko", "barang", "stok"}},
	{domain.BusinessOnline, []string{"online", "digital"}},
}

// analyzeBusinessPattern infers the business type and operating-hour
// pattern from one batch of transactions. It never fails; sparse data
// degrades to the "general" type and default hours.
func analyzeBusinessPattern(txns []domain.Transaction, loc *time.Location) domain.BusinessProfile {
	categories := make(map[string]int)
	for _, tx := range txns {
		if tx.Category != "" {
			categories[tx.Category]++
		}
	}

	businessType := domain.BusinessGeneral
	for _, rule := range businessTypeRules {
		if categoryMatchesAny(categories, rule.keywords) {
			businessType = rule.businessType
			break
		}
	}

	return domain.BusinessProfile{
		BusinessType: businessType,
		HourPattern:  analyzeHourPattern(txns, loc),
		Categories:   categories,
	}
}

func categoryMatchesAny(categories map[string]int, keywords []string) bool {
	for cat := range categories {
		lower := strings.ToLower(cat)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// analyzeHourPattern tabulates per-hour transaction fractions in the
// business's local time zone and derives the human-readable summary of
// its common operating hours.
func analyzeHourPattern(txns []domain.Transaction, loc *time.Location) domain.HourPattern {
	counts := make(map[int]int)
	total := 0
	for _, tx := range txns {
		if tx.Date.IsZero() {
			continue
		}
		counts[tx.Date.In(loc).Hour()]++
		total++
	}

	if total == 0 {
		return domain.HourPattern{
			CommonHours:      defaultCommonHours,
			Distribution:     map[int]float64{},
			UnusualThreshold: commonHourFraction,
		}
	}

	distribution := make(map[int]float64, len(counts))
	var common []int
	for hour, count := range counts {
		frac := float64(count) / float64(total)
		distribution[hour] = frac
		if frac >= commonHourFraction {
			common = append(common, hour)
		}
	}
	sort.Ints(common)

	return domain.HourPattern{
		CommonHours:      formatCommonHours(common),
		Distribution:     distribution,
		UnusualThreshold: unusualThreshold,
		CommonHourList:   common,
	}
}

// formatCommonHours renders the common hours for display: up to three
// hours as a plain list, otherwise contiguous hours merged into ranges
// ("08:00-18:00") and gaps listed separately.
func formatCommonHours(hours []int) string {
	if len(hours) == 0 {
		return defaultCommonHours
	}
	if len(hours) <= 3 {
		parts := make([]string, len(hours))
		for i, h := range hours {
			parts[i] = fmt.Sprintf("%02d:00", h)
		}
		return strings.Join(parts, ", ")
	}

	var ranges []string
	start, end := hours[0], hours[0]
	flush := func() {
		if start == end {
			ranges = append(ranges, fmt.Sprintf("%02d:00", start))
		} else {
			ranges = append(ranges, fmt.Sprintf("%02d:00-%02d:00", start, end))
		}
	}
	for _, h := range hours[1:] {
		if h == end+1 {
			end = h
			continue
		}
		flush()
		start, end = h, h
	}
	flush()
	return strings.Join(ranges, ", ")
}

// isUnusualHour decides whether a transaction hour is atypical for this
// business. An hour the business uses at all (>=2% of history) is never
// unusual. An hour with no history is unusual only in the 02:00-06:00
// window, and only when the business has established daytime hours and
// enough history to trust the pattern.
func isUnusualHour(hour int, pattern domain.HourPattern, totalTransactions int) bool {
	frac, seen := pattern.Distribution[hour]
	if !seen {
		if hour >= 2 && hour <= 6 {
			hasDaytime := false
			for h := 8; h <= 18; h++ {
				if _, ok := pattern.Distribution[h]; ok {
					hasDaytime = true
					break
				}
			}
			return hasDaytime && totalTransactions > 20
		}
		return false
	}

	if frac >= establishedFraction {
		return false
	}
	return frac < pattern.UnusualThreshold
}

// hourDeviation scores how far an hour sits from the business's normal
// pattern: 1 minus its historical fraction, or 1 for a never-seen hour.
func hourDeviation(hour int, pattern domain.HourPattern) float64 {
	if frac, ok := pattern.Distribution[hour]; ok {
		return 1.0 - frac
	}
	return 1.0
}
