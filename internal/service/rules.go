package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
)

// Rule thresholds. These mirror the product's tuned values; changing
// them changes which transactions customers see flagged.
const (
	duplicateWindow     = time.Hour
	largeExpenseZScore  = 2.5
	salarySpikeRatio    = 2.0
	operationalRatio    = 2.5
	capitalWindow       = 3 * 24 * time.Hour // each side of the transaction
	capitalWindowDays   = 6
	capitalMinFrequency = 3
)

var (
	salaryKeywords      = []string{"gaji"}
	operationalKeywords = []string{"gas", "listrik", "bensin", "operasional"}
	capitalKeywords     = []string{"modal", "setoran"}
)

// ruleContext bundles one batch with its derived profile and statistics
// so each detector runs without recomputing shared state.
type ruleContext struct {
	txns    []domain.Transaction
	stats   map[string]domain.CategoryStat
	profile domain.BusinessProfile
	loc     *time.Location
}

// ruleDetector inspects the whole batch and maps transaction IDs to at
// most one reason each. Detectors are pure: they never mutate the batch.
type ruleDetector func(*ruleContext) map[string]domain.AnomalyReason

// ruleDetectors is the closed, ordered set of business rules. The order
// fixes how reasons are listed on a flagged transaction.
var ruleDetectors = []ruleDetector{
	detectDuplicates,
	detectOddHours,
	detectLargeExpenses,
	detectSalarySpikes,
	detectOperationalSpikes,
	detectFrequentCapital,
}

// detectDuplicates flags pairs with identical amount and category whose
// timestamps fall within one hour. The batch is sorted by time and only
// adjacent pairs are compared; both sides of a pair are flagged.
func detectDuplicates(c *ruleContext) map[string]domain.AnomalyReason {
	sorted := make([]domain.Transaction, len(c.txns))
	copy(sorted, c.txns)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	reasons := make(map[string]domain.AnomalyReason)
	for i := 0; i < len(sorted)-1; i++ {
		cur, next := sorted[i], sorted[i+1]
		if cur.Amount != next.Amount || cur.Category != next.Category {
			continue
		}
		if next.Date.Sub(cur.Date) >= duplicateWindow {
			continue
		}
		reason := domain.AnomalyReason{
			Type:     domain.ReasonDuplicate,
			Message:  "Duplikasi transaksi terdeteksi",
			Severity: domain.SeverityHigh,
		}
		reasons[cur.ID] = reason
		reasons[next.ID] = reason
	}
	return reasons
}

// detectOddHours flags transactions at hours atypical for this business.
// Severity is softened per business type: restaurants legitimately run
// late, online businesses run around the clock.
func detectOddHours(c *ruleContext) map[string]domain.AnomalyReason {
	reasons := make(map[string]domain.AnomalyReason)
	for _, tx := range c.txns {
		hour := tx.Date.In(c.loc).Hour()
		if !isUnusualHour(hour, c.profile.HourPattern, len(c.txns)) {
			continue
		}

		common := c.profile.HourPattern.CommonHours
		var severity, message string
		switch {
		case c.profile.BusinessType == domain.BusinessRestaurant && (hour >= 22 || hour <= 2):
			severity = domain.SeverityLow
			message = fmt.Sprintf("Transaksi agak terlambat (%02d:00) - biasanya jam %s", hour, common)
		case c.profile.BusinessType == domain.BusinessOnline && hour <= 6:
			severity = domain.SeverityLow
			message = fmt.Sprintf("Transaksi dini hari (%02d:00) - biasanya jam %s", hour, common)
		default:
			severity = domain.SeverityMedium
			message = fmt.Sprintf("Transaksi pada jam tidak biasa (%02d:00) - biasanya jam %s", hour, common)
		}

		reasons[tx.ID] = domain.AnomalyReason{
			Type:     domain.ReasonOddHours,
			Message:  message,
			Severity: severity,
		}
	}
	return reasons
}

// detectLargeExpenses flags expense transactions whose amount deviates
// more than 2.5 smoothed standard deviations above the category mean.
func detectLargeExpenses(c *ruleContext) map[string]domain.AnomalyReason {
	reasons := make(map[string]domain.AnomalyReason)
	for _, tx := range c.txns {
		if tx.Type != domain.TypeExpense {
			continue
		}
		cs := statsFor(c.stats, tx)
		if cs.Mean <= 0 {
			continue
		}
		// +1 keeps single-entry categories (std 0) from exploding.
		zScore := (tx.Amount - cs.Mean) / (cs.Std + 1)
		if zScore <= largeExpenseZScore {
			continue
		}
		reasons[tx.ID] = domain.AnomalyReason{
			Type: domain.ReasonLargeExpense,
			Message: fmt.Sprintf("%s Rp %s (biasanya %s–%s ribu)",
				categoryLabel(tx), formatAmount(tx.Amount),
				formatAmount(cs.Mean-cs.Std), formatAmount(cs.Mean+cs.Std)),
			Severity: domain.SeverityHigh,
		}
	}
	return reasons
}

// detectSalarySpikes flags salary-category transactions above twice the
// category mean.
func detectSalarySpikes(c *ruleContext) map[string]domain.AnomalyReason {
	reasons := make(map[string]domain.AnomalyReason)
	for _, tx := range c.txns {
		if !containsAnyKeyword(tx.Category, salaryKeywords) {
			continue
		}
		cs := statsFor(c.stats, tx)
		if cs.Mean <= 0 || tx.Amount <= cs.Mean*salarySpikeRatio {
			continue
		}
		reasons[tx.ID] = domain.AnomalyReason{
			Type: domain.ReasonSalarySpike,
			Message: fmt.Sprintf("Gaji crew Rp %s (biasanya %s ribu)",
				formatAmount(tx.Amount), formatAmount(cs.Mean)),
			Severity: domain.SeverityHigh,
		}
	}
	return reasons
}

// detectOperationalSpikes flags operational-cost categories (utilities,
// fuel, general operations) above 2.5x the category mean.
func detectOperationalSpikes(c *ruleContext) map[string]domain.AnomalyReason {
	reasons := make(map[string]domain.AnomalyReason)
	for _, tx := range c.txns {
		if !containsAnyKeyword(tx.Category, operationalKeywords) {
			continue
		}
		cs := statsFor(c.stats, tx)
		if cs.Mean <= 0 || tx.Amount <= cs.Mean*operationalRatio {
			continue
		}
		reasons[tx.ID] = domain.AnomalyReason{
			Type: domain.ReasonOperationalSpike,
			Message: fmt.Sprintf("%s mendadak tinggi Rp %s (biasanya %s)",
				categoryLabel(tx), formatAmount(tx.Amount), formatAmount(cs.Mean)),
			Severity: domain.SeverityMedium,
		}
	}
	return reasons
}

// detectFrequentCapital flags capital-injection income transactions that
// fall inside a six-day window (three days either side) containing three
// or more such injections.
func detectFrequentCapital(c *ruleContext) map[string]domain.AnomalyReason {
	var capital []domain.Transaction
	for _, tx := range c.txns {
		if tx.Type == domain.TypeIncome && containsAnyKeyword(tx.Category, capitalKeywords) {
			capital = append(capital, tx)
		}
	}
	if len(capital) < 2 {
		return nil
	}
	sort.Slice(capital, func(i, j int) bool {
		return capital[i].Date.Before(capital[j].Date)
	})

	reasons := make(map[string]domain.AnomalyReason)
	for _, tx := range capital {
		windowStart := tx.Date.Add(-capitalWindow)
		windowEnd := tx.Date.Add(capitalWindow)
		count := 0
		for _, other := range capital {
			if !other.Date.Before(windowStart) && !other.Date.After(windowEnd) {
				count++
			}
		}
		if count < capitalMinFrequency {
			continue
		}
		reasons[tx.ID] = domain.AnomalyReason{
			Type: domain.ReasonFrequentCapital,
			Message: fmt.Sprintf("Setoran modal %d kali dalam %d hari",
				count, capitalWindowDays),
			Severity: domain.SeverityMedium,
		}
	}
	return reasons
}

func containsAnyKeyword(category string, keywords []string) bool {
	if category == "" {
		return false
	}
	lower := strings.ToLower(category)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// formatAmount renders an amount as a rounded, thousand-grouped string.
func formatAmount(v float64) string {
	s := strconv.FormatInt(int64(v), 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	out := b.String()
	if neg {
		return "-" + out
	}
	return out
}
