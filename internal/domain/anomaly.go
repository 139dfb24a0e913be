package domain

// ============================================================
// Anomaly detection results
// ============================================================

// Report statuses.
const (
	StatusSuccess          = "success"
	StatusInsufficientData = "insufficient_data"
	StatusError            = "error"
)

// Severity levels for anomaly reasons.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Anomaly reason types. The set is closed: these six detectors are the
// only sources of explanations attached to a flagged transaction.
const (
	ReasonDuplicate        = "duplicate"
	ReasonLargeExpense     = "large_expense"
	ReasonOddHours         = "odd_hours"
	ReasonSalarySpike      = "salary_spike"
	ReasonOperationalSpike = "operational_spike"
	ReasonFrequentCapital  = "frequent_capital"
)

// ReasonTypes lists all reason types in reporting order.
var ReasonTypes = []string{
	ReasonDuplicate,
	ReasonLargeExpense,
	ReasonOddHours,
	ReasonSalarySpike,
	ReasonOperationalSpike,
	ReasonFrequentCapital,
}

// SeverityRank orders severities for sorting: high < medium < low,
// so that ascending sort puts the most severe results first.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}

// MaxSeverity returns the more severe of two severities.
func MaxSeverity(a, b string) string {
	if SeverityRank(b) < SeverityRank(a) {
		return b
	}
	return a
}

// AnomalyReason is one typed, human-readable explanation attached to a
// flagged transaction.
type AnomalyReason struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// AnomalyResult is one flagged transaction with its ensemble score and
// every rule reason that matched it.
type AnomalyResult struct {
	TransactionID string          `json:"transaction_id"`
	Amount        float64         `json:"amount"`
	Type          string          `json:"transaction_type"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Date          string          `json:"date"`
	AnomalyScore  float64         `json:"anomaly_score"`
	Severity      string          `json:"severity"`
	Reasons       []AnomalyReason `json:"reasons"`
}

// AnomalySummary tallies the report per reason type and severity bucket.
type AnomalySummary struct {
	TotalTransactions int            `json:"total_transactions"`
	AnomaliesDetected int            `json:"anomalies_detected"`
	AnomalyTypes      map[string]int `json:"anomaly_types"`
	HighSeverity      int            `json:"high_severity"`
	MediumSeverity    int            `json:"medium_severity"`
	LowSeverity       int            `json:"low_severity"`
}

// AnomalyReport is the full outcome of one detection run. A report is
// always well-formed: recoverable conditions (too few transactions,
// ensemble fit failure) are statuses, never errors.
type AnomalyReport struct {
	Status            string          `json:"status"`
	Message           string          `json:"message,omitempty"`
	Model             string          `json:"model,omitempty"`
	TotalTransactions int             `json:"total_transactions"`
	AnomaliesDetected int             `json:"anomalies_detected"`
	Anomalies         []AnomalyResult `json:"anomalies"`
	Summary           AnomalySummary  `json:"summary"`
}

// ============================================================
// Business profiling
// ============================================================

// Business types inferred from category keywords.
const (
	BusinessRestaurant = "restaurant"
	BusinessRetail     = "retail"
	BusinessOnline     = "online"
	BusinessGeneral    = "general"
)

// CategoryStat holds per-category amount statistics for one batch.
type CategoryStat struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

// HourPattern describes when a business normally transacts.
// Distribution maps hour-of-day (local time) to the fraction of all
// observed transactions at that hour; fractions sum to 1 over the
// observed hours.
type HourPattern struct {
	CommonHours      string          `json:"common_hours"`
	Distribution     map[int]float64 `json:"hour_distribution"`
	UnusualThreshold float64         `json:"unusual_threshold"`
	CommonHourList   []int           `json:"common_hour_list,omitempty"`
}

// BusinessProfile is the inferred behavioral fingerprint of a business,
// rebuilt from scratch on every detection run.
type BusinessProfile struct {
	BusinessType string         `json:"business_type"`
	HourPattern  HourPattern    `json:"hour_pattern"`
	Categories   map[string]int `json:"categories"`
}

// TopCategory is one entry of the business-pattern view, ordered by
// transaction count.
type TopCategory struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// BusinessPatternView is the read-only profile exposed for display,
// independent of full anomaly scoring.
type BusinessPatternView struct {
	Status            string          `json:"status"`
	Message           string          `json:"message,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
	TotalTransactions int             `json:"total_transactions"`
	BusinessType      string          `json:"business_type,omitempty"`
	OperatingHours    string          `json:"operating_hours,omitempty"`
	HourDistribution  map[int]float64 `json:"hour_distribution,omitempty"`
	TopCategories     []TopCategory   `json:"top_categories,omitempty"`
}

// ============================================================
// Metrics view
// ============================================================

// DetectionMetrics is the JSON snapshot served by GET /v1/metrics/detection.
type DetectionMetrics struct {
	TotalRuns            int64   `json:"total_runs"`
	SuccessRuns          int64   `json:"success_runs"`
	InsufficientDataRuns int64   `json:"insufficient_data_runs"`
	ErrorRuns            int64   `json:"error_runs"`
	HighSeverity         int64   `json:"high_severity"`
	MediumSeverity       int64   `json:"medium_severity"`
	LowSeverity          int64   `json:"low_severity"`
	EnsembleOnlyDiscards int64   `json:"ensemble_only_discards"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	Period               string  `json:"period"`
}
