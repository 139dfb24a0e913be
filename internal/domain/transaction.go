package domain

import "time"

// Transaction types as recorded by the bookkeeping service.
const (
	TypeIncome     = "income"
	TypeExpense    = "expense"
	TypeReceivable = "receivable"
	TypePayable    = "payable"
)

// Transaction is a single bookkeeping entry for a business.
// The detection engine only reads it. IsAnomaly and AnomalyScore are
// write-back fields owned by the persistence layer; the engine reports
// them in results but never mutates the source record itself.
type Transaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Type         string    `json:"transaction_type"`
	Amount       float64   `json:"amount"`
	Category     string    `json:"category,omitempty"`
	Description  string    `json:"description,omitempty"`
	Date         time.Time `json:"transaction_date"`
	IsAnomaly    bool      `json:"is_anomaly,omitempty"`
	AnomalyScore *float64  `json:"anomaly_score,omitempty"`
}
