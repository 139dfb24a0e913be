// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
)

// TransactionStore provides the persisted transaction history and the
// anomaly write-back contract. The engine itself never touches it; only
// the store-backed service entry points do.
type TransactionStore interface {
	// ListTransactions returns every transaction for one business/user.
	ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)

	// ApplyAnomalyFlags persists the anomaly flag and score for each
	// flagged transaction after a detection run.
	ApplyAnomalyFlags(ctx context.Context, results []domain.AnomalyResult) error

	// ResetAnomalyFlag clears the anomaly flag and score on one transaction.
	ResetAnomalyFlag(ctx context.Context, transactionID string) error

	// RecordPredictionRun stores the report of one detection run for history.
	RecordPredictionRun(ctx context.Context, userID string, report *domain.AnomalyReport) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
