package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
	"github.com/wicaksana/ukm-sentinel-go/internal/infra/resilience"
)

// maxWritebackConcurrency bounds the PATCH fan-out after a detection run.
const maxWritebackConcurrency = 8

// transactionRow maps the transactions table columns.
type transactionRow struct {
	ID              string   `json:"id"`
	UserID          string   `json:"user_id"`
	Type            string   `json:"transaction_type"`
	Amount          float64  `json:"amount"`
	Category        string   `json:"category"`
	Description     string   `json:"description"`
	TransactionDate string   `json:"transaction_date"`
	IsAnomaly       bool     `json:"is_anomaly"`
	AnomalyScore    *float64 `json:"anomaly_score"`
}

// ListTransactions fetches the full transaction history for one user.
// Implements port.TransactionStore.
func (c *Client) ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var transactions []domain.Transaction

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("transactions?user_id=eq.%s&order=transaction_date.desc&limit=1000", userID)
			body, err := c.doGet(ctx, path)
			if err != nil {
				return err
			}

			if body == nil || string(body) == "[]" {
				transactions = []domain.Transaction{}
				return nil
			}

			var rows []transactionRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode transactions: %w", err)
			}

			transactions = make([]domain.Transaction, 0, len(rows))
			for _, r := range rows {
				// Dateless rows stay in the list with a zero time; the
				// engine decides how to treat them.
				t, _ := time.Parse(time.RFC3339, r.TransactionDate)
				if t.IsZero() {
					t, _ = time.Parse("2006-01-02", r.TransactionDate)
				}
				transactions = append(transactions, domain.Transaction{
					ID:           r.ID,
					UserID:       r.UserID,
					Type:         r.Type,
					Amount:       r.Amount,
					Category:     r.Category,
					Description:  r.Description,
					Date:         t,
					IsAnomaly:    r.IsAnomaly,
					AnomalyScore: r.AnomalyScore,
				})
			}
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/transactions", Err: err}
	}

	return transactions, nil
}

// ApplyAnomalyFlags persists the flag and score for every result of a
// detection run. PATCHes run concurrently, bounded so a large report
// does not saturate PostgREST.
func (c *Client) ApplyAnomalyFlags(ctx context.Context, results []domain.AnomalyResult) error {
	ctx, span := tracer.Start(ctx, "Supabase.ApplyAnomalyFlags")
	defer span.End()
	span.SetAttributes(attribute.Int("results", len(results)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWritebackConcurrency)

	for _, r := range results {
		r := r
		g.Go(func() error {
			return resilience.RetryWithBackoff(ctx, c.cfg, func() error {
				path := fmt.Sprintf("transactions?id=eq.%s", r.TransactionID)
				return c.doPatch(ctx, path, map[string]any{
					"is_anomaly":    true,
					"anomaly_score": r.AnomalyScore,
				})
			})
		})
	}

	if err := g.Wait(); err != nil {
		return &domain.ErrExternalService{Service: "supabase/transactions", Err: err}
	}
	return nil
}

// ResetAnomalyFlag clears the anomaly columns on one transaction.
func (c *Client) ResetAnomalyFlag(ctx context.Context, transactionID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.ResetAnomalyFlag")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("transactions?id=eq.%s", transactionID)
			return c.doPatch(ctx, path, map[string]any{
				"is_anomaly":    false,
				"anomaly_score": nil,
			})
		})
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/transactions", Err: err}
	}
	return nil
}

// RecordPredictionRun stores one detection run in the predictions table
// so the app can show a history of analyses.
func (c *Client) RecordPredictionRun(ctx context.Context, userID string, report *domain.AnomalyReport) error {
	ctx, span := tracer.Start(ctx, "Supabase.RecordPredictionRun")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	resultJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	row := map[string]any{
		"id":                 uuid.NewString(),
		"user_id":            userID,
		"prediction_type":    "anomaly_detection",
		"model":              report.Model,
		"status":             report.Status,
		"total_transactions": report.TotalTransactions,
		"anomalies_detected": report.AnomaliesDetected,
		"result":             json.RawMessage(resultJSON),
		"created_at":         time.Now().UTC().Format(time.RFC3339),
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			_, err := c.doPost(ctx, "predictions", row)
			return err
		})
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/predictions", Err: err}
	}
	return nil
}

// Healthy probes PostgREST with a cheap HEAD-equivalent query.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/rest/v1/transactions?limit=1", c.baseURL), nil)
	if err != nil {
		return false
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
