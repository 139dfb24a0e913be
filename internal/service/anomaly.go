// Package service implements the anomaly detection engine: per-batch
// statistics, business profiling, the rule detectors and the ensemble,
// orchestrated behind the HTTP handlers.
package service

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wicaksana/ukm-sentinel-go/internal/detector"
	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
	"github.com/wicaksana/ukm-sentinel-go/internal/infra/observability"
	"github.com/wicaksana/ukm-sentinel-go/internal/infra/resilience"
	"github.com/wicaksana/ukm-sentinel-go/internal/port"
)

const (
	// minDetectionBatch is the smallest batch the engine will score.
	minDetectionBatch = 10
	// minPatternBatch is the smallest history the profiler will summarize.
	minPatternBatch = 5
	// topCategoryLimit caps the category list in the pattern view.
	topCategoryLimit = 5

	modelName = "isolation_forest"

	// reportDateFormat renders transaction dates for the report
	// (Indonesian locale convention, dots in the time part).
	reportDateFormat = "02/01/2006, 15.04.05"

	msgTooFewForDetection = "Minimal 10 transaksi diperlukan untuk deteksi anomali"
	msgTooFewForPattern   = "Minimal 5 transaksi diperlukan untuk analisis pola bisnis"
)

// AnomalyService runs detection batches and serves business profiles.
// The store and cache are optional: without a store only the inline
// detection entry point works, without a cache every pattern request
// recomputes.
type AnomalyService struct {
	store       port.TransactionStore
	cache       port.Cache[*domain.BusinessPatternView]
	metrics     *observability.Metrics
	logger      *zap.Logger
	loc         *time.Location
	bulkhead    *resilience.Bulkhead
	detectorCfg detector.Config
	tracer      trace.Tracer
}

// NewAnomalyService wires the detection engine with its dependencies.
func NewAnomalyService(
	store port.TransactionStore,
	cache port.Cache[*domain.BusinessPatternView],
	metrics *observability.Metrics,
	logger *zap.Logger,
	loc *time.Location,
	bulkhead *resilience.Bulkhead,
) *AnomalyService {
	if loc == nil {
		loc = time.UTC
	}
	return &AnomalyService{
		store:       store,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		loc:         loc,
		bulkhead:    bulkhead,
		detectorCfg: detector.DefaultConfig(),
		tracer:      otel.Tracer("service/anomaly"),
	}
}

// DetectAnomalies scores one batch of transactions and returns the full
// report. Recoverable conditions (too few transactions, ensemble fit
// failure) are statuses on the report; the error return is reserved for
// cancellation and saturation.
func (s *AnomalyService) DetectAnomalies(ctx context.Context, txns []domain.Transaction) (*domain.AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "DetectAnomalies")
	defer span.End()
	start := time.Now()

	if s.bulkhead != nil {
		if err := s.bulkhead.Acquire(ctx); err != nil {
			return nil, err
		}
		defer s.bulkhead.Release()
	}

	valid := make([]domain.Transaction, 0, len(txns))
	dropped := 0
	for _, tx := range txns {
		if tx.Date.IsZero() {
			dropped++
			s.metrics.IncrInvalidTimestamp()
			continue
		}
		valid = append(valid, tx)
	}
	if dropped > 0 {
		s.logger.Warn("excluded transactions with invalid timestamps",
			zap.Int("excluded", dropped),
			zap.Int("remaining", len(valid)))
	}
	span.SetAttributes(attribute.Int("transactions", len(valid)))

	if len(valid) < minDetectionBatch {
		report := &domain.AnomalyReport{
			Status:            domain.StatusInsufficientData,
			Message:           msgTooFewForDetection,
			TotalTransactions: len(valid),
			Anomalies:         []domain.AnomalyResult{},
			Summary:           emptySummary(len(valid)),
		}
		s.metrics.IncrReport(report.Status)
		return report, nil
	}

	stats := computeCategoryStats(valid)
	profile := analyzeBusinessPattern(valid, s.loc)

	X := make([][]float64, len(valid))
	for i, tx := range valid {
		features, err := buildFeatures(tx, profile, stats, s.loc)
		if err != nil {
			return s.errorReport(len(valid), err), nil
		}
		X[i] = features
	}

	forest := detector.New(s.detectorCfg)
	labels, scores, err := forest.FitPredict(X)
	if err != nil {
		s.logger.Error("ensemble fit failed", zap.Error(err))
		return s.errorReport(len(valid), err), nil
	}

	rc := &ruleContext{txns: valid, stats: stats, profile: profile, loc: s.loc}
	reasonsByTx := make(map[string][]domain.AnomalyReason)
	for _, detect := range ruleDetectors {
		for id, reason := range detect(rc) {
			reasonsByTx[id] = append(reasonsByTx[id], reason)
		}
	}

	results := make([]domain.AnomalyResult, 0, len(reasonsByTx))
	for i, tx := range valid {
		reasons := reasonsByTx[tx.ID]
		if len(reasons) == 0 {
			// An ensemble flag without a rule reason is noise we cannot
			// explain to the user; count it and move on.
			if labels[i] == -1 {
				s.metrics.IncrEnsembleOnlyDiscard()
			}
			continue
		}

		severity := domain.SeverityLow
		for _, r := range reasons {
			severity = domain.MaxSeverity(severity, r.Severity)
			s.metrics.IncrReason(r.Type)
		}
		s.metrics.IncrAnomaly(severity)

		results = append(results, domain.AnomalyResult{
			TransactionID: tx.ID,
			Amount:        tx.Amount,
			Type:          tx.Type,
			Category:      categoryLabel(tx),
			Description:   tx.Description,
			Date:          tx.Date.In(s.loc).Format(reportDateFormat),
			AnomalyScore:  scores[i],
			Severity:      severity,
			Reasons:       reasons,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := domain.SeverityRank(results[i].Severity), domain.SeverityRank(results[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return results[i].AnomalyScore < results[j].AnomalyScore
	})

	report := &domain.AnomalyReport{
		Status:            domain.StatusSuccess,
		Model:             modelName,
		TotalTransactions: len(valid),
		AnomaliesDetected: len(results),
		Anomalies:         results,
		Summary:           summarize(len(valid), results),
	}
	s.metrics.IncrReport(report.Status)
	s.metrics.RecordDetectionDuration("detect", time.Since(start))
	s.logger.Info("detection run finished",
		zap.Int("transactions", len(valid)),
		zap.Int("anomalies", len(results)))
	return report, nil
}

// DetectForUser loads the user's full history, runs detection and
// persists the outcome: anomaly flags on the flagged transactions plus
// one prediction-run record. Write-back failures are logged, not fatal;
// the report is still returned to the caller.
func (s *AnomalyService) DetectForUser(ctx context.Context, userID string) (*domain.AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "DetectForUser")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if s.store == nil {
		return nil, &domain.ErrUnavailable{Resource: "transaction store"}
	}

	txns, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		s.metrics.IncrExternalError("store")
		return nil, err
	}

	report, err := s.DetectAnomalies(ctx, txns)
	if err != nil {
		return nil, err
	}

	if report.Status == domain.StatusSuccess {
		if len(report.Anomalies) > 0 {
			if err := s.store.ApplyAnomalyFlags(ctx, report.Anomalies); err != nil {
				s.metrics.IncrExternalError("store")
				s.logger.Warn("anomaly flag write-back failed",
					zap.String("user_id", userID), zap.Error(err))
			}
		}
		if err := s.store.RecordPredictionRun(ctx, userID, report); err != nil {
			s.metrics.IncrExternalError("store")
			s.logger.Warn("prediction record write failed",
				zap.String("user_id", userID), zap.Error(err))
		}
		// Fresh flags invalidate the cached profile view.
		if s.cache != nil {
			s.cache.Delete(patternCacheKey(userID))
		}
	}
	return report, nil
}

// BusinessPattern serves the profile view for one user, cache-aside.
func (s *AnomalyService) BusinessPattern(ctx context.Context, userID string) (*domain.BusinessPatternView, error) {
	ctx, span := s.tracer.Start(ctx, "BusinessPattern")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if s.store == nil {
		return nil, &domain.ErrUnavailable{Resource: "transaction store"}
	}

	key := patternCacheKey(userID)
	if s.cache != nil {
		if view, ok := s.cache.Get(key); ok {
			s.metrics.IncrCacheHit("business_pattern")
			return view, nil
		}
		s.metrics.IncrCacheMiss("business_pattern")
	}

	txns, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		s.metrics.IncrExternalError("store")
		return nil, err
	}

	view := s.buildPatternView(userID, txns)
	if s.cache != nil && view.Status == domain.StatusSuccess {
		s.cache.Set(key, view)
	}
	return view, nil
}

func (s *AnomalyService) buildPatternView(userID string, txns []domain.Transaction) *domain.BusinessPatternView {
	valid := txns[:0:0]
	for _, tx := range txns {
		if !tx.Date.IsZero() {
			valid = append(valid, tx)
		}
	}

	if len(valid) < minPatternBatch {
		return &domain.BusinessPatternView{
			Status:            domain.StatusInsufficientData,
			Message:           msgTooFewForPattern,
			UserID:            userID,
			TotalTransactions: len(valid),
		}
	}

	profile := analyzeBusinessPattern(valid, s.loc)

	top := make([]domain.TopCategory, 0, len(profile.Categories))
	for cat, count := range profile.Categories {
		top = append(top, domain.TopCategory{Category: cat, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Category < top[j].Category
	})
	if len(top) > topCategoryLimit {
		top = top[:topCategoryLimit]
	}

	return &domain.BusinessPatternView{
		Status:            domain.StatusSuccess,
		UserID:            userID,
		TotalTransactions: len(valid),
		BusinessType:      profile.BusinessType,
		OperatingHours:    profile.HourPattern.CommonHours,
		HourDistribution:  profile.HourPattern.Distribution,
		TopCategories:     top,
	}
}

// ResetAnomaly clears the anomaly flag on one transaction.
func (s *AnomalyService) ResetAnomaly(ctx context.Context, transactionID string) error {
	ctx, span := s.tracer.Start(ctx, "ResetAnomaly")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_id", transactionID))

	if s.store == nil {
		return &domain.ErrUnavailable{Resource: "transaction store"}
	}
	if err := s.store.ResetAnomalyFlag(ctx, transactionID); err != nil {
		s.metrics.IncrExternalError("store")
		return err
	}
	s.logger.Info("anomaly flag reset", zap.String("transaction_id", transactionID))
	return nil
}

// DetectionMetrics exposes the cumulative detection counters.
func (s *AnomalyService) DetectionMetrics() *domain.DetectionMetrics {
	return s.metrics.GetDetectionSnapshot()
}

func patternCacheKey(userID string) string {
	return "pattern:" + userID
}

func (s *AnomalyService) errorReport(total int, err error) *domain.AnomalyReport {
	report := &domain.AnomalyReport{
		Status:            domain.StatusError,
		Message:           err.Error(),
		TotalTransactions: total,
		Anomalies:         []domain.AnomalyResult{},
		Summary:           emptySummary(total),
	}
	s.metrics.IncrReport(report.Status)
	return report
}

func emptySummary(total int) domain.AnomalySummary {
	return domain.AnomalySummary{
		TotalTransactions: total,
		AnomalyTypes:      zeroTypeCounts(),
	}
}

func zeroTypeCounts() map[string]int {
	counts := make(map[string]int, len(domain.ReasonTypes))
	for _, t := range domain.ReasonTypes {
		counts[t] = 0
	}
	return counts
}

// summarize tallies a sorted result set per reason type and severity.
func summarize(total int, results []domain.AnomalyResult) domain.AnomalySummary {
	summary := domain.AnomalySummary{
		TotalTransactions: total,
		AnomaliesDetected: len(results),
		AnomalyTypes:      zeroTypeCounts(),
	}
	for _, r := range results {
		switch r.Severity {
		case domain.SeverityHigh:
			summary.HighSeverity++
		case domain.SeverityMedium:
			summary.MediumSeverity++
		default:
			summary.LowSeverity++
		}
		for _, reason := range r.Reasons {
			summary.AnomalyTypes[reason.Type]++
		}
	}
	return summary
}
