package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
	"github.com/wicaksana/ukm-sentinel-go/internal/infra/observability"
	"github.com/wicaksana/ukm-sentinel-go/internal/service"
)

var tracer = otel.Tracer("handler")

// ReadinessProbe reports whether the backing store is reachable.
type ReadinessProbe interface {
	Healthy(ctx context.Context) bool
}

// RouterConfig carries the handler wiring options.
type RouterConfig struct {
	JWTSecret   string
	RequireAuth bool
	Probe       ReadinessProbe // nil when no store is configured
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.AnomalyService, metrics *observability.Metrics, logger *zap.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(cfg.Probe))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if cfg.RequireAuth {
			r.Use(JWTAuthMiddleware(cfg.JWTSecret, logger))
		}

		// Inline detection over a batch supplied in the request body.
		r.Post("/anomalies/detect", detectInlineHandler(svc, logger))

		// Store-backed detection with write-back of flags and scores.
		r.Post("/users/{userId}/anomalies/detect", detectForUserHandler(svc, logger))

		// Business profile view.
		r.Get("/users/{userId}/business-pattern", businessPatternHandler(svc, logger))

		// Clear a false-positive flag.
		r.Post("/transactions/{transactionId}/anomaly/reset", resetAnomalyHandler(svc, logger))

		// Aggregate engine counters.
		r.Get("/metrics/detection", detectionMetricsHandler(svc))
	})

	return r
}

// ============================================================
// Detection — POST /v1/anomalies/detect
// ============================================================

type detectRequest struct {
	Transactions []domain.Transaction `json:"transactions"`
}

func detectInlineHandler(svc *service.AnomalyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/anomalies/detect")
		defer span.End()

		var req detectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.Int("transactions", len(req.Transactions)))

		report, err := svc.DetectAnomalies(ctx, req.Transactions)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// ============================================================
// Detection — POST /v1/users/{userId}/anomalies/detect
// ============================================================

func detectForUserHandler(svc *service.AnomalyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/users/{userId}/anomalies/detect")
		defer span.End()

		userID := chi.URLParam(r, "userId")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		span.SetAttributes(attribute.String("user.id", userID))

		report, err := svc.DetectForUser(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// ============================================================
// Business pattern — GET /v1/users/{userId}/business-pattern
// ============================================================

func businessPatternHandler(svc *service.AnomalyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/users/{userId}/business-pattern")
		defer span.End()

		userID := chi.URLParam(r, "userId")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		span.SetAttributes(attribute.String("user.id", userID))

		view, err := svc.BusinessPattern(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// ============================================================
// Reset — POST /v1/transactions/{transactionId}/anomaly/reset
// ============================================================

func resetAnomalyHandler(svc *service.AnomalyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/{transactionId}/anomaly/reset")
		defer span.End()

		transactionID := chi.URLParam(r, "transactionId")
		if transactionID == "" {
			writeError(w, http.StatusBadRequest, "transaction_id is required")
			return
		}
		span.SetAttributes(attribute.String("transaction.id", transactionID))

		if err := svc.ResetAnomaly(ctx, transactionID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "success",
			"transaction_id": transactionID,
		})
	}
}

// ============================================================
// Metrics & Health
// ============================================================

func detectionMetricsHandler(svc *service.AnomalyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.DetectionMetrics())
	}
}

func healthzHandler(probe ReadinessProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "sentinel-api", Status: "healthy", LastChecked: now},
		}

		if probe != nil {
			start := time.Now()
			status := "healthy"
			if !probe.Healthy(r.Context()) {
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name:        "supabase",
				Status:      status,
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			})
		}

		overall := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overall = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overall,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
