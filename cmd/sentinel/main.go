package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wicaksana/ukm-sentinel-go/internal/config"
	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
	"github.com/wicaksana/ukm-sentinel-go/internal/handler"
	"github.com/wicaksana/ukm-sentinel-go/internal/infra/cache"
	"github.com/wicaksana/ukm-sentinel-go/internal/infra/observability"
	"github.com/wicaksana/ukm-sentinel-go/internal/infra/resilience"
	"github.com/wicaksana/ukm-sentinel-go/internal/infra/supabase"
	"github.com/wicaksana/ukm-sentinel-go/internal/port"
	"github.com/wicaksana/ukm-sentinel-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("timezone", cfg.Timezone),
		zap.Bool("use_supabase", cfg.UseSupabase),
		zap.Bool("require_auth", cfg.RequireAuth),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)

	// --- Timezone ---
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("could not load timezone, assuming UTC+7",
			zap.String("timezone", cfg.Timezone), zap.Error(err))
		loc = time.FixedZone("WIB", 7*3600)
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(context.Background(), "ukm-sentinel", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	patternCache := cache.New[*domain.BusinessPatternView](cfg.CacheTTL)
	defer patternCache.Stop()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("supabase")
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Store ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var store port.TransactionStore
	var probe handler.ReadinessProbe
	if cfg.UseSupabase && cfg.SupabaseURL != "" {
		logger.Info("using Supabase as transaction store",
			zap.String("supabase_url", cfg.SupabaseURL),
		)
		client := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			cb,
			resilienceCfg,
			logger,
		)
		store = client
		probe = client
	} else {
		logger.Warn("transaction store not configured, only inline detection available")
	}

	// --- Service ---
	anomalySvc := service.NewAnomalyService(store, patternCache, metrics, logger, loc, bulkhead)

	// --- Router ---
	router := handler.NewRouter(anomalySvc, metrics, logger, handler.RouterConfig{
		JWTSecret:   cfg.JWTSecret,
		RequireAuth: cfg.RequireAuth,
		Probe:       probe,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
