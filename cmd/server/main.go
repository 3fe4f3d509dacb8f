// Package main is the entrypoint for the VerseCheck API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmckinley/versecheck/internal/analysis"
	"github.com/jmckinley/versecheck/internal/api"
	"github.com/jmckinley/versecheck/internal/api/handler"
	mw "github.com/jmckinley/versecheck/internal/api/middleware"
	"github.com/jmckinley/versecheck/internal/api/response"
	"github.com/jmckinley/versecheck/internal/breaker"
	"github.com/jmckinley/versecheck/internal/cache"
	"github.com/jmckinley/versecheck/internal/config"
	"github.com/jmckinley/versecheck/internal/inference"
	"github.com/jmckinley/versecheck/internal/inference/httpapi"
	"github.com/jmckinley/versecheck/internal/inference/mock"
	"github.com/jmckinley/versecheck/internal/limiter"
	"github.com/jmckinley/versecheck/internal/scheduler"
	"github.com/jmckinley/versecheck/internal/store"
	"github.com/jmckinley/versecheck/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"inference_provider", cfg.Inference.Provider,
		"model_version", cfg.Inference.ModelVersion,
		"env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache (fast tier)
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and two-tier result cache
	pgStore := store.NewPostgresStore(pool)
	resultCache := cache.NewTiered(redisCache, pgStore, cfg.Cache.TTL)

	// 6. Create score provider
	provider, err := newProvider(cfg.Inference)
	if err != nil {
		return fmt.Errorf("create score provider: %w", err)
	}
	slog.Info("score provider initialized", "provider", provider.Name())

	// 7. Wire the inference client: limiter + breaker + cache around the provider
	li := limiter.New(cfg.Limiter.RatePerMinute, cfg.Limiter.Burst, cfg.Limiter.MaxConcurrency)
	br := breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown)
	client := inference.NewClient(provider, resultCache, li, br,
		cfg.Inference.ModelVersion, cfg.Inference.RequestTimeout, cfg.Limiter.PenaltyCooldown)

	svc := analysis.NewService(pgStore, resultCache, client, analysis.Config{
		Workers:     cfg.Batch.Workers,
		MaxRetries:  cfg.Retry.MaxRetries,
		RetryDelays: cfg.Retry.Delays,
	})

	// 8. Start the retry poller
	poller := scheduler.NewPoller(pgStore, resultCache, svc, cfg.Retry.PollInterval, cfg.Batch.Limit)
	go poller.Run(ctx)

	// 9. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler:   healthHandler(pgStore, redisCache, br),
		AnalyzeHandler:  handler.NewAnalyzeHandler(svc),
		PollJobHandler:  handler.NewPollJobHandler(svc),
		RunBatchHandler: handler.NewRunBatchHandler(svc, cfg.Batch.Limit),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newProvider selects the score provider. The mock provider exists for local
// development without an inference endpoint.
func newProvider(cfg config.InferenceConfig) (models.ScoreProvider, error) {
	switch cfg.Provider {
	case "http":
		return httpapi.NewProvider(cfg), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// healthHandler checks database and fast-cache connectivity and reports the
// breaker state. An open breaker degrades health without failing it: the
// service still serves cached results.
func healthHandler(s store.Store, c cache.FastCache, br *breaker.Breaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"breaker":  br.State().String(),
			"services": checks,
		})
	}
}
