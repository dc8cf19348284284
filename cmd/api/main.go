// Package main is the entry point for the matching engine API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/trueque-collective/trueque/internal/api"
	"github.com/trueque-collective/trueque/internal/audit"
	"github.com/trueque-collective/trueque/internal/auth"
	"github.com/trueque-collective/trueque/internal/config"
	"github.com/trueque-collective/trueque/internal/health"
	"github.com/trueque-collective/trueque/internal/jobs"
	"github.com/trueque-collective/trueque/internal/middleware"
	"github.com/trueque-collective/trueque/internal/optimizer"
	"github.com/trueque-collective/trueque/internal/policy"
	"github.com/trueque-collective/trueque/internal/ranker"
	"github.com/trueque-collective/trueque/internal/reciprocal"
	"github.com/trueque-collective/trueque/internal/runlock"
	"github.com/trueque-collective/trueque/internal/store/postgres"
	"github.com/trueque-collective/trueque/internal/swipe"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Trueque Matching Engine API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	env := config.DefaultEnv
	if cfg != nil {
		env = cfg.Env
	}

	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}

	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx := context.Background()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	policyStore := postgres.NewPolicyStore(db)
	itemStore := postgres.NewItemStore(db)
	swipeStore := postgres.NewSwipeStore(db)
	affinityStore := postgres.NewAffinityStore(db)
	opportunityStore := postgres.NewOpportunityStore(db)
	snapshotStore := postgres.NewSnapshotStore(db)

	// Run locks: Redis when configured, in-process otherwise. A
	// single-process deployment works without Redis, but multiple API
	// replicas need it so the background optimizers stay single-flight.
	var lock runlock.Lock = runlock.NewMemoryLock()
	var redisChecker api.HealthChecker
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		lock = runlock.NewRedisLock(redisClient, "trueque")
		redisChecker = health.NewRedisChecker(redisClient)
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	rankerMetrics := ranker.NewMetrics()
	reciprocalMetrics := reciprocal.NewMetrics()
	optimizerMetrics := optimizer.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	mustRegister := func(name string, err error) {
		if err != nil {
			logger.Error("failed to register metrics", "component", name, "error", err)
			os.Exit(1)
		}
	}
	mustRegister("http", httpMetrics.Register(registry))
	mustRegister("ranker", rankerMetrics.Register(registry))
	mustRegister("reciprocal", reciprocalMetrics.Register(registry))
	mustRegister("optimizer", optimizerMetrics.Register(registry))
	mustRegister("jobs", jobMetrics.Register(registry))

	impressions := swipe.NewImpressionLedger()
	rnk := ranker.New(policyStore, itemStore, swipeStore, affinityStore, impressions, rankerMetrics, ranker.Config{
		Logger: logger,
	})

	// Reciprocal optimizer runs in-process on a ticker; the run lock
	// keeps the cadence at one run per interval across replicas.
	reciprocalOptimizer := reciprocal.New(itemStore, swipeStore, affinityStore, opportunityStore, lock, reciprocalMetrics, reciprocal.Config{
		Logger: logger,
	})
	if cfg.ReciprocalJobEnabled {
		job := reciprocal.NewJob(reciprocal.JobConfig{
			Logger:     logger,
			JobMetrics: jobMetrics,
		}, reciprocalOptimizer)
		if err := job.Start(ctx); err != nil {
			logger.Error("failed to start reciprocal optimizer job", "error", err)
			os.Exit(1)
		}
		defer job.Stop()
		logger.Info("reciprocal optimizer job started")
	} else {
		logger.Info("reciprocal optimizer job disabled")
	}

	// Policy optimizer is only wired when a generator endpoint is
	// configured; without one the trigger endpoint reports disabled.
	var proposalRunner api.ProposalRunner
	if cfg.GeneratorURL != "" {
		generator := optimizer.NewHTTPGenerator(cfg.GeneratorURL, cfg.GeneratorAPIKey, 0)
		validator := policy.NewValidator(policy.DefaultBounds())
		proposalRunner = optimizer.New(policyStore, snapshotStore, itemStore, swipeStore, generator, validator, lock, optimizerMetrics, optimizer.Config{
			MinSwipes: cfg.OptimizerMinSwipes,
			Logger:    logger,
		})
		logger.Info("policy optimizer enabled", "generator_url", cfg.GeneratorURL)
	} else {
		logger.Info("policy optimizer disabled: no generator URL configured")
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	auditRepo := audit.NewInMemoryRepository()

	rankHandlers := api.NewRankHandlers(rnk)
	policyHandlers := api.NewPolicyHandlers(policyStore, auditRepo)
	optimizerHandlers := api.NewOptimizerHandlers(proposalRunner, auditRepo)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(db),
		RedisChecker:   redisChecker,
		MetricsEnabled: true,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/rank", rankHandlers.Rank)
	mux.HandleFunc("/v1/policies", policyHandlers.List)
	mux.HandleFunc("/v1/policies/", api.RequireAdmin(jwtService, policyHandlers.Activate))
	mux.HandleFunc("/v1/optimizer/run", api.RequireAdmin(jwtService, optimizerHandlers.Run))
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"trueque-matching-engine","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	var handler http.Handler = mux

	// Rate limiting sits closest to the handlers so blocked requests
	// still show up in the request log and metrics. The limit is shared
	// across replicas when Redis is configured.
	if cfg.RateLimitEnabled {
		var rlStore middleware.RateLimitStore = middleware.NewInMemoryRateLimitStore()
		if redisClient != nil {
			rlStore = middleware.NewRedisRateLimitStoreWithMetrics(redisClient, httpMetrics)
		}
		handler = middleware.RateLimiter(rlStore, middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimitPerMinute,
			WindowDuration:    time.Minute,
		}, middleware.UserKeyFunc(), httpMetrics)(handler)
	}

	// Apply middleware: RequestID -> Tracing -> HTTPMetrics -> Logging
	handler = middleware.RequestID(
		middleware.Tracing("trueque-api")(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.Logging(logger)(handler))))

	// CORS is outermost so preflight requests never hit the rate limiter.
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}

	if cfg.ProfilingEnabled {
		handler = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: cfg.Env,
		})(handler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
