package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/app"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	closehttp "github.com/Oss53pa/Atlas-Finance-sub012/internal/close/http"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/observability"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/platform/cache"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/platform/db"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/policy"
	"github.com/Oss53pa/Atlas-Finance-sub012/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	doc, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		logger.Error("load policy", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	repo := close.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Error("apply schema", slog.Any("error", err))
		os.Exit(1)
	}

	var ledgerCache *ledger.Cache
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("ledger cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		ledgerCache = ledger.NewCache(redisClient, cfg.LedgerCacheTTL)
	}

	metrics := observability.NewMetrics()
	service := close.NewService(repo, ledgerCache, doc, logger, cfg.CloseOptions()).WithObserver(metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		CloseHandler: closehttp.NewHandler(logger, service, cfg.AggregatePartitions),
		JobHandler:   jobs.NewHandler(inspector, logger),
		Database:     pool,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
