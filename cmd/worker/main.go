package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/app"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	jobmetrics "github.com/Oss53pa/Atlas-Finance-sub012/internal/jobs"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/platform/cache"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/platform/db"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/policy"
	"github.com/Oss53pa/Atlas-Finance-sub012/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	service := close.NewService(close.NewRepository(pool), ledger.NewCache(redisClient, cfg.LedgerCacheTTL), doc, logger, cfg.CloseOptions())
	metrics := jobmetrics.NewMetrics(nil)
	startMonth := cfg.CloseOptions().FiscalYearStartMonth

	closeJob := jobs.NewCloseFiscalYearJob(service, startMonth, logger, metrics)
	integrityJob := jobs.NewIntegrityCheckJob(service, startMonth, logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.IntegrityCron != "" {
		task, err := jobs.NewIntegrityCheckTask(jobs.IntegrityCheckPayload{})
		if err != nil {
			logger.Error("build integrity task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.IntegrityCron, Task: task})
	}
	if cfg.CloseCron != "" {
		task, err := jobs.NewCloseFiscalYearTask(jobs.CloseFiscalYearPayload{ActorID: cfg.SystemActorID})
		if err != nil {
			logger.Error("build close task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.CloseCron, Task: task})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCloseFiscalYear, Handler: closeJob.Handle},
			{Type: jobs.TaskIntegrityCheck, Handler: integrityJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency), slog.Int("cron_entries", len(cron)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
