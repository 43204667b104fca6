package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strataledger/strataledger/internal/app"
	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/ledger/accounts"
	"github.com/strataledger/strataledger/internal/ledger/journals"
	"github.com/strataledger/strataledger/internal/platform/cache"
	"github.com/strataledger/strataledger/internal/platform/db"
	"github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	accountsRepo := accounts.NewRepository(pool)
	accountsService := accounts.NewService(accountsRepo, auditLogger)

	journalsRepo := journals.NewRepository(pool)
	journalsService := journals.NewService(journalsRepo, auditLogger, approvalRecorder)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, journalsService, auditLogger, idempotencyStore)

	runner := jobs.NewRunner(logger, billingService, accountsService, accountsRepo, jobs.NewTenantSource(pool), redisClient)
	runner.WithMetrics(jobs.NewMetrics(nil))

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info("starting metrics server", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", slog.Any("error", err))
		}
	}()

	billingTask, err := jobs.NewBillingRunTask(jobs.TenantPayload{})
	if err != nil {
		logger.Error("build billing task", slog.Any("error", err))
		os.Exit(1)
	}
	lateFeeTask, err := jobs.NewLateFeeScanTask(jobs.TenantPayload{})
	if err != nil {
		logger.Error("build late fee task", slog.Any("error", err))
		os.Exit(1)
	}
	reconcileTask, err := jobs.NewLedgerReconcileTask(jobs.TenantPayload{})
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Runner:    runner,
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BillingCron, Task: billingTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.LateFeeCron, Task: lateFeeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 4 * * *", Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
