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

	"github.com/strataledger/strataledger/internal/ap"
	"github.com/strataledger/strataledger/internal/app"
	"github.com/strataledger/strataledger/internal/billing"
	"github.com/strataledger/strataledger/internal/ledger/accounts"
	"github.com/strataledger/strataledger/internal/ledger/journals"
	"github.com/strataledger/strataledger/internal/observability"
	"github.com/strataledger/strataledger/internal/payments"
	"github.com/strataledger/strataledger/internal/platform/db"
	"github.com/strataledger/strataledger/internal/reversal"
	"github.com/strataledger/strataledger/internal/shared"
	"github.com/strataledger/strataledger/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	accountsRepo := accounts.NewRepository(dbpool)
	accountsService := accounts.NewService(accountsRepo, auditLogger)

	journalsRepo := journals.NewRepository(dbpool)
	journalsService := journals.NewService(journalsRepo, auditLogger, approvalRecorder)

	billingRepo := billing.NewRepository(dbpool)
	billingService := billing.NewService(billingRepo, journalsService, auditLogger, idempotencyStore)

	paymentsRepo := payments.NewRepository(dbpool)
	paymentsService := payments.NewService(paymentsRepo, journalsService, auditLogger)

	apRepo := ap.NewRepository(dbpool)
	apService := ap.NewService(apRepo, journalsService, auditLogger)

	reversalService := reversal.NewService(journalsService, billingService, paymentsService, apService, auditLogger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("connect queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer jobsClient.Close()
	jobsInspector := asynq.NewInspector(redisOpts)
	defer jobsInspector.Close()

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		AccountsHandler: accounts.NewHandler(logger, accountsService),
		JournalsHandler: journals.NewHandler(logger, journalsService),
		BillingHandler:  billing.NewHandler(logger, billingService),
		PaymentsHandler: payments.NewHandler(logger, paymentsService),
		APHandler:       ap.NewHandler(logger, apService),
		ReversalHandler: reversal.NewHandler(logger, reversalService),
		JobsHandler:     jobs.NewHandler(jobsClient, jobsInspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
