package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-donasi/internal/analytics"
	"github.com/noah-isme/backend-donasi/internal/app"
	"github.com/noah-isme/backend-donasi/internal/common"
	"github.com/noah-isme/backend-donasi/internal/config"
	"github.com/noah-isme/backend-donasi/internal/donation"
	"github.com/noah-isme/backend-donasi/internal/events"
	"github.com/noah-isme/backend-donasi/internal/lock"
	"github.com/noah-isme/backend-donasi/internal/notify"
	"github.com/noah-isme/backend-donasi/internal/obs"
	"github.com/noah-isme/backend-donasi/internal/queue"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := app.NewPool(initCtx, cfg.DatabaseURL, "donasi-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(initCtx, cfg.RedisURL, false, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	taskClient, err := app.NewTaskClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise task client")
	}
	defer func() { _ = taskClient.Close() }()

	analyticsSvc := &analytics.Service{Q: analytics.NewQuerier(pool), R: redisClient, TTL: cfg.AnalyticsCacheTTL}
	bus := &events.Bus{
		Store: events.NewStore(pool),
		Notifiers: []events.Notifier{
			notify.ReceiptEnqueuer{Client: taskClient, Enabled: cfg.ReceiptsEnabled},
			analyticsSvc,
		},
	}
	donationSvc := app.NewDonationService(cfg, pool, redisClient, bus, logger)

	reconcileWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.Queue.Prefix,
		Kind:              donation.ReconcileKind,
		Concurrency:       cfg.Queue.Concurrency,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		RetryBase:         cfg.Queue.RetryBase,
		RetryJitter:       0.2,
		Store:             queue.NewStore(pool),
		Logger:            logger,
		Handler:           donationSvc.HandleReconcileTask,
	}

	var taskServer *asynq.Server
	if cfg.ReceiptsEnabled {
		taskServer, err = app.NewTaskServer(cfg.RedisURL, cfg.Queue.Concurrency, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise task server")
		}
		mux := asynq.NewServeMux()
		mux.Handle(notify.TaskDonationReceipt, notify.ReceiptWorker{
			Donations: donation.NewStore(pool),
			Mail:      common.LogMailer{Logger: logger, From: cfg.ReceiptsFrom},
			Renderer:  notify.ReceiptRenderer{OrgName: cfg.Donation.OrgName},
			Locker:    lock.Locker{R: redisClient, RetryBackoff: 100 * time.Millisecond, MaxWait: 5 * time.Second},
			LockTTL:   30 * time.Second,
			Logger:    logger,
		})
		if err := taskServer.Start(mux); err != nil {
			logger.Fatal().Err(err).Msg("start task server")
		}
		logger.Info().Msg("receipt server started")
	}

	logger.Info().Str("kind", donation.ReconcileKind).Msg("worker starting")
	if err := reconcileWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	}
	if taskServer != nil {
		taskServer.Shutdown()
	}
	logger.Info().Msg("worker shutdown complete")
}
