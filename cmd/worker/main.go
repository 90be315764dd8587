package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/volta-ems/volta/internal/app"
	"github.com/volta-ems/volta/internal/bom"
	jobmetrics "github.com/volta-ems/volta/internal/jobs"
	"github.com/volta-ems/volta/internal/mrp"
	"github.com/volta-ems/volta/internal/orders"
	"github.com/volta-ems/volta/internal/platform/cache"
	"github.com/volta-ems/volta/internal/platform/db"
	"github.com/volta-ems/volta/internal/shared"
	"github.com/volta-ems/volta/jobs"
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

	sequences := shared.NewSequenceAllocator(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	bomRepo := bom.NewRepository(pool)
	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, sequences, nil)

	mrpRepo := mrp.NewRepository(pool)
	shortageCache := mrp.NewShortageCache(redisClient, cfg.ShortageCacheTTL)
	mrpService := mrp.NewService(logger, mrpRepo, ordersService, bomRepo, shortageCache)

	metrics := jobmetrics.NewMetrics(nil)

	warmTask, err := jobs.NewShortageWarmTask(time.Now())
	if err != nil {
		logger.Error("build shortage warm task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskShortageWarm, Handler: jobs.NewShortageWarmHandler(logger, mrpService, metrics)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(logger, idempotencyStore, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: warmTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
