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

	"github.com/volta-ems/volta/internal/allocation"
	"github.com/volta-ems/volta/internal/app"
	"github.com/volta-ems/volta/internal/bom"
	"github.com/volta-ems/volta/internal/cyclecount"
	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/masterdata/materials"
	"github.com/volta-ems/volta/internal/mrp"
	"github.com/volta-ems/volta/internal/observability"
	"github.com/volta-ems/volta/internal/orders"
	"github.com/volta-ems/volta/internal/platform/cache"
	"github.com/volta-ems/volta/internal/platform/db"
	"github.com/volta-ems/volta/internal/purchasing"
	"github.com/volta-ems/volta/internal/shared"
	"github.com/volta-ems/volta/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	auditSink := shared.NewAuditSink(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	sequences := shared.NewSequenceAllocator(pool)

	metrics := observability.NewMetrics()

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditSink).
		WithMetrics(ledger.NewMetrics(metrics.Registerer()))
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	bomRepo := bom.NewRepository(pool)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, sequences, auditSink)
	ordersHandler := orders.NewHandler(logger, ordersService)

	allocationRepo := allocation.NewRepository(pool)
	allocationService := allocation.NewService(allocationRepo, ordersService, bomRepo, auditSink)
	allocationHandler := allocation.NewHandler(logger, allocationService)

	mrpRepo := mrp.NewRepository(pool)
	shortageCache := mrp.NewShortageCache(redisClient, cfg.ShortageCacheTTL)
	mrpService := mrp.NewService(logger, mrpRepo, ordersService, bomRepo, shortageCache)
	mrpHandler := mrp.NewHandler(logger, mrpService)

	cycleCountRepo := cyclecount.NewRepository(pool)
	cycleCountService := cyclecount.NewService(cycleCountRepo, sequences, auditSink)
	cycleCountHandler := cyclecount.NewHandler(logger, cycleCountService)

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, sequences, idempotencyStore, auditSink)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService)

	materialsRepo := materials.NewRepository(pool)
	materialsService := materials.NewService(materialsRepo, auditSink)
	materialsHandler := materials.NewHandler(logger, materialsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		LedgerHandler:     ledgerHandler,
		AllocationHandler: allocationHandler,
		OrdersHandler:     ordersHandler,
		MRPHandler:        mrpHandler,
		CycleCountHandler: cycleCountHandler,
		PurchasingHandler: purchasingHandler,
		MaterialsHandler:  materialsHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
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
