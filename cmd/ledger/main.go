package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/cache"
	"ledger/internal/cli"
	"ledger/internal/events"
	apphttp "ledger/internal/http"
	"ledger/internal/log"
	"ledger/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting ledger", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	bus := events.NewBus()

	// Committed events reach AMQP through a buffered forwarder.
	amqpClient := cli.InitAMQP(logger, cfg, false)
	forwardCtx, stopForwarding := context.WithCancel(context.Background())
	forwardDone := make(chan struct{})
	if amqpClient != nil {
		forwarder := amqp.NewForwarder(amqpClient, 0)
		bus.Subscribe(forwarder.Handle)
		go func() {
			defer close(forwardDone)
			_ = forwarder.Run(forwardCtx)
		}()
	} else {
		close(forwardDone)
	}

	ledger := services.NewLedger(repo, cli.NewRuntime(cfg, logger, bus), cli.LedgerOptions(cfg))

	cacheManager := cache.NewManager(logger)
	analytics := services.NewCachedAnalytics(ledger.Analytics, cacheManager, cfg.CacheSize, cfg.CacheTTL)
	bus.Subscribe(analytics.Invalidate)
	cacheManager.StartCleanup(time.Minute)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
		Analytics:          analytics,
		Ready:              repo,
	}, ledger)

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()

		stopForwarding()
		select {
		case <-forwardDone:
		case <-ctx.Done():
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := repo.Close(); err != nil {
			logger.Warn("SQLite close error", log.FieldError, err)
		}
	})

	go func() {
		logger.Info("HTTP server listening",
			"addr", srv.Addr,
			"carry_policy", string(cfg.CarryPolicy()),
			"verify_writes", cfg.VerifyWrites)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", log.FieldError, err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
