package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/cli"
	"ledger/internal/events"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting ledger-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	bus := events.NewBus()
	ledger := services.NewLedger(repo, cli.NewRuntime(cfg, logger, bus), cli.LedgerOptions(cfg))

	scheduler := services.NewRolloverScheduler(repo, ledger.Rollover, services.RolloverSchedulerConfig{
		Interval: cfg.RolloverCheckInterval,
		Day:      cfg.RolloverDay,
	})

	amqpClient := cli.InitAMQP(logger, cfg, false)

	ctx, done := cli.GracefulShutdown(logger, 15*time.Second, func(ctx context.Context) {
		if err := scheduler.Stop(ctx); err != nil {
			logger.Warn("Rollover scheduler stop error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start rollover scheduler", log.FieldError, err)
		os.Exit(1)
	}

	if amqpClient != nil {
		forwarder := amqp.NewForwarder(amqpClient, 0)
		bus.Subscribe(forwarder.Handle)
		g.Go(func() error {
			return forwarder.Run(gctx)
		})

		importWorker := worker.NewImportWorker(ledger.Importer, logger)
		g.Go(func() error {
			err := amqpClient.ConsumeImports(gctx, importWorker.HandleImportMessage)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Import consumer disabled - running rollover scheduler only")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
	}

	// A consumer failure ends the group before any signal arrives.
	if amqpClient != nil && ctx.Err() == nil {
		_ = scheduler.Stop(context.Background())
		amqpClient.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	if amqpClient != nil {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
	}
	logger.Info("ledger-worker stopped")
}
