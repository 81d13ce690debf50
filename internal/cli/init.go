// Package cli holds the process bootstrap shared by cmd/ledger and
// cmd/ledger-worker.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/config"
	"ledger/internal/lock"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/storage"

	"github.com/joho/godotenv"
)

// SetupLogger builds the process logger at the given level and installs it
// as the slog default. Unknown levels fall back to info.
func SetupLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	logger := log.New(log.Config{
		Level:     lvl,
		Component: log.ComponentApp,
		Handler:   slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}),
	})
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", level)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the ledger database, running migrations.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	logger.Info("SQLite repository ready", "path", dbPath)
	return repo
}

// InitAMQP connects to the broker when one is configured. It returns nil
// when AMQP is disabled. A failed connection exits the process when
// required is set and otherwise leaves the process running without AMQP.
func InitAMQP(logger *log.Logger, cfg *config.Config, required bool) *amqp.Client {
	if !cfg.AMQPEnabled() {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPImportQueue, cfg.AMQPEventsRoutingKey)
	if err != nil {
		if required {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		logger.Warn("Failed to initialize AMQP client, continuing without event forwarding", log.FieldError, err)
		return nil
	}
	logger.Info("AMQP client connected",
		"exchange", cfg.AMQPExchange,
		"import_queue", cfg.AMQPImportQueue)
	return client
}

// NewRuntime builds the shared service runtime from configuration.
func NewRuntime(cfg *config.Config, logger *log.Logger, publisher services.Publisher) services.Runtime {
	return services.Runtime{
		Locks: lock.NewManager(cfg.LockTimeout),
		Retry: lock.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Publisher: publisher,
		Logger:    logger,
		Now:       time.Now,
	}
}

// LedgerOptions maps configuration onto the write-path options.
func LedgerOptions(cfg *config.Config) services.Options {
	return services.Options{
		VerifyWrites: cfg.VerifyWrites,
		CarryPolicy:  cfg.CarryPolicy(),
	}
}

// GracefulShutdown returns a context cancelled on SIGINT/SIGTERM. cleanup
// runs with a context bounded by timeout before the returned channel closes.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
