// Package cli holds the startup plumbing shared by cmd/kitty,
// cmd/kitty-worker, and cmd/cycle-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kitty/internal/config"
	"kitty/internal/log"
	"kitty/internal/storage"
)

// LoadEnvFile loads the .env file for local development. Missing files
// are fine; production sets real environment variables.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from config and installs it as
// the slog default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: component,
		Pretty:    cfg.LogPretty,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and exits on invalid values.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// Logger is not configured yet at this point.
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the SQLite repository or exits the process.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// GracefulShutdown returns a context cancelled on SIGINT/SIGTERM. The
// cleanup func runs before cancellation, bounded by timeout.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup()
		}
		cancel()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-time.After(2 * time.Second):
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until shutdown finishes.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
