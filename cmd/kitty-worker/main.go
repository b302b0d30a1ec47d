package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kitty/internal/amqp"
	"kitty/internal/cli"
	"kitty/internal/log"
	"kitty/internal/mirror/google"
	"kitty/internal/report"
	"kitty/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting kitty-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Google Sheets mirror is optional. Without it the worker still
	// consumes messages but leaves entries pending.
	var mirrorClient *google.Client
	if cfg.GoogleSpreadsheetID != "" {
		var err error
		mirrorClient, err = google.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets mirror", "error", err)
			os.Exit(1)
		}
		logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	reports := report.NewEngine(repo, repo)

	var syncWorker *worker.SyncWorker
	if mirrorClient != nil {
		syncWorker = worker.NewSyncWorker(repo, mirrorClient, mirrorClient, reports, cfg.SyncBatchSize)
	} else {
		syncWorker = worker.NewSyncWorker(repo, nil, nil, reports, cfg.SyncBatchSize)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Drain whatever a previous run left unmirrored.
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.Consume(gctx, syncWorker.HandleSyncMessage, syncWorker.HandleCycleClosed)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := syncWorker.ProcessPendingContributions(gctx); err != nil {
					logger.Error("Periodic sync failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
