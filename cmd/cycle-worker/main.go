package main

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"kitty/internal/amqp"
	"kitty/internal/cli"
	"kitty/internal/log"
	"kitty/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting cycle-worker", "schedule", cfg.CycleSchedule)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Without AMQP, cycles still transition; arrears snapshots are skipped.
	var publisher services.ClosedPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, cycle close events will not publish", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
		}
	}

	processor := services.NewCycleProcessor(repo, publisher)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	run := func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		changed, err := processor.ProcessCycles(runCtx, time.Now())
		if err != nil {
			logger.Error("Cycle processing failed", "error", err)
			return
		}
		logger.Info("Cycle processing finished", "transitioned", changed)
	}

	// Catch up immediately on boot, then follow the cron schedule.
	run()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CycleSchedule, run); err != nil {
		logger.Error("Invalid cycle schedule", "error", err, "schedule", cfg.CycleSchedule)
		os.Exit(1)
	}
	scheduler.Start()

	cli.WaitForShutdown(ctx, done)

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("Cycle worker stopped gracefully")
}
