// Package backend assembles the service graph for a configured data
// backend. The API and the workers both go through the factory so the
// wiring lives in one place.
package backend

import (
	"fmt"

	"kitty/internal/amqp"
	"kitty/internal/config"
	"kitty/internal/ledger"
	"kitty/internal/log"
	"kitty/internal/registry"
	"kitty/internal/report"
	"kitty/internal/services"
	"kitty/internal/storage"
	"kitty/internal/storage/memory"
)

type Type string

const (
	TypeMemory Type = "memory"
	TypeSQLite Type = "sqlite"
)

func (t Type) IsValid() bool {
	return t == TypeMemory || t == TypeSQLite
}

// CleanupFunc releases backend resources; safe to call once at shutdown.
type CleanupFunc func() error

// Result holds the assembled service graph.
type Result struct {
	Registry      *registry.Service
	Contributions *services.ContributionService
	Reports       *report.Engine

	// SQLite is set only for the sqlite backend; the workers need the
	// repository directly for the sync bookkeeping columns.
	SQLite *storage.SQLiteRepository

	Cleanup CleanupFunc
}

// Build wires up stores, services, and the report engine for the
// backend named in cfg.DataBackend.
func Build(cfg *config.Config, logger *log.Logger) (*Result, error) {
	switch Type(cfg.DataBackend) {
	case TypeMemory:
		return buildMemory(logger)
	case TypeSQLite:
		return buildSQLite(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported data backend: %s", cfg.DataBackend)
	}
}

func buildMemory(logger *log.Logger) (*Result, error) {
	store := memory.New()

	ledgerSvc := ledger.New(store)
	logger.Info("Initialized memory backend")

	return &Result{
		Registry:      registry.New(store),
		Contributions: services.NewContributionService(ledgerSvc, nil),
		Reports:       report.NewEngine(store, store),
		Cleanup:       nil,
	}, nil
}

func buildSQLite(cfg *config.Config, logger *log.Logger) (*Result, error) {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository: %w", err)
	}

	// AMQP is optional; without it entries stay pending until the
	// worker's periodic sweep picks them up.
	var publisher services.SyncPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without publish", "error", err)
		} else {
			publisher = amqpClient
			logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	ledgerSvc := ledger.New(repo)
	contributions := services.NewContributionService(ledgerSvc, publisher)

	logger.Info("Initialized SQLite backend",
		"db_path", cfg.SQLiteDBPath, "amqp_enabled", amqpClient != nil)

	cleanup := func() error {
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close failed", "error", err)
			}
		}
		return repo.Close()
	}

	return &Result{
		Registry:      registry.New(repo),
		Contributions: contributions,
		Reports:       report.NewEngine(repo, repo),
		SQLite:        repo,
		Cleanup:       cleanup,
	}, nil
}
