package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	engine "chant/contexts/deliberation/engine"
	postgresadapter "chant/contexts/deliberation/engine/adapters/postgres"
	workerapp "chant/contexts/deliberation/engine/application/workers"
	"chant/internal/platform/config"
	"chant/internal/platform/db"
	"chant/internal/platform/httpserver"
	"chant/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	outboxRelay  workerapp.OutboxRelay
	workers      engine.Workers
	relayEnabled bool
	finalizers   bool
	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	module := engine.NewModule(engineDependencies(repo, cfg, logger))

	server := httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	deps := engineDependencies(repo, cfg, logger)
	module := engine.NewModule(deps)

	return &WorkerApp{
		postgres: pg,
		outboxRelay: workerapp.OutboxRelay{
			Outbox:    repo,
			Publisher: kafka,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: cfg.WorkerBatchSize,
			Logger:    logger,
		},
		workers:      engine.NewWorkers(deps, module, cfg.WorkerBatchSize),
		relayEnabled: cfg.EnableOutboxRelay,
		finalizers:   cfg.EnableFinalizers,
		pollInterval: cfg.WorkerInterval,
		logger:       logger,
	}, nil
}

func engineDependencies(repo *postgresadapter.Repository, cfg config.Config, logger *slog.Logger) engine.Dependencies {
	return engine.Dependencies{
		Deliberations: repo,
		Ideas:         repo,
		Cells:         repo,
		Ballots:       repo,
		Reservations:  repo,
		Comments:      repo,
		Tiers:         repo,
		Outbox:        repo,
		Clock:         postgresadapter.SystemClock{},
		IDGen:         postgresadapter.UUIDGenerator{},
		Config:        cfg.Engine,
		Logger:        logger,
	}
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if w.finalizers {
			if err := w.workers.ReservationSweeper.RunOnce(ctx); err != nil {
				return err
			}
			if err := w.workers.GraceFinalizer.RunOnce(ctx); err != nil {
				return err
			}
			if err := w.workers.DeadlineEnforcer.RunOnce(ctx); err != nil {
				return err
			}
		}
		if w.relayEnabled {
			if err := w.outboxRelay.RunOnce(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
