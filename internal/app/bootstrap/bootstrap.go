package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	votingprogram "votingdapp/contexts/onchain-voting/voting-program"
	buntdbadapter "votingdapp/contexts/onchain-voting/voting-program/adapters/buntdb"
	cacheadapter "votingdapp/contexts/onchain-voting/voting-program/adapters/cache"
	"votingdapp/contexts/onchain-voting/voting-program/adapters/memory"
	postgresadapter "votingdapp/contexts/onchain-voting/voting-program/adapters/postgres"
	prometheusadapter "votingdapp/contexts/onchain-voting/voting-program/adapters/prometheus"
	workerapp "votingdapp/contexts/onchain-voting/voting-program/application/workers"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
	"votingdapp/internal/platform/config"
	"votingdapp/internal/platform/db"
	"votingdapp/internal/platform/httpserver"
	"votingdapp/internal/platform/messaging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server  *httpserver.Server
	storage storage
	bus     *messaging.Bus
	results workerapp.ResultsConsumer
	loops   *loops
	logger  *slog.Logger
}

type WorkerApp struct {
	storage storage
	bus     *messaging.Bus
	loops   *loops
	logger  *slog.Logger
}

// storage is one ledger backend together with the services it provides.
type storage struct {
	driver string
	ledger ports.Ledger
	outbox ports.OutboxRepository
	clock  ports.Clock
	idGen  ports.IDGenerator
	memory *memory.Store
	close  func() error
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")

	store, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := prometheusadapter.NewRecorder(registry)
	if err != nil {
		_ = store.close()
		return nil, err
	}

	bus := messaging.NewBus(cfg.KafkaBrokers, logger)
	results := cacheadapter.NewResultsCache(cfg.ResultsCacheTTL)
	module := buildModule(cfg, store, bus, results, recorder, logger)

	server := httpserver.New(module, logger, httpserver.Options{
		Addr:               normalizeAddr(cfg.HTTPPort),
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		Gatherer:           registry,
	})

	app := &APIApp{
		server:  server,
		storage: store,
		bus:     bus,
		results: workerapp.ResultsConsumer{
			Subscriber: bus,
			Results:    results,
			Logger:     logger,
		},
		logger: logger,
	}
	if cfg.EmbeddedRelay {
		app.loops = newLoops(cfg, module, logger)
	}
	return app, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn("worker started against process-local memory storage",
			"event", "bootstrap_worker_memory_storage",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}

	store, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	bus := messaging.NewBus(cfg.KafkaBrokers, logger)
	module := buildModule(cfg, store, bus, nil, nil, logger)

	return &WorkerApp{
		storage: store,
		bus:     bus,
		loops:   newLoops(cfg, module, logger),
		logger:  logger,
	}, nil
}

func buildModule(
	cfg config.Config,
	store storage,
	publisher ports.EventPublisher,
	results ports.ResultsCache,
	observer ports.OperationObserver,
	logger *slog.Logger,
) votingprogram.Module {
	deps := votingprogram.Dependencies{
		Ledger:      store.ledger,
		Outbox:      store.outbox,
		Publisher:   publisher,
		Authorities: memory.NewAuthorityAllowList(cfg.PollAuthorities),
		Clock:       store.clock,
		IDGen:       store.idGen,
		Policy: entities.CandidatePolicy{
			MaxCandidates:   uint32(cfg.MaxCandidatesPerPoll),
			AllowAfterStart: cfg.AllowCandidatesAfterStart,
		},
		IdempotencyTTL: cfg.IdempotencyTTL,
		Results:        results,
		Observer:       observer,
		Logger:         logger,
	}
	module := votingprogram.NewModule(deps)
	module.Store = store.memory
	return module
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		store := memory.NewStore()
		return storage{
			driver: cfg.StorageDriver,
			ledger: store,
			outbox: store,
			clock:  store,
			idGen:  store,
			memory: store,
			close:  func() error { return nil },
		}, nil
	case config.StoragePostgres, config.StorageSQLite:
		var (
			database *db.Database
			err      error
		)
		if cfg.StorageDriver == config.StoragePostgres {
			database, err = db.Connect(cfg.PostgresDSN)
		} else {
			database, err = db.ConnectSQLite(cfg.SQLitePath)
		}
		if err != nil {
			return storage{}, err
		}
		repo := postgresadapter.NewRepository(database.DB, logger)
		if err := repo.Migrate(ctx); err != nil {
			_ = database.Close()
			return storage{}, fmt.Errorf("migrate %s ledger: %w", database.Dialect, err)
		}
		return storage{
			driver: cfg.StorageDriver,
			ledger: repo,
			outbox: repo,
			clock:  postgresadapter.SystemClock{},
			idGen:  postgresadapter.UUIDGenerator{},
			close:  database.Close,
		}, nil
	case config.StorageBuntDB:
		store, err := buntdbadapter.Open(cfg.BuntDBPath, logger)
		if err != nil {
			return storage{}, err
		}
		return storage{
			driver: cfg.StorageDriver,
			ledger: store,
			outbox: store,
			clock:  postgresadapter.SystemClock{},
			idGen:  postgresadapter.UUIDGenerator{},
			close:  store.Close,
		}, nil
	default:
		return storage{}, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func (a *APIApp) Run(ctx context.Context) error {
	if err := a.results.Start(ctx); err != nil {
		return err
	}
	if a.loops != nil {
		go a.loops.run(ctx)
	}

	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"storage_driver", a.storage.driver,
		"embedded_relay", a.loops != nil,
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}

func (a *APIApp) Close() error {
	return errors.Join(a.bus.Close(), a.storage.close())
}

func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"storage_driver", w.storage.driver,
		"outbox_poll_interval", w.loops.relayInterval.String(),
		"audit_interval", w.loops.auditInterval.String(),
	)
	w.loops.run(ctx)
	return nil
}

func (w *WorkerApp) Close() error {
	return errors.Join(w.bus.Close(), w.storage.close())
}

// loops drives the outbox relay and the audit sweep on their own intervals
// until the context ends. Failed cycles are logged and retried next tick.
type loops struct {
	relay         workerapp.OutboxRelay
	audit         workerapp.AuditSweep
	relayInterval time.Duration
	auditInterval time.Duration
	logger        *slog.Logger
}

func newLoops(cfg config.Config, module votingprogram.Module, logger *slog.Logger) *loops {
	return &loops{
		relay:         module.OutboxRelay,
		audit:         module.AuditSweep,
		relayInterval: cfg.OutboxPollInterval,
		auditInterval: cfg.AuditInterval,
		logger:        logger,
	}
}

func (l *loops) run(ctx context.Context) {
	relayTicker := time.NewTicker(l.relayInterval)
	defer relayTicker.Stop()
	auditTicker := time.NewTicker(l.auditInterval)
	defer auditTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-relayTicker.C:
			if _, err := l.relay.RunOnce(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("outbox relay cycle failed",
					"event", "bootstrap_outbox_cycle_failed",
					"module", "internal/app/bootstrap",
					"layer", "platform",
					"error", err.Error(),
				)
			}
		case <-auditTicker.C:
			if _, err := l.audit.RunOnce(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("audit sweep cycle failed",
					"event", "bootstrap_audit_cycle_failed",
					"module", "internal/app/bootstrap",
					"layer", "platform",
					"error", err.Error(),
				)
			}
		}
	}
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
