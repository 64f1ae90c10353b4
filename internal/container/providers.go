package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-workflow/internal/application/dispatcher"
	"github.com/garyjia/invoice-workflow/internal/application/port"
	"github.com/garyjia/invoice-workflow/internal/application/workflow"
	"github.com/garyjia/invoice-workflow/internal/config"
	"github.com/garyjia/invoice-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/invoice-workflow/internal/infrastructure/worker"
	"github.com/garyjia/invoice-workflow/pkg/database"
)

// DatabaseBundle holds the connection and the transaction manager built on it.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqldb.DB
}

// ProvideDatabase opens the configured database and runs the bundled
// migrations when auto_migrate is set.
func ProvideDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts, err := cfg.DatabaseOptions()
	if err != nil {
		return nil, err
	}

	conn, err := database.Open(ctx, opts, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		migrator, err := database.NewMigrator(conn, logger)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if _, err := migrator.Run(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqldb.NewDB(conn.DB, conn.Driver, logger),
	}, nil
}

// ProvideRepositories creates the repositories over a transaction manager.
func ProvideRepositories(db *sqldb.DB, clock port.Clock, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}

	return &RepositoryBundle{
		Invoice: repository.NewInvoiceRepository(db, clock, logger),
		Audit:   repository.NewAuditRepository(db, clock, logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&dispatcherLoggerAdapter{logger: logger.Sugar()}),
	), nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Repos       *RepositoryBundle
	TxManager   port.TransactionManager
	Dispatcher  dispatcher.Dispatcher
	Clock       port.Clock
	WorkflowCfg *config.WorkflowConfig
	Logger      *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine and registers the
// transition log hook.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(deps.Logger),
	}
	if deps.Clock != nil {
		opts = append(opts, workflow.WithClock(deps.Clock))
	}
	if deps.WorkflowCfg != nil && deps.WorkflowCfg.LockTimeout > 0 {
		opts = append(opts, workflow.WithLockTimeout(deps.WorkflowCfg.LockTimeout))
	}

	engine := workflow.NewEngine(deps.Repos.Invoice, deps.Repos.Audit, deps.TxManager, opts...)

	logger := deps.Logger
	dispatcher.OnTransition(deps.Dispatcher, "transition_log", func(ctx context.Context, invoiceID int64, from, to string) error {
		logger.Debug("Transition committed",
			zap.Int64("invoice_id", invoiceID),
			zap.String("from_status", from),
			zap.String("to_status", to))
		return nil
	})

	return engine, nil
}

// ProvideWorkers creates the worker manager with the overdue worker
// registered when the sweeper is enabled. Workers are not started.
func ProvideWorkers(cfg *config.SweeperConfig, sweeper *workflow.Sweeper, logger *zap.Logger) (*worker.WorkerManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sweeper config is required")
	}

	manager := worker.NewWorkerManager(logger)
	if !cfg.Enabled {
		logger.Info("Overdue sweeper disabled")
		return manager, nil
	}

	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}

	manager.Register(worker.NewOverdueWorker(worker.OverdueWorkerConfig{
		Interval:   cfg.Interval,
		RunTimeout: cfg.RunTimeout,
		RunOnStart: cfg.RunOnStart,
	}, sweeper, logger))

	return manager, nil
}

// dispatcherLoggerAdapter adapts zap's sugared logger to dispatcher.Logger
type dispatcherLoggerAdapter struct {
	logger *zap.SugaredLogger
}

func (a *dispatcherLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debugw(msg, keysAndValues...)
}

func (a *dispatcherLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Errorw(msg, keysAndValues...)
}
