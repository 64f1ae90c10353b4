package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-workflow/internal/application/dispatcher"
	"github.com/garyjia/invoice-workflow/internal/application/port"
	"github.com/garyjia/invoice-workflow/internal/application/workflow"
	"github.com/garyjia/invoice-workflow/internal/config"
	"github.com/garyjia/invoice-workflow/internal/domain/event"
	"github.com/garyjia/invoice-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/invoice-workflow/internal/infrastructure/worker"
	"github.com/garyjia/invoice-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and shut down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger
	clock  port.Clock

	// Infrastructure - Data
	conn         *database.DB
	db           *sqldb.DB
	repositories *RepositoryBundle

	// Application
	dispatcher dispatcher.Dispatcher
	workflow   workflow.Engine
	sweeper    *workflow.Sweeper

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.Mutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Invoice port.InvoiceRepository
	Audit   port.AuditLog
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option configures the container
type Option func(*Container)

// WithClock replaces the system clock used by repositories, engine and sweeper
func WithClock(clock port.Clock) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
		clock:  port.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Event dispatcher and workflow engine
// 3. Overdue sweeper and workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	var runCtx context.Context
	runCtx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(runCtx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDispatcherAndWorkflow(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher and workflow: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	if err := c.initWorkers(runCtx); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs error

	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers so no sweep starts against a closing database
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Step 2: Drain transition hooks
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Close database
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if errs != nil {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(multierr.Errors(errs))))
		return fmt.Errorf("container closed with errors: %w", errs)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.conn == nil:
		set("database", false, "not initialized")
	default:
		if err := c.conn.PingContext(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, string(c.conn.Driver))
		}
	}

	if c.workflow != nil {
		set("workflow", true, "")
	} else {
		set("workflow", false, "not initialized")
	}

	if c.dispatcher != nil {
		hooks := c.dispatcher.ListHandlers(event.TypeStatusChanged)
		set("dispatcher", true, fmt.Sprintf("transition hooks: %d", len(hooks)))
	} else {
		set("dispatcher", false, "not initialized")
	}

	if c.workers != nil {
		healthy := c.workers.IsRunning() || c.workers.GetWorkerCount() == 0
		set("workers", healthy, fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	return status
}

// initDatabase opens the database and builds the repositories.
func (c *Container) initDatabase(ctx context.Context) error {
	bundle, err := ProvideDatabase(ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn = bundle.Conn
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.clock, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos

	return nil
}

// initDispatcherAndWorkflow creates the dispatcher and workflow engine.
func (c *Container) initDispatcherAndWorkflow() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:       c.repositories,
		TxManager:   c.db,
		Dispatcher:  c.dispatcher,
		Clock:       c.clock,
		WorkflowCfg: &c.config.Workflow,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = engine

	return nil
}

// initWorkers creates the sweeper and starts the background workers.
func (c *Container) initWorkers(ctx context.Context) error {
	c.sweeper = workflow.NewSweeper(c.workflow, c.repositories.Invoice, c.clock, c.logger)

	workers, err := ProvideWorkers(&c.config.Sweeper, c.sweeper, c.logger)
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher, used to register transition hooks.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.Engine {
	return c.workflow
}

// Sweeper returns the overdue sweeper for on-demand runs.
func (c *Container) Sweeper() *workflow.Sweeper {
	return c.sweeper
}
