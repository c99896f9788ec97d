package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/dispatcher"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/application/service"
	"github.com/garyjia/cash-clearing/internal/application/workflow"
	"github.com/garyjia/cash-clearing/internal/infrastructure/external/openai"
	"github.com/garyjia/cash-clearing/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/cash-clearing/internal/infrastructure/resilience"
	"github.com/garyjia/cash-clearing/internal/infrastructure/worker"
	httpserver "github.com/garyjia/cash-clearing/internal/interfaces/http"
	"github.com/garyjia/cash-clearing/internal/observability/metrics"
	"github.com/garyjia/cash-clearing/pkg/database"
)

// oracleOperations are the breaker names the oracle guard keys on
var oracleOperations = []string{"oracle.match_patterns", "oracle.select_gl_mapping"}

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	conn         *database.DB
	store        *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	oracle      *openai.Oracle
	oracleGuard *resilience.Guard
	notifier    port.Notifier

	// Observability
	metrics *metrics.Recorder

	// Application
	pool         *worker.Pool
	dispatcher   dispatcher.Dispatcher
	recovery     *RecoveryBundle
	approval     *approval.Service
	orchestrator workflow.Orchestrator
	services     *ServiceBundle

	// Interfaces
	server *httpserver.Server

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Transactions port.TransactionRepository
	Catalog      port.CatalogRepository
	Suggestions  port.SuggestionRepository
	Workflows    port.WorkflowRepository
	Audit        port.AuditRepository
	Review       port.ReviewQueueRepository
	Reprocess    port.ReprocessQueueRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Approval     service.ApprovalService
	Workflow     service.WorkflowService
	Audit        service.AuditService
	Notification service.NotificationService
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

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins background processing.
// Components are initialized in dependency order:
// 1. Database, store guard and repositories
// 2. Metrics, worker pool and event dispatcher
// 3. Error recovery and approval
// 4. Classification oracle and notifier
// 5. Workflow orchestrator and facades
// 6. Workers, which also reschedule orphaned workflows
// On failure everything initialized so far is released.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		init func() error
	}{
		{"database", c.initDatabase},
		{"runtime", c.initRuntime},
		{"recovery and approval", c.initDomainServices},
		{"external clients", c.initExternalClients},
		{"workflow", c.initWorkflow},
		{"workers", c.initWorkers},
	}

	for _, step := range steps {
		if err := step.init(); err != nil {
			c.teardown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Initialized", zap.String("component", step.name))
	}

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
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized, newest first
func (c *Container) teardown() []error {
	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Workers: recovery sweep, then the pool drains running step loops
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	} else if c.pool != nil {
		if err := c.pool.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop pool: %w", err))
		}
	}
	c.pool = nil

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.conn = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, health ComponentHealth) {
		status.Components[name] = health
		if !health.Healthy {
			status.Overall = false
		}
	}
	notInitialized := ComponentHealth{Healthy: false, Message: "not initialized"}

	// Check database
	if c.conn != nil {
		if err := c.conn.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	} else {
		set("database", notInitialized)
	}

	// Check oracle breakers
	if c.oracleGuard != nil {
		set("oracle", breakerHealth(c.oracleGuard, oracleOperations...))
	} else {
		set("oracle", notInitialized)
	}

	// Check workers
	if c.workers != nil {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		})
	} else {
		set("workers", notInitialized)
	}

	// Check dispatcher
	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{Healthy: true})
	} else {
		set("dispatcher", notInitialized)
	}

	return status
}

func breakerHealth(guard *resilience.Guard, operations ...string) ComponentHealth {
	for _, op := range operations {
		if guard.Open(op) {
			return ComponentHealth{Healthy: false, Message: fmt.Sprintf("circuit open: %s", op)}
		}
	}
	return ComponentHealth{Healthy: true}
}

// initDatabase opens the store and creates all repositories.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(c.config.Database, c.config.Store, c.logger)
	if err != nil {
		return err
	}

	c.conn = dbBundle.Conn
	c.store = dbBundle.Store

	repos, err := ProvideRepositories(c.store, c.logger)
	if err != nil {
		return err
	}

	c.repositories = repos
	return nil
}

// initRuntime creates the metrics recorder, the goroutine pool and the dispatcher.
func (c *Container) initRuntime() error {
	c.metrics = metrics.NewRecorder()

	pool, err := ProvidePool(c.config.Workflow.Pool, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.pool = pool

	disp, err := ProvideDispatcher(c.pool, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	return nil
}

// initDomainServices creates the error classifier, retrier, batch coordinator
// and approval service.
func (c *Container) initDomainServices() error {
	rec, err := ProvideRecovery(c.config, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.recovery = rec

	svc, err := ProvideApproval(c.repositories, c.store, c.config.Approval, c.dispatcher, c.logger)
	if err != nil {
		return err
	}
	c.approval = svc
	return nil
}

// initExternalClients creates the classification oracle and the notifier.
func (c *Container) initExternalClients() error {
	oracleBundle, err := ProvideOracle(c.config.OpenAI, c.config.Oracle, c.logger)
	if err != nil {
		return err
	}
	c.oracle = oracleBundle.Oracle
	c.oracleGuard = oracleBundle.Guard

	c.notifier = ProvideNotifier(c.config.Lark, c.logger)
	return nil
}

// initWorkflow creates the orchestrator, the facades and the HTTP server.
func (c *Container) initWorkflow() error {
	orch, err := ProvideOrchestrator(&OrchestratorDeps{
		Repos:      c.repositories,
		TxManager:  c.store,
		Oracle:     c.oracle,
		Recovery:   c.recovery,
		Approver:   c.approval,
		Dispatcher: c.dispatcher,
		Runner:     c.pool,
		Recorder:   c.metrics,
		Defaults:   &c.config.Workflow,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.orchestrator = orch

	services, err := ProvideServices(&ServiceDeps{
		Repos:        c.repositories,
		Approval:     c.approval,
		Coordinator:  c.recovery.Coordinator,
		Orchestrator: c.orchestrator,
		Notifier:     c.notifier,
		Logger:       c.logger,
	})
	if err != nil {
		return err
	}
	services.Notification.Register(c.dispatcher)
	c.services = services

	c.server = httpserver.NewServer(
		c.config.Server,
		httpserver.Services{
			Approval: services.Approval,
			Workflow: services.Workflow,
			Audit:    services.Audit,
		},
		c.metrics,
		c.conn,
		&zapLoggerAdapter{logger: c.logger.Named("http")},
	)
	return nil
}

// initWorkers starts the pool and the recovery sweep.
func (c *Container) initWorkers() error {
	// teardown stops whatever did start
	c.workers = ProvideWorkers(c.pool, c.orchestrator, &c.config.Workflow, c.logger)
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// Getters for accessing container components

// Store returns the guarded store, which is also the transaction manager.
func (c *Container) Store() *sqlite.DB {
	return c.store
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Orchestrator returns the workflow orchestrator.
func (c *Container) Orchestrator() workflow.Orchestrator {
	return c.orchestrator
}

// Approval returns the suggestion approval service.
func (c *Container) Approval() *approval.Service {
	return c.approval
}

// Recovery returns the error classifier, retrier and batch coordinator.
func (c *Container) Recovery() *RecoveryBundle {
	return c.recovery
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Metrics returns the metrics recorder.
func (c *Container) Metrics() *metrics.Recorder {
	return c.metrics
}

// Server returns the HTTP server.
func (c *Container) Server() *httpserver.Server {
	return c.server
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the application-layer Logger interfaces.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
