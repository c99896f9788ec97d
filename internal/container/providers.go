package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/batch"
	"github.com/garyjia/cash-clearing/internal/application/dispatcher"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/application/recovery"
	"github.com/garyjia/cash-clearing/internal/application/service"
	"github.com/garyjia/cash-clearing/internal/application/workflow"
	"github.com/garyjia/cash-clearing/internal/domain/event"
	"github.com/garyjia/cash-clearing/internal/infrastructure/export"
	"github.com/garyjia/cash-clearing/internal/infrastructure/external/lark"
	"github.com/garyjia/cash-clearing/internal/infrastructure/external/openai"
	"github.com/garyjia/cash-clearing/internal/infrastructure/persistence/repository"
	"github.com/garyjia/cash-clearing/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/cash-clearing/internal/infrastructure/resilience"
	"github.com/garyjia/cash-clearing/internal/infrastructure/worker"
	"github.com/garyjia/cash-clearing/internal/observability/metrics"
	"github.com/garyjia/cash-clearing/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn  *database.DB
	Guard *resilience.Guard
	Store *sqlite.DB
}

// ProvideDatabase opens the database, applies the embedded migrations and
// wraps the connection with the store guard.
func ProvideDatabase(cfg database.Config, guardCfg resilience.Policy, logger *zap.Logger) (*DatabaseBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(conn, logger).RunMigrations(database.Schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	guard := resilience.NewGuard(guardCfg, logger.Named("store"))

	return &DatabaseBundle{
		Conn:  conn,
		Guard: guard,
		Store: sqlite.NewDB(conn.DB, guard, logger),
	}, nil
}

// ProvideRepositories creates all repositories on top of the guarded store.
func ProvideRepositories(store *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Transactions: repository.NewTransactionRepository(store, logger),
		Catalog:      repository.NewCatalogRepository(store, logger),
		Suggestions:  repository.NewSuggestionRepository(store, logger),
		Workflows:    repository.NewWorkflowRepository(store, logger),
		Audit:        repository.NewAuditRepository(store, logger),
		Review:       repository.NewReviewQueueRepository(store, logger),
		Reprocess:    repository.NewReprocessQueueRepository(store, logger),
	}, nil
}

// ProvidePool creates the goroutine pool and exposes its gauges.
func ProvidePool(cfg worker.PoolConfig, recorder *metrics.Recorder, logger *zap.Logger) (*worker.Pool, error) {
	pool, err := worker.NewPool(cfg, logger)
	if err != nil {
		return nil, err
	}
	if recorder != nil {
		recorder.RegisterPool(pool.Running, pool.Capacity)
	}
	return pool, nil
}

// ProvideDispatcher creates the event dispatcher. Async handlers run on pool,
// and every published event is counted by recorder.
func ProvideDispatcher(pool dispatcher.Submitter, recorder *metrics.Recorder, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []dispatcher.Option{dispatcher.WithLogger(&zapLoggerAdapter{logger: logger})}
	if pool != nil {
		opts = append(opts, dispatcher.WithSubmitter(pool))
	}
	d := dispatcher.NewDispatcher(opts...)

	if recorder != nil {
		for _, t := range event.All() {
			d.SubscribeNamed(t, "metrics", recorder.HandleEvent)
		}
	}
	return d, nil
}

// RecoveryBundle holds the error classifier and the retry machinery built on it.
type RecoveryBundle struct {
	Classifier  *recovery.Classifier
	Advisor     *recovery.Advisor
	Retrier     *recovery.Retrier
	Coordinator *batch.Coordinator
}

// ProvideRecovery creates the classifier, advisor, retrier and batch coordinator.
func ProvideRecovery(cfg *Config, recorder *metrics.Recorder, logger *zap.Logger) (*RecoveryBundle, error) {
	appLogger := &zapLoggerAdapter{logger: logger}

	classifierOpts := []recovery.Option{recovery.WithLogger(appLogger)}
	if recorder != nil {
		classifierOpts = append(classifierOpts, recovery.WithObserver(recorder))
	}
	classifier, err := recovery.NewClassifier(cfg.Classifier, classifierOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create error classifier: %w", err)
	}

	advisor := recovery.NewAdvisor(cfg.Workflow.Defaults.BatchSize)
	retrier := recovery.NewRetrier(classifier, advisor, cfg.Workflow.BackoffScale,
		recovery.WithRetrierLogger(appLogger))

	coordinatorOpts := []batch.Option{batch.WithLogger(appLogger)}
	if recorder != nil {
		coordinatorOpts = append(coordinatorOpts, batch.WithObserver(recorder))
	}

	return &RecoveryBundle{
		Classifier:  classifier,
		Advisor:     advisor,
		Retrier:     retrier,
		Coordinator: batch.NewCoordinator(classifier, advisor, coordinatorOpts...),
	}, nil
}

// ProvideApproval creates the suggestion approval service.
func ProvideApproval(repos *RepositoryBundle, txManager port.TransactionManager, policy approval.Policy, d dispatcher.Dispatcher, logger *zap.Logger) (*approval.Service, error) {
	if repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if txManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	return approval.NewService(
		repos.Suggestions,
		repos.Audit,
		repos.Reprocess,
		txManager,
		policy,
		approval.WithDispatcher(d),
		approval.WithLogger(&zapLoggerAdapter{logger: logger}),
	)
}

// OracleBundle holds the classification oracle and its guard.
type OracleBundle struct {
	Oracle *openai.Oracle
	Guard  *resilience.Guard
}

// ProvideOracle creates the OpenAI classification oracle behind its own breaker.
func ProvideOracle(cfg openai.Config, guardCfg resilience.Policy, logger *zap.Logger) (*OracleBundle, error) {
	guard := resilience.NewGuard(guardCfg, logger.Named("oracle"))
	oracle, err := openai.NewOracle(cfg, guard, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification oracle: %w", err)
	}
	return &OracleBundle{Oracle: oracle, Guard: guard}, nil
}

// ProvideNotifier creates the Lark notifier, or a log-only notifier when Lark
// is not configured.
func ProvideNotifier(cfg lark.Config, logger *zap.Logger) port.Notifier {
	if !cfg.Enabled() {
		logger.Info("Lark notifications disabled, logging notifications instead")
		return &logNotifier{logger: logger}
	}
	return lark.NewNotifier(lark.NewSDKClient(cfg, logger), cfg, logger)
}

// OrchestratorDeps holds dependencies required for creating the orchestrator.
type OrchestratorDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Oracle     port.ClassificationOracle
	Recovery   *RecoveryBundle
	Approver   workflow.Approver
	Dispatcher dispatcher.Dispatcher
	Runner     workflow.Runner
	Recorder   *metrics.Recorder
	Defaults   *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideOrchestrator creates the workflow orchestrator.
func ProvideOrchestrator(deps *OrchestratorDeps) (workflow.Orchestrator, error) {
	if deps == nil {
		return nil, fmt.Errorf("orchestrator dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("classification oracle is required")
	}
	if deps.Recovery == nil {
		return nil, fmt.Errorf("recovery bundle is required")
	}

	opts := []workflow.Option{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger}),
	}
	if deps.Runner != nil {
		opts = append(opts, workflow.WithRunner(deps.Runner))
	}
	if deps.Recorder != nil {
		opts = append(opts, workflow.WithObserver(deps.Recorder))
	}

	return workflow.NewOrchestrator(
		workflow.Repositories{
			Transactions: deps.Repos.Transactions,
			Catalog:      deps.Repos.Catalog,
			Suggestions:  deps.Repos.Suggestions,
			Workflows:    deps.Repos.Workflows,
			Audit:        deps.Repos.Audit,
			Review:       deps.Repos.Review,
			TxManager:    deps.TxManager,
		},
		deps.Oracle,
		deps.Recovery.Retrier,
		deps.Recovery.Coordinator,
		deps.Approver,
		deps.Defaults.Defaults,
		opts...,
	), nil
}

// ServiceDeps holds dependencies required for creating the facades.
type ServiceDeps struct {
	Repos        *RepositoryBundle
	Approval     *approval.Service
	Coordinator  *batch.Coordinator
	Orchestrator workflow.Orchestrator
	Notifier     port.Notifier
	Logger       *zap.Logger
}

// ProvideServices creates the application facades.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}

	return &ServiceBundle{
		Approval:     service.NewApprovalService(deps.Approval, deps.Coordinator, deps.Repos.Audit, serviceLogger),
		Workflow:     service.NewWorkflowService(deps.Orchestrator, serviceLogger),
		Audit:        service.NewAuditService(deps.Repos.Audit, export.NewAuditWorkbook(deps.Logger), serviceLogger),
		Notification: service.NewNotificationService(deps.Notifier, serviceLogger),
	}, nil
}

// ProvideWorkers registers the pool and the recovery sweep, in start order.
func ProvideWorkers(pool *worker.Pool, recoverer worker.Recoverer, cfg *WorkflowConfig, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger)
	manager.Register(pool)
	manager.Register(worker.NewRecoveryWorker(recoverer, cfg.RecoveryInterval, logger))
	return manager
}

// logNotifier writes notifications to the log
type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) Notify(ctx context.Context, msg port.Notification) error {
	fields := []zap.Field{
		zap.String("title", msg.Title),
		zap.String("severity", msg.Severity),
		zap.String("body", msg.Body),
	}
	for k, v := range msg.Fields {
		fields = append(fields, zap.String(k, v))
	}
	n.logger.Info("Notification", fields...)
	return nil
}

var _ port.Notifier = (*logNotifier)(nil)
