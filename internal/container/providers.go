// Package container provides dependency injection and lifecycle management
// for the approval workflow engine.
package container

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/dispatcher"
	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/application/service"
	"github.com/stagecraft/approvalflow/internal/config"
	"github.com/stagecraft/approvalflow/internal/infrastructure/directory"
	"github.com/stagecraft/approvalflow/internal/infrastructure/metrics"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/repository"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/sqlite"
	"github.com/stagecraft/approvalflow/internal/infrastructure/storage"
	"github.com/stagecraft/approvalflow/internal/infrastructure/worker"
	"github.com/stagecraft/approvalflow/pkg/database"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase creates the database connection and transaction manager.
// Also runs any pending database migrations automatically.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Open SQLite database with WAL mode and busy timeout
	sqlDB, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Run database migrations if migrations directory is configured
	if cfg.MigrationsDir != "" {
		dbWrapper := &database.DB{DB: sqlDB}
		migrator := database.NewMigrator(dbWrapper, logger)

		if err := migrator.RunMigrations(cfg.MigrationsDir); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		SqlDB:          sqlDB,
		TransactionMgr: sqlite.NewDB(sqlDB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Definition:   repository.NewDefinitionRepository(sqlDB, logger),
		Instance:     repository.NewInstanceRepository(sqlDB, logger),
		Stage:        repository.NewStageRepository(sqlDB, logger),
		Assignment:   repository.NewAssignmentRepository(sqlDB, logger),
		Delegation:   repository.NewDelegationRepository(sqlDB, logger),
		History:      repository.NewHistoryRepository(sqlDB, logger),
		Task:         repository.NewTaskRepository(sqlDB, logger),
		Rotation:     repository.NewRotationRepository(sqlDB, logger),
		Notification: repository.NewNotificationRepository(sqlDB, logger),
	}, nil
}

// ProvideDirectory creates the HTTP client for the upstream directory service.
func ProvideDirectory(cfg *config.DirectoryConfig, logger *zap.Logger) (*directory.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("directory config is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("directory base URL is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return directory.NewClient(directory.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	}, logger), nil
}

// ProvideStorage creates the file storage for history exports.
func ProvideStorage(cfg *config.StorageConfig, logger *zap.Logger) (port.FileStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return storage.NewLocalFileStorage(cfg.BaseDir, logger), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dispatcherLogger := &dispatcherLoggerAdapter{logger: logger}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(dispatcherLogger),
	), nil
}

// ProvideMetrics creates the Prometheus collector and subscribes it to the
// dispatcher.
func ProvideMetrics(d dispatcher.Dispatcher) (*metrics.Collector, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	collector := metrics.NewCollector()
	collector.Register(d)
	return collector, nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos       *RepositoryBundle
	TxManager   port.TransactionManager
	Directory   *directory.Client
	FileStorage port.FileStorage
	Dispatcher  dispatcher.Dispatcher
	EngineCfg   *config.EngineConfig
	WorkerCfg   *config.WorkerConfig
	Logger      *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("directory client is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}

	history := service.NewHistoryService(deps.Repos.History, serviceLogger)
	resolver := service.NewAssignmentResolver(deps.Repos.Assignment, deps.Repos.Rotation, serviceLogger)

	engine := service.NewEngineService(service.EngineDeps{
		DefinitionRepo: deps.Repos.Definition,
		InstanceRepo:   deps.Repos.Instance,
		StageRepo:      deps.Repos.Stage,
		AssignmentRepo: deps.Repos.Assignment,
		DelegationRepo: deps.Repos.Delegation,
		OutboxRepo:     deps.Repos.Notification,
		Resolver:       resolver,
		History:        history,
		TxManager:      deps.TxManager,
		Entities:       deps.Directory,
		Signatures:     deps.Directory,
		Events:         deps.Dispatcher,
		Logger:         serviceLogger,
	}, service.EngineConfig{
		MaxActionRetries: deps.EngineCfg.MaxActionRetries,
	})

	return &ServiceBundle{
		Definition: service.NewDefinitionService(
			deps.Repos.Definition,
			deps.Repos.Instance,
			deps.TxManager,
			serviceLogger,
		),
		Engine:  engine,
		History: history,
		Delegation: service.NewDelegationService(
			deps.Repos.Assignment,
			deps.Repos.Stage,
			deps.Repos.Instance,
			deps.Repos.Delegation,
			deps.Repos.Notification,
			history,
			deps.TxManager,
			deps.Dispatcher,
			serviceLogger,
		),
		Escalation: service.NewEscalationService(
			deps.Repos.Definition,
			deps.Repos.Instance,
			deps.Repos.Stage,
			deps.Repos.Assignment,
			deps.Repos.Notification,
			deps.Directory,
			history,
			deps.TxManager,
			deps.Dispatcher,
			serviceLogger,
			deps.WorkerCfg.EscalationBatchSize,
		),
		Task:   service.NewTaskService(deps.Repos.Task, serviceLogger),
		Export: service.NewExportService(history, deps.FileStorage, serviceLogger),
		Notification: service.NewNotificationService(
			deps.Repos.Notification,
			deps.Directory,
			serviceLogger,
			deps.WorkerCfg.NotificationBatchSize,
		),
	}, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Services  *ServiceBundle
	WorkerCfg *config.WorkerConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Services == nil {
		return nil, fmt.Errorf("services are required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)
	manager.Register(worker.NewEscalationWorker(deps.Services.Escalation, deps.WorkerCfg.EscalationInterval, deps.Logger))
	manager.Register(worker.NewNotificationWorker(deps.Services.Notification, deps.WorkerCfg.NotificationInterval, deps.Logger))

	return manager, nil
}
