package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/application/dispatcher"
	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/application/service"
	"github.com/garyjia/opsflow/internal/application/workflow"
	"github.com/garyjia/opsflow/internal/infrastructure/export"
	"github.com/garyjia/opsflow/internal/infrastructure/lock"
	"github.com/garyjia/opsflow/internal/infrastructure/metrics"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/opsflow/internal/infrastructure/worker"
	"github.com/garyjia/opsflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	rawDB        *database.DB
	db           *sqldb.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	gateway     port.NotificationGateway
	natsConn    *nats.Conn
	redisClient *redis.Client
	lease       lock.Locker
	registry    *prometheus.Registry
	recorder    port.MetricsRecorder

	// Application
	dispatcher dispatcher.Dispatcher
	workflow   workflow.WorkflowEngine
	services   *ServiceBundle
	exporter   *export.WorkbookWriter

	// Workers
	workers          *worker.Manager
	escalationWorker *worker.EscalationWorker

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Workflow   *repository.WorkflowRepository
	Audit      *repository.AuditRepository
	SideEffect *repository.SideEffectRepository
	Template   *repository.TemplateRepository
	Directory  *repository.DirectoryRepository
	Ledger     *repository.LedgerRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Notification service.NotificationService
	SideEffect   service.SideEffectService
	Escalation   service.EscalationService
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

// Start initializes all components. Cron workers are started only when
// Config.Background is set. On failure everything opened so far is closed.
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")
	defer func() {
		if err != nil {
			c.teardown()
		}
	}()

	// Step 1: Database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("dialect", string(c.db.Dialect())))

	// Step 2: Metrics, notification channels and the sweep lease
	if err := c.initExternal(ctx); err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized")

	// Step 3: Dispatcher, services and the engine
	if err := c.initApplication(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 4: Workers
	if err := c.initWorkers(ctx); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
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

	err := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.natsConn != nil {
		if err := c.natsConn.Drain(); err != nil {
			c.natsConn.Close()
		}
		c.natsConn = nil
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		c.redisClient = nil
	}

	if c.rawDB != nil {
		if err := c.rawDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.rawDB = nil
	}

	return errors.Join(errs...)
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

	if c.rawDB == nil {
		set("database", false, "not initialized")
	} else if err := c.rawDB.PingContext(ctx); err != nil {
		set("database", false, fmt.Sprintf("ping failed: %v", err))
	} else {
		set("database", true, "")
	}

	if c.natsConn != nil {
		set("nats", c.natsConn.IsConnected(), c.natsConn.Status().String())
	}

	if c.redisClient != nil {
		if err := c.redisClient.Ping(ctx).Err(); err != nil {
			set("redis", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("redis", true, "")
		}
	}

	if c.escalationWorker != nil && c.config.Background {
		last, err := c.escalationWorker.LastRun()
		switch {
		case err != nil:
			// A failed pass is retried on the next tick; report but stay up.
			status.Components["escalation"] = ComponentHealth{Healthy: true, Message: fmt.Sprintf("last pass failed: %v", err)}
		case last.IsZero():
			status.Components["escalation"] = ComponentHealth{Healthy: true, Message: "no pass yet"}
		default:
			status.Components["escalation"] = ComponentHealth{Healthy: true, Message: "last pass " + last.UTC().Format(time.RFC3339)}
		}
	}

	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.rawDB = bundle.Raw
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initExternal(ctx context.Context) error {
	m := ProvideMetrics(&c.config.Metrics)
	c.registry = m.Registry
	c.recorder = m.Recorder

	gateways, err := ProvideNotificationGateway(c.config, c.logger)
	if err != nil {
		return err
	}
	c.gateway = gateways.Gateway
	c.natsConn = gateways.NATSConn

	lease, client, err := ProvideLease(ctx, &c.config.Redis, c.logger)
	if err != nil {
		return err
	}
	c.lease = lease
	c.redisClient = client
	return nil
}

func (c *Container) initApplication() error {
	disp, services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Gateway:   c.gateway,
		Metrics:   c.recorder,
		Config:    c.config,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.dispatcher = disp
	c.services = services

	c.workflow = ProvideWorkflowEngine(&c.config.Workflow, c.repositories, c.db, services, c.recorder, c.logger)
	c.exporter = export.NewWorkbookWriter(time.UTC, c.logger.Named("export"))
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	c.escalationWorker = ProvideEscalationWorker(&c.config.Escalation, c.services.Escalation, c.lease, c.logger)
	c.workers = worker.NewManager(c.logger)

	if !c.config.Background || !c.config.Escalation.Enabled {
		return nil
	}
	c.workers.Register(c.escalationWorker)
	return c.workers.StartAll(ctx)
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

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Dispatcher returns the side-effect dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Exporter returns the workbook writer.
func (c *Container) Exporter() *export.WorkbookWriter {
	return c.exporter
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// EscalationWorker returns the sweeper, also used for one-shot passes.
func (c *Container) EscalationWorker() *worker.EscalationWorker {
	return c.escalationWorker
}

// MetricsHandler serves the container's registry, or nil when metrics are disabled.
func (c *Container) MetricsHandler() http.Handler {
	if c.registry == nil {
		return nil
	}
	return metrics.Handler(c.registry)
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// dispatcherLoggerAdapter adapts zap.Logger to the dispatcher.Logger interface.
type dispatcherLoggerAdapter struct {
	logger *zap.Logger
}

func (a *dispatcherLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *dispatcherLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields. Errors keep
// their type so zap renders them under "error".
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
