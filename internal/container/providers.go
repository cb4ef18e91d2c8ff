package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/application/dispatcher"
	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/application/service"
	"github.com/garyjia/opsflow/internal/application/sideeffect"
	"github.com/garyjia/opsflow/internal/application/template"
	"github.com/garyjia/opsflow/internal/application/workflow"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/infrastructure/external/lark"
	"github.com/garyjia/opsflow/internal/infrastructure/lock"
	"github.com/garyjia/opsflow/internal/infrastructure/metrics"
	"github.com/garyjia/opsflow/internal/infrastructure/notify"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/opsflow/internal/infrastructure/worker"
	"github.com/garyjia/opsflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Raw            *database.DB
	TransactionMgr *sqldb.DB
}

// MetricsBundle holds the registry and the recorder writing to it.
type MetricsBundle struct {
	Registry *prometheus.Registry
	Recorder port.MetricsRecorder
}

// GatewayBundle holds the notification gateway and the connections behind it.
type GatewayBundle struct {
	Gateway  port.NotificationGateway
	NATSConn *nats.Conn
}

// ServiceDeps are the inputs of ProvideServices.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Gateway   port.NotificationGateway
	Metrics   port.MetricsRecorder
	Config    *Config
	Logger    *zap.Logger
}

// ProvideDatabase opens the configured store and applies pending migrations
// when AutoMigrate is set.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		applied, err := database.NewMigrator(db, logger).RunMigrations()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Migrations checked", zap.Int("applied", applied))
	}

	return &DatabaseBundle{
		Raw:            db,
		TransactionMgr: sqldb.NewDB(db.DB, db.Dialect, logger),
	}, nil
}

// ProvideRepositories creates all repositories on one transaction manager.
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Workflow:   repository.NewWorkflowRepository(db, logger),
		Audit:      repository.NewAuditRepository(db, logger),
		SideEffect: repository.NewSideEffectRepository(db, logger),
		Template:   repository.NewTemplateRepository(db, logger),
		Directory:  repository.NewDirectoryRepository(db, logger),
		Ledger:     repository.NewLedgerRepository(db, logger),
	}, nil
}

// ProvideMetrics builds a private registry and recorder. Disabled metrics
// yield a no-op recorder and a nil registry.
func ProvideMetrics(cfg *MetricsConfig) *MetricsBundle {
	if cfg == nil || !cfg.Enabled {
		return &MetricsBundle{Recorder: port.NopMetrics{}}
	}
	reg := metrics.NewRegistry()
	return &MetricsBundle{
		Registry: reg,
		Recorder: metrics.NewRecorder(metrics.Config{Namespace: cfg.Namespace, Registry: reg}),
	}
}

// ProvideNotificationGateway fans out to every configured channel.
func ProvideNotificationGateway(cfg *Config, logger *zap.Logger) (*GatewayBundle, error) {
	bundle := &GatewayBundle{}
	var gateways notify.Fanout

	for _, ch := range cfg.Notification.Channels {
		switch strings.ToLower(ch) {
		case "log":
			gateways = append(gateways, notify.NewLogGateway(logger.Named("notify")))
		case "nats":
			conn, err := notify.ConnectNATS(notify.NATSConfig{URL: cfg.NATS.URL, Name: "opsflow"}, logger)
			if err != nil {
				return nil, err
			}
			bundle.NATSConn = conn
			gateways = append(gateways, notify.NewNATSGateway(conn, cfg.NATS.SubjectPrefix, logger))
		case "lark":
			gateways = append(gateways, lark.NewMessenger(lark.Config{
				AppID:         cfg.Lark.AppID,
				AppSecret:     cfg.Lark.AppSecret,
				ReceiveIDType: cfg.Lark.ReceiveIDType,
			}, logger))
		default:
			return nil, fmt.Errorf("unknown notification channel %q", ch)
		}
	}

	switch len(gateways) {
	case 0:
		bundle.Gateway = notify.NewLogGateway(logger.Named("notify"))
	case 1:
		bundle.Gateway = gateways[0]
	default:
		bundle.Gateway = gateways
	}
	return bundle, nil
}

// ProvideLease returns the redis lease when enabled, otherwise an
// in-process one.
func ProvideLease(ctx context.Context, cfg *RedisConfig, logger *zap.Logger) (lock.Locker, *redis.Client, error) {
	if cfg == nil || !cfg.Enabled {
		return lock.NewLocalLock(), nil, nil
	}
	client, err := lock.NewRedisClient(ctx, lock.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLock(client, cfg.LockKey, cfg.LockTTL, logger), client, nil
}

// ProvideServices creates the dispatcher, registers the side-effect handlers
// and builds the application services around it.
func ProvideServices(deps *ServiceDeps) (dispatcher.Dispatcher, *ServiceBundle, error) {
	log := &zapLoggerAdapter{logger: deps.Logger}
	repos := deps.Repos

	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(&dispatcherLoggerAdapter{logger: deps.Logger.Named("dispatcher")}))
	if err := sideeffect.RegisterAll(disp, sideeffect.Ledgers{
		Purchases: repos.Ledger,
		Inventory: repos.Ledger,
		Schedule:  repos.Ledger,
		Accounts:  repos.Ledger,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to register side effect handlers: %w", err)
	}

	notifier := service.NewNotificationService(deps.Gateway, repos.Directory, log,
		service.WithDeepLinkBase(deps.Config.Notification.DeepLinkBase),
		service.WithNotificationMetrics(deps.Metrics),
	)
	sideEffects := service.NewSideEffectService(disp, repos.SideEffect, repos.Workflow, repos.Audit, notifier, deps.Metrics, log)
	escalation := service.NewEscalationService(repos.Workflow, repos.Audit, repos.Directory, notifier, deps.TxManager, log,
		service.WithBatchSize(deps.Config.Escalation.BatchSize),
		service.WithEscalationMetrics(deps.Metrics),
	)

	return disp, &ServiceBundle{
		Notification: notifier,
		SideEffect:   sideEffects,
		Escalation:   escalation,
	}, nil
}

// ProvideWorkflowEngine builds the resolver and the engine.
func ProvideWorkflowEngine(cfg *WorkflowConfig, repos *RepositoryBundle, tx port.TransactionManager, services *ServiceBundle, recorder port.MetricsRecorder, logger *zap.Logger) workflow.WorkflowEngine {
	var resolverOpts []template.Option
	if cfg.AmountPolicy != nil {
		resolverOpts = append(resolverOpts,
			template.WithAmountPolicy(entity.TypePurchase, *cfg.AmountPolicy),
			template.WithAmountPolicy(entity.TypeExpense, *cfg.AmountPolicy),
		)
	}
	resolver := template.NewResolver(repos.Template, resolverOpts...)

	return workflow.NewEngine(
		repos.Workflow,
		repos.Audit,
		repos.SideEffect,
		tx,
		resolver,
		repos.Directory,
		&zapLoggerAdapter{logger: logger.Named("engine")},
		workflow.WithSideEffects(services.SideEffect),
		workflow.WithNotifier(services.Notification),
		workflow.WithPolicies(cfg.Policies),
		workflow.WithMetrics(recorder),
	)
}

// ProvideEscalationWorker builds the cron sweeper around the lease.
func ProvideEscalationWorker(cfg *EscalationConfig, sweeper service.EscalationService, lease lock.Locker, logger *zap.Logger) *worker.EscalationWorker {
	wc := worker.DefaultEscalationWorkerConfig()
	if cfg.Schedule != "" {
		wc.Schedule = cfg.Schedule
	}
	if cfg.PassTimeout > 0 {
		wc.PassTimeout = cfg.PassTimeout
	}
	return worker.NewEscalationWorker(wc, sweeper, lease, logger.Named("escalation"))
}
