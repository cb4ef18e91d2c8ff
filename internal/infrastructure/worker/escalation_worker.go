package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/application/service"
	"github.com/garyjia/opsflow/internal/infrastructure/lock"
)

// EscalationWorkerConfig holds scheduling settings
type EscalationWorkerConfig struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// PassTimeout bounds one sweep.
	PassTimeout time.Duration
}

// DefaultEscalationWorkerConfig returns default configuration
func DefaultEscalationWorkerConfig() EscalationWorkerConfig {
	return EscalationWorkerConfig{
		Schedule:    "*/5 * * * *",
		PassTimeout: 2 * time.Minute,
	}
}

// EscalationWorker runs escalation sweeps on a cron schedule. Each pass
// first takes the lease so only one replica sweeps at a time.
type EscalationWorker struct {
	config    EscalationWorkerConfig
	sweeper   service.EscalationService
	lease     lock.Locker
	logger    *zap.Logger
	now       func() time.Time
	scheduler *cron.Cron

	mu        sync.Mutex
	ctx       context.Context
	lastRun   time.Time
	lastError error
}

// NewEscalationWorker creates a cron-driven sweeper
func NewEscalationWorker(
	config EscalationWorkerConfig,
	sweeper service.EscalationService,
	lease lock.Locker,
	logger *zap.Logger,
) *EscalationWorker {
	if config.PassTimeout <= 0 {
		config.PassTimeout = DefaultEscalationWorkerConfig().PassTimeout
	}
	if lease == nil {
		lease = lock.NewLocalLock()
	}
	return &EscalationWorker{
		config:  config,
		sweeper: sweeper,
		lease:   lease,
		logger:  logger,
		now:     time.Now,
	}
}

func (w *EscalationWorker) Name() string {
	return "EscalationWorker"
}

// Start validates the schedule and begins firing passes.
func (w *EscalationWorker) Start(ctx context.Context) error {
	schedule, err := cron.ParseStandard(w.config.Schedule)
	if err != nil {
		return fmt.Errorf("invalid escalation schedule %q: %w", w.config.Schedule, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		return fmt.Errorf("escalation worker already running")
	}
	w.ctx = ctx
	w.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	w.scheduler.Schedule(schedule, cron.FuncJob(func() {
		_, _ = w.RunOnce(w.ctx)
	}))
	w.scheduler.Start()

	w.logger.Info("EscalationWorker started",
		zap.String("schedule", w.config.Schedule),
		zap.Time("next_run", schedule.Next(w.now())))
	return nil
}

// Stop waits for a running pass to finish.
func (w *EscalationWorker) Stop() error {
	w.mu.Lock()
	scheduler := w.scheduler
	w.scheduler = nil
	w.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	<-scheduler.Stop().Done()
	w.logger.Info("EscalationWorker stopped")
	return nil
}

// RunOnce performs a single leased pass. ran is false when another holder
// had the lease.
func (w *EscalationWorker) RunOnce(ctx context.Context) (ran bool, err error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	release, err := w.lease.TryAcquire(ctx)
	if err != nil {
		w.record(err)
		w.logger.Error("Failed to acquire escalation lease", zap.Error(err))
		return false, err
	}
	if release == nil {
		w.logger.Debug("Escalation pass skipped, lease held elsewhere")
		return false, nil
	}
	defer release()

	passCtx, cancel := context.WithTimeout(ctx, w.config.PassTimeout)
	defer cancel()

	result, err := w.sweeper.Sweep(passCtx, w.now())
	w.record(err)
	if err != nil {
		w.logger.Error("Escalation pass failed", zap.Error(err))
		return true, err
	}
	w.logger.Info("Escalation pass completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("escalated", result.Escalated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return true, nil
}

// LastRun reports when the last pass ended and its error.
func (w *EscalationWorker) LastRun() (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun, w.lastError
}

func (w *EscalationWorker) record(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastRun = w.now()
	w.lastError = err
}
