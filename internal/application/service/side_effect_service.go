package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/opsflow/internal/application/dispatcher"
	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/domain/workflow"
)

// SideEffectService runs handlers for approved instances and keeps the outbox current.
type SideEffectService interface {
	// Run dispatches the handler for inst and records the outcome. A handler
	// failure is recorded, reported and returned; it never touches inst's status.
	Run(ctx context.Context, inst *entity.WorkflowInstance) error

	// Retry re-runs a FAILED or stale PENDING side effect. Handlers are
	// idempotent on instance id.
	Retry(ctx context.Context, instanceID string) error

	// ListFailed returns a company's FAILED outbox rows followed by PENDING
	// rows older than StalePendingAfter.
	ListFailed(ctx context.Context, companyID string, limit int) ([]*entity.SideEffectRecord, error)
}

// StalePendingAfter is how long a PENDING row may sit before it counts as
// abandoned and becomes retryable.
const StalePendingAfter = 15 * time.Minute

// ErrNotRetryable is returned by Retry for rows that are neither FAILED nor
// stale, including rows another caller just claimed.
var ErrNotRetryable = errors.New("side effect is not in a failed state")

type sideEffectServiceImpl struct {
	dispatcher dispatcher.Dispatcher
	records    port.SideEffectRepository
	workflows  port.WorkflowRepository
	audit      port.AuditRepository
	notifier   NotificationService
	metrics    port.MetricsRecorder
	logger     Logger
	now        func() time.Time
}

// NewSideEffectService creates a new SideEffectService
func NewSideEffectService(
	d dispatcher.Dispatcher,
	records port.SideEffectRepository,
	workflows port.WorkflowRepository,
	audit port.AuditRepository,
	notifier NotificationService,
	metrics port.MetricsRecorder,
	logger Logger,
) SideEffectService {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &sideEffectServiceImpl{
		dispatcher: d,
		records:    records,
		workflows:  workflows,
		audit:      audit,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *sideEffectServiceImpl) Run(ctx context.Context, inst *entity.WorkflowInstance) error {
	handlerErr := s.dispatcher.Dispatch(ctx, inst)
	at := s.now()

	status, lastError := entity.SideEffectSucceeded, ""
	if handlerErr != nil {
		status, lastError = entity.SideEffectFailed, handlerErr.Error()
	}
	s.metrics.SideEffectRecorded(inst.Type, status)

	if err := s.records.MarkResult(ctx, inst.ID, status, lastError, at); err != nil {
		s.logger.Error("Failed to record side effect result",
			"error", err,
			"instance_id", inst.ID,
			"status", status,
		)
	}

	if handlerErr == nil {
		s.logger.Info("Side effect completed", "instance_id", inst.ID, "workflow_type", inst.Type)
		return nil
	}

	if err := s.audit.Append(ctx, &entity.AuditEntry{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		StepOrder:  len(inst.Steps),
		Action:     entity.AuditSideEffectFailed,
		ActorID:    "system",
		FromStatus: inst.Status,
		ToStatus:   inst.Status,
		Comment:    lastError,
		CreatedAt:  at,
	}); err != nil {
		s.logger.Error("Failed to append side effect audit entry", "error", err, "instance_id", inst.ID)
	}
	if s.notifier != nil {
		if err := s.notifier.NotifySideEffectFailed(ctx, inst, handlerErr); err != nil {
			s.logger.Error("Failed to report side effect failure", "error", err, "instance_id", inst.ID)
		}
	}
	return handlerErr
}

func (s *sideEffectServiceImpl) Retry(ctx context.Context, instanceID string) error {
	rec, err := s.records.Get(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("get side effect: %w", err)
	}
	if rec == nil {
		return workflow.NewError(workflow.KindNotFound, "retry", instanceID, "no side effect recorded")
	}

	now := s.now()
	claimed, err := s.records.ClaimRetry(ctx, instanceID, now.Add(-StalePendingAfter), now)
	if err != nil {
		return fmt.Errorf("claim side effect: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: status is %s", ErrNotRetryable, rec.Status)
	}

	inst, err := s.workflows.GetByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("get instance: %w", err)
	}
	if inst == nil {
		return workflow.NewError(workflow.KindNotFound, "retry", instanceID, "instance missing")
	}

	s.logger.Info("Retrying side effect", "instance_id", instanceID, "attempts", rec.Attempts)
	return s.Run(ctx, inst)
}

func (s *sideEffectServiceImpl) ListFailed(ctx context.Context, companyID string, limit int) ([]*entity.SideEffectRecord, error) {
	failed, err := s.records.ListByStatus(ctx, companyID, entity.SideEffectFailed, limit)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(failed) >= limit {
		return failed, nil
	}

	remaining := 0
	if limit > 0 {
		remaining = limit - len(failed)
	}
	stale, err := s.records.ListStalePending(ctx, companyID, s.now().Add(-StalePendingAfter), remaining)
	if err != nil {
		return nil, err
	}
	return append(failed, stale...), nil
}
