package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
)

// Escalation outcomes reported to metrics.
const (
	EscalationSent     = "sent"
	EscalationNoTarget = "no_target"
	EscalationLost     = "lost_race"
	EscalationFailed   = "failed"
)

// SweepResult summarises one escalation pass.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// EscalationService performs one-shot escalation of overdue steps.
type EscalationService interface {
	// Sweep escalates every overdue, unescalated current step once. It never
	// changes step or instance status.
	Sweep(ctx context.Context, now time.Time) (SweepResult, error)
}

// EscalationOption configures the escalation service
type EscalationOption func(*escalationServiceImpl)

// WithBatchSize caps how many overdue instances one pass loads.
func WithBatchSize(n int) EscalationOption {
	return func(s *escalationServiceImpl) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithEscalationMetrics records outcomes and pass duration.
func WithEscalationMetrics(m port.MetricsRecorder) EscalationOption {
	return func(s *escalationServiceImpl) {
		s.metrics = m
	}
}

type escalationServiceImpl struct {
	workflows  port.WorkflowRepository
	audit      port.AuditRepository
	identities port.IdentityResolver
	notifier   NotificationService
	txManager  port.TransactionManager
	metrics    port.MetricsRecorder
	batchSize  int
	logger     Logger
}

// NewEscalationService creates a new EscalationService
func NewEscalationService(
	workflows port.WorkflowRepository,
	audit port.AuditRepository,
	identities port.IdentityResolver,
	notifier NotificationService,
	txManager port.TransactionManager,
	logger Logger,
	opts ...EscalationOption,
) EscalationService {
	s := &escalationServiceImpl{
		workflows:  workflows,
		audit:      audit,
		identities: identities,
		notifier:   notifier,
		txManager:  txManager,
		metrics:    port.NopMetrics{},
		batchSize:  200,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *escalationServiceImpl) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	defer func() { s.metrics.SweepObserved(time.Since(start)) }()

	var result SweepResult
	overdue, err := s.workflows.ListOverdue(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list overdue workflows", "error", err)
		return result, fmt.Errorf("list overdue: %w", err)
	}

	for _, inst := range overdue {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		outcome := s.escalate(ctx, inst, now)
		s.metrics.EscalationRecorded(outcome)
		switch outcome {
		case EscalationSent:
			result.Escalated++
		case EscalationFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	s.logger.Info("Escalation sweep completed",
		"scanned", result.Scanned,
		"escalated", result.Escalated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// escalate claims the step with a conditional write before notifying, so a
// concurrent sweep or a decision that lands first suppresses the alert.
func (s *escalationServiceImpl) escalate(ctx context.Context, inst *entity.WorkflowInstance, now time.Time) string {
	step := inst.CurrentStep()
	if inst.IsTerminal() || step == nil || step.Escalated || !step.IsOverdue(now) {
		return EscalationLost
	}

	target, err := s.target(ctx, inst, step)
	if err != nil {
		s.logger.Error("Failed to resolve escalation target",
			"error", err,
			"instance_id", inst.ID,
			"step_order", step.Order,
		)
		return EscalationFailed
	}
	if target == nil {
		s.logger.Info("No escalation target for overdue step",
			"instance_id", inst.ID,
			"step_order", step.Order,
			"role", step.AssigneeRole,
		)
		return EscalationNoTarget
	}

	claimed := false
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.workflows.MarkEscalated(ctx, inst.ID, step.Order, now)
		if err != nil || !ok {
			return err
		}
		claimed = true
		return s.audit.Append(ctx, &entity.AuditEntry{
			ID:         uuid.NewString(),
			InstanceID: inst.ID,
			StepOrder:  step.Order,
			Action:     entity.AuditEscalated,
			ActorID:    target.UserID,
			FromStatus: inst.Status,
			ToStatus:   inst.Status,
			CreatedAt:  now,
		})
	})
	if err != nil {
		s.logger.Error("Failed to mark step escalated",
			"error", err,
			"instance_id", inst.ID,
			"step_order", step.Order,
		)
		return EscalationFailed
	}
	if !claimed {
		return EscalationLost
	}

	step.Escalated = true
	step.EscalatedAt = &now
	if err := s.notifier.NotifyEscalation(ctx, inst, step, target); err != nil {
		s.logger.Error("Escalation recorded but notification failed",
			"error", err,
			"instance_id", inst.ID,
			"target", target.UserID,
		)
	}
	return EscalationSent
}

// target is one organisational level above the step's role.
func (s *escalationServiceImpl) target(ctx context.Context, inst *entity.WorkflowInstance, step *entity.Step) (*entity.Identity, error) {
	up, ok := step.AssigneeRole.Escalation()
	if !ok {
		return nil, nil
	}
	scope := inst.StoreID
	if !up.IsStoreScoped() {
		scope = nil
	}
	return s.identities.ResolveRole(ctx, inst.CompanyID, scope, up)
}
