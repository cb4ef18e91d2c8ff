package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/application/service"
	"github.com/garyjia/opsflow/internal/application/template"
	"github.com/garyjia/opsflow/internal/domain/entity"
	domainwf "github.com/garyjia/opsflow/internal/domain/workflow"
)

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	workflows   port.WorkflowRepository
	audit       port.AuditRepository
	sideEffects port.SideEffectRepository
	txManager   port.TransactionManager
	resolver    template.Resolver
	binder      *template.Binder

	effects  service.SideEffectService
	notifier service.NotificationService
	policies Policies
	metrics  port.MetricsRecorder
	logger   service.Logger

	now   func() time.Time
	newID func() string
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithSideEffects sets the service that runs handlers after a final approval
func WithSideEffects(s service.SideEffectService) EngineOption {
	return func(e *engineImpl) {
		e.effects = s
	}
}

// WithNotifier sets the best-effort notification service
func WithNotifier(n service.NotificationService) EngineOption {
	return func(e *engineImpl) {
		e.notifier = n
	}
}

// WithPolicies replaces DefaultPolicies
func WithPolicies(p Policies) EngineOption {
	return func(e *engineImpl) {
		e.policies = p
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m port.MetricsRecorder) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithIDGenerator sets the instance id generator
func WithIDGenerator(gen func() string) EngineOption {
	return func(e *engineImpl) {
		e.newID = gen
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	workflows port.WorkflowRepository,
	audit port.AuditRepository,
	sideEffects port.SideEffectRepository,
	txManager port.TransactionManager,
	resolver template.Resolver,
	identities port.IdentityResolver,
	logger service.Logger,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		workflows:   workflows,
		audit:       audit,
		sideEffects: sideEffects,
		txManager:   txManager,
		resolver:    resolver,
		binder:      template.NewBinder(identities),
		policies:    DefaultPolicies(),
		metrics:     port.NopMetrics{},
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CreateWorkflow resolves and binds the step line, then persists the instance
// and its CREATED audit entry in one transaction.
func (e *engineImpl) CreateWorkflow(ctx context.Context, req CreateRequest) (*entity.WorkflowInstance, error) {
	const op = "create"
	if !req.Type.IsValid() {
		return nil, domainwf.NewError(domainwf.KindInvalidContext, op, "", "unknown workflow type %q", req.Type)
	}
	if req.CompanyID == "" || req.RequestedBy == "" {
		return nil, domainwf.NewError(domainwf.KindInvalidContext, op, "", "company_id and requested_by are required")
	}

	line, err := e.resolver.Resolve(ctx, req.Type, template.ResolveContext{
		CompanyID: req.CompanyID,
		StoreID:   req.StoreID,
		Amount:    req.Amount,
		Severity:  req.Severity,
	})
	if err != nil {
		e.logger.Error("Failed to resolve step line", "error", err, "workflow_type", req.Type, "company_id", req.CompanyID)
		return nil, err
	}

	steps, err := e.binder.Bind(ctx, req.CompanyID, req.StoreID, line)
	if err != nil {
		e.logger.Error("Failed to bind approvers", "error", err, "workflow_type", req.Type, "company_id", req.CompanyID)
		return nil, err
	}

	now := e.now()
	inst := &entity.WorkflowInstance{
		ID:               e.newID(),
		CompanyID:        req.CompanyID,
		StoreID:          req.StoreID,
		Type:             req.Type,
		SourceID:         req.SourceID,
		RequestedBy:      req.RequestedBy,
		Amount:           req.Amount,
		Severity:         req.Severity,
		Context:          req.Context,
		Steps:            steps,
		CurrentStepIndex: 0,
		Status:           domainwf.InitialState(req.Type.Flavor()),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.scheduleDeadlines(inst, now); err != nil {
		return nil, err
	}
	first := inst.Steps[0]
	first.Status = entity.StepInProgress
	first.StartedAt = &now

	err = e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := e.workflows.Create(ctx, inst); err != nil {
			return err
		}
		return e.audit.Append(ctx, &entity.AuditEntry{
			ID:         uuid.NewString(),
			InstanceID: inst.ID,
			StepOrder:  0,
			Action:     entity.AuditCreated,
			ActorID:    req.RequestedBy,
			ToStatus:   inst.Status,
			CreatedAt:  now,
		})
	})
	if err != nil {
		e.logger.Error("Failed to persist workflow", "error", err, "workflow_type", req.Type)
		return nil, domainwf.WrapError(domainwf.KindInternal, op, inst.ID, err)
	}

	e.metrics.TransitionRecorded(inst.Type, entity.AuditCreated)
	e.logger.Info("Workflow created",
		"instance_id", inst.ID,
		"workflow_type", inst.Type,
		"company_id", inst.CompanyID,
		"steps", len(inst.Steps),
	)

	if e.notifier != nil {
		if err := e.notifier.NotifyStepAssigned(ctx, inst); err != nil {
			e.logger.Error("Step notification failed", "error", err, "instance_id", inst.ID)
		}
	}
	return inst, nil
}

// scheduleDeadlines fixes every remediation deadline relative to creation,
// or the first approval step's SLA.
func (e *engineImpl) scheduleDeadlines(inst *entity.WorkflowInstance, now time.Time) error {
	if inst.Flavor() == entity.FlavorRemediation {
		due, err := e.policies.Deadlines.Compute(inst.Severity, now)
		if err != nil {
			return domainwf.WrapError(domainwf.KindInvalidContext, "create", "", err)
		}
		for i, step := range inst.Steps {
			if i < len(due) {
				step.DueAt = due[i]
			}
		}
		return nil
	}
	if sla := e.policies.SLAFor(inst.Type); sla > 0 {
		due := now.Add(sla)
		inst.Steps[0].DueAt = &due
	}
	return nil
}

func (e *engineImpl) Decide(ctx context.Context, instanceID string, actor entity.Actor, outcome entity.Outcome, comment string) (*entity.WorkflowInstance, error) {
	const op = "decide"
	inst, err := e.load(ctx, op, instanceID)
	if err != nil {
		return nil, err
	}

	tr, err := domainwf.Decide(ctx, inst, domainwf.DecideInput{
		Actor:   actor,
		Outcome: outcome,
		Comment: comment,
		Now:     e.now(),
		SLA:     e.policies.SLAFor(inst.Type),
	}, e.policies.Overrides)
	if err != nil {
		return nil, err
	}

	if err := e.commit(ctx, op, inst, tr, e.workflows.ApplyDecision); err != nil {
		return nil, err
	}

	if tr.Finalized && tr.ToStatus == entity.StatusApproved && e.effects != nil {
		// The handler result is recorded in the outbox; the decision stands either way.
		if err := e.effects.Run(ctx, inst); err != nil {
			e.logger.Error("Side effect failed after approval", "error", err, "instance_id", inst.ID)
		}
	}
	e.notifyAfter(ctx, inst, tr)
	return inst, nil
}

func (e *engineImpl) Progress(ctx context.Context, instanceID string, actor entity.Actor, payload StagePayload) (*entity.WorkflowInstance, error) {
	const op = "progress"
	inst, err := e.load(ctx, op, instanceID)
	if err != nil {
		return nil, err
	}

	tr, err := domainwf.Progress(ctx, inst, domainwf.ProgressInput{
		Actor:       actor,
		Data:        payload.Data,
		Attachments: payload.Attachments,
		Comment:     payload.Comment,
		Now:         e.now(),
	}, e.policies.Overrides)
	if err != nil {
		return nil, err
	}

	if err := e.commit(ctx, op, inst, tr, e.workflows.ApplyProgress); err != nil {
		return nil, err
	}
	e.notifyAfter(ctx, inst, tr)
	return inst, nil
}

// commit writes tr with its audit entry, plus the outbox row for a final
// approval, in one transaction. A stale conditional write is mapped to
// AlreadyFinalized or Conflict after re-reading the instance.
func (e *engineImpl) commit(
	ctx context.Context,
	op string,
	inst *entity.WorkflowInstance,
	tr *domainwf.Transition,
	apply func(context.Context, *domainwf.Transition) error,
) error {
	err := e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := apply(ctx, tr); err != nil {
			return err
		}
		if err := e.audit.Append(ctx, &entity.AuditEntry{
			ID:         uuid.NewString(),
			InstanceID: tr.InstanceID,
			StepOrder:  tr.StepOrder,
			Action:     tr.AuditAction(),
			ActorID:    tr.ActorID,
			FromStatus: tr.FromStatus,
			ToStatus:   tr.ToStatus,
			Comment:    tr.Comment,
			CreatedAt:  tr.At,
		}); err != nil {
			return err
		}
		if tr.Finalized && tr.ToStatus == entity.StatusApproved {
			return e.sideEffects.Enqueue(ctx, &entity.SideEffectRecord{
				InstanceID: inst.ID,
				CompanyID:  inst.CompanyID,
				Type:       inst.Type,
				Status:     entity.SideEffectPending,
				CreatedAt:  tr.At,
				UpdatedAt:  tr.At,
			})
		}
		return nil
	})
	if err != nil {
		return e.mapWriteError(ctx, op, inst.ID, err)
	}

	tr.ApplyTo(inst)
	e.metrics.TransitionRecorded(inst.Type, tr.AuditAction())
	e.logger.Info("Workflow step completed",
		"instance_id", inst.ID,
		"step_order", tr.StepOrder,
		"actor_id", tr.ActorID,
		"status", inst.Status,
	)
	return nil
}

func (e *engineImpl) mapWriteError(ctx context.Context, op, instanceID string, err error) error {
	if !errors.Is(err, port.ErrStaleState) {
		e.logger.Error("Failed to apply transition", "error", err, "instance_id", instanceID)
		return domainwf.WrapError(domainwf.KindInternal, op, instanceID, err)
	}

	current, getErr := e.workflows.GetByID(ctx, instanceID)
	if getErr == nil && current != nil && current.IsTerminal() {
		return domainwf.NewError(domainwf.KindAlreadyFinalized, op, instanceID, "finalized concurrently as %s", current.Status)
	}
	return domainwf.WrapError(domainwf.KindConflict, op, instanceID, err)
}

func (e *engineImpl) notifyAfter(ctx context.Context, inst *entity.WorkflowInstance, tr *domainwf.Transition) {
	if e.notifier == nil {
		return
	}
	var err error
	if tr.Finalized {
		err = e.notifier.NotifyFinalized(ctx, inst)
	} else {
		err = e.notifier.NotifyStepAssigned(ctx, inst)
	}
	if err != nil {
		e.logger.Error("Notification failed after transition", "error", err, "instance_id", inst.ID)
	}
}

func (e *engineImpl) load(ctx context.Context, op, instanceID string) (*entity.WorkflowInstance, error) {
	inst, err := e.workflows.GetByID(ctx, instanceID)
	if err != nil {
		return nil, domainwf.WrapError(domainwf.KindInternal, op, instanceID, fmt.Errorf("load instance: %w", err))
	}
	if inst == nil {
		return nil, domainwf.NewError(domainwf.KindNotFound, op, instanceID, "no such workflow")
	}
	return inst, nil
}

func (e *engineImpl) ListWorkflows(ctx context.Context, companyID string, filter port.ListFilter) ([]*entity.WorkflowInstance, error) {
	if companyID == "" {
		return nil, domainwf.NewError(domainwf.KindInvalidContext, "list", "", "company id is required")
	}
	list, err := e.workflows.List(ctx, companyID, filter)
	if err != nil {
		return nil, domainwf.WrapError(domainwf.KindInternal, "list", "", err)
	}
	return list, nil
}

func (e *engineImpl) GetWorkflow(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	return e.load(ctx, "get", instanceID)
}

func (e *engineImpl) History(ctx context.Context, instanceID string) ([]*entity.AuditEntry, error) {
	if _, err := e.load(ctx, "history", instanceID); err != nil {
		return nil, err
	}
	entries, err := e.audit.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, domainwf.WrapError(domainwf.KindInternal, "history", instanceID, err)
	}
	return entries, nil
}
