package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
)

// NotificationService composes and delivers workflow alerts. Every method is
// best-effort: callers log the returned error and never undo state because of it.
type NotificationService interface {
	NotifyStepAssigned(ctx context.Context, inst *entity.WorkflowInstance) error
	NotifyFinalized(ctx context.Context, inst *entity.WorkflowInstance) error
	NotifyEscalation(ctx context.Context, inst *entity.WorkflowInstance, step *entity.Step, target *entity.Identity) error
	NotifySideEffectFailed(ctx context.Context, inst *entity.WorkflowInstance, cause error) error
}

// NotificationOption configures the notification service
type NotificationOption func(*notificationServiceImpl)

// WithDeepLinkBase sets the URL prefix for links to an instance.
func WithDeepLinkBase(base string) NotificationOption {
	return func(s *notificationServiceImpl) {
		s.linkBase = strings.TrimRight(base, "/")
	}
}

// WithNotificationMetrics records delivery outcomes.
func WithNotificationMetrics(m port.MetricsRecorder) NotificationOption {
	return func(s *notificationServiceImpl) {
		s.metrics = m
	}
}

type notificationServiceImpl struct {
	gateway    port.NotificationGateway
	identities port.IdentityResolver
	metrics    port.MetricsRecorder
	linkBase   string
	logger     Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	gateway port.NotificationGateway,
	identities port.IdentityResolver,
	logger Logger,
	opts ...NotificationOption,
) NotificationService {
	s := &notificationServiceImpl{
		gateway:    gateway,
		identities: identities,
		metrics:    port.NopMetrics{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyStepAssigned tells the current step's assignee, or one holder of its
// role, that the instance is waiting on them.
func (s *notificationServiceImpl) NotifyStepAssigned(ctx context.Context, inst *entity.WorkflowInstance) error {
	step := inst.CurrentStep()
	if step == nil {
		return nil
	}

	recipient, err := s.stepRecipient(ctx, inst, step)
	if err != nil {
		return err
	}
	if recipient == "" {
		s.logger.Info("No recipient for step notification",
			"instance_id", inst.ID,
			"step_order", step.Order,
			"role", step.AssigneeRole,
		)
		return nil
	}

	title := fmt.Sprintf("%s request needs your approval", humanType(inst.Type))
	if step.Stage != "" {
		title = fmt.Sprintf("%s: %s is now active", humanType(inst.Type), humanStage(step.Stage))
	}
	body := fmt.Sprintf("Step %d of %d", step.Order, len(inst.Steps))
	if step.DueAt != nil {
		body += fmt.Sprintf(", due %s", step.DueAt.UTC().Format("2006-01-02 15:04 MST"))
	}

	return s.deliver(ctx, entity.Notification{
		UserID:   recipient,
		Category: entity.CategoryStepAssigned,
		Priority: priorityFor(inst),
		Title:    title,
		Body:     body,
		DeepLink: s.link(inst),
	})
}

// NotifyFinalized tells the requester how the workflow ended.
func (s *notificationServiceImpl) NotifyFinalized(ctx context.Context, inst *entity.WorkflowInstance) error {
	if inst.RequestedBy == "" || !inst.IsTerminal() {
		return nil
	}

	category := entity.CategoryWorkflowDecided
	if inst.Status == entity.StatusClosed {
		category = entity.CategoryWorkflowClosed
	}
	body := ""
	if step := inst.CurrentStep(); step != nil && step.Comment != "" {
		body = step.Comment
	}

	return s.deliver(ctx, entity.Notification{
		UserID:   inst.RequestedBy,
		Category: category,
		Priority: entity.PriorityNormal,
		Title:    fmt.Sprintf("%s request %s", humanType(inst.Type), strings.ToLower(string(inst.Status))),
		Body:     body,
		DeepLink: s.link(inst),
	})
}

// NotifyEscalation alerts the escalation target about an overdue step.
func (s *notificationServiceImpl) NotifyEscalation(ctx context.Context, inst *entity.WorkflowInstance, step *entity.Step, target *entity.Identity) error {
	assignee := string(step.AssigneeRole)
	if !step.IsRoleBound() {
		assignee = *step.AssigneeID
	}
	body := fmt.Sprintf("Step %d (%s) assigned to %s is overdue", step.Order, step.AssigneeRole, assignee)
	if step.DueAt != nil {
		body += fmt.Sprintf(" since %s", step.DueAt.UTC().Format("2006-01-02 15:04 MST"))
	}

	return s.deliver(ctx, entity.Notification{
		UserID:   target.UserID,
		Category: entity.CategoryEscalation,
		Priority: entity.PriorityHigh,
		Title:    fmt.Sprintf("Overdue %s request escalated to you", humanType(inst.Type)),
		Body:     body,
		DeepLink: s.link(inst),
	})
}

// NotifySideEffectFailed reports a failed handler to a company admin for manual follow-up.
func (s *notificationServiceImpl) NotifySideEffectFailed(ctx context.Context, inst *entity.WorkflowInstance, cause error) error {
	admin, err := s.identities.ResolveRole(ctx, inst.CompanyID, nil, entity.RoleCompanyAdmin)
	if err != nil {
		return fmt.Errorf("resolve company admin: %w", err)
	}
	if admin == nil {
		s.logger.Error("No company admin to receive side effect failure",
			"instance_id", inst.ID,
			"company_id", inst.CompanyID,
		)
		return nil
	}

	return s.deliver(ctx, entity.Notification{
		UserID:   admin.UserID,
		Category: entity.CategorySideEffectFailed,
		Priority: entity.PriorityHigh,
		Title:    fmt.Sprintf("Approved %s request needs manual follow-up", humanType(inst.Type)),
		Body:     cause.Error(),
		DeepLink: s.link(inst),
	})
}

func (s *notificationServiceImpl) stepRecipient(ctx context.Context, inst *entity.WorkflowInstance, step *entity.Step) (string, error) {
	if !step.IsRoleBound() {
		return *step.AssigneeID, nil
	}
	scope := inst.StoreID
	if !step.AssigneeRole.IsStoreScoped() {
		scope = nil
	}
	holder, err := s.identities.ResolveRole(ctx, inst.CompanyID, scope, step.AssigneeRole)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", step.AssigneeRole, err)
	}
	if holder == nil {
		return "", nil
	}
	return holder.UserID, nil
}

func (s *notificationServiceImpl) deliver(ctx context.Context, n entity.Notification) error {
	err := s.gateway.Notify(ctx, n)
	s.metrics.NotificationRecorded(n.Category, err == nil)
	if err != nil {
		s.logger.Error("Failed to deliver notification",
			"error", err,
			"user_id", n.UserID,
			"category", n.Category,
		)
		return fmt.Errorf("deliver %s: %w", n.Category, err)
	}

	s.logger.Info("Notification delivered",
		"user_id", n.UserID,
		"category", n.Category,
	)
	return nil
}

func (s *notificationServiceImpl) link(inst *entity.WorkflowInstance) string {
	if s.linkBase == "" {
		return ""
	}
	return s.linkBase + "/workflows/" + inst.ID
}

func priorityFor(inst *entity.WorkflowInstance) entity.NotificationPriority {
	switch inst.Severity {
	case entity.SeverityCritical, entity.SeverityHigh:
		return entity.PriorityHigh
	}
	return entity.PriorityNormal
}

func humanType(t entity.WorkflowType) string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", " ")
}

func humanStage(s entity.Stage) string {
	return strings.ReplaceAll(strings.ToLower(string(s)), "_", " ")
}
