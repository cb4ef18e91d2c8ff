package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/domain/workflow"
)

// ErrStaleState is returned by conditional writes that matched no row
// because another caller changed the instance first.
var ErrStaleState = errors.New("workflow state changed concurrently")

// ListFilter narrows ListWorkflows. Zero values are ignored.
type ListFilter struct {
	Status     entity.Status
	AssigneeID string
	Severity   entity.Severity
	Type       entity.WorkflowType
	Limit      int
	Offset     int

	// AssigneeRoles and AssigneeStoreID widen AssigneeID to role-bound
	// current steps the assignee holds the role for. Store-scoped roles only
	// match instances of AssigneeStoreID or without a store.
	AssigneeRoles   []entity.Role
	AssigneeStoreID *string
}

// WorkflowRepository persists instances and their steps.
// Reads return (nil, nil) when the instance does not exist.
type WorkflowRepository interface {
	Create(ctx context.Context, inst *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	List(ctx context.Context, companyID string, filter ListFilter) ([]*entity.WorkflowInstance, error)

	// ApplyDecision and ApplyProgress write a transition only if the step is
	// still IN_PROGRESS and the instance is still at the transition's
	// FromIndex and FromStatus; otherwise they return ErrStaleState.
	ApplyDecision(ctx context.Context, t *workflow.Transition) error
	ApplyProgress(ctx context.Context, t *workflow.Transition) error

	// MarkEscalated flips escalated on an IN_PROGRESS step of a non-terminal
	// instance. It reports false if the step was decided or already escalated.
	MarkEscalated(ctx context.Context, instanceID string, stepOrder int, at time.Time) (bool, error)

	// ListOverdue returns non-terminal instances whose current step is past
	// due and not yet escalated.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowInstance, error)
}

// TemplateRepository stores company override templates.
type TemplateRepository interface {
	// GetActive returns the active template for the pair, or nil.
	GetActive(ctx context.Context, companyID string, workflowType entity.WorkflowType) (*entity.WorkflowTemplate, error)
	// Save stores tpl and, if it is active, deactivates the pair's other templates.
	Save(ctx context.Context, tpl *entity.WorkflowTemplate) error
}

// AuditRepository stores the decision trail.
type AuditRepository interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.AuditEntry, error)
}

// SideEffectRepository is the outbox for terminal approvals.
type SideEffectRepository interface {
	Enqueue(ctx context.Context, rec *entity.SideEffectRecord) error
	Get(ctx context.Context, instanceID string) (*entity.SideEffectRecord, error)
	MarkResult(ctx context.Context, instanceID string, status entity.SideEffectStatus, lastError string, at time.Time) error
	ListByStatus(ctx context.Context, companyID string, status entity.SideEffectStatus, limit int) ([]*entity.SideEffectRecord, error)

	// ListStalePending returns PENDING rows last touched before staleBefore.
	// A crash between commit and handler run leaves such rows behind.
	ListStalePending(ctx context.Context, companyID string, staleBefore time.Time, limit int) ([]*entity.SideEffectRecord, error)

	// ClaimRetry moves a FAILED or stale PENDING row back to PENDING and
	// reports whether this caller got it. Concurrent callers get false.
	ClaimRetry(ctx context.Context, instanceID string, staleBefore, at time.Time) (bool, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
