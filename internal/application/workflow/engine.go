package workflow

import (
	"context"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
)

// CreateRequest carries everything needed to start a workflow.
type CreateRequest struct {
	Type        entity.WorkflowType `json:"workflow_type"`
	CompanyID   string              `json:"company_id"`
	StoreID     *string             `json:"store_id,omitempty"`
	SourceID    *string             `json:"source_id,omitempty"`
	RequestedBy string              `json:"requested_by"`
	Amount      *int64              `json:"amount,omitempty"`
	Severity    entity.Severity     `json:"severity,omitempty"`
	// Context is the originating payload handed to side-effect handlers.
	Context map[string]any `json:"context,omitempty"`
}

// StagePayload is the data recorded when a remediation stage is completed.
type StagePayload struct {
	Data        map[string]any `json:"data,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
	Comment     string         `json:"comment,omitempty"`
}

// WorkflowEngine is the public boundary of the approval and corrective-action engine.
// All errors it returns are *domainwf.Error values.
type WorkflowEngine interface {
	// CreateWorkflow builds the step line and persists a new instance with
	// step 1 in progress. Nothing is persisted on failure.
	CreateWorkflow(ctx context.Context, req CreateRequest) (*entity.WorkflowInstance, error)

	// Decide approves or rejects the current step of an approval workflow.
	Decide(ctx context.Context, instanceID string, actor entity.Actor, outcome entity.Outcome, comment string) (*entity.WorkflowInstance, error)

	// Progress completes the current stage of a remediation workflow.
	Progress(ctx context.Context, instanceID string, actor entity.Actor, payload StagePayload) (*entity.WorkflowInstance, error)

	// ListWorkflows returns a company's instances matching filter.
	ListWorkflows(ctx context.Context, companyID string, filter port.ListFilter) ([]*entity.WorkflowInstance, error)

	// GetWorkflow returns one instance.
	GetWorkflow(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error)

	// History returns the decision trail of an instance, oldest first.
	History(ctx context.Context, instanceID string) ([]*entity.AuditEntry, error)
}
