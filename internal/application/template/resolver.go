// Package template builds the ordered step line for a new workflow instance.
package template

import (
	"context"
	"fmt"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/domain/workflow"
)

// Binding says when a step's assignee is fixed.
type Binding int

const (
	// BindEager resolves the assignee when the instance is created.
	BindEager Binding = iota
	// BindLazy leaves the step open to any holder of its role.
	BindLazy
)

// StepDescriptor is an unresolved step.
type StepDescriptor struct {
	Order      int
	Role       entity.Role
	AssigneeID *string
	Stage      entity.Stage
	Binding    Binding
	// Required steps must resolve or creation fails; others are dropped.
	Required bool
	// Fallback roles are tried in order when Role has no holder.
	Fallback []entity.Role
}

// ResolveContext is the input bag for step construction.
type ResolveContext struct {
	CompanyID string
	StoreID   *string
	Amount    *int64
	Severity  entity.Severity
}

// Resolver produces the step line for a workflow type. Company override
// templates apply to approval types only; remediation always uses the fixed stages.
type Resolver interface {
	Resolve(ctx context.Context, workflowType entity.WorkflowType, rc ResolveContext) ([]StepDescriptor, error)
}

// Option configures the resolver
type Option func(*resolverImpl)

// WithAmountPolicy replaces the tiers used for an amount-scaled type.
func WithAmountPolicy(t entity.WorkflowType, p AmountPolicy) Option {
	return func(r *resolverImpl) {
		r.amountPolicies[t] = p
	}
}

type resolverImpl struct {
	templates      port.TemplateRepository
	amountPolicies map[entity.WorkflowType]AmountPolicy
}

// NewResolver creates a resolver. templates may be nil when overrides are disabled.
func NewResolver(templates port.TemplateRepository, opts ...Option) Resolver {
	r := &resolverImpl{
		templates: templates,
		amountPolicies: map[entity.WorkflowType]AmountPolicy{
			entity.TypePurchase: DefaultAmountPolicy(),
			entity.TypeExpense:  DefaultAmountPolicy(),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	companyFallback = []entity.Role{entity.RoleCompanyAdmin}

	// fixedLines are the deterministic lines that need no amount input.
	fixedLines = map[entity.WorkflowType][]StepDescriptor{
		entity.TypeDisposal: {
			{Role: entity.RoleStoreManager, Required: true},
			{Role: entity.RoleCompanyAdmin, Required: true},
		},
		entity.TypeResignation: {
			{Role: entity.RoleStoreManager, Required: true},
			{Role: entity.RoleCompanyAdmin, Required: true},
			{Role: entity.RoleOwner, Required: true},
		},
		entity.TypeLeave:         {{Role: entity.RoleStoreManager, Required: true, Fallback: companyFallback}},
		entity.TypeOvertime:      {{Role: entity.RoleStoreManager, Required: true, Fallback: companyFallback}},
		entity.TypeAbsenceExcuse: {{Role: entity.RoleStoreManager, Required: true, Fallback: companyFallback}},
	}

	stageRoles = map[entity.Stage]entity.Role{
		entity.StageImmediateAction:   entity.RoleStoreManager,
		entity.StageRootCauseAnalysis: entity.RoleStoreManager,
		entity.StageCorrectiveAction:  entity.RoleStoreManager,
		entity.StageVerification:      entity.RoleCompanyAdmin,
		entity.StageClosure:           entity.RoleCompanyAdmin,
	}
)

func (r *resolverImpl) Resolve(ctx context.Context, workflowType entity.WorkflowType, rc ResolveContext) ([]StepDescriptor, error) {
	const op = "resolve"
	if !workflowType.IsValid() {
		return nil, workflow.NewError(workflow.KindInvalidContext, op, "", "unknown workflow type %q", workflowType)
	}
	if rc.CompanyID == "" {
		return nil, workflow.NewError(workflow.KindInvalidContext, op, "", "company id is required")
	}

	if r.templates != nil && workflowType.Flavor() == entity.FlavorApproval {
		tpl, err := r.templates.GetActive(ctx, rc.CompanyID, workflowType)
		if err != nil {
			return nil, workflow.WrapError(workflow.KindInternal, op, "", fmt.Errorf("load override template: %w", err))
		}
		if tpl != nil && tpl.IsActive && len(tpl.Steps) > 0 {
			return fromTemplate(tpl), nil
		}
	}

	if workflowType.Flavor() == entity.FlavorRemediation {
		if !rc.Severity.IsValid() {
			return nil, workflow.NewError(workflow.KindInvalidContext, op, "", "severity is required for %s", workflowType)
		}
		return remediationLine(), nil
	}

	if policy, ok := r.amountPolicies[workflowType]; ok {
		return amountLine(op, policy, rc.Amount)
	}

	line, ok := fixedLines[workflowType]
	if !ok {
		return nil, workflow.NewError(workflow.KindUnsupported, op, "", "no step rule for %s", workflowType)
	}
	return numbered(line), nil
}

func fromTemplate(tpl *entity.WorkflowTemplate) []StepDescriptor {
	line := make([]StepDescriptor, 0, len(tpl.Steps))
	for _, s := range tpl.Steps {
		line = append(line, StepDescriptor{
			Role:       s.Role,
			AssigneeID: s.AssigneeID,
			Required:   true,
		})
	}
	return numbered(line)
}

func remediationLine() []StepDescriptor {
	line := make([]StepDescriptor, 0, len(entity.RemediationStages))
	for _, stage := range entity.RemediationStages {
		line = append(line, StepDescriptor{
			Role:     stageRoles[stage],
			Stage:    stage,
			Binding:  BindLazy,
			Required: true,
		})
	}
	return numbered(line)
}

func amountLine(op string, policy AmountPolicy, amount *int64) ([]StepDescriptor, error) {
	if amount == nil {
		return nil, workflow.NewError(workflow.KindInvalidContext, op, "", "amount is required")
	}
	if *amount < 0 {
		return nil, workflow.NewError(workflow.KindInvalidContext, op, "", "amount must not be negative, got %d", *amount)
	}
	tier, ok := policy.TierFor(*amount)
	if !ok {
		return nil, workflow.NewError(workflow.KindAmountOutOfTiers, op, "", "amount %d matches no tier", *amount)
	}
	line := make([]StepDescriptor, 0, len(tier.Roles))
	for _, role := range tier.Roles {
		line = append(line, StepDescriptor{Role: role})
	}
	return numbered(line), nil
}

// numbered copies line and renumbers it 1..N.
func numbered(line []StepDescriptor) []StepDescriptor {
	out := make([]StepDescriptor, len(line))
	copy(out, line)
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}
