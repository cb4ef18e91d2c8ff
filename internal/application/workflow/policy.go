package workflow

import (
	"time"

	"github.com/garyjia/opsflow/internal/domain/deadline"
	"github.com/garyjia/opsflow/internal/domain/entity"
	domainwf "github.com/garyjia/opsflow/internal/domain/workflow"
)

// Policies are the tunable rules the engine applies on top of the step line.
type Policies struct {
	Overrides domainwf.OverridePolicy
	Deadlines deadline.Policy

	// ApprovalSLA is the default time an approval step may stay open before
	// it is eligible for escalation. Zero disables approval deadlines.
	ApprovalSLA time.Duration
	// ApprovalSLAByType overrides ApprovalSLA per type.
	ApprovalSLAByType map[entity.WorkflowType]time.Duration
}

// DefaultPolicies returns the built-in policies.
func DefaultPolicies() Policies {
	return Policies{
		Overrides:   domainwf.DefaultOverridePolicy(),
		Deadlines:   deadline.DefaultPolicy(),
		ApprovalSLA: 72 * time.Hour,
	}
}

// SLAFor returns the approval step deadline for t.
func (p Policies) SLAFor(t entity.WorkflowType) time.Duration {
	if d, ok := p.ApprovalSLAByType[t]; ok {
		return d
	}
	return p.ApprovalSLA
}
