package template

import (
	"context"
	"fmt"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/domain/workflow"
)

// Binder turns descriptors into steps, resolving eager assignees.
type Binder struct {
	identities port.IdentityResolver
}

// NewBinder creates a binder backed by an identity resolver.
func NewBinder(identities port.IdentityResolver) *Binder {
	return &Binder{identities: identities}
}

// Bind resolves every eager step. A required step with no holder fails the
// whole line with KindNoApprovers; an optional one is dropped. The surviving
// steps are renumbered 1..N and left PENDING.
func (b *Binder) Bind(ctx context.Context, companyID string, storeID *string, line []StepDescriptor) ([]*entity.Step, error) {
	const op = "bind"
	steps := make([]*entity.Step, 0, len(line))

	for _, d := range line {
		step := &entity.Step{
			Stage:        d.Stage,
			AssigneeRole: d.Role,
			AssigneeID:   d.AssigneeID,
			Status:       entity.StepPending,
		}

		if d.Binding == BindEager && step.IsRoleBound() {
			identity, role, err := b.resolve(ctx, companyID, storeID, append([]entity.Role{d.Role}, d.Fallback...))
			if err != nil {
				return nil, workflow.WrapError(workflow.KindInternal, op, "", err)
			}
			if identity == nil {
				if d.Required {
					return nil, workflow.NewError(workflow.KindNoApprovers, op, "", "no holder of %s for step %d", d.Role, d.Order)
				}
				continue
			}
			id := identity.UserID
			step.AssigneeID = &id
			step.AssigneeRole = role
		}

		steps = append(steps, step)
	}

	if len(steps) == 0 {
		return nil, workflow.NewError(workflow.KindNoApprovers, op, "", "no step could be assigned")
	}
	for i, s := range steps {
		s.Order = i + 1
	}
	return steps, nil
}

func (b *Binder) resolve(ctx context.Context, companyID string, storeID *string, roles []entity.Role) (*entity.Identity, entity.Role, error) {
	for _, role := range roles {
		scope := storeID
		if !role.IsStoreScoped() {
			scope = nil
		}
		identity, err := b.identities.ResolveRole(ctx, companyID, scope, role)
		if err != nil {
			return nil, "", fmt.Errorf("resolve %s: %w", role, err)
		}
		if identity != nil {
			return identity, role, nil
		}
	}
	return nil, "", nil
}
