package workflow

import "github.com/garyjia/opsflow/internal/domain/entity"

// OverridePolicy lists, per workflow type, the roles that may act on a step
// bound to someone else. A type present in ByType uses exactly that list,
// even when empty; other types use Default.
type OverridePolicy struct {
	Default []entity.Role
	ByType  map[entity.WorkflowType][]entity.Role
}

// DefaultOverridePolicy lets company admins and owners act on any step.
func DefaultOverridePolicy() OverridePolicy {
	return OverridePolicy{
		Default: []entity.Role{entity.RoleCompanyAdmin, entity.RoleOwner},
	}
}

// RolesFor returns the override roles for t.
func (p OverridePolicy) RolesFor(t entity.WorkflowType) []entity.Role {
	if roles, ok := p.ByType[t]; ok {
		return roles
	}
	return p.Default
}

// CanAct reports whether actor may complete step on inst.
//
// An override role always wins. Otherwise the actor needs the capability,
// and a bound step only accepts its assignee while a role-bound step accepts
// any holder of the role. Store-scoped roles only count on an instance of the
// actor's own store.
func (p OverridePolicy) CanAct(actor entity.Actor, inst *entity.WorkflowInstance, step *entity.Step, capability entity.Capability) bool {
	if actor.ID == "" || actor.CompanyID != inst.CompanyID {
		return false
	}
	if actor.HasAnyRole(p.RolesFor(inst.Type)) {
		return true
	}
	if !entity.HasCapability(actor, capability) {
		return false
	}
	if !step.IsRoleBound() {
		return *step.AssigneeID == actor.ID
	}
	if step.AssigneeRole.IsStoreScoped() && !sameStore(actor, inst) {
		return false
	}
	return actor.HasRole(step.AssigneeRole)
}

func sameStore(actor entity.Actor, inst *entity.WorkflowInstance) bool {
	if inst.StoreID == nil {
		return true
	}
	return actor.StoreID != nil && *actor.StoreID == *inst.StoreID
}
