package entity

import "fmt"

// Role is the canonical organisational role. Raw role strings are parsed
// once with ParseRole and never compared downstream.
type Role string

const (
	RoleStaff        Role = "STAFF"
	RoleStoreManager Role = "STORE_MANAGER"
	RoleCompanyAdmin Role = "COMPANY_ADMIN"
	RoleOwner        Role = "OWNER"
)

var roleLevels = map[Role]int{
	RoleStaff:        0,
	RoleStoreManager: 1,
	RoleCompanyAdmin: 2,
	RoleOwner:        3,
}

var roleAliases = map[string]Role{
	"MANAGER":  RoleStoreManager,
	"ADMIN":    RoleCompanyAdmin,
	"EMPLOYEE": RoleStaff,
}

// ParseRole canonicalises casing and separators, and accepts a few legacy aliases.
func ParseRole(s string) (Role, error) {
	n := normalizeEnum(s)
	if r, ok := roleAliases[n]; ok {
		return r, nil
	}
	r := Role(n)
	if _, ok := roleLevels[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// IsValid reports whether r is a canonical role.
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Level orders roles by organisational authority.
func (r Role) Level() int {
	return roleLevels[r]
}

// Escalation returns the role one level above r. OWNER has none.
func (r Role) Escalation() (Role, bool) {
	switch r {
	case RoleStaff:
		return RoleStoreManager, true
	case RoleStoreManager:
		return RoleCompanyAdmin, true
	case RoleCompanyAdmin:
		return RoleOwner, true
	}
	return "", false
}

// IsStoreScoped reports whether holders of r are looked up per store.
func (r Role) IsStoreScoped() bool {
	return r == RoleStaff || r == RoleStoreManager
}

func (r Role) String() string {
	return string(r)
}

// Capability is an action an actor may be allowed to perform.
type Capability string

const (
	CapApproveStep   Capability = "approve_step"
	CapProgressStage Capability = "progress_stage"
	CapOverrideStep  Capability = "override_step"
	CapViewCompany   Capability = "view_company"
)

var roleCapabilities = map[Role][]Capability{
	RoleStaff:        {CapProgressStage},
	RoleStoreManager: {CapApproveStep, CapProgressStage},
	RoleCompanyAdmin: {CapApproveStep, CapProgressStage, CapOverrideStep, CapViewCompany},
	RoleOwner:        {CapApproveStep, CapProgressStage, CapOverrideStep, CapViewCompany},
}

// Actor is a caller whose identity and roles were resolved at the boundary.
type Actor struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	StoreID   *string `json:"store_id,omitempty"`
	Roles     []Role  `json:"roles"`
}

// HasRole reports whether the actor holds r.
func (a Actor) HasRole(r Role) bool {
	for _, held := range a.Roles {
		if held == r {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the actor holds at least one of roles.
func (a Actor) HasAnyRole(roles []Role) bool {
	for _, r := range roles {
		if a.HasRole(r) {
			return true
		}
	}
	return false
}

// HasCapability reports whether any of the actor's roles grants c.
func HasCapability(a Actor, c Capability) bool {
	for _, r := range a.Roles {
		for _, granted := range roleCapabilities[r] {
			if granted == c {
				return true
			}
		}
	}
	return false
}
