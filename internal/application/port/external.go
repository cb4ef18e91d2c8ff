package port

import (
	"context"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

// IdentityResolver maps an organisational role to a concrete user.
// It returns (nil, nil) when nobody holds the role.
type IdentityResolver interface {
	ResolveRole(ctx context.Context, companyID string, storeID *string, role entity.Role) (*entity.Identity, error)
}

// RoleDirectory returns the canonical roles a user holds in a company.
type RoleDirectory interface {
	RolesOf(ctx context.Context, companyID, userID string) ([]entity.Role, error)
	// StoreOf returns the store a user is assigned to, or nil for company-level users.
	StoreOf(ctx context.Context, companyID, userID string) (*string, error)
}

// NotificationGateway delivers user-visible alerts. Delivery is best-effort
// from the engine's point of view.
type NotificationGateway interface {
	Notify(ctx context.Context, n entity.Notification) error
}

// RoleAssignment binds a user to a role, optionally scoped to one store.
type RoleAssignment struct {
	CompanyID   string
	StoreID     *string
	UserID      string
	Role        entity.Role
	DisplayName string
	ChatID      string
}

// DirectoryWriter maintains role assignments.
type DirectoryWriter interface {
	Assign(ctx context.Context, a RoleAssignment) error
}
