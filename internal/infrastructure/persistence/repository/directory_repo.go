package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// DirectoryRepository stores role assignments and answers identity lookups
type DirectoryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sqldb.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Assign grants a role, updating contact details if the grant exists.
// Company-level grants are stored with an empty store id.
func (r *DirectoryRepository) Assign(ctx context.Context, a port.RoleAssignment) error {
	if a.CompanyID == "" || a.UserID == "" || !a.Role.IsValid() {
		return fmt.Errorf("invalid role assignment: company, user and a known role are required")
	}
	storeID := ""
	if a.StoreID != nil {
		storeID = *a.StoreID
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO role_assignments (company_id, store_id, user_id, role, display_name, chat_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, store_id, user_id, role) DO UPDATE SET
			display_name = excluded.display_name,
			chat_id = excluded.chat_id`,
		a.CompanyID, storeID, a.UserID, a.Role, a.DisplayName, a.ChatID, utc(r.now()),
	)
	if err != nil {
		r.logger.Error("Failed to assign role",
			zap.String("company_id", a.CompanyID),
			zap.String("user_id", a.UserID),
			zap.String("role", string(a.Role)),
			zap.Error(err))
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// ResolveRole returns the earliest grant of role in scope. A nil store
// matches grants in any store.
func (r *DirectoryRepository) ResolveRole(ctx context.Context, companyID string, storeID *string, role entity.Role) (*entity.Identity, error) {
	query := `
		SELECT user_id, display_name, chat_id
		FROM role_assignments
		WHERE company_id = ? AND role = ?`
	args := []interface{}{companyID, role}
	if storeID != nil {
		query += ` AND store_id = ?`
		args = append(args, *storeID)
	}
	query += ` ORDER BY created_at ASC, user_id ASC LIMIT 1`

	var id entity.Identity
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, args...).Scan(&id.UserID, &id.DisplayName, &id.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to resolve role",
			zap.String("company_id", companyID),
			zap.String("role", string(role)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	return &id, nil
}

// RolesOf lists the distinct roles a user holds in a company
func (r *DirectoryRepository) RolesOf(ctx context.Context, companyID, userID string) ([]entity.Role, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT DISTINCT role FROM role_assignments
		WHERE company_id = ? AND user_id = ?
		ORDER BY role`,
		companyID, userID,
	)
	if err != nil {
		r.logger.Error("Failed to list roles", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []entity.Role
	for rows.Next() {
		var role entity.Role
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// StoreOf returns a store the user is assigned to in the company, or nil
func (r *DirectoryRepository) StoreOf(ctx context.Context, companyID, userID string) (*string, error) {
	var storeID string
	err := r.db.Executor(ctx).QueryRowContext(ctx, `
		SELECT store_id FROM role_assignments
		WHERE company_id = ? AND user_id = ? AND store_id <> ''
		ORDER BY created_at ASC
		LIMIT 1`,
		companyID, userID,
	).Scan(&storeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up store: %w", err)
	}
	return &storeID, nil
}

// Verify interface compliance
var (
	_ port.IdentityResolver = (*DirectoryRepository)(nil)
	_ port.RoleDirectory    = (*DirectoryRepository)(nil)
	_ port.DirectoryWriter  = (*DirectoryRepository)(nil)
)
