package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sqldb.DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// GetActive returns the most recently saved active template for the pair
func (r *TemplateRepository) GetActive(ctx context.Context, companyID string, workflowType entity.WorkflowType) (*entity.WorkflowTemplate, error) {
	query := `
		SELECT id, company_id, workflow_type, name, is_active, steps, created_at, updated_at
		FROM workflow_templates
		WHERE company_id = ? AND workflow_type = ? AND is_active = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var (
		tpl   entity.WorkflowTemplate
		steps string
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, companyID, workflowType, true).Scan(
		&tpl.ID,
		&tpl.CompanyID,
		&tpl.Type,
		&tpl.Name,
		&tpl.IsActive,
		&steps,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active template",
			zap.String("company_id", companyID),
			zap.String("workflow_type", string(workflowType)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get active template: %w", err)
	}
	if err := decodeJSON(steps, &tpl.Steps); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Save upserts tpl. Saving an active template deactivates the pair's others.
func (r *TemplateRepository) Save(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	steps, err := encodeJSON(tpl.Steps, "[]")
	if err != nil {
		return err
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)
		if tpl.IsActive {
			if _, err := exec.ExecContext(ctx, `
				UPDATE workflow_templates SET is_active = ?, updated_at = ?
				WHERE company_id = ? AND workflow_type = ? AND id <> ? AND is_active = ?`,
				false, utc(tpl.UpdatedAt), tpl.CompanyID, tpl.Type, tpl.ID, true,
			); err != nil {
				return fmt.Errorf("failed to deactivate previous templates: %w", err)
			}
		}

		_, err := exec.ExecContext(ctx, `
			INSERT INTO workflow_templates (id, company_id, workflow_type, name, is_active, steps, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				is_active = excluded.is_active,
				steps = excluded.steps,
				updated_at = excluded.updated_at`,
			tpl.ID, tpl.CompanyID, tpl.Type, tpl.Name, tpl.IsActive, steps,
			utc(tpl.CreatedAt), utc(tpl.UpdatedAt),
		)
		if err != nil {
			r.logger.Error("Failed to save template", zap.String("template_id", tpl.ID), zap.Error(err))
			return fmt.Errorf("failed to save template: %w", err)
		}
		return nil
	})
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)
