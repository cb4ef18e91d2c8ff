package repository

import (
	"context"
	"fmt"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqldb.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append records one trail entry
func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (
			id, instance_id, step_order, action, actor_id,
			from_status, to_status, comment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.InstanceID,
		entry.StepOrder,
		entry.Action,
		entry.ActorID,
		entry.FromStatus,
		entry.ToStatus,
		entry.Comment,
		utc(entry.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("instance_id", entry.InstanceID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByInstance returns an instance's trail in order
func (r *AuditRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.AuditEntry, error) {
	query := `
		SELECT id, instance_id, step_order, action, actor_id,
			from_status, to_status, comment, created_at
		FROM audit_entries
		WHERE instance_id = ?
		ORDER BY created_at ASC, step_order ASC
	`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to list audit entries", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		var e entity.AuditEntry
		if err := rows.Scan(
			&e.ID,
			&e.InstanceID,
			&e.StepOrder,
			&e.Action,
			&e.ActorID,
			&e.FromStatus,
			&e.ToStatus,
			&e.Comment,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
