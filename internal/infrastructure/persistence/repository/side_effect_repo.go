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

// SideEffectRepository implements port.SideEffectRepository
type SideEffectRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewSideEffectRepository creates a new side effect outbox repository
func NewSideEffectRepository(db *sqldb.DB, logger *zap.Logger) *SideEffectRepository {
	return &SideEffectRepository{
		db:     db,
		logger: logger,
	}
}

const sideEffectColumns = `instance_id, company_id, workflow_type, status, attempts, last_error, created_at, updated_at`

// Enqueue inserts a PENDING row; an existing row for the instance is kept
func (r *SideEffectRepository) Enqueue(ctx context.Context, rec *entity.SideEffectRecord) error {
	query := `
		INSERT INTO side_effects (` + sideEffectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id) DO NOTHING
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		rec.InstanceID,
		rec.CompanyID,
		rec.Type,
		rec.Status,
		rec.Attempts,
		rec.LastError,
		utc(rec.CreatedAt),
		utc(rec.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to enqueue side effect", zap.String("instance_id", rec.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to enqueue side effect: %w", err)
	}
	return nil
}

// Get returns the outbox row for an instance, or nil
func (r *SideEffectRepository) Get(ctx context.Context, instanceID string) (*entity.SideEffectRecord, error) {
	query := `SELECT ` + sideEffectColumns + ` FROM side_effects WHERE instance_id = ?`
	rec, err := scanSideEffect(r.db.Executor(ctx).QueryRowContext(ctx, query, instanceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get side effect", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get side effect: %w", err)
	}
	return rec, nil
}

// MarkResult records one handler attempt
func (r *SideEffectRepository) MarkResult(ctx context.Context, instanceID string, status entity.SideEffectStatus, lastError string, at time.Time) error {
	query := `
		UPDATE side_effects
		SET status = ?, last_error = ?, attempts = attempts + 1, updated_at = ?
		WHERE instance_id = ?
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query, status, lastError, utc(at), instanceID)
	if err != nil {
		r.logger.Error("Failed to mark side effect result",
			zap.String("instance_id", instanceID),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to mark side effect result: %w", err)
	}
	return nil
}

// ClaimRetry flips a FAILED or stale PENDING row back to PENDING. The
// conditional update lets exactly one concurrent caller win.
func (r *SideEffectRepository) ClaimRetry(ctx context.Context, instanceID string, staleBefore, at time.Time) (bool, error) {
	query := `
		UPDATE side_effects
		SET status = ?, updated_at = ?
		WHERE instance_id = ?
		  AND (status = ? OR (status = ? AND updated_at < ?))
	`
	res, err := r.db.Executor(ctx).ExecContext(ctx, query,
		entity.SideEffectPending, utc(at),
		instanceID,
		entity.SideEffectFailed, entity.SideEffectPending, utc(staleBefore),
	)
	if err != nil {
		r.logger.Error("Failed to claim side effect", zap.String("instance_id", instanceID), zap.Error(err))
		return false, fmt.Errorf("failed to claim side effect: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim side effect: %w", err)
	}
	return n == 1, nil
}

// ListByStatus returns a company's outbox rows in one status, oldest first
func (r *SideEffectRepository) ListByStatus(ctx context.Context, companyID string, status entity.SideEffectStatus, limit int) ([]*entity.SideEffectRecord, error) {
	query := `SELECT ` + sideEffectColumns + ` FROM side_effects
		WHERE company_id = ? AND status = ?
		ORDER BY updated_at ASC
		LIMIT ?`
	return r.list(ctx, query, companyID, status, listLimit(limit))
}

// ListStalePending returns PENDING rows not touched since staleBefore
func (r *SideEffectRepository) ListStalePending(ctx context.Context, companyID string, staleBefore time.Time, limit int) ([]*entity.SideEffectRecord, error) {
	query := `SELECT ` + sideEffectColumns + ` FROM side_effects
		WHERE company_id = ? AND status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`
	return r.list(ctx, query, companyID, entity.SideEffectPending, utc(staleBefore), listLimit(limit))
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func (r *SideEffectRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.SideEffectRecord, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list side effects", zap.Any("company_id", args[0]), zap.Error(err))
		return nil, fmt.Errorf("failed to list side effects: %w", err)
	}
	defer rows.Close()

	var list []*entity.SideEffectRecord
	for rows.Next() {
		rec, err := scanSideEffect(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan side effect: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func scanSideEffect(row rowScanner) (*entity.SideEffectRecord, error) {
	var rec entity.SideEffectRecord
	if err := row.Scan(
		&rec.InstanceID,
		&rec.CompanyID,
		&rec.Type,
		&rec.Status,
		&rec.Attempts,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Verify interface compliance
var _ port.SideEffectRepository = (*SideEffectRepository)(nil)
