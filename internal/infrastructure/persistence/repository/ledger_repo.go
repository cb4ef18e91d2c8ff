package repository

import (
	"context"
	"fmt"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const ledgerDateLayout = "2006-01-02"

// LedgerRepository writes the business records touched by side effects.
// Every write is keyed on the instance id so retries are no-ops.
type LedgerRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqldb.DB, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

// MarkApproved records an approved purchase or expense
func (r *LedgerRepository) MarkApproved(ctx context.Context, rec port.PurchaseApproval) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO purchase_approvals (instance_id, company_id, source_id, amount, approved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (instance_id) DO NOTHING`,
		rec.InstanceID, rec.CompanyID, rec.SourceID, rec.Amount, utc(rec.ApprovedAt),
	)
	if err != nil {
		r.logger.Error("Failed to record purchase approval", zap.String("instance_id", rec.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to record purchase approval: %w", err)
	}
	return nil
}

// RecordDisposal writes one row per disposed item
func (r *LedgerRepository) RecordDisposal(ctx context.Context, rec port.DisposalRecord) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)
		for i, item := range rec.Items {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO inventory_disposals (
					instance_id, line_no, company_id, store_id, material_id,
					quantity, unit, reason, recorded_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (instance_id, line_no) DO NOTHING`,
				rec.InstanceID, i+1, rec.CompanyID, rec.StoreID, item.MaterialID,
				item.Quantity, item.Unit, item.Reason, utc(rec.RecordedAt),
			)
			if err != nil {
				r.logger.Error("Failed to record disposal",
					zap.String("instance_id", rec.InstanceID),
					zap.String("material_id", item.MaterialID),
					zap.Error(err))
				return fmt.Errorf("failed to record disposal of %s: %w", item.MaterialID, err)
			}
		}
		return nil
	})
}

// MarkLeave writes one roster row per leave date
func (r *LedgerRepository) MarkLeave(ctx context.Context, rec port.LeaveRecord) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)
		for _, day := range rec.Dates {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO schedule_leaves (instance_id, leave_date, company_id, store_id, employee_id, leave_type)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (instance_id, leave_date) DO NOTHING`,
				rec.InstanceID, day.Format(ledgerDateLayout), rec.CompanyID, rec.StoreID, rec.EmployeeID, rec.LeaveType,
			)
			if err != nil {
				r.logger.Error("Failed to mark leave", zap.String("instance_id", rec.InstanceID), zap.Error(err))
				return fmt.Errorf("failed to mark leave on %s: %w", day.Format(ledgerDateLayout), err)
			}
		}
		return nil
	})
}

// Deactivate records an approved resignation
func (r *LedgerRepository) Deactivate(ctx context.Context, rec port.DeactivationRecord) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO account_deactivations (instance_id, company_id, employee_id, effective_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (instance_id) DO NOTHING`,
		rec.InstanceID, rec.CompanyID, rec.EmployeeID, rec.EffectiveDate.Format(ledgerDateLayout),
	)
	if err != nil {
		r.logger.Error("Failed to record deactivation", zap.String("instance_id", rec.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to record deactivation: %w", err)
	}
	return nil
}

// Verify interface compliance
var (
	_ port.PurchaseLedger  = (*LedgerRepository)(nil)
	_ port.InventoryLedger = (*LedgerRepository)(nil)
	_ port.ScheduleWriter  = (*LedgerRepository)(nil)
	_ port.AccountTeardown = (*LedgerRepository)(nil)
)
