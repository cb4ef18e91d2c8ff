package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/domain/workflow"
	"github.com/garyjia/opsflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const instanceColumns = `
	i.id, i.company_id, i.store_id, i.workflow_type, i.source_id, i.requested_by,
	i.amount, i.severity, i.context, i.current_step_index, i.status,
	i.created_at, i.updated_at, i.finalized_at`

const stepColumns = `
	instance_id, step_order, stage, assignee_id, assignee_role, status,
	due_at, started_at, decided_at, decided_by, comment, attachments, data,
	escalated, escalated_at`

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sqldb.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the instance and all of its steps
func (r *WorkflowRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	contextJSON, err := encodeJSON(inst.Context, "{}")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances (
			id, company_id, store_id, workflow_type, source_id, requested_by,
			amount, severity, context, current_step_index, status,
			created_at, updated_at, finalized_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	exec := r.db.Executor(ctx)
	_, err = exec.ExecContext(ctx, query,
		inst.ID,
		inst.CompanyID,
		nullString(inst.StoreID),
		inst.Type,
		nullString(inst.SourceID),
		inst.RequestedBy,
		nullInt64(inst.Amount),
		inst.Severity,
		contextJSON,
		inst.CurrentStepIndex,
		inst.Status,
		utc(inst.CreatedAt),
		utc(inst.UpdatedAt),
		nullTime(inst.FinalizedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create workflow instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}

	stepQuery := `
		INSERT INTO workflow_steps (` + stepColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, step := range inst.Steps {
		attachments, err := encodeJSON(step.Attachments, "[]")
		if err != nil {
			return err
		}
		data, err := encodeJSON(step.Data, "{}")
		if err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, stepQuery,
			inst.ID,
			step.Order,
			step.Stage,
			nullString(step.AssigneeID),
			step.AssigneeRole,
			step.Status,
			nullTime(step.DueAt),
			nullTime(step.StartedAt),
			nullTime(step.DecidedAt),
			nullString(step.DecidedBy),
			step.Comment,
			attachments,
			data,
			step.Escalated,
			nullTime(step.EscalatedAt),
		)
		if err != nil {
			r.logger.Error("Failed to create workflow step",
				zap.String("instance_id", inst.ID),
				zap.Int("step_order", step.Order),
				zap.Error(err))
			return fmt.Errorf("failed to create workflow step: %w", err)
		}
	}
	return nil
}

// GetByID retrieves an instance with its steps
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances i WHERE i.id = ?`

	inst, err := scanInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow instance", zap.String("instance_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}

	if err := r.attachSteps(ctx, []*entity.WorkflowInstance{inst}); err != nil {
		return nil, err
	}
	return inst, nil
}

// List returns a company's instances, newest first
func (r *WorkflowRepository) List(ctx context.Context, companyID string, filter port.ListFilter) ([]*entity.WorkflowInstance, error) {
	var (
		where = []string{"i.company_id = ?"}
		args  = []interface{}{companyID}
	)
	if filter.Status != "" {
		where = append(where, "i.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		where = append(where, "i.severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Type != "" {
		where = append(where, "i.workflow_type = ?")
		args = append(args, filter.Type)
	}
	if filter.AssigneeID != "" {
		cond, condArgs := assigneeCondition(filter)
		where = append(where, cond)
		args = append(args, condArgs...)
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances i
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY i.created_at DESC, i.id ASC`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	return r.queryInstances(ctx, query, args...)
}

// assigneeCondition matches instances whose current step is bound to the
// assignee, or is role-bound to a role the assignee holds in scope.
func assigneeCondition(filter port.ListFilter) (string, []interface{}) {
	match := []string{"s.assignee_id = ?"}
	args := []interface{}{filter.AssigneeID}

	var companyRoles, storeRoles []interface{}
	for _, role := range filter.AssigneeRoles {
		if role.IsStoreScoped() {
			storeRoles = append(storeRoles, role)
		} else {
			companyRoles = append(companyRoles, role)
		}
	}
	if len(companyRoles) > 0 {
		match = append(match, "(s.assignee_id IS NULL AND s.assignee_role IN ("+placeholders(len(companyRoles))+"))")
		args = append(args, companyRoles...)
	}
	if len(storeRoles) > 0 {
		scope := "i.store_id IS NULL"
		if filter.AssigneeStoreID != nil {
			scope = "(i.store_id IS NULL OR i.store_id = ?)"
		}
		match = append(match, "(s.assignee_id IS NULL AND s.assignee_role IN ("+placeholders(len(storeRoles))+") AND "+scope+")")
		args = append(args, storeRoles...)
		if filter.AssigneeStoreID != nil {
			args = append(args, *filter.AssigneeStoreID)
		}
	}

	return `EXISTS (
			SELECT 1 FROM workflow_steps s
			WHERE s.instance_id = i.id
			  AND s.step_order = i.current_step_index + 1
			  AND (` + strings.Join(match, " OR ") + `))`, args
}

// ApplyDecision writes an approval transition conditionally
func (r *WorkflowRepository) ApplyDecision(ctx context.Context, t *workflow.Transition) error {
	return r.apply(ctx, t)
}

// ApplyProgress writes a remediation transition conditionally
func (r *WorkflowRepository) ApplyProgress(ctx context.Context, t *workflow.Transition) error {
	return r.apply(ctx, t)
}

// apply must run inside a transaction; a zero-row update aborts it with
// ErrStaleState.
func (r *WorkflowRepository) apply(ctx context.Context, t *workflow.Transition) error {
	exec := r.db.Executor(ctx)
	at := utc(t.At)

	var finalizedAt interface{}
	if t.Finalized {
		finalizedAt = at
	}
	res, err := exec.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = ?, current_step_index = ?, updated_at = ?, finalized_at = COALESCE(?, finalized_at)
		WHERE id = ? AND status = ? AND current_step_index = ? AND status NOT IN `+terminalIn,
		t.ToStatus, t.NextIndex, at, finalizedAt,
		t.InstanceID, t.FromStatus, t.FromIndex,
	)
	if err := staleIfUnchanged(res, err); err != nil {
		return r.applyError(t, "instance", err)
	}

	set := []string{"status = ?", "decided_at = ?", "decided_by = ?", "comment = ?"}
	args := []interface{}{t.StepStatus, at, t.ActorID, t.Comment}
	if t.Data != nil {
		data, err := encodeJSON(t.Data, "{}")
		if err != nil {
			return err
		}
		set = append(set, "data = ?")
		args = append(args, data)
	}
	if t.Attachments != nil {
		attachments, err := encodeJSON(t.Attachments, "[]")
		if err != nil {
			return err
		}
		set = append(set, "attachments = ?")
		args = append(args, attachments)
	}
	args = append(args, t.InstanceID, t.StepOrder, entity.StepInProgress)

	res, err = exec.ExecContext(ctx,
		`UPDATE workflow_steps SET `+strings.Join(set, ", ")+` WHERE instance_id = ? AND step_order = ? AND status = ?`,
		args...,
	)
	if err := staleIfUnchanged(res, err); err != nil {
		return r.applyError(t, "step", err)
	}

	if !t.StartsNext() {
		return nil
	}
	res, err = exec.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = ?, started_at = ?, due_at = COALESCE(?, due_at)
		WHERE instance_id = ? AND step_order = ? AND status = ?`,
		entity.StepInProgress, nullTime(t.NextStartedAt), nullTime(t.NextDueAt),
		t.InstanceID, t.NextIndex+1, entity.StepPending,
	)
	if err := staleIfUnchanged(res, err); err != nil {
		return r.applyError(t, "next step", err)
	}
	return nil
}

func (r *WorkflowRepository) applyError(t *workflow.Transition, target string, err error) error {
	if errors.Is(err, port.ErrStaleState) {
		r.logger.Info("Conditional write lost",
			zap.String("instance_id", t.InstanceID),
			zap.String("target", target),
			zap.Int("step_order", t.StepOrder))
		return err
	}
	r.logger.Error("Failed to apply transition",
		zap.String("instance_id", t.InstanceID),
		zap.String("target", target),
		zap.Error(err))
	return fmt.Errorf("failed to update %s: %w", target, err)
}

// MarkEscalated flips the escalated flag once
func (r *WorkflowRepository) MarkEscalated(ctx context.Context, instanceID string, stepOrder int, at time.Time) (bool, error) {
	res, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE workflow_steps
		SET escalated = ?, escalated_at = ?
		WHERE instance_id = ? AND step_order = ? AND status = ? AND escalated = ?
		  AND EXISTS (
			SELECT 1 FROM workflow_instances i
			WHERE i.id = workflow_steps.instance_id AND i.status NOT IN `+terminalIn+`)`,
		true, utc(at), instanceID, stepOrder, entity.StepInProgress, false,
	)
	if err != nil {
		r.logger.Error("Failed to mark step escalated", zap.String("instance_id", instanceID), zap.Error(err))
		return false, fmt.Errorf("failed to mark step escalated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ListOverdue returns instances whose current step is past due, most overdue first
func (r *WorkflowRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM workflow_instances i
		JOIN workflow_steps s ON s.instance_id = i.id AND s.step_order = i.current_step_index + 1
		WHERE s.status = ? AND s.escalated = ? AND s.due_at IS NOT NULL AND s.due_at < ?
		  AND i.status NOT IN ` + terminalIn + `
		ORDER BY s.due_at ASC
		LIMIT ?`
	return r.queryInstances(ctx, query, entity.StepInProgress, false, utc(now), limit)
}

func (r *WorkflowRepository) queryInstances(ctx context.Context, query string, args ...interface{}) ([]*entity.WorkflowInstance, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query workflow instances", zap.Error(err))
		return nil, fmt.Errorf("failed to query workflow instances: %w", err)
	}
	defer rows.Close()

	var list []*entity.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}
		list = append(list, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow instances: %w", err)
	}

	if err := r.attachSteps(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// attachSteps loads steps for all instances in one query
func (r *WorkflowRepository) attachSteps(ctx context.Context, list []*entity.WorkflowInstance) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[string]*entity.WorkflowInstance, len(list))
	args := make([]interface{}, 0, len(list))
	for _, inst := range list {
		byID[inst.ID] = inst
		args = append(args, inst.ID)
	}

	query := `SELECT ` + stepColumns + ` FROM workflow_steps
		WHERE instance_id IN (` + placeholders(len(args)) + `)
		ORDER BY instance_id, step_order`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to load workflow steps", zap.Error(err))
		return fmt.Errorf("failed to load workflow steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		instanceID, step, err := scanStep(rows)
		if err != nil {
			return fmt.Errorf("failed to scan workflow step: %w", err)
		}
		if inst, ok := byID[instanceID]; ok {
			inst.Steps = append(inst.Steps, step)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var (
		inst        entity.WorkflowInstance
		storeID     sql.NullString
		sourceID    sql.NullString
		amount      sql.NullInt64
		contextJSON string
		finalizedAt sql.NullTime
	)
	err := row.Scan(
		&inst.ID,
		&inst.CompanyID,
		&storeID,
		&inst.Type,
		&sourceID,
		&inst.RequestedBy,
		&amount,
		&inst.Severity,
		&contextJSON,
		&inst.CurrentStepIndex,
		&inst.Status,
		&inst.CreatedAt,
		&inst.UpdatedAt,
		&finalizedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.StoreID = stringPtr(storeID)
	inst.SourceID = stringPtr(sourceID)
	inst.Amount = int64Ptr(amount)
	inst.FinalizedAt = timePtr(finalizedAt)
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	if err := decodeJSON(contextJSON, &inst.Context); err != nil {
		return nil, err
	}
	return &inst, nil
}

func scanStep(row rowScanner) (string, *entity.Step, error) {
	var (
		instanceID  string
		step        entity.Step
		assigneeID  sql.NullString
		dueAt       sql.NullTime
		startedAt   sql.NullTime
		decidedAt   sql.NullTime
		decidedBy   sql.NullString
		attachments string
		data        string
		escalatedAt sql.NullTime
	)
	err := row.Scan(
		&instanceID,
		&step.Order,
		&step.Stage,
		&assigneeID,
		&step.AssigneeRole,
		&step.Status,
		&dueAt,
		&startedAt,
		&decidedAt,
		&decidedBy,
		&step.Comment,
		&attachments,
		&data,
		&step.Escalated,
		&escalatedAt,
	)
	if err != nil {
		return "", nil, err
	}

	step.AssigneeID = stringPtr(assigneeID)
	step.DueAt = timePtr(dueAt)
	step.StartedAt = timePtr(startedAt)
	step.DecidedAt = timePtr(decidedAt)
	step.DecidedBy = stringPtr(decidedBy)
	step.EscalatedAt = timePtr(escalatedAt)
	if err := decodeJSON(attachments, &step.Attachments); err != nil {
		return "", nil, err
	}
	if err := decodeJSON(data, &step.Data); err != nil {
		return "", nil, err
	}
	if len(step.Data) == 0 {
		step.Data = nil
	}
	if len(step.Attachments) == 0 {
		step.Attachments = nil
	}
	return instanceID, &step, nil
}

// staleIfUnchanged maps a zero-row update to port.ErrStaleState
func staleIfUnchanged(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return port.ErrStaleState
	}
	return nil
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
