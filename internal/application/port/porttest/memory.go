// Package porttest provides in-memory implementations of the application
// ports for tests. The conditional-write rules match the SQL repositories.
package porttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/domain/workflow"
)

// Store implements the repository, directory and transaction ports.
type Store struct {
	mu          sync.Mutex
	instances   map[string]*entity.WorkflowInstance
	audit       []*entity.AuditEntry
	effects     map[string]*entity.SideEffectRecord
	templates   map[string]*entity.WorkflowTemplate
	assignments []port.RoleAssignment

	// BeforeApply, if set, runs before ApplyDecision/ApplyProgress checks state.
	// Returning an error aborts the write with that error.
	BeforeApply func(t *workflow.Transition) error

	escalationWrites int
}

var (
	_ port.WorkflowRepository   = (*Store)(nil)
	_ port.AuditRepository      = (*Store)(nil)
	_ port.SideEffectRepository = (*Store)(nil)
	_ port.TemplateRepository   = (*Store)(nil)
	_ port.IdentityResolver     = (*Store)(nil)
	_ port.RoleDirectory        = (*Store)(nil)
	_ port.DirectoryWriter      = (*Store)(nil)
	_ port.TransactionManager   = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		instances: make(map[string]*entity.WorkflowInstance),
		effects:   make(map[string]*entity.SideEffectRecord),
		templates: make(map[string]*entity.WorkflowTemplate),
	}
}

// Grant is a shorthand for Assign in tests.
func (s *Store) Grant(companyID string, storeID *string, userID string, role entity.Role) {
	_ = s.Assign(context.Background(), port.RoleAssignment{CompanyID: companyID, StoreID: storeID, UserID: userID, Role: role})
}

// InstanceCount returns how many instances are stored.
func (s *Store) InstanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// EscalationWrites returns how many MarkEscalated calls changed a row.
func (s *Store) EscalationWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalationWrites
}

// AuditActions returns the trail actions of one instance in order.
func (s *Store) AuditActions(instanceID string) []entity.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.AuditAction
	for _, a := range s.audit {
		if a.InstanceID == instanceID {
			out = append(out, a.Action)
		}
	}
	return out
}

// WithTransaction runs fn directly; each write is atomic on its own.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = clone(inst)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	return clone(inst), nil
}

func (s *Store) List(ctx context.Context, companyID string, f port.ListFilter) ([]*entity.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.WorkflowInstance
	for _, inst := range s.instances {
		if inst.CompanyID != companyID {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		if f.Severity != "" && inst.Severity != f.Severity {
			continue
		}
		if f.Type != "" && inst.Type != f.Type {
			continue
		}
		if f.AssigneeID != "" && !assignedTo(inst, f) {
			continue
		}
		out = append(out, clone(inst))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func assignedTo(inst *entity.WorkflowInstance, f port.ListFilter) bool {
	step := inst.CurrentStep()
	if step == nil {
		return false
	}
	if step.AssigneeID != nil {
		return *step.AssigneeID == f.AssigneeID
	}
	for _, role := range f.AssigneeRoles {
		if role != step.AssigneeRole {
			continue
		}
		if !role.IsStoreScoped() || inst.StoreID == nil {
			return true
		}
		return f.AssigneeStoreID != nil && *f.AssigneeStoreID == *inst.StoreID
	}
	return false
}

func (s *Store) ApplyDecision(ctx context.Context, t *workflow.Transition) error {
	return s.apply(t)
}

func (s *Store) ApplyProgress(ctx context.Context, t *workflow.Transition) error {
	return s.apply(t)
}

func (s *Store) apply(t *workflow.Transition) error {
	if s.BeforeApply != nil {
		if err := s.BeforeApply(t); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[t.InstanceID]
	if !ok || inst.IsTerminal() || inst.Status != t.FromStatus || inst.CurrentStepIndex != t.FromIndex {
		return port.ErrStaleState
	}
	if inst.Steps[t.FromIndex].Status != entity.StepInProgress {
		return port.ErrStaleState
	}
	t.ApplyTo(inst)
	return nil
}

func (s *Store) MarkEscalated(ctx context.Context, instanceID string, stepOrder int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.IsTerminal() {
		return false, nil
	}
	for _, step := range inst.Steps {
		if step.Order != stepOrder {
			continue
		}
		if step.Status != entity.StepInProgress || step.Escalated {
			return false, nil
		}
		step.Escalated = true
		step.EscalatedAt = &at
		s.escalationWrites++
		return true, nil
	}
	return false, nil
}

func (s *Store) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.WorkflowInstance
	for _, inst := range s.instances {
		step := inst.CurrentStep()
		if inst.IsTerminal() || step == nil || step.Escalated || !step.IsOverdue(now) {
			continue
		}
		out = append(out, clone(inst))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CurrentStep().DueAt.Before(*out[j].CurrentStep().DueAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Append(ctx context.Context, entry *entity.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *Store) ListByInstance(ctx context.Context, instanceID string) ([]*entity.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.AuditEntry
	for _, a := range s.audit {
		if a.InstanceID == instanceID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) Enqueue(ctx context.Context, rec *entity.SideEffectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.effects[rec.InstanceID]; ok {
		return nil
	}
	cp := *rec
	s.effects[rec.InstanceID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, instanceID string) (*entity.SideEffectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.effects[instanceID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) MarkResult(ctx context.Context, instanceID string, status entity.SideEffectStatus, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.effects[instanceID]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.LastError = lastError
	rec.Attempts++
	rec.UpdatedAt = at
	return nil
}

func (s *Store) ClaimRetry(ctx context.Context, instanceID string, staleBefore, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.effects[instanceID]
	if !ok {
		return false, nil
	}
	stale := rec.Status == entity.SideEffectPending && rec.UpdatedAt.Before(staleBefore)
	if rec.Status != entity.SideEffectFailed && !stale {
		return false, nil
	}
	rec.Status = entity.SideEffectPending
	rec.UpdatedAt = at
	return true, nil
}

func (s *Store) ListStalePending(ctx context.Context, companyID string, staleBefore time.Time, limit int) ([]*entity.SideEffectRecord, error) {
	pending, err := s.ListByStatus(ctx, companyID, entity.SideEffectPending, 0)
	if err != nil {
		return nil, err
	}
	var out []*entity.SideEffectRecord
	for _, rec := range pending {
		if rec.UpdatedAt.Before(staleBefore) {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListByStatus(ctx context.Context, companyID string, status entity.SideEffectStatus, limit int) ([]*entity.SideEffectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.SideEffectRecord
	for _, rec := range s.effects {
		if rec.CompanyID == companyID && rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetActive(ctx context.Context, companyID string, t entity.WorkflowType) (*entity.WorkflowTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[companyID+"/"+string(t)]
	if !ok || !tpl.IsActive {
		return nil, nil
	}
	cp := *tpl
	return &cp, nil
}

func (s *Store) Save(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tpl
	s.templates[tpl.CompanyID+"/"+string(tpl.Type)] = &cp
	return nil
}

func (s *Store) Assign(ctx context.Context, a port.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, a)
	return nil
}

func (s *Store) ResolveRole(ctx context.Context, companyID string, storeID *string, role entity.Role) (*entity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.CompanyID != companyID || a.Role != role {
			continue
		}
		if storeID != nil && (a.StoreID == nil || *a.StoreID != *storeID) {
			continue
		}
		return &entity.Identity{UserID: a.UserID, DisplayName: a.DisplayName, ChatID: a.ChatID}, nil
	}
	return nil, nil
}

func (s *Store) RolesOf(ctx context.Context, companyID, userID string) ([]entity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[entity.Role]bool{}
	var roles []entity.Role
	for _, a := range s.assignments {
		if a.CompanyID == companyID && a.UserID == userID && !seen[a.Role] {
			seen[a.Role] = true
			roles = append(roles, a.Role)
		}
	}
	return roles, nil
}

func (s *Store) StoreOf(ctx context.Context, companyID, userID string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.CompanyID == companyID && a.UserID == userID && a.StoreID != nil {
			id := *a.StoreID
			return &id, nil
		}
	}
	return nil, nil
}

func clone(inst *entity.WorkflowInstance) *entity.WorkflowInstance {
	cp := *inst
	cp.Steps = make([]*entity.Step, len(inst.Steps))
	for i, s := range inst.Steps {
		step := *s
		cp.Steps[i] = &step
	}
	return &cp
}
