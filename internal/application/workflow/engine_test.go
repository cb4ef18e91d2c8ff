package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/opsflow/internal/application/dispatcher"
	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/application/port/porttest"
	"github.com/garyjia/opsflow/internal/application/service"
	"github.com/garyjia/opsflow/internal/application/template"
	"github.com/garyjia/opsflow/internal/domain/entity"
	domainwf "github.com/garyjia/opsflow/internal/domain/workflow"
)

const company = "c1"

var store1 = "s1"

type harness struct {
	store   *porttest.Store
	gateway *porttest.Gateway
	engine  WorkflowEngine

	now         time.Time
	purchases   atomic.Int32
	remediation atomic.Int32
	handlerErr  error
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	h := &harness{
		store:   porttest.NewStore(),
		gateway: &porttest.Gateway{},
		now:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	h.store.Grant(company, &store1, "sm-1", entity.RoleStoreManager)
	h.store.Grant(company, nil, "ca-1", entity.RoleCompanyAdmin)
	h.store.Grant(company, nil, "owner-1", entity.RoleOwner)

	d := dispatcher.NewDispatcher()
	if err := d.Register(entity.TypePurchase, "count-purchases", func(ctx context.Context, inst *entity.WorkflowInstance) error {
		h.purchases.Add(1)
		return h.handlerErr
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register(entity.TypeCCPFailure, "count-remediation", func(ctx context.Context, inst *entity.WorkflowInstance) error {
		h.remediation.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	logger := porttest.NopLogger{}
	notifier := service.NewNotificationService(h.gateway, h.store, logger)
	effects := service.NewSideEffectService(d, h.store, h.store, h.store, notifier, nil, logger)

	base := []EngineOption{
		WithSideEffects(effects),
		WithNotifier(notifier),
		WithClock(func() time.Time { return h.now }),
	}
	h.engine = NewEngine(h.store, h.store, h.store, h.store, template.NewResolver(h.store), h.store, logger, append(base, opts...)...)
	return h
}

func (h *harness) purchase(t *testing.T, amount int64) *entity.WorkflowInstance {
	t.Helper()
	inst, err := h.engine.CreateWorkflow(context.Background(), CreateRequest{
		Type:        entity.TypePurchase,
		CompanyID:   company,
		StoreID:     &store1,
		SourceID:    strPtr("po-1"),
		RequestedBy: "staff-1",
		Amount:      &amount,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	return inst
}

func staff(id string, roles ...entity.Role) entity.Actor {
	return entity.Actor{ID: id, CompanyID: company, StoreID: &store1, Roles: roles}
}

func TestEngine_SmallPurchaseApproved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inst := h.purchase(t, 40000)
	if len(inst.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(inst.Steps))
	}
	if inst.Steps[0].AssigneeRole != entity.RoleStoreManager || *inst.Steps[0].AssigneeID != "sm-1" {
		t.Errorf("unexpected assignee: %+v", inst.Steps[0])
	}
	if inst.Status != entity.StatusPending || inst.Steps[0].Status != entity.StepInProgress {
		t.Errorf("unexpected initial state: %s / %s", inst.Status, inst.Steps[0].Status)
	}
	if got := len(h.gateway.Sent(entity.CategoryStepAssigned)); got != 1 {
		t.Errorf("expected 1 assignment notification, got %d", got)
	}

	approved, err := h.engine.Decide(ctx, inst.ID, staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, "ok")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if approved.Status != entity.StatusApproved {
		t.Errorf("expected APPROVED, got %s", approved.Status)
	}
	if approved.FinalizedAt == nil {
		t.Error("expected FinalizedAt to be set")
	}
	if got := h.purchases.Load(); got != 1 {
		t.Errorf("expected side effect to run once, ran %d", got)
	}

	rec, _ := h.store.Get(ctx, inst.ID)
	if rec == nil || rec.Status != entity.SideEffectSucceeded {
		t.Errorf("expected SUCCEEDED outbox row, got %+v", rec)
	}
	if got := len(h.gateway.Sent(entity.CategoryWorkflowDecided)); got != 1 {
		t.Errorf("expected 1 decision notification, got %d", got)
	}

	actions := h.store.AuditActions(inst.ID)
	want := []entity.AuditAction{entity.AuditCreated, entity.AuditApproved}
	if len(actions) != len(want) || actions[0] != want[0] || actions[1] != want[1] {
		t.Errorf("audit = %v, want %v", actions, want)
	}
}

func TestEngine_LargePurchaseRejectedMidway(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inst := h.purchase(t, 600000)
	if len(inst.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(inst.Steps))
	}

	if _, err := h.engine.Decide(ctx, inst.ID, staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, ""); err != nil {
		t.Fatalf("approve step 1: %v", err)
	}
	mid, _ := h.engine.GetWorkflow(ctx, inst.ID)
	if mid.Status != entity.StatusInProgress || mid.CurrentStepIndex != 1 {
		t.Fatalf("expected IN_PROGRESS at index 1, got %s at %d", mid.Status, mid.CurrentStepIndex)
	}
	if mid.Steps[1].DueAt == nil || !mid.Steps[1].DueAt.Equal(h.now.Add(72*time.Hour)) {
		t.Errorf("expected step 2 due in 72h, got %v", mid.Steps[1].DueAt)
	}

	ca := entity.Actor{ID: "ca-1", CompanyID: company, Roles: []entity.Role{entity.RoleCompanyAdmin}}
	rejected, err := h.engine.Decide(ctx, inst.ID, ca, entity.OutcomeReject, "over budget")
	if err != nil {
		t.Fatalf("reject step 2: %v", err)
	}
	if rejected.Status != entity.StatusRejected {
		t.Errorf("expected REJECTED, got %s", rejected.Status)
	}
	if rejected.Steps[1].Status != entity.StepRejected || rejected.Steps[2].Status != entity.StepPending {
		t.Errorf("unexpected step statuses: %s, %s", rejected.Steps[1].Status, rejected.Steps[2].Status)
	}
	if h.purchases.Load() != 0 {
		t.Error("side effect must not run on rejection")
	}
	if rec, _ := h.store.Get(ctx, inst.ID); rec != nil {
		t.Errorf("expected no outbox row, got %+v", rec)
	}
}

func TestEngine_CriticalDeadlines(t *testing.T) {
	h := newHarness(t)
	inst, err := h.engine.CreateWorkflow(context.Background(), CreateRequest{
		Type:        entity.TypeCCPFailure,
		CompanyID:   company,
		StoreID:     &store1,
		SourceID:    strPtr("ccp-9"),
		RequestedBy: "staff-1",
		Severity:    entity.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	if inst.Status != entity.StatusImmediateAction {
		t.Errorf("expected IMMEDIATE_ACTION, got %s", inst.Status)
	}

	want := []time.Duration{4 * time.Hour, 24 * time.Hour, 72 * time.Hour, 168 * time.Hour}
	for i, d := range want {
		if got := inst.Steps[i].DueAt; got == nil || !got.Equal(h.now.Add(d)) {
			t.Errorf("step %d due = %v, want %v", i+1, got, h.now.Add(d))
		}
	}
	if inst.Steps[4].DueAt != nil {
		t.Errorf("closure must have no deadline, got %v", inst.Steps[4].DueAt)
	}
}

func TestEngine_ConcurrentFinalApproval(t *testing.T) {
	h := newHarness(t)
	inst := h.purchase(t, 40000)

	actors := []entity.Actor{
		staff("sm-1", entity.RoleStoreManager),
		{ID: "ca-1", CompanyID: company, Roles: []entity.Role{entity.RoleCompanyAdmin}},
	}
	errs := make([]error, len(actors))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, a := range actors {
		wg.Add(1)
		go func(i int, a entity.Actor) {
			defer wg.Done()
			<-start
			_, errs[i] = h.engine.Decide(context.Background(), inst.ID, a, entity.OutcomeApprove, "")
		}(i, a)
	}
	close(start)
	wg.Wait()

	succeeded, finalized := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domainwf.ErrAlreadyFinalized):
			finalized++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || finalized != 1 {
		t.Errorf("expected one success and one ALREADY_FINALIZED, got %d and %d", succeeded, finalized)
	}
	if got := h.purchases.Load(); got != 1 {
		t.Errorf("expected side effect exactly once, got %d", got)
	}
}

func TestEngine_MissingRequiredApprover(t *testing.T) {
	h := newHarness(t)
	h.store = porttest.NewStore()
	h.store.Grant(company, &store1, "sm-1", entity.RoleStoreManager)
	h.store.Grant(company, nil, "owner-1", entity.RoleOwner)
	h.engine = NewEngine(h.store, h.store, h.store, h.store, template.NewResolver(h.store), h.store, porttest.NopLogger{})

	_, err := h.engine.CreateWorkflow(context.Background(), CreateRequest{
		Type:        entity.TypeResignation,
		CompanyID:   company,
		StoreID:     &store1,
		SourceID:    strPtr("emp-7"),
		RequestedBy: "emp-7",
	})
	if !errors.Is(err, domainwf.ErrNoApprovers) {
		t.Fatalf("expected NO_APPROVERS, got %v", err)
	}
	if n := h.store.InstanceCount(); n != 0 {
		t.Errorf("expected nothing persisted, found %d instances", n)
	}
}

func TestEngine_PermissionDeniedLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.purchase(t, 40000)

	_, err := h.engine.Decide(ctx, inst.ID, staff("staff-2", entity.RoleStaff), entity.OutcomeApprove, "")
	if !errors.Is(err, domainwf.ErrPermissionDenied) {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
	got, _ := h.engine.GetWorkflow(ctx, inst.ID)
	if got.Status != entity.StatusPending || got.Steps[0].Status != entity.StepInProgress {
		t.Errorf("state changed after denied decision: %s / %s", got.Status, got.Steps[0].Status)
	}
	if actions := h.store.AuditActions(inst.ID); len(actions) != 1 {
		t.Errorf("expected only the CREATED entry, got %v", actions)
	}
}

func TestEngine_SideEffectFailureKeepsApproval(t *testing.T) {
	h := newHarness(t)
	h.handlerErr = errors.New("ledger offline")
	ctx := context.Background()
	inst := h.purchase(t, 40000)

	approved, err := h.engine.Decide(ctx, inst.ID, staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, "")
	if err != nil {
		t.Fatalf("Decide() must succeed despite handler failure, got %v", err)
	}
	if approved.Status != entity.StatusApproved {
		t.Errorf("expected APPROVED, got %s", approved.Status)
	}

	rec, _ := h.store.Get(ctx, inst.ID)
	if rec == nil || rec.Status != entity.SideEffectFailed || !strings.Contains(rec.LastError, "ledger offline") {
		t.Errorf("expected FAILED outbox row, got %+v", rec)
	}
	actions := h.store.AuditActions(inst.ID)
	if actions[len(actions)-1] != entity.AuditSideEffectFailed {
		t.Errorf("expected SIDE_EFFECT_FAILED audit entry, got %v", actions)
	}
	if got := h.gateway.Sent(entity.CategorySideEffectFailed); len(got) != 1 || got[0].UserID != "ca-1" {
		t.Errorf("expected admin to be told about the failure, got %+v", got)
	}
}

func TestEngine_NotificationFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	h.gateway.Err = errors.New("chat down")
	ctx := context.Background()

	inst := h.purchase(t, 40000)
	if _, err := h.engine.Decide(ctx, inst.ID, staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, ""); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	got, _ := h.engine.GetWorkflow(ctx, inst.ID)
	if got.Status != entity.StatusApproved {
		t.Errorf("expected APPROVED, got %s", got.Status)
	}
}

func TestEngine_RemediationWalkToClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst, err := h.engine.CreateWorkflow(ctx, CreateRequest{
		Type:        entity.TypeCCPFailure,
		CompanyID:   company,
		StoreID:     &store1,
		SourceID:    strPtr("ccp-1"),
		RequestedBy: "staff-1",
		Severity:    entity.SeverityLow,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}

	sm := staff("sm-1", entity.RoleStoreManager)
	ca := entity.Actor{ID: "ca-1", CompanyID: company, Roles: []entity.Role{entity.RoleCompanyAdmin}}
	actors := []entity.Actor{sm, sm, sm, ca, ca}
	for i, a := range actors {
		inst, err = h.engine.Progress(ctx, inst.ID, a, StagePayload{
			Data:    map[string]any{"note": i},
			Comment: "done",
		})
		if err != nil {
			t.Fatalf("progress stage %d: %v", i+1, err)
		}
	}
	if inst.Status != entity.StatusClosed {
		t.Errorf("expected CLOSED, got %s", inst.Status)
	}
	if inst.Steps[4].DecidedBy == nil || *inst.Steps[4].DecidedBy != "ca-1" {
		t.Errorf("expected closure decided by ca-1, got %v", inst.Steps[4].DecidedBy)
	}
	if h.remediation.Load() != 0 {
		t.Error("remediation must not dispatch side effects")
	}
	if got := len(h.gateway.Sent(entity.CategoryWorkflowClosed)); got != 1 {
		t.Errorf("expected 1 closed notification, got %d", got)
	}

	_, err = h.engine.Decide(ctx, inst.ID, ca, entity.OutcomeApprove, "")
	if !errors.Is(err, domainwf.ErrAlreadyFinalized) {
		t.Errorf("expected ALREADY_FINALIZED on closed instance, got %v", err)
	}
}

func TestEngine_StaleWriteMidFlowIsConflict(t *testing.T) {
	h := newHarness(t)
	inst := h.purchase(t, 600000)
	h.store.BeforeApply = func(*domainwf.Transition) error { return port.ErrStaleState }

	_, err := h.engine.Decide(context.Background(), inst.ID, staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, "")
	if !errors.Is(err, domainwf.ErrConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if errors.Is(err, domainwf.ErrAlreadyFinalized) {
		t.Error("a mid-flow conflict must not read as finalized")
	}
}

func TestEngine_StoreErrorIsInternal(t *testing.T) {
	h := newHarness(t)
	inst := h.purchase(t, 40000)
	h.store.BeforeApply = func(*domainwf.Transition) error { return errors.New("disk full") }

	_, err := h.engine.Decide(context.Background(), inst.ID, staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, "")
	if domainwf.KindOf(err) != domainwf.KindInternal {
		t.Fatalf("expected INTERNAL, got %v", err)
	}
}

func TestEngine_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Decide(context.Background(), "missing", staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, "")
	if !errors.Is(err, domainwf.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if _, err := h.engine.History(context.Background(), "missing"); !errors.Is(err, domainwf.ErrNotFound) {
		t.Errorf("History: expected NOT_FOUND, got %v", err)
	}
}

func TestEngine_CreateValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"unknown type", CreateRequest{Type: "TRAVEL", CompanyID: company, RequestedBy: "u"}, domainwf.ErrInvalidContext},
		{"no company", CreateRequest{Type: entity.TypeLeave, RequestedBy: "u"}, domainwf.ErrInvalidContext},
		{"purchase without amount", CreateRequest{Type: entity.TypePurchase, CompanyID: company, RequestedBy: "u"}, domainwf.ErrInvalidContext},
		{"remediation without severity", CreateRequest{Type: entity.TypeCCPFailure, CompanyID: company, RequestedBy: "u"}, domainwf.ErrInvalidContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.engine.CreateWorkflow(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEngine_ListByAssignee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	small := h.purchase(t, 40000)
	h.now = h.now.Add(time.Minute)
	large := h.purchase(t, 600000)
	if _, err := h.engine.Decide(ctx, large.ID, staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, ""); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	mine, err := h.engine.ListWorkflows(ctx, company, port.ListFilter{AssigneeID: "sm-1"})
	if err != nil {
		t.Fatalf("ListWorkflows() error = %v", err)
	}
	if len(mine) != 1 || mine[0].ID != small.ID {
		t.Errorf("expected only the small purchase for sm-1, got %d items", len(mine))
	}

	all, _ := h.engine.ListWorkflows(ctx, company, port.ListFilter{})
	if len(all) != 2 || all[0].ID != large.ID {
		t.Errorf("expected newest first, got %d items", len(all))
	}

	if _, err := h.engine.ListWorkflows(ctx, "", port.ListFilter{}); !errors.Is(err, domainwf.ErrInvalidContext) {
		t.Errorf("expected INVALID_CONTEXT without company, got %v", err)
	}
}

func TestEngine_History(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.purchase(t, 150000)

	if _, err := h.engine.Decide(ctx, inst.ID, staff("sm-1", entity.RoleStoreManager), entity.OutcomeApprove, "fine"); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	entries, err := h.engine.History(ctx, inst.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	last := entries[1]
	if last.Action != entity.AuditApproved || last.ActorID != "sm-1" || last.StepOrder != 1 || last.Comment != "fine" {
		t.Errorf("unexpected entry: %+v", last)
	}
	if last.FromStatus != entity.StatusPending || last.ToStatus != entity.StatusInProgress {
		t.Errorf("unexpected statuses: %s -> %s", last.FromStatus, last.ToStatus)
	}
}

func strPtr(s string) *string { return &s }
