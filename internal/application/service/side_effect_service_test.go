package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/garyjia/opsflow/internal/application/dispatcher"
	"github.com/garyjia/opsflow/internal/application/port/porttest"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/domain/workflow"
)

func approvedPurchase(store *porttest.Store) *entity.WorkflowInstance {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	inst := &entity.WorkflowInstance{
		ID:          "w1",
		CompanyID:   "c1",
		Type:        entity.TypePurchase,
		Status:      entity.StatusApproved,
		FinalizedAt: &at,
		Steps:       []*entity.Step{{Order: 1, Status: entity.StepApproved}},
	}
	_ = store.Create(context.Background(), inst)
	_ = store.Enqueue(context.Background(), &entity.SideEffectRecord{
		InstanceID: inst.ID,
		CompanyID:  inst.CompanyID,
		Type:       inst.Type,
		Status:     entity.SideEffectPending,
		CreatedAt:  at,
		UpdatedAt:  at,
	})
	return inst
}

func newSideEffectFixture(t *testing.T, handler dispatcher.Handler) (*porttest.Store, *porttest.Gateway, SideEffectService) {
	t.Helper()
	store := porttest.NewStore()
	store.Grant("c1", nil, "ca-1", entity.RoleCompanyAdmin)
	gateway := &porttest.Gateway{}
	logger := porttest.NopLogger{}

	d := dispatcher.NewDispatcher()
	if err := d.Register(entity.TypePurchase, "test", handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc := NewSideEffectService(d, store, store, store, NewNotificationService(gateway, store, logger), nil, logger)
	return store, gateway, svc
}

func TestSideEffectRun_Success(t *testing.T) {
	calls := 0
	store, gateway, svc := newSideEffectFixture(t, func(ctx context.Context, inst *entity.WorkflowInstance) error {
		calls++
		return nil
	})
	inst := approvedPurchase(store)

	if err := svc.Run(context.Background(), inst); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	rec, _ := store.Get(context.Background(), inst.ID)
	if rec.Status != entity.SideEffectSucceeded || rec.Attempts != 1 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(gateway.Sent("")) != 0 {
		t.Error("expected no failure report")
	}
}

func TestSideEffectRun_FailureThenRetry(t *testing.T) {
	fail := true
	store, gateway, svc := newSideEffectFixture(t, func(ctx context.Context, inst *entity.WorkflowInstance) error {
		if fail {
			return errors.New("ledger offline")
		}
		return nil
	})
	inst := approvedPurchase(store)
	ctx := context.Background()

	if err := svc.Run(ctx, inst); err == nil {
		t.Fatal("expected handler error")
	}
	failed, _ := svc.ListFailed(ctx, "c1", 10)
	if len(failed) != 1 || !strings.Contains(failed[0].LastError, "ledger offline") {
		t.Fatalf("expected one FAILED row, got %+v", failed)
	}
	if len(gateway.Sent(entity.CategorySideEffectFailed)) != 1 {
		t.Error("expected failure report to admin")
	}
	if got, _ := store.GetByID(ctx, inst.ID); got.Status != entity.StatusApproved {
		t.Errorf("instance status changed to %s", got.Status)
	}

	fail = false
	if err := svc.Retry(ctx, inst.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	rec, _ := store.Get(ctx, inst.ID)
	if rec.Status != entity.SideEffectSucceeded || rec.Attempts != 2 {
		t.Errorf("unexpected record after retry: %+v", rec)
	}

	if err := svc.Retry(ctx, inst.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("expected ErrNotRetryable, got %v", err)
	}
}

func TestSideEffectRetry_Unknown(t *testing.T) {
	_, _, svc := newSideEffectFixture(t, func(ctx context.Context, inst *entity.WorkflowInstance) error { return nil })
	if err := svc.Retry(context.Background(), "missing"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSideEffectRun_PanicIsRecorded(t *testing.T) {
	store, _, svc := newSideEffectFixture(t, func(ctx context.Context, inst *entity.WorkflowInstance) error {
		panic("boom")
	})
	inst := approvedPurchase(store)

	if err := svc.Run(context.Background(), inst); err == nil {
		t.Fatal("expected error from panicking handler")
	}
	rec, _ := store.Get(context.Background(), inst.ID)
	if rec.Status != entity.SideEffectFailed {
		t.Errorf("expected FAILED, got %s", rec.Status)
	}
}

func TestSideEffectRetry_ClaimsRowOnce(t *testing.T) {
	var svc SideEffectService
	var nested error
	calls := 0
	store, _, s := newSideEffectFixture(t, func(ctx context.Context, inst *entity.WorkflowInstance) error {
		calls++
		if calls == 2 {
			// A second retry while this one runs must lose the claim.
			nested = svc.Retry(ctx, inst.ID)
		}
		return nil
	})
	svc = s
	ctx := context.Background()
	inst := approvedPurchase(store)
	_ = store.MarkResult(ctx, inst.ID, entity.SideEffectFailed, "ledger offline", time.Now())

	if err := svc.Retry(ctx, inst.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 handler call, got %d", calls)
	}

	_ = store.MarkResult(ctx, inst.ID, entity.SideEffectFailed, "ledger offline", time.Now())
	if err := svc.Retry(ctx, inst.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if !errors.Is(nested, ErrNotRetryable) {
		t.Errorf("nested Retry() error = %v, want ErrNotRetryable", nested)
	}
	if calls != 2 {
		t.Errorf("expected 2 handler calls, got %d", calls)
	}
}

func TestSideEffectRetry_StalePending(t *testing.T) {
	calls := 0
	store, _, svc := newSideEffectFixture(t, func(ctx context.Context, inst *entity.WorkflowInstance) error {
		calls++
		return nil
	})
	impl := svc.(*sideEffectServiceImpl)
	ctx := context.Background()
	inst := approvedPurchase(store)
	enqueuedAt := *inst.FinalizedAt

	impl.now = func() time.Time { return enqueuedAt.Add(time.Minute) }
	listed, _ := svc.ListFailed(ctx, "c1", 10)
	if len(listed) != 0 {
		t.Errorf("fresh PENDING row listed: %+v", listed)
	}
	if err := svc.Retry(ctx, inst.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry() on fresh PENDING error = %v, want ErrNotRetryable", err)
	}

	impl.now = func() time.Time { return enqueuedAt.Add(StalePendingAfter + time.Minute) }
	listed, _ = svc.ListFailed(ctx, "c1", 10)
	if len(listed) != 1 || listed[0].Status != entity.SideEffectPending {
		t.Fatalf("expected the stale PENDING row, got %+v", listed)
	}
	if err := svc.Retry(ctx, inst.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	rec, _ := store.Get(ctx, inst.ID)
	if rec.Status != entity.SideEffectSucceeded || calls != 1 {
		t.Errorf("unexpected record %+v after %d call(s)", rec, calls)
	}
}
