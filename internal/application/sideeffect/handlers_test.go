package sideeffect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/opsflow/internal/application/dispatcher"
	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
)

type recordingLedger struct {
	purchases   []port.PurchaseApproval
	disposals   []port.DisposalRecord
	leaves      []port.LeaveRecord
	deactivated []port.DeactivationRecord
	failWith    error
}

func (r *recordingLedger) MarkApproved(ctx context.Context, rec port.PurchaseApproval) error {
	r.purchases = append(r.purchases, rec)
	return r.failWith
}

func (r *recordingLedger) RecordDisposal(ctx context.Context, rec port.DisposalRecord) error {
	r.disposals = append(r.disposals, rec)
	return r.failWith
}

func (r *recordingLedger) MarkLeave(ctx context.Context, rec port.LeaveRecord) error {
	r.leaves = append(r.leaves, rec)
	return r.failWith
}

func (r *recordingLedger) Deactivate(ctx context.Context, rec port.DeactivationRecord) error {
	r.deactivated = append(r.deactivated, rec)
	return r.failWith
}

func approved(t entity.WorkflowType, payload map[string]any) *entity.WorkflowInstance {
	fin := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := "store-1"
	return &entity.WorkflowInstance{
		ID:          "wf-1",
		CompanyID:   "co-1",
		StoreID:     &store,
		Type:        t,
		RequestedBy: "emp-1",
		Context:     payload,
		Status:      entity.StatusApproved,
		FinalizedAt: &fin,
	}
}

func TestRegisterAll(t *testing.T) {
	d := dispatcher.NewDispatcher()
	l := &recordingLedger{}
	if err := RegisterAll(d, Ledgers{Purchases: l, Inventory: l, Schedule: l, Accounts: l}); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	for _, wt := range []entity.WorkflowType{entity.TypePurchase, entity.TypeExpense, entity.TypeDisposal, entity.TypeLeave, entity.TypeResignation} {
		if !d.HasHandler(wt) {
			t.Errorf("no handler for %s", wt)
		}
	}
	if d.HasHandler(entity.TypeOvertime) || d.HasHandler(entity.TypeCCPFailure) {
		t.Error("unexpected handler registered")
	}

	partial := dispatcher.NewDispatcher()
	if err := RegisterAll(partial, Ledgers{Schedule: l}); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	if len(partial.ListHandlers()) != 1 {
		t.Errorf("ListHandlers() = %v, want only leave", partial.ListHandlers())
	}
}

func TestPurchaseHandler(t *testing.T) {
	l := &recordingLedger{}
	inst := approved(entity.TypePurchase, nil)
	src := "po-77"
	amt := int64(40000)
	inst.SourceID, inst.Amount = &src, &amt

	if err := PurchaseHandler(l)(context.Background(), inst); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(l.purchases) != 1 || l.purchases[0].SourceID != "po-77" || l.purchases[0].Amount != 40000 {
		t.Errorf("purchases = %+v", l.purchases)
	}

	inst.SourceID = nil
	if err := PurchaseHandler(l)(context.Background(), inst); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("missing source error = %v, want ErrInvalidPayload", err)
	}
}

func TestDisposalHandler(t *testing.T) {
	l := &recordingLedger{}
	inst := approved(entity.TypeDisposal, map[string]any{
		"items": []any{
			map[string]any{"material_id": "m-1", "quantity": 2.5, "unit": "kg"},
			map[string]any{"material_id": "m-2", "quantity": 1.0, "unit": "ea", "reason": "expired"},
		},
	})

	if err := DisposalHandler(l)(context.Background(), inst); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(l.disposals) != 1 || len(l.disposals[0].Items) != 2 {
		t.Fatalf("disposals = %+v", l.disposals)
	}
	if l.disposals[0].Items[0].Quantity != 2.5 || l.disposals[0].StoreID != "store-1" {
		t.Errorf("record = %+v", l.disposals[0])
	}

	bad := approved(entity.TypeDisposal, map[string]any{"items": []any{map[string]any{"material_id": "m-1"}}})
	if err := DisposalHandler(l)(context.Background(), bad); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("zero quantity error = %v, want ErrInvalidPayload", err)
	}
}

func TestLeaveHandler(t *testing.T) {
	l := &recordingLedger{}
	inst := approved(entity.TypeLeave, map[string]any{
		"start_date": "2026-04-10",
		"end_date":   "2026-04-12",
		"leave_type": "annual",
	})

	if err := LeaveHandler(l)(context.Background(), inst); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(l.leaves) != 1 {
		t.Fatalf("leaves = %+v", l.leaves)
	}
	rec := l.leaves[0]
	if rec.EmployeeID != "emp-1" || len(rec.Dates) != 3 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Dates[2].Format(dateLayout) != "2026-04-12" {
		t.Errorf("last date = %v", rec.Dates[2])
	}

	reversed := approved(entity.TypeLeave, map[string]any{"start_date": "2026-04-12", "end_date": "2026-04-10"})
	if err := LeaveHandler(l)(context.Background(), reversed); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("reversed range error = %v, want ErrInvalidPayload", err)
	}
}

func TestResignationHandler(t *testing.T) {
	l := &recordingLedger{failWith: errors.New("identity provider down")}
	inst := approved(entity.TypeResignation, map[string]any{"employee_id": "emp-9", "last_working_day": "2026-04-30"})

	err := ResignationHandler(l)(context.Background(), inst)
	if !errors.Is(err, l.failWith) {
		t.Errorf("handler error = %v, want ledger error", err)
	}
	if len(l.deactivated) != 1 || l.deactivated[0].EmployeeID != "emp-9" {
		t.Fatalf("deactivated = %+v", l.deactivated)
	}
	if l.deactivated[0].EffectiveDate.Format(dateLayout) != "2026-04-30" {
		t.Errorf("effective date = %v", l.deactivated[0].EffectiveDate)
	}
}
