// Package sideeffect holds the per-type handlers run once an approval
// workflow reaches APPROVED.
package sideeffect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/opsflow/internal/application/dispatcher"
	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
)

// ErrInvalidPayload is returned when an instance's context lacks what a handler needs
var ErrInvalidPayload = errors.New("invalid side effect payload")

const dateLayout = "2006-01-02"

// maxLeaveDays bounds date materialisation for a single request.
const maxLeaveDays = 366

// Ledgers groups the write ports used by the handlers. A nil port leaves
// its types unregistered.
type Ledgers struct {
	Purchases port.PurchaseLedger
	Inventory port.InventoryLedger
	Schedule  port.ScheduleWriter
	Accounts  port.AccountTeardown
}

// RegisterAll binds one handler per supported workflow type.
func RegisterAll(d dispatcher.Dispatcher, l Ledgers) error {
	type binding struct {
		t       entity.WorkflowType
		name    string
		handler dispatcher.Handler
		enabled bool
	}
	bindings := []binding{
		{entity.TypePurchase, "purchase-ledger", PurchaseHandler(l.Purchases), l.Purchases != nil},
		{entity.TypeExpense, "expense-ledger", PurchaseHandler(l.Purchases), l.Purchases != nil},
		{entity.TypeDisposal, "inventory-disposal", DisposalHandler(l.Inventory), l.Inventory != nil},
		{entity.TypeLeave, "schedule-leave", LeaveHandler(l.Schedule), l.Schedule != nil},
		{entity.TypeResignation, "account-teardown", ResignationHandler(l.Accounts), l.Accounts != nil},
	}
	for _, b := range bindings {
		if !b.enabled {
			continue
		}
		if err := d.Register(b.t, b.name, b.handler); err != nil {
			return err
		}
	}
	return nil
}

// PurchaseHandler marks the linked purchase or expense request approved.
func PurchaseHandler(ledger port.PurchaseLedger) dispatcher.Handler {
	return func(ctx context.Context, inst *entity.WorkflowInstance) error {
		if inst.SourceID == nil || *inst.SourceID == "" {
			return fmt.Errorf("%w: %s has no source request", ErrInvalidPayload, inst.Type)
		}
		rec := port.PurchaseApproval{
			InstanceID: inst.ID,
			CompanyID:  inst.CompanyID,
			SourceID:   *inst.SourceID,
			ApprovedAt: finalizedAt(inst),
		}
		if inst.Amount != nil {
			rec.Amount = *inst.Amount
		}
		return ledger.MarkApproved(ctx, rec)
	}
}

// DisposalHandler writes the approved write-off to inventory.
func DisposalHandler(ledger port.InventoryLedger) dispatcher.Handler {
	return func(ctx context.Context, inst *entity.WorkflowInstance) error {
		var items []port.DisposalItem
		if err := decodeField(inst.Context, "items", &items); err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("%w: disposal has no items", ErrInvalidPayload)
		}
		for i, it := range items {
			if it.MaterialID == "" || it.Quantity <= 0 {
				return fmt.Errorf("%w: item %d needs material_id and a positive quantity", ErrInvalidPayload, i+1)
			}
		}
		storeID := ""
		if inst.StoreID != nil {
			storeID = *inst.StoreID
		}
		return ledger.RecordDisposal(ctx, port.DisposalRecord{
			InstanceID: inst.ID,
			CompanyID:  inst.CompanyID,
			StoreID:    storeID,
			Items:      items,
			RecordedAt: finalizedAt(inst),
		})
	}
}

// LeaveHandler marks every date from start_date to end_date inclusive.
func LeaveHandler(writer port.ScheduleWriter) dispatcher.Handler {
	return func(ctx context.Context, inst *entity.WorkflowInstance) error {
		employee := stringField(inst.Context, "employee_id")
		if employee == "" {
			employee = inst.RequestedBy
		}
		start, err := dateField(inst.Context, "start_date")
		if err != nil {
			return err
		}
		end := start
		if _, ok := inst.Context["end_date"]; ok {
			if end, err = dateField(inst.Context, "end_date"); err != nil {
				return err
			}
		}
		dates, err := dateRange(start, end)
		if err != nil {
			return err
		}

		storeID := ""
		if inst.StoreID != nil {
			storeID = *inst.StoreID
		}
		return writer.MarkLeave(ctx, port.LeaveRecord{
			InstanceID: inst.ID,
			CompanyID:  inst.CompanyID,
			StoreID:    storeID,
			EmployeeID: employee,
			LeaveType:  stringField(inst.Context, "leave_type"),
			Dates:      dates,
		})
	}
}

// ResignationHandler runs the irreversible account teardown.
func ResignationHandler(accounts port.AccountTeardown) dispatcher.Handler {
	return func(ctx context.Context, inst *entity.WorkflowInstance) error {
		employee := stringField(inst.Context, "employee_id")
		if employee == "" {
			employee = inst.RequestedBy
		}
		effective := finalizedAt(inst)
		if _, ok := inst.Context["last_working_day"]; ok {
			d, err := dateField(inst.Context, "last_working_day")
			if err != nil {
				return err
			}
			effective = d
		}
		return accounts.Deactivate(ctx, port.DeactivationRecord{
			InstanceID:    inst.ID,
			CompanyID:     inst.CompanyID,
			EmployeeID:    employee,
			EffectiveDate: effective,
		})
	}
}

func finalizedAt(inst *entity.WorkflowInstance) time.Time {
	if inst.FinalizedAt != nil {
		return *inst.FinalizedAt
	}
	return inst.UpdatedAt
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func dateField(payload map[string]any, key string) (time.Time, error) {
	raw := stringField(payload, key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrInvalidPayload, key)
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, key, err)
	}
	return d, nil
}

// decodeField round-trips one payload value through JSON into out.
func decodeField(payload map[string]any, key string, out any) error {
	v, ok := payload[key]
	if !ok {
		return fmt.Errorf("%w: %s is required", ErrInvalidPayload, key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, key, err)
	}
	return nil
}

func dateRange(start, end time.Time) ([]time.Time, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end_date before start_date", ErrInvalidPayload)
	}
	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if len(dates) == maxLeaveDays {
			return nil, fmt.Errorf("%w: leave longer than %d days", ErrInvalidPayload, maxLeaveDays)
		}
		dates = append(dates, d)
	}
	return dates, nil
}
