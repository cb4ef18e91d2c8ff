package port

import (
	"context"
	"time"
)

// The ports below are the narrow write paths side-effect handlers use on
// business records outside the workflow. Implementations must be idempotent
// on InstanceID.

// PurchaseLedger marks linked purchase or expense requests approved.
type PurchaseLedger interface {
	MarkApproved(ctx context.Context, rec PurchaseApproval) error
}

// PurchaseApproval is the record written for an approved purchase.
type PurchaseApproval struct {
	InstanceID string
	CompanyID  string
	SourceID   string
	Amount     int64
	ApprovedAt time.Time
}

// InventoryLedger records stock adjustments.
type InventoryLedger interface {
	RecordDisposal(ctx context.Context, rec DisposalRecord) error
}

// DisposalItem is one material written off.
type DisposalItem struct {
	MaterialID string  `json:"material_id"`
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"`
	Reason     string  `json:"reason,omitempty"`
}

// DisposalRecord is an approved write-off.
type DisposalRecord struct {
	InstanceID string
	CompanyID  string
	StoreID    string
	Items      []DisposalItem
	RecordedAt time.Time
}

// ScheduleWriter materialises approved leave onto the roster.
type ScheduleWriter interface {
	MarkLeave(ctx context.Context, rec LeaveRecord) error
}

// LeaveRecord covers each date of an approved leave.
type LeaveRecord struct {
	InstanceID string
	CompanyID  string
	StoreID    string
	EmployeeID string
	LeaveType  string
	Dates      []time.Time
}

// AccountTeardown deactivates a departing employee. It is irreversible.
type AccountTeardown interface {
	Deactivate(ctx context.Context, rec DeactivationRecord) error
}

// DeactivationRecord is an approved resignation.
type DeactivationRecord struct {
	InstanceID    string
	CompanyID     string
	EmployeeID    string
	EffectiveDate time.Time
}
