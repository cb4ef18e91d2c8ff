package entity

import "time"

// AuditAction names an entry in the decision trail.
type AuditAction string

const (
	AuditCreated          AuditAction = "CREATED"
	AuditApproved         AuditAction = "APPROVED"
	AuditRejected         AuditAction = "REJECTED"
	AuditProgressed       AuditAction = "PROGRESSED"
	AuditEscalated        AuditAction = "ESCALATED"
	AuditSideEffectFailed AuditAction = "SIDE_EFFECT_FAILED"
)

// AuditEntry is one row of an instance's decision trail.
type AuditEntry struct {
	ID         string      `json:"id"`
	InstanceID string      `json:"instance_id"`
	StepOrder  int         `json:"step_order"`
	Action     AuditAction `json:"action"`
	ActorID    string      `json:"actor_id"`
	FromStatus Status      `json:"from_status,omitempty"`
	ToStatus   Status      `json:"to_status,omitempty"`
	Comment    string      `json:"comment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// SideEffectStatus tracks a side-effect outbox row.
type SideEffectStatus string

const (
	SideEffectPending   SideEffectStatus = "PENDING"
	SideEffectSucceeded SideEffectStatus = "SUCCEEDED"
	SideEffectFailed    SideEffectStatus = "FAILED"
)

// SideEffectRecord is written in the same transaction as a terminal
// approval and updated once the handler has run.
type SideEffectRecord struct {
	InstanceID string           `json:"instance_id"`
	CompanyID  string           `json:"company_id"`
	Type       WorkflowType     `json:"workflow_type"`
	Status     SideEffectStatus `json:"status"`
	Attempts   int              `json:"attempts"`
	LastError  string           `json:"last_error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
