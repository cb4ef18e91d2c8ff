package entity

import "time"

// WorkflowInstance is one approval or corrective-action process.
type WorkflowInstance struct {
	ID               string         `json:"id"`
	CompanyID        string         `json:"company_id"`
	StoreID          *string        `json:"store_id,omitempty"`
	Type             WorkflowType   `json:"workflow_type"`
	SourceID         *string        `json:"source_id,omitempty"`
	RequestedBy      string         `json:"requested_by"`
	Amount           *int64         `json:"amount,omitempty"`
	Severity         Severity       `json:"severity,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	Steps            []*Step        `json:"steps"`
	CurrentStepIndex int            `json:"current_step_index"`
	Status           Status         `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	FinalizedAt      *time.Time     `json:"finalized_at,omitempty"`
}

// Step is one unit of sign-off or remediation work.
type Step struct {
	Order        int            `json:"order"`
	Stage        Stage          `json:"stage,omitempty"`
	AssigneeID   *string        `json:"assignee_id,omitempty"`
	AssigneeRole Role           `json:"assignee_role"`
	Status       StepStatus     `json:"status"`
	DueAt        *time.Time     `json:"due_at,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
	DecidedBy    *string        `json:"decided_by,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	Attachments  []string       `json:"attachments,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Escalated    bool           `json:"escalated"`
	EscalatedAt  *time.Time     `json:"escalated_at,omitempty"`
}

// IsTerminal returns true once the instance has been finalized.
func (w *WorkflowInstance) IsTerminal() bool {
	return w.Status.IsTerminal()
}

// Flavor returns the flavor of the instance's workflow type.
func (w *WorkflowInstance) Flavor() Flavor {
	return w.Type.Flavor()
}

// CurrentStep returns the step at CurrentStepIndex, or nil if the pointer is out of range.
func (w *WorkflowInstance) CurrentStep() *Step {
	if w.CurrentStepIndex < 0 || w.CurrentStepIndex >= len(w.Steps) {
		return nil
	}
	return w.Steps[w.CurrentStepIndex]
}

// IsLastStep reports whether the current step is the final one.
func (w *WorkflowInstance) IsLastStep() bool {
	return w.CurrentStepIndex == len(w.Steps)-1
}

// IsRoleBound reports whether any holder of AssigneeRole may act on the step.
func (s *Step) IsRoleBound() bool {
	return s.AssigneeID == nil || *s.AssigneeID == ""
}

// IsOverdue reports whether the step is in progress past its due time.
func (s *Step) IsOverdue(now time.Time) bool {
	return s.Status == StepInProgress && s.DueAt != nil && s.DueAt.Before(now)
}
