package entity

import "time"

// WorkflowTemplate is a company-level override of the built-in step rules.
type WorkflowTemplate struct {
	ID        string         `json:"id"`
	CompanyID string         `json:"company_id"`
	Type      WorkflowType   `json:"workflow_type"`
	Name      string         `json:"name"`
	IsActive  bool           `json:"is_active"`
	Steps     []TemplateStep `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TemplateStep names either a concrete approver or a role to resolve.
type TemplateStep struct {
	Role       Role    `json:"role"`
	AssigneeID *string `json:"assignee_id,omitempty"`
}
