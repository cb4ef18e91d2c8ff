package entity

// NotificationCategory groups user-visible alerts.
type NotificationCategory string

const (
	CategoryStepAssigned     NotificationCategory = "STEP_ASSIGNED"
	CategoryWorkflowDecided  NotificationCategory = "WORKFLOW_DECIDED"
	CategoryWorkflowClosed   NotificationCategory = "WORKFLOW_CLOSED"
	CategoryEscalation       NotificationCategory = "ESCALATION"
	CategorySideEffectFailed NotificationCategory = "SIDE_EFFECT_FAILED"
)

// NotificationPriority is a delivery hint for the gateway.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Notification is a user-visible alert handed to a NotificationGateway.
type Notification struct {
	UserID   string               `json:"user_id"`
	Category NotificationCategory `json:"category"`
	Priority NotificationPriority `json:"priority"`
	Title    string               `json:"title"`
	Body     string               `json:"body"`
	DeepLink string               `json:"deep_link,omitempty"`
}

// Identity is a concrete user resolved for a role.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	// ChatID is the user's id on the chat channel, if any.
	ChatID string `json:"chat_id,omitempty"`
}
