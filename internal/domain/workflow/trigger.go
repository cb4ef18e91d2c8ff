package workflow

// Trigger represents an event that can cause a status transition
type Trigger string

const (
	// TriggerApprove approves a step that has a successor
	TriggerApprove Trigger = "APPROVE"
	// TriggerApproveFinal approves the last step
	TriggerApproveFinal Trigger = "APPROVE_FINAL"
	TriggerReject       Trigger = "REJECT"
	// TriggerProgress completes the active remediation stage
	TriggerProgress Trigger = "PROGRESS"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
