package entity

import (
	"fmt"
	"strings"
)

// WorkflowType identifies the business request a workflow instance governs.
type WorkflowType string

const (
	TypeLeave         WorkflowType = "LEAVE"
	TypeOvertime      WorkflowType = "OVERTIME"
	TypeAbsenceExcuse WorkflowType = "ABSENCE_EXCUSE"
	TypePurchase      WorkflowType = "PURCHASE"
	TypeExpense       WorkflowType = "EXPENSE"
	TypeDisposal      WorkflowType = "DISPOSAL"
	TypeResignation   WorkflowType = "RESIGNATION"
	TypeCCPFailure    WorkflowType = "CCP_FAILURE"
)

// Flavor groups workflow types that share a status vocabulary.
type Flavor string

const (
	FlavorApproval    Flavor = "approval"
	FlavorRemediation Flavor = "remediation"
)

var workflowFlavors = map[WorkflowType]Flavor{
	TypeLeave:         FlavorApproval,
	TypeOvertime:      FlavorApproval,
	TypeAbsenceExcuse: FlavorApproval,
	TypePurchase:      FlavorApproval,
	TypeExpense:       FlavorApproval,
	TypeDisposal:      FlavorApproval,
	TypeResignation:   FlavorApproval,
	TypeCCPFailure:    FlavorRemediation,
}

// AllWorkflowTypes lists every supported type in declaration order.
var AllWorkflowTypes = []WorkflowType{
	TypeLeave, TypeOvertime, TypeAbsenceExcuse, TypePurchase,
	TypeExpense, TypeDisposal, TypeResignation, TypeCCPFailure,
}

// IsValid reports whether t is a known workflow type.
func (t WorkflowType) IsValid() bool {
	_, ok := workflowFlavors[t]
	return ok
}

// Flavor returns the status vocabulary used by instances of this type.
func (t WorkflowType) Flavor() Flavor {
	return workflowFlavors[t]
}

func (t WorkflowType) String() string {
	return string(t)
}

// ParseWorkflowType accepts any casing, and dashes or spaces in place of underscores.
func ParseWorkflowType(s string) (WorkflowType, error) {
	t := WorkflowType(normalizeEnum(s))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown workflow type %q", s)
	}
	return t, nil
}

// Severity drives remediation deadlines.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid reports whether s is one of the four severity tiers.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity is case-insensitive.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(normalizeEnum(s))
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Stage is one of the five fixed remediation stages.
type Stage string

const (
	StageImmediateAction   Stage = "IMMEDIATE_ACTION"
	StageRootCauseAnalysis Stage = "ROOT_CAUSE_ANALYSIS"
	StageCorrectiveAction  Stage = "CORRECTIVE_ACTION"
	StageVerification      Stage = "VERIFICATION"
	StageClosure           Stage = "CLOSURE"
)

// RemediationStages is the fixed stage order of a remediation workflow.
var RemediationStages = []Stage{
	StageImmediateAction,
	StageRootCauseAnalysis,
	StageCorrectiveAction,
	StageVerification,
	StageClosure,
}

// Status is the instance-level status. Approval and remediation flavors
// use disjoint non-terminal values and share CLOSED.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusClosed     Status = "CLOSED"

	StatusImmediateAction   Status = Status(StageImmediateAction)
	StatusRootCauseAnalysis Status = Status(StageRootCauseAnalysis)
	StatusCorrectiveAction  Status = Status(StageCorrectiveAction)
	StatusVerification      Status = Status(StageVerification)
	StatusClosure           Status = Status(StageClosure)
)

var validStatuses = map[Status]bool{
	StatusPending:           true,
	StatusInProgress:        true,
	StatusApproved:          true,
	StatusRejected:          true,
	StatusClosed:            true,
	StatusImmediateAction:   true,
	StatusRootCauseAnalysis: true,
	StatusCorrectiveAction:  true,
	StatusVerification:      true,
	StatusClosure:           true,
}

var terminalStatuses = map[Status]bool{
	StatusApproved: true,
	StatusRejected: true,
	StatusClosed:   true,
}

// TerminalStatuses lists the statuses after which an instance is immutable.
var TerminalStatuses = []Status{StatusApproved, StatusRejected, StatusClosed}

// IsTerminal returns true if no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsValid returns true if s is a known instance status.
func (s Status) IsValid() bool {
	return validStatuses[s]
}

func (s Status) String() string {
	return string(s)
}

// StageStatus maps a remediation stage to the instance status shown while it is active.
func StageStatus(stage Stage) Status {
	return Status(stage)
}

// StepStatus is the per-step status.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepApproved   StepStatus = "APPROVED"
	StepRejected   StepStatus = "REJECTED"
	StepSkipped    StepStatus = "SKIPPED"
)

// IsDone reports whether the step has been passed on the way to a later step.
func (s StepStatus) IsDone() bool {
	return s == StepApproved || s == StepSkipped
}

// Outcome is an approver's decision.
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
)

// ParseOutcome is case-insensitive.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(normalizeEnum(s)); o {
	case OutcomeApprove, OutcomeReject:
		return o, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

func normalizeEnum(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
