package workflow

import (
	"context"
	"time"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

// Transition describes one step advance. Repositories apply it with a
// conditional write keyed on FromIndex, FromStatus and the step being IN_PROGRESS.
type Transition struct {
	InstanceID  string
	FromIndex   int
	FromStatus  State
	ToStatus    State
	StepOrder   int
	StepStatus  entity.StepStatus
	ActorID     string
	Comment     string
	Data        map[string]any
	Attachments []string

	// NextIndex equals FromIndex when no successor is started.
	NextIndex     int
	NextStartedAt *time.Time
	// NextDueAt, when set, replaces the successor's stored deadline.
	NextDueAt *time.Time

	Finalized bool
	At        time.Time
}

// StartsNext reports whether the transition starts a successor step.
func (t *Transition) StartsNext() bool {
	return t.NextIndex > t.FromIndex
}

// AuditAction returns the trail entry this transition produces.
func (t *Transition) AuditAction() entity.AuditAction {
	switch {
	case isStageStatus(t.FromStatus):
		return entity.AuditProgressed
	case t.StepStatus == entity.StepRejected:
		return entity.AuditRejected
	}
	return entity.AuditApproved
}

// ApplyTo mutates inst to reflect the transition.
func (t *Transition) ApplyTo(inst *entity.WorkflowInstance) {
	step := inst.Steps[t.FromIndex]
	at := t.At
	actor := t.ActorID
	step.Status = t.StepStatus
	step.DecidedAt = &at
	step.DecidedBy = &actor
	step.Comment = t.Comment
	if t.Data != nil {
		step.Data = t.Data
	}
	if t.Attachments != nil {
		step.Attachments = t.Attachments
	}

	if t.StartsNext() {
		next := inst.Steps[t.NextIndex]
		next.Status = entity.StepInProgress
		next.StartedAt = t.NextStartedAt
		if t.NextDueAt != nil {
			next.DueAt = t.NextDueAt
		}
		inst.CurrentStepIndex = t.NextIndex
	}

	inst.Status = t.ToStatus
	inst.UpdatedAt = at
	if t.Finalized {
		inst.FinalizedAt = &at
	}
}

// DecideInput carries the arguments of an approval decision.
type DecideInput struct {
	Actor   entity.Actor
	Outcome entity.Outcome
	Comment string
	Now     time.Time
	// SLA is the deadline given to the next approval step; zero leaves it unset.
	SLA time.Duration
}

// Decide validates an approval decision against a snapshot and returns the
// transition to persist. inst is not modified.
func Decide(ctx context.Context, inst *entity.WorkflowInstance, in DecideInput, policy OverridePolicy) (*Transition, error) {
	const op = "decide"
	step, err := activeStep(op, inst, entity.FlavorApproval)
	if err != nil {
		return nil, err
	}
	if !policy.CanAct(in.Actor, inst, step, entity.CapApproveStep) {
		return nil, NewError(KindPermissionDenied, op, inst.ID, "actor %s cannot decide step %d", in.Actor.ID, step.Order)
	}

	var (
		trigger    Trigger
		stepStatus entity.StepStatus
	)
	switch {
	case in.Outcome == entity.OutcomeReject:
		trigger, stepStatus = TriggerReject, entity.StepRejected
	case in.Outcome == entity.OutcomeApprove && inst.IsLastStep():
		trigger, stepStatus = TriggerApproveFinal, entity.StepApproved
	case in.Outcome == entity.OutcomeApprove:
		trigger, stepStatus = TriggerApprove, entity.StepApproved
	default:
		return nil, NewError(KindInvalidContext, op, inst.ID, "unknown outcome %q", in.Outcome)
	}

	to, err := fire(ctx, op, inst, trigger)
	if err != nil {
		return nil, err
	}

	t := newTransition(inst, step, in.Actor.ID, in.Comment, in.Now, to, stepStatus)
	if trigger == TriggerApprove {
		startNext(t, inst.CurrentStepIndex+1, in.Now)
		if in.SLA > 0 {
			due := in.Now.Add(in.SLA)
			t.NextDueAt = &due
		}
	}
	return t, nil
}

// ProgressInput carries the arguments of a remediation stage completion.
type ProgressInput struct {
	Actor       entity.Actor
	Data        map[string]any
	Attachments []string
	Comment     string
	Now         time.Time
}

// Progress completes the active remediation stage. Remediation deadlines
// were fixed at creation, so the successor keeps its stored due time.
func Progress(ctx context.Context, inst *entity.WorkflowInstance, in ProgressInput, policy OverridePolicy) (*Transition, error) {
	const op = "progress"
	step, err := activeStep(op, inst, entity.FlavorRemediation)
	if err != nil {
		return nil, err
	}
	if !policy.CanAct(in.Actor, inst, step, entity.CapProgressStage) {
		return nil, NewError(KindPermissionDenied, op, inst.ID, "actor %s cannot complete stage %s", in.Actor.ID, step.Stage)
	}

	to, err := fire(ctx, op, inst, TriggerProgress)
	if err != nil {
		return nil, err
	}

	t := newTransition(inst, step, in.Actor.ID, in.Comment, in.Now, to, entity.StepApproved)
	t.Data = in.Data
	t.Attachments = in.Attachments
	if !to.IsTerminal() {
		startNext(t, inst.CurrentStepIndex+1, in.Now)
	}
	return t, nil
}

func activeStep(op string, inst *entity.WorkflowInstance, flavor entity.Flavor) (*entity.Step, error) {
	if inst.IsTerminal() {
		return nil, NewError(KindAlreadyFinalized, op, inst.ID, "status is %s", inst.Status)
	}
	if inst.Flavor() != flavor {
		return nil, NewError(KindUnsupported, op, inst.ID, "%s workflows do not support %s", inst.Type, op)
	}
	step := inst.CurrentStep()
	if step == nil || step.Status != entity.StepInProgress {
		return nil, NewError(KindNoActiveStep, op, inst.ID, "no step in progress at index %d", inst.CurrentStepIndex)
	}
	return step, nil
}

func fire(ctx context.Context, op string, inst *entity.WorkflowInstance, trigger Trigger) (State, error) {
	sm, err := MachineFor(inst.Flavor(), inst.Status)
	if err != nil {
		return "", WrapError(KindInternal, op, inst.ID, err)
	}
	if err := sm.Fire(ctx, trigger); err != nil {
		return "", WrapError(KindInternal, op, inst.ID, err)
	}
	return sm.State(), nil
}

func newTransition(inst *entity.WorkflowInstance, step *entity.Step, actorID, comment string, now time.Time, to State, stepStatus entity.StepStatus) *Transition {
	return &Transition{
		InstanceID: inst.ID,
		FromIndex:  inst.CurrentStepIndex,
		FromStatus: inst.Status,
		ToStatus:   to,
		StepOrder:  step.Order,
		StepStatus: stepStatus,
		ActorID:    actorID,
		Comment:    comment,
		NextIndex:  inst.CurrentStepIndex,
		Finalized:  to.IsTerminal(),
		At:         now,
	}
}

func startNext(t *Transition, next int, now time.Time) {
	started := now
	t.NextIndex = next
	t.NextStartedAt = &started
}

func isStageStatus(s State) bool {
	for _, stage := range entity.RemediationStages {
		if entity.StageStatus(stage) == s {
			return true
		}
	}
	return false
}
