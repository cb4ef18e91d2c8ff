package workflow

import "github.com/garyjia/opsflow/internal/domain/entity"

// State is a node of a flavor's status machine. It is the instance status.
type State = entity.Status

// InitialState returns the status a new instance of the given flavor starts in.
func InitialState(flavor entity.Flavor) State {
	if flavor == entity.FlavorRemediation {
		return entity.StageStatus(entity.RemediationStages[0])
	}
	return entity.StatusPending
}

var approvalMachine = func() StateMachineBuilder {
	b := NewBuilder()
	for _, from := range []State{entity.StatusPending, entity.StatusInProgress} {
		b.Configure(from).
			Permit(TriggerApprove, entity.StatusInProgress).
			Permit(TriggerApproveFinal, entity.StatusApproved).
			Permit(TriggerReject, entity.StatusRejected)
	}
	return b
}()

var remediationMachine = func() StateMachineBuilder {
	b := NewBuilder()
	stages := entity.RemediationStages
	for i, stage := range stages {
		to := entity.StatusClosed
		if i+1 < len(stages) {
			to = entity.StageStatus(stages[i+1])
		}
		b.Configure(entity.StageStatus(stage)).Permit(TriggerProgress, to)
	}
	return b
}()

// MachineFor returns a status machine for the flavor positioned at current.
func MachineFor(flavor entity.Flavor, current State) (StateMachine, error) {
	if !current.IsValid() {
		return nil, ErrInvalidState
	}
	if flavor == entity.FlavorRemediation {
		return remediationMachine.Build(current), nil
	}
	return approvalMachine.Build(current), nil
}
