// Package workflow wires the lifecycle graphs of instances and stages onto
// the guarded state machine. The engine builds a machine from persisted
// status for every transition it validates.
package workflow

import (
	domainwf "github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// BuildInstanceStateMachine creates a state machine configured with the
// workflow instance lifecycle.
func BuildInstanceStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// CREATED state transitions
	builder.Configure(domainwf.StateCreated).
		Permit(domainwf.TriggerStart, domainwf.StateInProgress).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// IN_PROGRESS state transitions
	builder.Configure(domainwf.StateInProgress).
		Permit(domainwf.TriggerHold, domainwf.StateOnHold).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// ON_HOLD state transitions
	builder.Configure(domainwf.StateOnHold).
		Permit(domainwf.TriggerResume, domainwf.StateInProgress).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// COMPLETED, REJECTED and CANCELLED are terminal states - no outgoing transitions

	return builder.Build(initialState)
}

// BuildStageStateMachine creates a state machine configured with the stage
// instance lifecycle.
func BuildStageStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// PENDING state transitions
	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerOpen, domainwf.StateInProgress).
		Permit(domainwf.TriggerSkip, domainwf.StateSkipped)

	// IN_PROGRESS state transitions
	builder.Configure(domainwf.StateInProgress).
		Permit(domainwf.TriggerResolve, domainwf.StateCompleted).
		Permit(domainwf.TriggerSkip, domainwf.StateSkipped).
		Permit(domainwf.TriggerEscalate, domainwf.StateEscalated)

	// COMPLETED, SKIPPED and ESCALATED are terminal states - no outgoing transitions

	return builder.Build(initialState)
}

// InstanceMachineFor is a convenience wrapper that validates the persisted
// status before building a machine positioned at it.
func InstanceMachineFor(status string) (domainwf.StateMachine, error) {
	state := domainwf.State(status)
	if !state.IsValid() {
		return nil, domainwf.ErrInvalidState
	}
	return BuildInstanceStateMachine(state), nil
}

// StageMachineFor is a convenience wrapper that validates the persisted
// status before building a machine positioned at it.
func StageMachineFor(status string) (domainwf.StateMachine, error) {
	state := domainwf.State(status)
	if !state.IsValid() {
		return nil, domainwf.ErrInvalidState
	}
	return BuildStageStateMachine(state), nil
}
