package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateCreated, false},
		{StateInProgress, false},
		{StateOnHold, false},
		{StatePending, false},
		{StateCompleted, true},
		{StateRejected, true},
		{StateCancelled, true},
		{StateSkipped, true},
		{StateEscalated, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"valid state", StateCreated, true},
		{"valid state", StateEscalated, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	state := StateCreated
	if got := state.String(); got != "CREATED" {
		t.Errorf("State.String() = %v, want %v", got, "CREATED")
	}
}

func TestTrigger_String(t *testing.T) {
	trigger := TriggerStart
	if got := trigger.String(); got != "START" {
		t.Errorf("Trigger.String() = %v, want %v", got, "START")
	}
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder()

	// Configure valid state
	config := builder.Configure(StateCreated)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	// Configure same state again should return same config
	config2 := builder.Configure(StateCreated)
	if config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	builder.Configure(State("INVALID"))
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	builder.Build(State("INVALID"))
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateCreated).
		Permit(TriggerStart, StateInProgress)

	machine := builder.Build(StateCreated)

	if !machine.CanFire(TriggerStart) {
		t.Error("CanFire() should return true for permitted trigger")
	}

	if err := machine.Fire(context.Background(), TriggerStart); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine.State() != StateInProgress {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StateInProgress)
	}
}

func TestStateConfiguration_PermitIf_GuardPasses(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateCreated).
		PermitIf(TriggerStart, StateInProgress, func(ctx context.Context) bool {
			return true
		})

	machine := builder.Build(StateCreated)

	if err := machine.Fire(context.Background(), TriggerStart); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine.State() != StateInProgress {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StateInProgress)
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateCreated).
		PermitIf(TriggerStart, StateInProgress, func(ctx context.Context) bool {
			return false
		})

	machine := builder.Build(StateCreated)

	err := machine.Fire(context.Background(), TriggerStart)
	if err == nil {
		t.Fatal("Fire() should fail when guard fails")
	}

	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}

	if machine.State() != StateCreated {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateCreated, machine.State())
	}
}

func TestStateConfiguration_PermitIf_MultipleTransitions(t *testing.T) {
	type decisionKey struct{}

	builder := NewBuilder()
	builder.Configure(StateInProgress).
		PermitIf(TriggerComplete, StateCompleted, func(ctx context.Context) bool {
			return ctx.Value(decisionKey{}).(bool)
		}).
		PermitIf(TriggerComplete, StateRejected, func(ctx context.Context) bool {
			return !ctx.Value(decisionKey{}).(bool)
		})

	// First transition (guard passes)
	machine1 := builder.Build(StateInProgress)
	ctx1 := context.WithValue(context.Background(), decisionKey{}, true)
	if err := machine1.Fire(ctx1, TriggerComplete); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}
	if machine1.State() != StateCompleted {
		t.Errorf("State after Fire() = %v, want %v", machine1.State(), StateCompleted)
	}

	// Second transition (first guard fails, second passes)
	machine2 := builder.Build(StateInProgress)
	ctx2 := context.WithValue(context.Background(), decisionKey{}, false)
	if err := machine2.Fire(ctx2, TriggerComplete); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}
	if machine2.State() != StateRejected {
		t.Errorf("State after Fire() = %v, want %v", machine2.State(), StateRejected)
	}
}

func TestStateConfiguration_PermitPanicsOnInvalidState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic on invalid target state")
		}
	}()

	builder.Configure(StateCreated).Permit(TriggerStart, State("INVALID"))
}

func TestStateMachine_CanFire(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateCreated).
		Permit(TriggerStart, StateInProgress)

	machine := builder.Build(StateCreated)

	tests := []struct {
		trigger  Trigger
		expected bool
	}{
		{TriggerStart, true},
		{TriggerComplete, false},
		{TriggerCancel, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.trigger), func(t *testing.T) {
			if got := machine.CanFire(tt.trigger); got != tt.expected {
				t.Errorf("CanFire() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStateMachine_Fire_InvalidTransition(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateCreated).
		Permit(TriggerStart, StateInProgress)

	machine := builder.Build(StateCreated)

	err := machine.Fire(context.Background(), TriggerComplete)
	if err == nil {
		t.Fatal("Fire() should fail for invalid transition")
	}

	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}

	if machine.State() != StateCreated {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateCreated, machine.State())
	}
}

func TestStateMachine_Fire_NoConfiguration(t *testing.T) {
	builder := NewBuilder()
	// Build without configuring StateCreated
	machine := builder.Build(StateCreated)

	err := machine.Fire(context.Background(), TriggerStart)
	if err == nil {
		t.Fatal("Fire() should fail when no configuration exists")
	}

	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestStateMachine_PermittedTriggers(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateInProgress).
		Permit(TriggerHold, StateOnHold).
		Permit(TriggerCancel, StateCancelled)

	machine := builder.Build(StateInProgress)

	triggers := machine.PermittedTriggers()
	if len(triggers) != 2 {
		t.Fatalf("PermittedTriggers() returned %d triggers, want 2", len(triggers))
	}

	// Declaration order is preserved
	if triggers[0] != TriggerHold || triggers[1] != TriggerCancel {
		t.Errorf("PermittedTriggers() = %v, want [HOLD CANCEL]", triggers)
	}
}

func TestStateMachine_PermittedTriggers_Deduplicates(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateInProgress).
		PermitIf(TriggerComplete, StateCompleted, func(ctx context.Context) bool { return true }).
		PermitIf(TriggerComplete, StateRejected, func(ctx context.Context) bool { return false })

	machine := builder.Build(StateInProgress)

	triggers := machine.PermittedTriggers()
	if len(triggers) != 1 {
		t.Errorf("PermittedTriggers() returned %d triggers, want 1", len(triggers))
	}
}

func TestStateMachine_PermittedTriggers_NoConfiguration(t *testing.T) {
	builder := NewBuilder()
	machine := builder.Build(StateCreated)

	triggers := machine.PermittedTriggers()
	if len(triggers) != 0 {
		t.Errorf("PermittedTriggers() returned %d triggers, want 0", len(triggers))
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateCreated).
		Permit(TriggerStart, StateInProgress)

	// Build two machines from same builder
	machine1 := builder.Build(StateCreated)
	machine2 := builder.Build(StateCreated)

	// Fire trigger on machine1
	if err := machine1.Fire(context.Background(), TriggerStart); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	// machine2 should remain in initial state
	if machine2.State() != StateCreated {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", machine2.State(), StateCreated)
	}

	// machine1 should be in new state
	if machine1.State() != StateInProgress {
		t.Errorf("machine1 state = %v, want %v", machine1.State(), StateInProgress)
	}
}

func TestStateMachine_InstanceLifecycle(t *testing.T) {
	builder := NewBuilder()

	builder.Configure(StateCreated).
		Permit(TriggerStart, StateInProgress).
		Permit(TriggerCancel, StateCancelled)

	builder.Configure(StateInProgress).
		Permit(TriggerHold, StateOnHold).
		Permit(TriggerComplete, StateCompleted).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateCancelled)

	builder.Configure(StateOnHold).
		Permit(TriggerResume, StateInProgress).
		Permit(TriggerCancel, StateCancelled)

	// COMPLETED, REJECTED, CANCELLED are terminal - no outgoing transitions

	machine := builder.Build(StateCreated)

	steps := []struct {
		trigger       Trigger
		expectedState State
	}{
		{TriggerStart, StateInProgress},
		{TriggerHold, StateOnHold},
		{TriggerResume, StateInProgress},
		{TriggerComplete, StateCompleted},
	}

	for i, step := range steps {
		if err := machine.Fire(context.Background(), step.trigger); err != nil {
			t.Errorf("Step %d: Fire(%v) failed: %v", i, step.trigger, err)
		}

		if machine.State() != step.expectedState {
			t.Errorf("Step %d: State after Fire(%v) = %v, want %v", i, step.trigger, machine.State(), step.expectedState)
		}
	}

	// Verify terminal state
	if !machine.State().IsTerminal() {
		t.Error("Final state should be terminal")
	}

	// Verify no more transitions allowed
	triggers := machine.PermittedTriggers()
	if len(triggers) != 0 {
		t.Errorf("Terminal state should have 0 permitted triggers, got %d", len(triggers))
	}
}

func TestStateMachine_StageLifecycle(t *testing.T) {
	builder := NewBuilder()

	builder.Configure(StatePending).
		Permit(TriggerOpen, StateInProgress).
		Permit(TriggerSkip, StateSkipped)

	builder.Configure(StateInProgress).
		Permit(TriggerResolve, StateCompleted).
		Permit(TriggerSkip, StateSkipped).
		Permit(TriggerEscalate, StateEscalated)

	machine := builder.Build(StatePending)

	if err := machine.Fire(context.Background(), TriggerOpen); err != nil {
		t.Errorf("Fire(TriggerOpen) failed: %v", err)
	}

	if err := machine.Fire(context.Background(), TriggerResolve); err != nil {
		t.Errorf("Fire(TriggerResolve) failed: %v", err)
	}

	if machine.State() != StateCompleted {
		t.Errorf("State = %v, want %v", machine.State(), StateCompleted)
	}

	if !machine.State().IsTerminal() {
		t.Error("Resolved stage state should be terminal")
	}
}

func TestStateMachine_EscalationPath(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).
		Permit(TriggerOpen, StateInProgress)

	builder.Configure(StateInProgress).
		Permit(TriggerEscalate, StateEscalated).
		Permit(TriggerResolve, StateCompleted)

	machine := builder.Build(StatePending)

	if err := machine.Fire(context.Background(), TriggerOpen); err != nil {
		t.Errorf("Fire(TriggerOpen) failed: %v", err)
	}

	if err := machine.Fire(context.Background(), TriggerEscalate); err != nil {
		t.Errorf("Fire(TriggerEscalate) failed: %v", err)
	}

	if machine.State() != StateEscalated {
		t.Errorf("State = %v, want %v", machine.State(), StateEscalated)
	}

	if !machine.State().IsTerminal() {
		t.Error("Escalated state should be terminal")
	}
}
