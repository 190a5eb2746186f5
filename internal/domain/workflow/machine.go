package workflow

import "context"

// StateMachine tracks the current state of one instance or stage lifecycle
// and validates transitions against its configured graph. Machines are cheap
// to build; the engine constructs one per transition from persisted status
// rather than caching them.
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger
}
