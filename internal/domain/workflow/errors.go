package workflow

import "errors"

// State machine errors.
var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// Definition errors.
var (
	// ErrDefinitionNotFound is returned when no definition matches the lookup
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionInactive is returned when starting an instance against a
	// deactivated definition
	ErrDefinitionInactive = errors.New("workflow definition is inactive")

	// ErrDefinitionImmutable is returned when modifying a definition that is
	// already referenced by instances
	ErrDefinitionImmutable = errors.New("workflow definition is referenced by instances and cannot change")

	// ErrMalformedRule is returned when a routing rule fails validation
	ErrMalformedRule = errors.New("malformed routing rule")
)

// Instance and stage errors.
var (
	// ErrInstanceNotFound is returned when no instance matches the lookup
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceTerminal is returned when acting on a completed, rejected,
	// or cancelled instance
	ErrInstanceTerminal = errors.New("workflow instance is in a terminal state")

	// ErrInstanceNotHeld is returned when resuming an instance that is not on hold
	ErrInstanceNotHeld = errors.New("workflow instance is not on hold")

	// ErrStageNotOpen is returned when acting on a stage that has already resolved
	ErrStageNotOpen = errors.New("stage is not open")

	// ErrVersionConflict is returned when an optimistic write loses the race;
	// the engine retries these internally
	ErrVersionConflict = errors.New("version conflict")
)

// Assignment and action errors.
var (
	// ErrAssignmentNotFound is returned when no assignment matches the lookup
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrNotAssigned is returned when the acting user holds no open assignment
	ErrNotAssigned = errors.New("user is not assigned to this stage")

	// ErrAlreadyActed is returned when an assignment already carries a
	// terminal action
	ErrAlreadyActed = errors.New("assignment has already been acted on")

	// ErrSignatureRequired is returned when a stage demands a signature and
	// the action carries none
	ErrSignatureRequired = errors.New("action requires a signature")

	// ErrNoEligibleAssignees is returned when assignment resolution produces
	// an empty pool
	ErrNoEligibleAssignees = errors.New("no eligible assignees for stage")
)

// Delegation and escalation errors.
var (
	// ErrDelegationCycle is returned when a delegation would route authority
	// back to a user already in the chain
	ErrDelegationCycle = errors.New("delegation would create a cycle")

	// ErrDelegationDepth is returned when a delegation chain exceeds the
	// maximum number of hops
	ErrDelegationDepth = errors.New("delegation chain too deep")

	// ErrDelegationExpired is returned when acting through a delegation whose
	// validity window has passed
	ErrDelegationExpired = errors.New("delegation has expired")

	// ErrNoEscalationPolicy is returned when an overdue assignment has no
	// policy to apply
	ErrNoEscalationPolicy = errors.New("no escalation policy for stage")
)

// History errors.
var (
	// ErrHistoryCorrupted is returned when the hash chain of an instance's
	// audit trail fails verification
	ErrHistoryCorrupted = errors.New("history chain verification failed")
)
