package workflow

// State represents a node in an instance or stage lifecycle graph. The two
// graphs share the State type; values that appear in both (IN_PROGRESS,
// COMPLETED) are terminal or not consistently across them.
type State string

const (
	// Instance lifecycle states.
	StateCreated    State = "CREATED"
	StateInProgress State = "IN_PROGRESS"
	StateOnHold     State = "ON_HOLD"
	StateCompleted  State = "COMPLETED"
	StateRejected   State = "REJECTED"
	StateCancelled  State = "CANCELLED"

	// Stage lifecycle states. IN_PROGRESS and COMPLETED are shared with the
	// instance graph.
	StatePending   State = "PENDING"
	StateSkipped   State = "SKIPPED"
	StateEscalated State = "ESCALATED"
)

var validStates = map[State]bool{
	StateCreated:    true,
	StateInProgress: true,
	StateOnHold:     true,
	StateCompleted:  true,
	StateRejected:   true,
	StateCancelled:  true,
	StatePending:    true,
	StateSkipped:    true,
	StateEscalated:  true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateRejected:  true,
	StateCancelled: true,
	StateSkipped:   true,
	StateEscalated: true,
}

// IsTerminal returns true if the state has no outgoing transitions
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state belongs to one of the lifecycle graphs
func (s State) IsValid() bool {
	return validStates[s]
}
