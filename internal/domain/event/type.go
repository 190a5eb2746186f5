package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceStarted   Type = "instance.started"
	TypeInstanceCompleted Type = "instance.completed"
	TypeInstanceRejected  Type = "instance.rejected"
	TypeInstanceCancelled Type = "instance.cancelled"
	TypeInstanceHeld      Type = "instance.held"
	TypeInstanceResumed   Type = "instance.resumed"

	TypeStageEntered  Type = "stage.entered"
	TypeStageResolved Type = "stage.resolved"

	TypeActionRecorded      Type = "action.recorded"
	TypeAssignmentDelegated Type = "assignment.delegated"
	TypeAssignmentEscalated Type = "assignment.escalated"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceStarted,
		TypeInstanceCompleted,
		TypeInstanceRejected,
		TypeInstanceCancelled,
		TypeInstanceHeld,
		TypeInstanceResumed,
		TypeStageEntered,
		TypeStageResolved,
		TypeActionRecorded,
		TypeAssignmentDelegated,
		TypeAssignmentEscalated:
		return true
	default:
		return false
	}
}

// Terminal reports whether the event announces a terminal instance state.
func (t Type) Terminal() bool {
	switch t {
	case TypeInstanceCompleted, TypeInstanceRejected, TypeInstanceCancelled:
		return true
	default:
		return false
	}
}
