package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	// Instance triggers.
	TriggerStart    Trigger = "START"
	TriggerHold     Trigger = "HOLD"
	TriggerResume   Trigger = "RESUME"
	TriggerComplete Trigger = "COMPLETE"
	TriggerReject   Trigger = "REJECT"
	TriggerCancel   Trigger = "CANCEL"

	// Stage triggers.
	TriggerOpen     Trigger = "OPEN"
	TriggerResolve  Trigger = "RESOLVE"
	TriggerSkip     Trigger = "SKIP"
	TriggerEscalate Trigger = "ESCALATE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
