package entity

import "time"

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceCreated    InstanceStatus = "CREATED"
	InstanceInProgress InstanceStatus = "IN_PROGRESS"
	InstanceOnHold     InstanceStatus = "ON_HOLD"
	InstanceCompleted  InstanceStatus = "COMPLETED"
	InstanceRejected   InstanceStatus = "REJECTED"
	InstanceCancelled  InstanceStatus = "CANCELLED"
)

// IsTerminal returns true for states with no outgoing transitions.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceCompleted || s == InstanceRejected || s == InstanceCancelled
}

// String returns the string representation of the status.
func (s InstanceStatus) String() string {
	return string(s)
}

// StageStatus is the lifecycle state of one stage instance.
type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageCompleted  StageStatus = "COMPLETED"
	StageSkipped    StageStatus = "SKIPPED"
	StageEscalated  StageStatus = "ESCALATED"
)

// IsOpen returns true while the stage still accepts assignment actions.
func (s StageStatus) IsOpen() bool {
	return s == StagePending || s == StageInProgress
}

// String returns the string representation of the status.
func (s StageStatus) String() string {
	return string(s)
}

// Outcome is the decision a resolved stage produced.
type Outcome string

const (
	OutcomeApproved         Outcome = "APPROVED"
	OutcomeRejected         Outcome = "REJECTED"
	OutcomeChangesRequested Outcome = "CHANGES_REQUESTED"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// WorkflowInstance is one run of a definition against a business entity.
// It never stores the business entity itself, only a typed reference and the
// context snapshot routing rules evaluate against. Version guards concurrent
// writers; every update must carry the version it read.
type WorkflowInstance struct {
	ID            int64          `json:"id"`
	DefinitionID  int64          `json:"definition_id"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	CurrentStage  int            `json:"current_stage"`
	Status        InstanceStatus `json:"status"`
	Context       map[string]any `json:"context,omitempty"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	HoldRemaining *time.Duration `json:"hold_remaining,omitempty"`
	HoldReason    string         `json:"hold_reason,omitempty"`
	Version       int64          `json:"version"`
	StartedBy     string         `json:"started_by"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// StageInstance is one entry of one definition stage within an instance.
// Re-entry after CHANGES_REQUESTED creates a new row with a higher Entry, so
// the full path of the instance stays queryable. Parallel role groups create
// one row per group, distinguished by GroupKey.
type StageInstance struct {
	ID            int64          `json:"id"`
	InstanceID    int64          `json:"instance_id"`
	StageNumber   int            `json:"stage_number"`
	Entry         int            `json:"entry"`
	GroupKey      string         `json:"group_key,omitempty"`
	Status        StageStatus    `json:"status"`
	Outcome       Outcome        `json:"outcome,omitempty"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	HoldRemaining *time.Duration `json:"hold_remaining,omitempty"`
	Version       int64          `json:"version"`
	EnteredAt     *time.Time     `json:"entered_at,omitempty"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Resolved returns true once the stage has produced an outcome.
func (s *StageInstance) Resolved() bool {
	return s.Status == StageCompleted && s.Outcome != ""
}
