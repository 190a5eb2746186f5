package entity

import "time"

// RequirementType classifies how an assignment counts toward stage resolution.
type RequirementType string

const (
	RequirementRequired RequirementType = "REQUIRED"
	RequirementOptional RequirementType = "OPTIONAL"
	RequirementObserver RequirementType = "OBSERVER"
)

// IsValid returns true if the requirement type is one of the defined constants.
func (r RequirementType) IsValid() bool {
	return r == RequirementRequired || r == RequirementOptional || r == RequirementObserver
}

// CountsTowardQuorum returns true if actions on this assignment feed the
// voting evaluator. Observer actions are recorded but never counted.
func (r RequirementType) CountsTowardQuorum() bool {
	return r == RequirementRequired || r == RequirementOptional
}

// Action is the terminal action recorded on an assignment. An assignment
// carries at most one; once set it never changes.
type Action string

const (
	ActionApproved         Action = "APPROVED"
	ActionRejected         Action = "REJECTED"
	ActionChangesRequested Action = "CHANGES_REQUESTED"
	ActionDelegated        Action = "DELEGATED"
	ActionSkipped          Action = "SKIPPED"
	ActionEscalated        Action = "ESCALATED"
)

var validActions = map[Action]bool{
	ActionApproved:         true,
	ActionRejected:         true,
	ActionChangesRequested: true,
	ActionDelegated:        true,
	ActionSkipped:          true,
	ActionEscalated:        true,
}

// IsValid returns true if the action is one of the defined constants.
func (a Action) IsValid() bool {
	return validActions[a]
}

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// IsVote returns true for the actions a user records directly against a task.
// Delegation is a vote in the sense that it consumes the assignment, but it
// transfers the decision rather than casting one.
func (a Action) IsVote() bool {
	return a == ActionApproved || a == ActionRejected || a == ActionChangesRequested
}

// Assignment binds one user to one stage instance. InstanceID is denormalized
// so the task queue resolves without joining through stage instances.
type Assignment struct {
	ID              int64           `json:"id"`
	StageInstanceID int64           `json:"stage_instance_id"`
	InstanceID      int64           `json:"instance_id"`
	AssigneeID      string          `json:"assignee_id"`
	Role            string          `json:"role,omitempty"`
	Requirement     RequirementType `json:"requirement"`
	Action          Action          `json:"action,omitempty"`
	ActedAt         *time.Time      `json:"acted_at,omitempty"`
	Comment         string          `json:"comment,omitempty"`
	SignatureRef    string          `json:"signature_ref,omitempty"`
	Priority        int             `json:"priority"`
	EscalationLevel int             `json:"escalation_level"`
	DelegatedFrom   int64           `json:"delegated_from,omitempty"`
	Deadline        *time.Time      `json:"deadline,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Open returns true while the assignment still awaits an action.
func (a *Assignment) Open() bool {
	return a.Action == ""
}

// Delegation records one hop of authority transfer between assignments.
// Chains are bounded; the delegation service refuses cycles and chains
// deeper than the configured limit.
type Delegation struct {
	ID                   int64      `json:"id"`
	InstanceID           int64      `json:"instance_id"`
	OriginalAssignmentID int64      `json:"original_assignment_id"`
	DelegateAssignmentID int64      `json:"delegate_assignment_id"`
	FromUserID           string     `json:"from_user_id"`
	ToUserID             string     `json:"to_user_id"`
	Reason               string     `json:"reason,omitempty"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Expired returns true if the delegation had a validity window that has
// passed at the given time.
func (d *Delegation) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

// MaxDelegationDepth bounds how many hops a delegation chain may take from
// the originally resolved assignee.
const MaxDelegationDepth = 5
