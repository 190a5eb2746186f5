package entity

import "time"

// Task is the work-queue view of one open assignment. It is derived entirely
// from instances, stage instances, and assignments; nothing updates a task
// directly, so the queue can never disagree with workflow state.
type Task struct {
	AssignmentID    int64           `json:"assignment_id"`
	InstanceID      int64           `json:"instance_id"`
	StageInstanceID int64           `json:"stage_instance_id"`
	DefinitionID    int64           `json:"definition_id"`
	DefinitionName  string          `json:"definition_name"`
	StageNumber     int             `json:"stage_number"`
	StageName       string          `json:"stage_name"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	AssigneeID      string          `json:"assignee_id"`
	Requirement     RequirementType `json:"requirement"`
	Priority        int             `json:"priority"`
	EscalationLevel int             `json:"escalation_level"`
	Deadline        *time.Time      `json:"deadline,omitempty"`
	Overdue         bool            `json:"overdue"`
	AssignedAt      time.Time       `json:"assigned_at"`
}

// TaskFilter narrows a task queue query. Zero values mean no filtering on
// that dimension.
type TaskFilter struct {
	AssigneeID  string
	EntityType  string
	OverdueOnly bool
	Limit       int
	Offset      int
}
