package entity

import "time"

// StageRotation is the round-robin cursor for one definition stage. It stores
// the assignee chosen last time, so the next entry picks the following member
// of the sorted candidate pool regardless of which instance it belongs to.
type StageRotation struct {
	DefinitionID int64     `json:"definition_id"`
	StageNumber  int       `json:"stage_number"`
	LastAssignee string    `json:"last_assignee"`
	UpdatedAt    time.Time `json:"updated_at"`
}
