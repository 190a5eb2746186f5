package entity

import "time"

// NotificationStatus is the delivery state of an outbox row.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// Notification is one queued message to a recipient about workflow activity.
// Rows are written in the same transaction as the change they announce and
// delivered after commit, so a crash can delay a notification but never
// announce a change that was rolled back.
type Notification struct {
	ID           int64              `json:"id"`
	InstanceID   int64              `json:"instance_id"`
	AssignmentID int64              `json:"assignment_id,omitempty"`
	RecipientID  string             `json:"recipient_id"`
	Kind         string             `json:"kind"`
	Subject      string             `json:"subject"`
	Body         string             `json:"body,omitempty"`
	Status       NotificationStatus `json:"status"`
	Attempts     int                `json:"attempts"`
	LastError    string             `json:"last_error,omitempty"`
	SentAt       *time.Time         `json:"sent_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Notification kinds.
const (
	NotificationTaskAssigned   = "TASK_ASSIGNED"
	NotificationTaskDelegated  = "TASK_DELEGATED"
	NotificationTaskEscalated  = "TASK_ESCALATED"
	NotificationStageResolved  = "STAGE_RESOLVED"
	NotificationInstanceClosed = "INSTANCE_CLOSED"
)
