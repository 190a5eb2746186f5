package port

import (
	"context"
	"time"

	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

// DefinitionRepository defines persistence operations for WorkflowDefinition.
// Create persists the whole graph (definition, stages, routing rules) in one
// call; reads always return the fully loaded graph.
type DefinitionRepository interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	GetByName(ctx context.Context, name string) (*entity.WorkflowDefinition, error)
	GetByNameAndVersion(ctx context.Context, name string, version int) (*entity.WorkflowDefinition, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entity.WorkflowDefinition, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// InstanceRepository defines persistence operations for WorkflowInstance.
// Update writes the full row guarded by the version the caller read and
// returns ErrVersionConflict when that version is stale.
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	GetOpenByEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error)
	Update(ctx context.Context, instance *entity.WorkflowInstance) error
	List(ctx context.Context, filter InstanceFilter) ([]*entity.WorkflowInstance, error)
	CountByDefinition(ctx context.Context, definitionID int64) (int, error)
}

// InstanceFilter narrows instance listings. Zero values mean no filtering.
type InstanceFilter struct {
	Status     entity.InstanceStatus
	EntityType string
	StartedBy  string
	Limit      int
	Offset     int
}

// StageRepository defines persistence operations for StageInstance. Update is
// version-guarded like InstanceRepository.Update.
type StageRepository interface {
	Create(ctx context.Context, stage *entity.StageInstance) error
	GetByID(ctx context.Context, id int64) (*entity.StageInstance, error)
	GetByInstance(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error)
	GetOpenByInstance(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error)
	Update(ctx context.Context, stage *entity.StageInstance) error
}

// AssignmentRepository defines persistence operations for Assignment.
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *entity.Assignment) error
	GetByID(ctx context.Context, id int64) (*entity.Assignment, error)
	GetByStageInstance(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error)
	GetOpenByStageInstance(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error)
	GetOpenByAssignee(ctx context.Context, assigneeID string) ([]*entity.Assignment, error)
	GetOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Assignment, error)
	CountOpenByAssignee(ctx context.Context, assigneeID string) (int, error)
	Update(ctx context.Context, assignment *entity.Assignment) error
}

// DelegationRepository defines persistence operations for Delegation.
type DelegationRepository interface {
	Create(ctx context.Context, delegation *entity.Delegation) error
	GetByDelegateAssignment(ctx context.Context, assignmentID int64) (*entity.Delegation, error)
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.Delegation, error)
}

// HistoryRepository defines persistence operations for HistoryEntry. The
// trail is append-only; there is deliberately no update or delete.
type HistoryRepository interface {
	Append(ctx context.Context, entry *entity.HistoryEntry) error
	GetByInstance(ctx context.Context, instanceID int64) ([]*entity.HistoryEntry, error)
	GetLast(ctx context.Context, instanceID int64) (*entity.HistoryEntry, error)
}

// TaskRepository is the read side of the task queue. Tasks are computed from
// open assignments at query time; nothing writes them.
type TaskRepository interface {
	List(ctx context.Context, filter entity.TaskFilter) ([]*entity.Task, error)
}

// RotationRepository defines persistence operations for the round-robin
// cursor of ROUND_ROBIN stages.
type RotationRepository interface {
	Get(ctx context.Context, definitionID int64, stageNumber int) (*entity.StageRotation, error)
	Upsert(ctx context.Context, rotation *entity.StageRotation) error
}

// NotificationRepository defines persistence operations for the notification
// outbox.
type NotificationRepository interface {
	Create(ctx context.Context, notification *entity.Notification) error
	GetPending(ctx context.Context, limit int) ([]*entity.Notification, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
