package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/sqlite"
)

// TaskRepository implements port.TaskRepository. Tasks are a join over open
// assignments, in-progress stage instances, and in-progress workflow
// instances; nothing is ever written here.
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// List computes the task queue matching the filter, highest priority first.
func (r *TaskRepository) List(ctx context.Context, filter entity.TaskFilter) ([]*entity.Task, error) {
	query := `
		SELECT
			a.id, a.instance_id, a.stage_instance_id,
			wi.definition_id, wd.name,
			si.stage_number, COALESCE(sd.name, ''),
			wi.entity_type, wi.entity_id,
			a.assignee_id, a.requirement, a.priority, a.escalation_level,
			a.deadline, a.created_at
		FROM assignments a
		JOIN stage_instances si ON si.id = a.stage_instance_id
		JOIN workflow_instances wi ON wi.id = a.instance_id
		JOIN workflow_definitions wd ON wd.id = wi.definition_id
		LEFT JOIN stage_definitions sd
			ON sd.definition_id = wi.definition_id AND sd.stage_number = si.stage_number
		WHERE a.action = ''
			AND si.status = ?
			AND wi.status = ?
	`
	args := []any{entity.StageInProgress, entity.InstanceInProgress}

	if filter.AssigneeID != "" {
		query += ` AND a.assignee_id = ?`
		args = append(args, filter.AssigneeID)
	}
	if filter.EntityType != "" {
		query += ` AND wi.entity_type = ?`
		args = append(args, filter.EntityType)
	}
	now := time.Now()
	if filter.OverdueOnly {
		query += ` AND a.deadline IS NOT NULL AND a.deadline < ?`
		args = append(args, now)
	}

	query += ` ORDER BY a.priority DESC, a.id ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.Task
	for rows.Next() {
		var (
			task     entity.Task
			deadline sql.NullTime
		)
		err := rows.Scan(
			&task.AssignmentID,
			&task.InstanceID,
			&task.StageInstanceID,
			&task.DefinitionID,
			&task.DefinitionName,
			&task.StageNumber,
			&task.StageName,
			&task.EntityType,
			&task.EntityID,
			&task.AssigneeID,
			&task.Requirement,
			&task.Priority,
			&task.EscalationLevel,
			&deadline,
			&task.AssignedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if deadline.Valid {
			task.Deadline = &deadline.Time
			task.Overdue = deadline.Time.Before(now)
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
