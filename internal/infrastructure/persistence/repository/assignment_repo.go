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

// AssignmentRepository implements port.AssignmentRepository. An open
// assignment is one whose action column is still empty.
type AssignmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *sql.DB, logger *zap.Logger) port.AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

const assignmentColumns = `id, stage_instance_id, instance_id, assignee_id, role, requirement,
	action, acted_at, comment, signature_ref, priority, escalation_level,
	delegated_from, deadline, created_at, updated_at`

// Create persists a new assignment.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *entity.Assignment) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO assignments (
			stage_instance_id, instance_id, assignee_id, role, requirement,
			action, acted_at, comment, signature_ref, priority, escalation_level,
			delegated_from, deadline
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		assignment.StageInstanceID,
		assignment.InstanceID,
		assignment.AssigneeID,
		assignment.Role,
		assignment.Requirement,
		assignment.Action,
		assignment.ActedAt,
		assignment.Comment,
		assignment.SignatureRef,
		assignment.Priority,
		assignment.EscalationLevel,
		assignment.DelegatedFrom,
		assignment.Deadline,
	)
	if err != nil {
		r.logger.Error("Failed to create assignment", zap.Error(err))
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	assignment.ID = id
	return nil
}

// GetByID retrieves an assignment by ID.
func (r *AssignmentRepository) GetByID(ctx context.Context, id int64) (*entity.Assignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignments WHERE id = ?`, assignmentColumns)
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id)
	assignment, err := scanAssignment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get assignment", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return assignment, nil
}

// GetByStageInstance retrieves every assignment of a stage instance.
func (r *AssignmentRepository) GetByStageInstance(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM assignments
		WHERE stage_instance_id = ?
		ORDER BY id ASC
	`, assignmentColumns)
	return r.list(ctx, query, stageInstanceID)
}

// GetOpenByStageInstance retrieves the assignments of a stage instance that
// still await an action.
func (r *AssignmentRepository) GetOpenByStageInstance(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM assignments
		WHERE stage_instance_id = ? AND action = ''
		ORDER BY id ASC
	`, assignmentColumns)
	return r.list(ctx, query, stageInstanceID)
}

// GetOpenByAssignee retrieves a user's open assignments.
func (r *AssignmentRepository) GetOpenByAssignee(ctx context.Context, assigneeID string) ([]*entity.Assignment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM assignments
		WHERE assignee_id = ? AND action = ''
		ORDER BY priority DESC, id ASC
	`, assignmentColumns)
	return r.list(ctx, query, assigneeID)
}

// GetOverdue retrieves open assignments whose deadline has passed, oldest
// deadline first.
func (r *AssignmentRepository) GetOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Assignment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM assignments
		WHERE action = '' AND deadline IS NOT NULL AND deadline < ?
		ORDER BY deadline ASC
		LIMIT ?
	`, assignmentColumns)
	return r.list(ctx, query, now, limit)
}

// CountOpenByAssignee counts a user's open assignments, the load metric of
// the LOAD_BALANCED strategy.
func (r *AssignmentRepository) CountOpenByAssignee(ctx context.Context, assigneeID string) (int, error) {
	var count int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE assignee_id = ? AND action = ''`, assigneeID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open assignments: %w", err)
	}
	return count, nil
}

// Update writes the mutable columns of an assignment.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *entity.Assignment) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE assignments SET
			action = ?, acted_at = ?, comment = ?, signature_ref = ?,
			priority = ?, escalation_level = ?, deadline = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		assignment.Action,
		assignment.ActedAt,
		assignment.Comment,
		assignment.SignatureRef,
		assignment.Priority,
		assignment.EscalationLevel,
		assignment.Deadline,
		assignment.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update assignment", zap.Int64("id", assignment.ID), zap.Error(err))
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) list(ctx context.Context, query string, args ...any) ([]*entity.Assignment, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list assignments", zap.Error(err))
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*entity.Assignment
	for rows.Next() {
		assignment, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

func scanAssignment(scan func(dest ...any) error) (*entity.Assignment, error) {
	var (
		assignment entity.Assignment
		actedAt    sql.NullTime
		deadline   sql.NullTime
	)
	err := scan(
		&assignment.ID,
		&assignment.StageInstanceID,
		&assignment.InstanceID,
		&assignment.AssigneeID,
		&assignment.Role,
		&assignment.Requirement,
		&assignment.Action,
		&actedAt,
		&assignment.Comment,
		&assignment.SignatureRef,
		&assignment.Priority,
		&assignment.EscalationLevel,
		&assignment.DelegatedFrom,
		&deadline,
		&assignment.CreatedAt,
		&assignment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if actedAt.Valid {
		assignment.ActedAt = &actedAt.Time
	}
	if deadline.Valid {
		assignment.Deadline = &deadline.Time
	}
	return &assignment, nil
}

// Verify interface compliance
var _ port.AssignmentRepository = (*AssignmentRepository)(nil)
