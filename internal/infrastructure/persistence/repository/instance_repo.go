package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/sqlite"
)

// InstanceRepository implements port.InstanceRepository. Update is guarded by
// the version column: writes carrying a stale version affect zero rows and
// surface ErrVersionConflict.
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, definition_id, entity_type, entity_id, current_stage, status,
	context, deadline, hold_remaining_ns, hold_reason, version,
	started_by, started_at, completed_at, created_at, updated_at`

// Create persists a new workflow instance.
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	var contextJSON any
	if instance.Context != nil {
		data, err := json.Marshal(instance.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal instance context: %w", err)
		}
		contextJSON = string(data)
	}

	instance.Version = 1
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO workflow_instances (
			definition_id, entity_type, entity_id, current_stage, status,
			context, deadline, hold_remaining_ns, hold_reason, version,
			started_by, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		instance.DefinitionID,
		instance.EntityType,
		instance.EntityID,
		instance.CurrentStage,
		instance.Status,
		contextJSON,
		instance.Deadline,
		durationNS(instance.HoldRemaining),
		instance.HoldReason,
		instance.Version,
		instance.StartedBy,
		instance.StartedAt,
		instance.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	instance.ID = id
	return nil
}

// GetByID retrieves a workflow instance by ID.
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM workflow_instances WHERE id = ?`, instanceColumns)
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id)
	instance, err := scanInstance(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// GetOpenByEntity retrieves the non-terminal instance for a business entity,
// or nil when none is open.
func (r *InstanceRepository) GetOpenByEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM workflow_instances
		WHERE entity_type = ? AND entity_id = ?
			AND status NOT IN (?, ?, ?)
		ORDER BY id DESC
		LIMIT 1
	`, instanceColumns)
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query,
		entityType, entityID,
		entity.InstanceCompleted, entity.InstanceRejected, entity.InstanceCancelled,
	)
	instance, err := scanInstance(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get open instance",
			zap.String("entity_type", entityType), zap.String("entity_id", entityID), zap.Error(err))
		return nil, fmt.Errorf("failed to get open instance: %w", err)
	}
	return instance, nil
}

// Update writes the full row guarded by the version the caller read.
func (r *InstanceRepository) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	var contextJSON any
	if instance.Context != nil {
		data, err := json.Marshal(instance.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal instance context: %w", err)
		}
		contextJSON = string(data)
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE workflow_instances SET
			current_stage = ?, status = ?, context = ?, deadline = ?,
			hold_remaining_ns = ?, hold_reason = ?, completed_at = ?,
			version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`,
		instance.CurrentStage,
		instance.Status,
		contextJSON,
		instance.Deadline,
		durationNS(instance.HoldRemaining),
		instance.HoldReason,
		instance.CompletedAt,
		instance.ID,
		instance.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.Int64("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("instance %d version %d: %w", instance.ID, instance.Version, workflow.ErrVersionConflict)
	}
	instance.Version++
	return nil
}

// List retrieves instances matching the filter, newest first.
func (r *InstanceRepository) List(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM workflow_instances WHERE 1 = 1`, instanceColumns)
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, filter.EntityType)
	}
	if filter.StartedBy != "" {
		query += ` AND started_by = ?`
		args = append(args, filter.StartedBy)
	}
	query += ` ORDER BY id DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// CountByDefinition counts the instances ever started from a definition.
func (r *InstanceRepository) CountByDefinition(ctx context.Context, definitionID int64) (int, error) {
	var count int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_instances WHERE definition_id = ?`, definitionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

// scanInstance maps one row onto an instance, handling nullable columns.
func scanInstance(scan func(dest ...any) error) (*entity.WorkflowInstance, error) {
	var (
		instance      entity.WorkflowInstance
		contextJSON   sql.NullString
		deadline      sql.NullTime
		holdRemaining sql.NullInt64
		completedAt   sql.NullTime
	)
	err := scan(
		&instance.ID,
		&instance.DefinitionID,
		&instance.EntityType,
		&instance.EntityID,
		&instance.CurrentStage,
		&instance.Status,
		&contextJSON,
		&deadline,
		&holdRemaining,
		&instance.HoldReason,
		&instance.Version,
		&instance.StartedBy,
		&instance.StartedAt,
		&completedAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &instance.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance context: %w", err)
		}
	}
	if deadline.Valid {
		instance.Deadline = &deadline.Time
	}
	if holdRemaining.Valid {
		d := time.Duration(holdRemaining.Int64)
		instance.HoldRemaining = &d
	}
	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}
	return &instance, nil
}

// durationNS converts an optional duration to its nullable ns column value.
func durationNS(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return int64(*d)
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
