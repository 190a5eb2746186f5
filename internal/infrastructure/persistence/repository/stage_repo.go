package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/sqlite"
)

// StageRepository implements port.StageRepository with the same version-guard
// discipline as InstanceRepository.
type StageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStageRepository creates a new stage instance repository
func NewStageRepository(db *sql.DB, logger *zap.Logger) port.StageRepository {
	return &StageRepository{
		db:     db,
		logger: logger,
	}
}

const stageColumns = `id, instance_id, stage_number, entry, group_key, status, outcome,
	deadline, hold_remaining_ns, version, entered_at, resolved_at, created_at, updated_at`

// Create persists a new stage instance.
func (r *StageRepository) Create(ctx context.Context, stage *entity.StageInstance) error {
	stage.Version = 1
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO stage_instances (
			instance_id, stage_number, entry, group_key, status, outcome,
			deadline, hold_remaining_ns, version, entered_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		stage.InstanceID,
		stage.StageNumber,
		stage.Entry,
		stage.GroupKey,
		stage.Status,
		stage.Outcome,
		stage.Deadline,
		durationNS(stage.HoldRemaining),
		stage.Version,
		stage.EnteredAt,
		stage.ResolvedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create stage instance", zap.Error(err))
		return fmt.Errorf("failed to create stage instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	stage.ID = id
	return nil
}

// GetByID retrieves a stage instance by ID.
func (r *StageRepository) GetByID(ctx context.Context, id int64) (*entity.StageInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM stage_instances WHERE id = ?`, stageColumns)
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id)
	stage, err := scanStage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get stage instance", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get stage instance: %w", err)
	}
	return stage, nil
}

// GetByInstance retrieves every stage instance of a workflow instance in
// entry order.
func (r *StageRepository) GetByInstance(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM stage_instances
		WHERE instance_id = ?
		ORDER BY id ASC
	`, stageColumns)
	return r.list(ctx, query, instanceID)
}

// GetOpenByInstance retrieves the stage instances still accepting actions.
func (r *StageRepository) GetOpenByInstance(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM stage_instances
		WHERE instance_id = ? AND status IN (?, ?)
		ORDER BY id ASC
	`, stageColumns)
	return r.list(ctx, query, instanceID, entity.StagePending, entity.StageInProgress)
}

// Update writes the full row guarded by the version the caller read.
func (r *StageRepository) Update(ctx context.Context, stage *entity.StageInstance) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE stage_instances SET
			status = ?, outcome = ?, deadline = ?, hold_remaining_ns = ?,
			entered_at = ?, resolved_at = ?,
			version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`,
		stage.Status,
		stage.Outcome,
		stage.Deadline,
		durationNS(stage.HoldRemaining),
		stage.EnteredAt,
		stage.ResolvedAt,
		stage.ID,
		stage.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update stage instance", zap.Int64("id", stage.ID), zap.Error(err))
		return fmt.Errorf("failed to update stage instance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("stage instance %d version %d: %w", stage.ID, stage.Version, workflow.ErrVersionConflict)
	}
	stage.Version++
	return nil
}

func (r *StageRepository) list(ctx context.Context, query string, args ...any) ([]*entity.StageInstance, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list stage instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list stage instances: %w", err)
	}
	defer rows.Close()

	var stages []*entity.StageInstance
	for rows.Next() {
		stage, err := scanStage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage instance: %w", err)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

func scanStage(scan func(dest ...any) error) (*entity.StageInstance, error) {
	var (
		stage         entity.StageInstance
		deadline      sql.NullTime
		holdRemaining sql.NullInt64
		enteredAt     sql.NullTime
		resolvedAt    sql.NullTime
	)
	err := scan(
		&stage.ID,
		&stage.InstanceID,
		&stage.StageNumber,
		&stage.Entry,
		&stage.GroupKey,
		&stage.Status,
		&stage.Outcome,
		&deadline,
		&holdRemaining,
		&stage.Version,
		&enteredAt,
		&resolvedAt,
		&stage.CreatedAt,
		&stage.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deadline.Valid {
		stage.Deadline = &deadline.Time
	}
	if holdRemaining.Valid {
		d := time.Duration(holdRemaining.Int64)
		stage.HoldRemaining = &d
	}
	if enteredAt.Valid {
		stage.EnteredAt = &enteredAt.Time
	}
	if resolvedAt.Valid {
		stage.ResolvedAt = &resolvedAt.Time
	}
	return &stage, nil
}

// Verify interface compliance
var _ port.StageRepository = (*StageRepository)(nil)
