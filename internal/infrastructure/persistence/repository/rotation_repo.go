package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/sqlite"
)

// RotationRepository implements port.RotationRepository, the per-stage
// round-robin cursor.
type RotationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRotationRepository creates a new rotation repository
func NewRotationRepository(db *sql.DB, logger *zap.Logger) port.RotationRepository {
	return &RotationRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the rotation cursor of a definition stage, or nil when the
// stage has never assigned.
func (r *RotationRepository) Get(ctx context.Context, definitionID int64, stageNumber int) (*entity.StageRotation, error) {
	var rotation entity.StageRotation
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, `
		SELECT definition_id, stage_number, last_assignee, updated_at
		FROM stage_rotations
		WHERE definition_id = ? AND stage_number = ?
	`, definitionID, stageNumber).Scan(
		&rotation.DefinitionID,
		&rotation.StageNumber,
		&rotation.LastAssignee,
		&rotation.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get rotation cursor",
			zap.Int64("definition_id", definitionID), zap.Int("stage_number", stageNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to get rotation cursor: %w", err)
	}
	return &rotation, nil
}

// Upsert advances the rotation cursor.
func (r *RotationRepository) Upsert(ctx context.Context, rotation *entity.StageRotation) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO stage_rotations (definition_id, stage_number, last_assignee, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (definition_id, stage_number)
		DO UPDATE SET last_assignee = excluded.last_assignee, updated_at = excluded.updated_at
	`,
		rotation.DefinitionID,
		rotation.StageNumber,
		rotation.LastAssignee,
		rotation.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert rotation cursor",
			zap.Int64("definition_id", rotation.DefinitionID), zap.Int("stage_number", rotation.StageNumber), zap.Error(err))
		return fmt.Errorf("failed to upsert rotation cursor: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.RotationRepository = (*RotationRepository)(nil)
