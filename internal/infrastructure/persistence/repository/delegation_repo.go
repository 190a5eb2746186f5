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

// DelegationRepository implements port.DelegationRepository.
type DelegationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDelegationRepository creates a new delegation repository
func NewDelegationRepository(db *sql.DB, logger *zap.Logger) port.DelegationRepository {
	return &DelegationRepository{
		db:     db,
		logger: logger,
	}
}

const delegationColumns = `id, instance_id, original_assignment_id, delegate_assignment_id,
	from_user_id, to_user_id, reason, expires_at, created_at`

// Create persists a new delegation record.
func (r *DelegationRepository) Create(ctx context.Context, delegation *entity.Delegation) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO delegations (
			instance_id, original_assignment_id, delegate_assignment_id,
			from_user_id, to_user_id, reason, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		delegation.InstanceID,
		delegation.OriginalAssignmentID,
		delegation.DelegateAssignmentID,
		delegation.FromUserID,
		delegation.ToUserID,
		delegation.Reason,
		delegation.ExpiresAt,
	)
	if err != nil {
		r.logger.Error("Failed to create delegation", zap.Error(err))
		return fmt.Errorf("failed to create delegation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	delegation.ID = id
	return nil
}

// GetByDelegateAssignment retrieves the delegation that created the given
// assignment, or nil.
func (r *DelegationRepository) GetByDelegateAssignment(ctx context.Context, assignmentID int64) (*entity.Delegation, error) {
	query := fmt.Sprintf(`SELECT %s FROM delegations WHERE delegate_assignment_id = ?`, delegationColumns)
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, assignmentID)
	delegation, err := scanDelegation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get delegation", zap.Int64("assignment_id", assignmentID), zap.Error(err))
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	return delegation, nil
}

// ListByInstance retrieves every delegation recorded against an instance.
func (r *DelegationRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.Delegation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM delegations
		WHERE instance_id = ?
		ORDER BY id ASC
	`, delegationColumns)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to list delegations", zap.Error(err))
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	defer rows.Close()

	var delegations []*entity.Delegation
	for rows.Next() {
		delegation, err := scanDelegation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		delegations = append(delegations, delegation)
	}
	return delegations, rows.Err()
}

func scanDelegation(scan func(dest ...any) error) (*entity.Delegation, error) {
	var (
		delegation entity.Delegation
		expiresAt  sql.NullTime
	)
	err := scan(
		&delegation.ID,
		&delegation.InstanceID,
		&delegation.OriginalAssignmentID,
		&delegation.DelegateAssignmentID,
		&delegation.FromUserID,
		&delegation.ToUserID,
		&delegation.Reason,
		&expiresAt,
		&delegation.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		delegation.ExpiresAt = &expiresAt.Time
	}
	return &delegation, nil
}

// Verify interface compliance
var _ port.DelegationRepository = (*DelegationRepository)(nil)
