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
	"github.com/stagecraft/approvalflow/internal/domain/rule"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/sqlite"
)

// DefinitionRepository implements port.DefinitionRepository. Create persists
// the definition graph (header, stages, routing rules) in one call; reads
// always return the fully assembled graph.
type DefinitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sql.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new definition with its stages and routing rules.
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	exec := sqlite.ExecutorFor(ctx, r.db)

	result, err := exec.ExecContext(ctx, `
		INSERT INTO workflow_definitions (name, version, description, is_template, is_active)
		VALUES (?, ?, ?, ?, ?)
	`,
		def.Name,
		def.Version,
		def.Description,
		def.IsTemplate,
		def.IsActive,
	)
	if err != nil {
		r.logger.Error("Failed to create definition", zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	def.ID = id

	for _, st := range def.Stages {
		st.DefinitionID = id
		var escalation any
		if st.Escalation != nil {
			data, err := json.Marshal(st.Escalation)
			if err != nil {
				return fmt.Errorf("failed to marshal escalation policy: %w", err)
			}
			escalation = string(data)
		}
		stResult, err := exec.ExecContext(ctx, `
			INSERT INTO stage_definitions (
				definition_id, stage_number, name, approval_type, threshold,
				strategy, deadline_ns, requires_signature, escalation
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			st.StageNumber,
			st.Name,
			st.ApprovalType,
			st.Threshold,
			st.Strategy,
			int64(st.Deadline),
			st.RequiresSignature,
			escalation,
		)
		if err != nil {
			return fmt.Errorf("failed to create stage %d: %w", st.StageNumber, err)
		}
		if st.ID, err = stResult.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	for _, rr := range def.Rules {
		rr.DefinitionID = id
		var condition any
		if rr.Condition != nil {
			data, err := json.Marshal(rr.Condition)
			if err != nil {
				return fmt.Errorf("failed to marshal rule condition: %w", err)
			}
			condition = string(data)
		}
		rrResult, err := exec.ExecContext(ctx, `
			INSERT INTO routing_rules (
				definition_id, stage_number, rule_order, name, condition, target_stage, terminal
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			rr.StageNumber,
			rr.Order,
			rr.Name,
			condition,
			rr.TargetStage,
			rr.Terminal,
		)
		if err != nil {
			return fmt.Errorf("failed to create routing rule %q: %w", rr.Name, err)
		}
		if rr.ID, err = rrResult.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	return nil
}

const definitionColumns = `id, name, version, description, is_template, is_active, created_at, updated_at`

// GetByID retrieves a definition with its full graph by ID.
func (r *DefinitionRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM workflow_definitions WHERE id = ?`, definitionColumns)
	return r.getOne(ctx, query, id)
}

// GetByName retrieves the highest version under a name.
func (r *DefinitionRepository) GetByName(ctx context.Context, name string) (*entity.WorkflowDefinition, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM workflow_definitions
		WHERE name = ?
		ORDER BY version DESC
		LIMIT 1
	`, definitionColumns)
	return r.getOne(ctx, query, name)
}

// GetByNameAndVersion retrieves one specific version under a name.
func (r *DefinitionRepository) GetByNameAndVersion(ctx context.Context, name string, version int) (*entity.WorkflowDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM workflow_definitions WHERE name = ? AND version = ?`, definitionColumns)
	return r.getOne(ctx, query, name, version)
}

func (r *DefinitionRepository) getOne(ctx context.Context, query string, args ...any) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&def.ID,
		&def.Name,
		&def.Version,
		&def.Description,
		&def.IsTemplate,
		&def.IsActive,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition", zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	if err := r.loadGraph(ctx, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// List retrieves definitions with pagination, newest first.
func (r *DefinitionRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM workflow_definitions`, definitionColumns)
	args := []any{}
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name ASC, version DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		var def entity.WorkflowDefinition
		err := rows.Scan(
			&def.ID,
			&def.Name,
			&def.Version,
			&def.Description,
			&def.IsTemplate,
			&def.IsActive,
			&def.CreatedAt,
			&def.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, def := range defs {
		if err := r.loadGraph(ctx, def); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// SetActive toggles the active flag of a definition.
func (r *DefinitionRepository) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`UPDATE workflow_definitions SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active, id,
	)
	if err != nil {
		r.logger.Error("Failed to set definition active flag", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to set active flag: %w", err)
	}
	return nil
}

// loadGraph attaches the stages and routing rules of one definition.
func (r *DefinitionRepository) loadGraph(ctx context.Context, def *entity.WorkflowDefinition) error {
	exec := sqlite.ExecutorFor(ctx, r.db)

	stageRows, err := exec.QueryContext(ctx, `
		SELECT id, definition_id, stage_number, name, approval_type, threshold,
			strategy, deadline_ns, requires_signature, escalation
		FROM stage_definitions
		WHERE definition_id = ?
		ORDER BY stage_number ASC
	`, def.ID)
	if err != nil {
		return fmt.Errorf("failed to load stages: %w", err)
	}
	defer stageRows.Close()

	def.Stages = nil
	for stageRows.Next() {
		var (
			st         entity.StageDefinition
			deadlineNS int64
			escalation sql.NullString
		)
		err := stageRows.Scan(
			&st.ID,
			&st.DefinitionID,
			&st.StageNumber,
			&st.Name,
			&st.ApprovalType,
			&st.Threshold,
			&st.Strategy,
			&deadlineNS,
			&st.RequiresSignature,
			&escalation,
		)
		if err != nil {
			return fmt.Errorf("failed to scan stage: %w", err)
		}
		st.Deadline = time.Duration(deadlineNS)
		if escalation.Valid && escalation.String != "" {
			var policy entity.EscalationPolicy
			if err := json.Unmarshal([]byte(escalation.String), &policy); err != nil {
				return fmt.Errorf("failed to unmarshal escalation policy: %w", err)
			}
			st.Escalation = &policy
		}
		def.Stages = append(def.Stages, &st)
	}
	if err := stageRows.Err(); err != nil {
		return err
	}

	ruleRows, err := exec.QueryContext(ctx, `
		SELECT id, definition_id, stage_number, rule_order, name, condition, target_stage, terminal
		FROM routing_rules
		WHERE definition_id = ?
		ORDER BY stage_number ASC, rule_order ASC
	`, def.ID)
	if err != nil {
		return fmt.Errorf("failed to load routing rules: %w", err)
	}
	defer ruleRows.Close()

	def.Rules = nil
	for ruleRows.Next() {
		var (
			rr        entity.RoutingRule
			condition sql.NullString
		)
		err := ruleRows.Scan(
			&rr.ID,
			&rr.DefinitionID,
			&rr.StageNumber,
			&rr.Order,
			&rr.Name,
			&condition,
			&rr.TargetStage,
			&rr.Terminal,
		)
		if err != nil {
			return fmt.Errorf("failed to scan routing rule: %w", err)
		}
		if condition.Valid && condition.String != "" {
			var cond rule.Condition
			if err := json.Unmarshal([]byte(condition.String), &cond); err != nil {
				return fmt.Errorf("failed to unmarshal rule condition: %w", err)
			}
			rr.Condition = &cond
		}
		def.Rules = append(def.Rules, &rr)
	}
	return ruleRows.Err()
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
