package service

import (
	"context"
	"fmt"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// DefinitionService manages workflow definitions. Definitions are versioned
// by name: creating under an existing name yields the next version, and a
// definition any instance has referenced can never change in place.
type DefinitionService interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error)
	Replace(ctx context.Context, id int64, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error)
	Get(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	GetByName(ctx context.Context, name string) (*entity.WorkflowDefinition, error)
	GetVersion(ctx context.Context, name string, version int) (*entity.WorkflowDefinition, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entity.WorkflowDefinition, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type definitionServiceImpl struct {
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	txManager      port.TransactionManager
	logger         Logger
}

// NewDefinitionService creates a new DefinitionService.
func NewDefinitionService(
	definitionRepo port.DefinitionRepository,
	instanceRepo port.InstanceRepository,
	txManager port.TransactionManager,
	logger Logger,
) DefinitionService {
	return &definitionServiceImpl{
		definitionRepo: definitionRepo,
		instanceRepo:   instanceRepo,
		txManager:      txManager,
		logger:         logger,
	}
}

// Create validates and persists a definition. If the name already exists the
// new definition becomes its next version; the previous version keeps its
// active flag, so rollout is an explicit SetActive call.
func (s *definitionServiceImpl) Create(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	if err := s.validate(def); err != nil {
		return nil, err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		latest, err := s.definitionRepo.GetByName(txCtx, def.Name)
		if err != nil {
			return fmt.Errorf("look up definition name: %w", err)
		}
		def.Version = 1
		if latest != nil {
			def.Version = latest.Version + 1
		}
		if err := s.definitionRepo.Create(txCtx, def); err != nil {
			return fmt.Errorf("create definition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Definition created", "name", def.Name, "version", def.Version, "stages", len(def.Stages))
	return def, nil
}

// Replace edits a definition no instance has ever referenced, by creating a
// successor version and deactivating the original. A referenced definition
// is immutable; callers create a new version with Create instead.
func (s *definitionServiceImpl) Replace(ctx context.Context, id int64, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	if err := s.validate(def); err != nil {
		return nil, err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.definitionRepo.GetByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("load definition: %w", err)
		}
		if existing == nil {
			return fmt.Errorf("definition %d: %w", id, workflow.ErrDefinitionNotFound)
		}
		count, err := s.instanceRepo.CountByDefinition(txCtx, id)
		if err != nil {
			return fmt.Errorf("count instances: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("definition %d has %d instances: %w", id, count, workflow.ErrDefinitionImmutable)
		}

		def.Name = existing.Name
		def.Version = existing.Version + 1
		def.IsActive = existing.IsActive
		if err := s.definitionRepo.Create(txCtx, def); err != nil {
			return fmt.Errorf("create replacement version: %w", err)
		}
		return s.definitionRepo.SetActive(txCtx, id, false)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Definition replaced", "name", def.Name, "version", def.Version)
	return def, nil
}

// Get returns one definition by ID with its full stage and rule graph.
func (s *definitionServiceImpl) Get(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	def, err := s.definitionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("definition %d: %w", id, workflow.ErrDefinitionNotFound)
	}
	return def, nil
}

// GetByName returns the latest version under a name.
func (s *definitionServiceImpl) GetByName(ctx context.Context, name string) (*entity.WorkflowDefinition, error) {
	def, err := s.definitionRepo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("definition %q: %w", name, workflow.ErrDefinitionNotFound)
	}
	return def, nil
}

// GetVersion returns one specific version under a name.
func (s *definitionServiceImpl) GetVersion(ctx context.Context, name string, version int) (*entity.WorkflowDefinition, error) {
	def, err := s.definitionRepo.GetByNameAndVersion(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("definition %q v%d: %w", name, version, workflow.ErrDefinitionNotFound)
	}
	return def, nil
}

// List returns definitions, optionally only active ones.
func (s *definitionServiceImpl) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	return s.definitionRepo.List(ctx, activeOnly, limit, offset)
}

// SetActive toggles whether new instances may start from a definition.
// Running instances are unaffected; they finish on the version they started.
func (s *definitionServiceImpl) SetActive(ctx context.Context, id int64, active bool) error {
	def, err := s.definitionRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load definition: %w", err)
	}
	if def == nil {
		return fmt.Errorf("definition %d: %w", id, workflow.ErrDefinitionNotFound)
	}
	return s.definitionRepo.SetActive(ctx, id, active)
}

// validate checks the structural rules plus every routing rule condition.
func (s *definitionServiceImpl) validate(def *entity.WorkflowDefinition) error {
	if def == nil {
		return fmt.Errorf("definition is required")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	for _, r := range def.Rules {
		if r.Condition == nil {
			continue
		}
		if err := r.Condition.Validate(); err != nil {
			return fmt.Errorf("routing rule %q: %v: %w", r.Name, err, workflow.ErrMalformedRule)
		}
	}
	return nil
}

var _ DefinitionService = (*definitionServiceImpl)(nil)
