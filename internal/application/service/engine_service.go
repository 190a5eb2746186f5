package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	appworkflow "github.com/stagecraft/approvalflow/internal/application/workflow"

	"github.com/stagecraft/approvalflow/internal/application/dispatcher"
	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/event"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// StartRequest carries everything needed to put a business entity under
// approval.
type StartRequest struct {
	DefinitionID int64
	EntityType   string
	EntityID     string
	StartedBy    string
	Context      map[string]any
}

// ActionRequest is one actor's vote against one assignment.
type ActionRequest struct {
	AssignmentID int64
	Action       entity.Action
	ActorID      string
	Comment      string
	SignatureRef string
}

// ActionResult reports what a recorded action did to the stage and the
// instance. StageDecided false means the stage is still collecting votes.
type ActionResult struct {
	InstanceID      int64                 `json:"instance_id"`
	StageInstanceID int64                 `json:"stage_instance_id"`
	StageDecided    bool                  `json:"stage_decided"`
	StageOutcome    entity.Outcome        `json:"stage_outcome,omitempty"`
	InstanceStatus  entity.InstanceStatus `json:"instance_status"`
	CurrentStage    int                   `json:"current_stage"`
}

// EngineService is the instance manager: the one component allowed to
// mutate workflow state. It drives the instance and stage lifecycle graphs,
// calls the resolver, the voting evaluator, and the routing rules in
// sequence, and records every transition in the audit chain inside the same
// transaction. Collaborator ports never call back into it.
type EngineService interface {
	StartInstance(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error)
	RecordAction(ctx context.Context, req ActionRequest) (*ActionResult, error)
	Cancel(ctx context.Context, instanceID int64, actorID, reason string) error
	Hold(ctx context.Context, instanceID int64, actorID, reason string) error
	Resume(ctx context.Context, instanceID int64, actorID string) error
	GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	GetInstanceStages(ctx context.Context, id int64) ([]*entity.StageInstance, error)
	ListInstances(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error)
}

// EngineConfig tunes the engine's retry behaviour.
type EngineConfig struct {
	// MaxActionRetries bounds how often a conflicted RecordAction is
	// re-evaluated against fresh state before the conflict surfaces.
	MaxActionRetries int
}

type engineServiceImpl struct {
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	stageRepo      port.StageRepository
	assignmentRepo port.AssignmentRepository
	delegationRepo port.DelegationRepository
	outboxRepo     port.NotificationRepository
	resolver       AssignmentResolver
	history        HistoryService
	txManager      port.TransactionManager
	entities       port.EntityResolver
	signatures     port.SignatureCapture
	events         dispatcher.Dispatcher
	logger         Logger
	cfg            EngineConfig
}

// EngineDeps bundles the engine's collaborators; the list is long enough
// that positional construction invites wiring mistakes.
type EngineDeps struct {
	DefinitionRepo port.DefinitionRepository
	InstanceRepo   port.InstanceRepository
	StageRepo      port.StageRepository
	AssignmentRepo port.AssignmentRepository
	DelegationRepo port.DelegationRepository
	OutboxRepo     port.NotificationRepository
	Resolver       AssignmentResolver
	History        HistoryService
	TxManager      port.TransactionManager
	Entities       port.EntityResolver
	Signatures     port.SignatureCapture
	Events         dispatcher.Dispatcher
	Logger         Logger
}

// NewEngineService creates the instance manager.
func NewEngineService(deps EngineDeps, cfg EngineConfig) EngineService {
	if cfg.MaxActionRetries <= 0 {
		cfg.MaxActionRetries = 3
	}
	return &engineServiceImpl{
		definitionRepo: deps.DefinitionRepo,
		instanceRepo:   deps.InstanceRepo,
		stageRepo:      deps.StageRepo,
		assignmentRepo: deps.AssignmentRepo,
		delegationRepo: deps.DelegationRepo,
		outboxRepo:     deps.OutboxRepo,
		resolver:       deps.Resolver,
		history:        deps.History,
		txManager:      deps.TxManager,
		entities:       deps.Entities,
		signatures:     deps.Signatures,
		events:         deps.Events,
		logger:         deps.Logger,
		cfg:            cfg,
	}
}

// txOutcome accumulates what a transaction decided, so events, callbacks,
// and sentinel results are emitted only after the commit succeeded.
type txOutcome struct {
	events     []*event.Event
	held       bool
	terminal   entity.InstanceStatus
	outcome    entity.Outcome
	entityType string
	entityID   string
}

func (o *txOutcome) emit(evt *event.Event) {
	o.events = append(o.events, evt)
}

// StartInstance validates the definition, creates the instance, and enters
// the first stage. An empty candidate pool parks the new instance ON_HOLD
// and returns ErrNoEligibleAssignees after the hold has been committed; the
// engine never silently auto-completes a stage nobody can act on.
func (s *engineServiceImpl) StartInstance(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error) {
	if req.EntityType == "" || req.EntityID == "" {
		return nil, fmt.Errorf("entity reference is required")
	}
	if req.StartedBy == "" {
		return nil, fmt.Errorf("starting actor is required")
	}

	def, err := s.loadDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, fmt.Errorf("definition %d: %w", def.ID, workflow.ErrDefinitionInactive)
	}

	var (
		instance *entity.WorkflowInstance
		outcome  txOutcome
	)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		open, err := s.instanceRepo.GetOpenByEntity(txCtx, req.EntityType, req.EntityID)
		if err != nil {
			return fmt.Errorf("check open instance: %w", err)
		}
		if open != nil {
			return fmt.Errorf("entity %s/%s already has open instance %d", req.EntityType, req.EntityID, open.ID)
		}

		instance = &entity.WorkflowInstance{
			DefinitionID: def.ID,
			EntityType:   req.EntityType,
			EntityID:     req.EntityID,
			Status:       entity.InstanceCreated,
			Context:      req.Context,
			StartedBy:    req.StartedBy,
			StartedAt:    time.Now(),
		}
		if err := s.instanceRepo.Create(txCtx, instance); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}

		if err := s.fireInstance(txCtx, instance, workflow.TriggerStart, entity.InstanceInProgress); err != nil {
			return err
		}
		if _, err := s.history.Record(txCtx, HistoryRecord{
			InstanceID: instance.ID,
			ActorID:    req.StartedBy,
			EventType:  event.TypeInstanceStarted.String(),
			Before:     entity.InstanceCreated,
			After:      entity.InstanceInProgress,
			Detail:     fmt.Sprintf("definition %s v%d", def.Name, def.Version),
		}); err != nil {
			return err
		}
		outcome.emit(event.NewEvent(event.TypeInstanceStarted, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
			"definition_id": def.ID,
			"started_by":    req.StartedBy,
		}))

		if err := s.enterStage(txCtx, instance, def, def.FirstStage().StageNumber, &outcome); err != nil {
			return err
		}
		return s.instanceRepo.Update(txCtx, instance)
	})
	if err != nil {
		return nil, err
	}

	s.dispatchAll(ctx, &outcome, instance)
	if outcome.held {
		return instance, fmt.Errorf("instance %d parked on hold: %w", instance.ID, workflow.ErrNoEligibleAssignees)
	}
	return instance, nil
}

// RecordAction records a vote and advances the workflow as far as that vote
// carries it. Optimistic version conflicts are retried against fresh state
// up to the configured bound; every retry re-runs the full validate,
// evaluate, and write sequence, never a blind overwrite.
func (s *engineServiceImpl) RecordAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	if !req.Action.IsVote() {
		return nil, fmt.Errorf("action %q cannot be recorded directly", req.Action)
	}
	if req.ActorID == "" {
		return nil, fmt.Errorf("acting user is required")
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxActionRetries; attempt++ {
		result, outcome, err := s.recordActionOnce(ctx, req)
		if err == nil {
			s.dispatchAll(ctx, outcome, nil)
			s.fireTerminalCallbacks(ctx, outcome, result)
			return result, nil
		}
		if !errors.Is(err, workflow.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Info("Concurrent update detected, re-evaluating action",
			"assignment_id", req.AssignmentID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("record action on assignment %d: %w", req.AssignmentID, lastErr)
}

// Cancel terminates an instance from any non-terminal state. Cancellation is
// unconditional; it does not wait for in-flight actions, and the optimistic
// version discipline keeps the two from interleaving inconsistently.
func (s *engineServiceImpl) Cancel(ctx context.Context, instanceID int64, actorID, reason string) error {
	if reason == "" {
		return fmt.Errorf("cancellation requires a reason")
	}

	var outcome txOutcome
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		instance, err := s.loadInstance(txCtx, instanceID)
		if err != nil {
			return err
		}
		prev := instance.Status
		if err := s.fireInstance(txCtx, instance, workflow.TriggerCancel, entity.InstanceCancelled); err != nil {
			return err
		}

		if err := s.closeOpenStages(txCtx, instance, workflow.TriggerSkip, entity.StageSkipped, entity.ActionSkipped); err != nil {
			return err
		}

		now := time.Now()
		instance.CompletedAt = &now
		if _, err := s.history.Record(txCtx, HistoryRecord{
			InstanceID: instance.ID,
			ActorID:    actorID,
			EventType:  event.TypeInstanceCancelled.String(),
			Before:     prev,
			After:      entity.InstanceCancelled,
			Detail:     reason,
		}); err != nil {
			return err
		}
		outcome.emit(event.NewEvent(event.TypeInstanceCancelled, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
			"actor_id": actorID,
			"reason":   reason,
		}))
		return s.instanceRepo.Update(txCtx, instance)
	})
	if err != nil {
		return err
	}
	s.dispatchAll(ctx, &outcome, nil)
	return nil
}

// Hold suspends an IN_PROGRESS instance. Deadlines of open stages are
// frozen as remaining durations, so time spent on hold never counts against
// the assignees.
func (s *engineServiceImpl) Hold(ctx context.Context, instanceID int64, actorID, reason string) error {
	var outcome txOutcome
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		instance, err := s.loadInstance(txCtx, instanceID)
		if err != nil {
			return err
		}
		if err := s.fireInstance(txCtx, instance, workflow.TriggerHold, entity.InstanceOnHold); err != nil {
			return err
		}
		instance.HoldReason = reason

		now := time.Now()
		stages, err := s.stageRepo.GetOpenByInstance(txCtx, instance.ID)
		if err != nil {
			return fmt.Errorf("load open stages: %w", err)
		}
		for _, st := range stages {
			if st.Deadline != nil {
				remaining := st.Deadline.Sub(now)
				if remaining < 0 {
					remaining = 0
				}
				st.HoldRemaining = &remaining
				st.Deadline = nil
				if err := s.stageRepo.Update(txCtx, st); err != nil {
					return err
				}
			}
		}

		if _, err := s.history.Record(txCtx, HistoryRecord{
			InstanceID: instance.ID,
			ActorID:    actorID,
			EventType:  event.TypeInstanceHeld.String(),
			Before:     entity.InstanceInProgress,
			After:      entity.InstanceOnHold,
			Detail:     reason,
		}); err != nil {
			return err
		}
		outcome.emit(event.NewEvent(event.TypeInstanceHeld, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
			"actor_id": actorID,
			"reason":   reason,
		}))
		return s.instanceRepo.Update(txCtx, instance)
	})
	if err != nil {
		return err
	}
	s.dispatchAll(ctx, &outcome, nil)
	return nil
}

// Resume lifts a hold. Frozen deadlines restart from the resume point with
// their remaining duration, and an instance that was held because its stage
// had no eligible assignees re-attempts stage entry against the current
// candidate pool.
func (s *engineServiceImpl) Resume(ctx context.Context, instanceID int64, actorID string) error {
	var outcome txOutcome
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		instance, err := s.loadInstance(txCtx, instanceID)
		if err != nil {
			return err
		}
		if instance.Status != entity.InstanceOnHold {
			return fmt.Errorf("instance %d: %w", instance.ID, workflow.ErrInstanceNotHeld)
		}
		if err := s.fireInstance(txCtx, instance, workflow.TriggerResume, entity.InstanceInProgress); err != nil {
			return err
		}
		instance.HoldReason = ""

		now := time.Now()
		stages, err := s.stageRepo.GetOpenByInstance(txCtx, instance.ID)
		if err != nil {
			return fmt.Errorf("load open stages: %w", err)
		}
		for _, st := range stages {
			if st.HoldRemaining == nil {
				continue
			}
			deadline := now.Add(*st.HoldRemaining)
			st.Deadline = &deadline
			st.HoldRemaining = nil
			if err := s.stageRepo.Update(txCtx, st); err != nil {
				return err
			}
			if err := s.refreshAssignmentDeadlines(txCtx, st.ID, &deadline); err != nil {
				return err
			}
		}

		if _, err := s.history.Record(txCtx, HistoryRecord{
			InstanceID: instance.ID,
			ActorID:    actorID,
			EventType:  event.TypeInstanceResumed.String(),
			Before:     entity.InstanceOnHold,
			After:      entity.InstanceInProgress,
		}); err != nil {
			return err
		}
		outcome.emit(event.NewEvent(event.TypeInstanceResumed, instance.ID, instance.EntityType, instance.EntityID, nil))

		// A hold caused by an empty pool or a failed stage left no open
		// stage behind; re-enter the current stage so work can restart.
		if len(stages) == 0 {
			def, err := s.loadDefinition(txCtx, instance.DefinitionID)
			if err != nil {
				return err
			}
			if err := s.enterStage(txCtx, instance, def, instance.CurrentStage, &outcome); err != nil {
				return err
			}
		}
		return s.instanceRepo.Update(txCtx, instance)
	})
	if err != nil {
		return err
	}
	s.dispatchAll(ctx, &outcome, nil)
	if outcome.held {
		return fmt.Errorf("instance %d still on hold: %w", instanceID, workflow.ErrNoEligibleAssignees)
	}
	return nil
}

// GetInstance returns one instance by ID.
func (s *engineServiceImpl) GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	return s.loadInstanceAllowTerminal(ctx, id)
}

// GetInstanceStages returns every stage instance the workflow has entered,
// in entry order.
func (s *engineServiceImpl) GetInstanceStages(ctx context.Context, id int64) ([]*entity.StageInstance, error) {
	if _, err := s.loadInstanceAllowTerminal(ctx, id); err != nil {
		return nil, err
	}
	return s.stageRepo.GetByInstance(ctx, id)
}

// ListInstances returns instances matching the filter.
func (s *engineServiceImpl) ListInstances(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	return s.instanceRepo.List(ctx, filter)
}

func (s *engineServiceImpl) loadDefinition(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	def, err := s.definitionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("definition %d: %w", id, workflow.ErrDefinitionNotFound)
	}
	return def, nil
}

// loadInstance loads a non-terminal instance for mutation.
func (s *engineServiceImpl) loadInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	instance, err := s.loadInstanceAllowTerminal(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance.Status.IsTerminal() {
		return nil, fmt.Errorf("instance %d is %s: %w", id, instance.Status, workflow.ErrInstanceTerminal)
	}
	return instance, nil
}

func (s *engineServiceImpl) loadInstanceAllowTerminal(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	instance, err := s.instanceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if instance == nil {
		return nil, fmt.Errorf("instance %d: %w", id, workflow.ErrInstanceNotFound)
	}
	return instance, nil
}

// fireInstance validates the transition against the instance lifecycle
// graph before applying it to the entity.
func (s *engineServiceImpl) fireInstance(ctx context.Context, instance *entity.WorkflowInstance, trigger workflow.Trigger, to entity.InstanceStatus) error {
	machine, err := appworkflow.InstanceMachineFor(instance.Status.String())
	if err != nil {
		return fmt.Errorf("instance %d status %q: %w", instance.ID, instance.Status, err)
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("instance %d: %w", instance.ID, err)
	}
	instance.Status = to
	return nil
}

// fireStage validates the transition against the stage lifecycle graph
// before applying it to the entity.
func (s *engineServiceImpl) fireStage(ctx context.Context, stage *entity.StageInstance, trigger workflow.Trigger, to entity.StageStatus) error {
	machine, err := appworkflow.StageMachineFor(stage.Status.String())
	if err != nil {
		return fmt.Errorf("stage %d status %q: %w", stage.ID, stage.Status, err)
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("stage %d: %w", stage.ID, err)
	}
	stage.Status = to
	return nil
}

func (s *engineServiceImpl) dispatchAll(ctx context.Context, outcome *txOutcome, _ *entity.WorkflowInstance) {
	if s.events == nil || outcome == nil {
		return
	}
	for _, evt := range outcome.events {
		s.events.DispatchAsync(ctx, evt)
	}
}

// fireTerminalCallbacks informs the owning business record after a terminal
// outcome committed. Callback failures are logged, not propagated; the
// workflow decision is already durable.
func (s *engineServiceImpl) fireTerminalCallbacks(ctx context.Context, outcome *txOutcome, result *ActionResult) {
	if s.entities == nil || outcome == nil || result == nil {
		return
	}
	switch outcome.terminal {
	case entity.InstanceCompleted:
		if err := s.entities.OnInstanceCompleted(ctx, outcome.entityType, outcome.entityID); err != nil {
			s.logger.Error("Entity completion callback failed", "instance_id", result.InstanceID, "error", err)
		}
	case entity.InstanceRejected:
		if err := s.entities.OnInstanceRejected(ctx, outcome.entityType, outcome.entityID, outcome.outcome); err != nil {
			s.logger.Error("Entity rejection callback failed", "instance_id", result.InstanceID, "error", err)
		}
	}
}

var _ EngineService = (*engineServiceImpl)(nil)
