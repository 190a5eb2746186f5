package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stagecraft/approvalflow/internal/application/dispatcher"
	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/event"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// DelegateRequest transfers one open assignment to another user.
type DelegateRequest struct {
	AssignmentID int64
	ToUserID     string
	ActorID      string
	Reason       string
	ExpiresAt    *time.Time
}

// DelegationService handles authority transfer on open assignments. A
// delegation consumes the original assignment and creates a successor for
// the delegate; chains are cycle-free and bounded in depth.
type DelegationService interface {
	Delegate(ctx context.Context, req DelegateRequest) (*entity.Assignment, error)
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.Delegation, error)
}

type delegationServiceImpl struct {
	assignmentRepo port.AssignmentRepository
	stageRepo      port.StageRepository
	instanceRepo   port.InstanceRepository
	delegationRepo port.DelegationRepository
	outboxRepo     port.NotificationRepository
	history        HistoryService
	txManager      port.TransactionManager
	events         dispatcher.Dispatcher
	logger         Logger
}

// NewDelegationService creates a new DelegationService.
func NewDelegationService(
	assignmentRepo port.AssignmentRepository,
	stageRepo port.StageRepository,
	instanceRepo port.InstanceRepository,
	delegationRepo port.DelegationRepository,
	outboxRepo port.NotificationRepository,
	history HistoryService,
	txManager port.TransactionManager,
	events dispatcher.Dispatcher,
	logger Logger,
) DelegationService {
	return &delegationServiceImpl{
		assignmentRepo: assignmentRepo,
		stageRepo:      stageRepo,
		instanceRepo:   instanceRepo,
		delegationRepo: delegationRepo,
		outboxRepo:     outboxRepo,
		history:        history,
		txManager:      txManager,
		events:         events,
		logger:         logger,
	}
}

// Delegate marks the original assignment DELEGATED and creates a successor
// assignment for the delegate, inheriting requirement, priority, escalation
// level, and deadline. The delegate's vote counts exactly as the original
// assignee's would have.
func (s *delegationServiceImpl) Delegate(ctx context.Context, req DelegateRequest) (*entity.Assignment, error) {
	if req.ToUserID == "" {
		return nil, fmt.Errorf("delegate user is required")
	}
	if req.ActorID == "" {
		return nil, fmt.Errorf("acting user is required")
	}
	if req.ToUserID == req.ActorID {
		return nil, fmt.Errorf("cannot delegate to self: %w", workflow.ErrDelegationCycle)
	}

	var (
		delegate *entity.Assignment
		evt      *event.Event
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		original, err := s.assignmentRepo.GetByID(txCtx, req.AssignmentID)
		if err != nil {
			return fmt.Errorf("load assignment: %w", err)
		}
		if original == nil {
			return fmt.Errorf("assignment %d: %w", req.AssignmentID, workflow.ErrAssignmentNotFound)
		}
		if !original.Open() {
			return fmt.Errorf("assignment %d already %s: %w", original.ID, original.Action, workflow.ErrAlreadyActed)
		}
		if req.ActorID != original.AssigneeID {
			return fmt.Errorf("user %s on assignment %d: %w", req.ActorID, original.ID, workflow.ErrNotAssigned)
		}

		instance, err := s.instanceRepo.GetByID(txCtx, original.InstanceID)
		if err != nil {
			return fmt.Errorf("load instance: %w", err)
		}
		if instance == nil {
			return fmt.Errorf("instance %d: %w", original.InstanceID, workflow.ErrInstanceNotFound)
		}
		if instance.Status != entity.InstanceInProgress {
			return fmt.Errorf("instance %d is %s: %w", instance.ID, instance.Status, workflow.ErrInvalidTransition)
		}

		stage, err := s.stageRepo.GetByID(txCtx, original.StageInstanceID)
		if err != nil {
			return fmt.Errorf("load stage instance: %w", err)
		}
		if stage == nil || stage.Status != entity.StageInProgress {
			return fmt.Errorf("stage instance %d: %w", original.StageInstanceID, workflow.ErrStageNotOpen)
		}

		if err := s.checkChain(txCtx, original, req.ToUserID); err != nil {
			return err
		}

		now := time.Now()
		delegate = &entity.Assignment{
			StageInstanceID: original.StageInstanceID,
			InstanceID:      original.InstanceID,
			AssigneeID:      req.ToUserID,
			Role:            original.Role,
			Requirement:     original.Requirement,
			Priority:        original.Priority,
			EscalationLevel: original.EscalationLevel,
			DelegatedFrom:   original.ID,
			Deadline:        original.Deadline,
		}
		if err := s.assignmentRepo.Create(txCtx, delegate); err != nil {
			return fmt.Errorf("create delegate assignment: %w", err)
		}

		original.Action = entity.ActionDelegated
		original.ActedAt = &now
		original.Comment = req.Reason
		if err := s.assignmentRepo.Update(txCtx, original); err != nil {
			return fmt.Errorf("consume original assignment: %w", err)
		}

		record := &entity.Delegation{
			InstanceID:           original.InstanceID,
			OriginalAssignmentID: original.ID,
			DelegateAssignmentID: delegate.ID,
			FromUserID:           original.AssigneeID,
			ToUserID:             req.ToUserID,
			Reason:               req.Reason,
			ExpiresAt:            req.ExpiresAt,
		}
		if err := s.delegationRepo.Create(txCtx, record); err != nil {
			return fmt.Errorf("record delegation: %w", err)
		}

		if _, err := s.history.Record(txCtx, HistoryRecord{
			InstanceID:  original.InstanceID,
			ActorID:     req.ActorID,
			EventType:   event.TypeAssignmentDelegated.String(),
			StageNumber: stage.StageNumber,
			Before:      original.AssigneeID,
			After:       req.ToUserID,
			Detail:      req.Reason,
		}); err != nil {
			return err
		}

		if s.outboxRepo != nil {
			n := &entity.Notification{
				InstanceID:   original.InstanceID,
				AssignmentID: delegate.ID,
				RecipientID:  req.ToUserID,
				Kind:         entity.NotificationTaskDelegated,
				Subject:      fmt.Sprintf("Task delegated to you by %s", original.AssigneeID),
				Status:       entity.NotificationPending,
			}
			if err := s.outboxRepo.Create(txCtx, n); err != nil {
				return fmt.Errorf("queue notification: %w", err)
			}
		}

		evt = event.NewEvent(event.TypeAssignmentDelegated, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
			"original_assignment_id": original.ID,
			"delegate_assignment_id": delegate.ID,
			"from_user_id":           original.AssigneeID,
			"to_user_id":             req.ToUserID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.events != nil && evt != nil {
		s.events.DispatchAsync(ctx, evt)
	}
	return delegate, nil
}

// checkChain walks the delegation chain back to its origin and rejects
// delegations that would exceed the depth bound or hand the task back to
// anyone already in the chain.
func (s *delegationServiceImpl) checkChain(ctx context.Context, from *entity.Assignment, toUserID string) error {
	seen := map[string]bool{from.AssigneeID: true}
	depth := 1
	cur := from
	for cur.DelegatedFrom != 0 {
		parent, err := s.assignmentRepo.GetByID(ctx, cur.DelegatedFrom)
		if err != nil {
			return fmt.Errorf("walk delegation chain: %w", err)
		}
		if parent == nil {
			break
		}
		seen[parent.AssigneeID] = true
		depth++
		cur = parent
	}
	if depth >= entity.MaxDelegationDepth {
		return fmt.Errorf("chain depth %d: %w", depth, workflow.ErrDelegationDepth)
	}
	if seen[toUserID] {
		return fmt.Errorf("user %s already in chain: %w", toUserID, workflow.ErrDelegationCycle)
	}
	return nil
}

// ListByInstance returns every delegation recorded against an instance.
func (s *delegationServiceImpl) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.Delegation, error) {
	return s.delegationRepo.ListByInstance(ctx, instanceID)
}

var _ DelegationService = (*delegationServiceImpl)(nil)
