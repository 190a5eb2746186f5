package service

import (
	"context"
	"fmt"
	"time"

	appworkflow "github.com/stagecraft/approvalflow/internal/application/workflow"

	"github.com/stagecraft/approvalflow/internal/application/dispatcher"
	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/event"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// EscalationReport summarizes one sweep over overdue assignments.
type EscalationReport struct {
	Checked    int `json:"checked"`
	Reassigned int `json:"reassigned"`
	Raised     int `json:"raised"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// EscalationService sweeps overdue assignments and applies each stage's
// escalation policy. The sweep is idempotent: every escalation consumes the
// overdue assignment, so a second pass over the same data finds nothing to
// do. Escalation moves responsibility, it never approves or rejects.
type EscalationService interface {
	CheckEscalations(ctx context.Context) (*EscalationReport, error)
}

type escalationServiceImpl struct {
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	stageRepo      port.StageRepository
	assignmentRepo port.AssignmentRepository
	outboxRepo     port.NotificationRepository
	entities       port.EntityResolver
	history        HistoryService
	txManager      port.TransactionManager
	events         dispatcher.Dispatcher
	logger         Logger
	batchSize      int
}

// NewEscalationService creates a new EscalationService. batchSize bounds how
// many overdue assignments one sweep handles.
func NewEscalationService(
	definitionRepo port.DefinitionRepository,
	instanceRepo port.InstanceRepository,
	stageRepo port.StageRepository,
	assignmentRepo port.AssignmentRepository,
	outboxRepo port.NotificationRepository,
	entities port.EntityResolver,
	history HistoryService,
	txManager port.TransactionManager,
	events dispatcher.Dispatcher,
	logger Logger,
	batchSize int,
) EscalationService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &escalationServiceImpl{
		definitionRepo: definitionRepo,
		instanceRepo:   instanceRepo,
		stageRepo:      stageRepo,
		assignmentRepo: assignmentRepo,
		outboxRepo:     outboxRepo,
		entities:       entities,
		history:        history,
		txManager:      txManager,
		events:         events,
		logger:         logger,
		batchSize:      batchSize,
	}
}

// CheckEscalations finds overdue open assignments and escalates each in its
// own transaction, so one bad record never blocks the rest of the sweep.
func (s *escalationServiceImpl) CheckEscalations(ctx context.Context) (*EscalationReport, error) {
	now := time.Now()
	overdue, err := s.assignmentRepo.GetOverdue(ctx, now, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("load overdue assignments: %w", err)
	}

	report := &EscalationReport{}
	for _, candidate := range overdue {
		report.Checked++
		evts, err := s.escalateOne(ctx, candidate.ID, now, report)
		if err != nil {
			report.Errors++
			s.logger.Error("Escalation failed", "assignment_id", candidate.ID, "error", err)
			continue
		}
		for _, evt := range evts {
			if s.events != nil {
				s.events.DispatchAsync(ctx, evt)
			}
		}
	}
	return report, nil
}

// escalateOne reloads the assignment inside a transaction and applies its
// stage's policy. Reload and recheck make the sweep safe to run concurrently
// with user actions: an assignment acted on since the overdue query simply
// skips.
func (s *escalationServiceImpl) escalateOne(ctx context.Context, assignmentID int64, now time.Time, report *EscalationReport) ([]*event.Event, error) {
	var evts []*event.Event
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		assignment, err := s.assignmentRepo.GetByID(txCtx, assignmentID)
		if err != nil {
			return fmt.Errorf("load assignment: %w", err)
		}
		if assignment == nil || !assignment.Open() || assignment.Deadline == nil || assignment.Deadline.After(now) {
			report.Skipped++
			return nil
		}

		stage, err := s.stageRepo.GetByID(txCtx, assignment.StageInstanceID)
		if err != nil {
			return fmt.Errorf("load stage instance: %w", err)
		}
		if stage == nil || stage.Status != entity.StageInProgress {
			report.Skipped++
			return nil
		}

		instance, err := s.instanceRepo.GetByID(txCtx, assignment.InstanceID)
		if err != nil {
			return fmt.Errorf("load instance: %w", err)
		}
		// Held instances froze their deadlines; an overdue row here means
		// the hold landed between the query and this transaction.
		if instance == nil || instance.Status != entity.InstanceInProgress {
			report.Skipped++
			return nil
		}

		def, err := s.definitionRepo.GetByID(txCtx, instance.DefinitionID)
		if err != nil {
			return fmt.Errorf("load definition: %w", err)
		}
		if def == nil {
			return fmt.Errorf("definition %d: %w", instance.DefinitionID, workflow.ErrDefinitionNotFound)
		}
		sd := def.Stage(stage.StageNumber)
		if sd == nil {
			return fmt.Errorf("definition %d has no stage %d", def.ID, stage.StageNumber)
		}

		policy := sd.Escalation
		switch {
		case policy == nil:
			evts, err = s.failStage(txCtx, instance, stage, now, workflow.ErrNoEscalationPolicy.Error())
			if err == nil {
				report.Failed++
			}
			return err
		case policy.FailStage:
			evts, err = s.failStage(txCtx, instance, stage, now, "escalation policy: fail stage")
			if err == nil {
				report.Failed++
			}
			return err
		case policy.ReassignToRole != "":
			evts, err = s.reassign(txCtx, instance, stage, sd, assignment, policy.ReassignToRole, now)
			if err == nil {
				report.Reassigned++
			}
			return err
		case policy.RaisePriority:
			evts, err = s.raisePriority(txCtx, instance, stage, sd, assignment, now)
			if err == nil {
				report.Raised++
			}
			return err
		default:
			report.Skipped++
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return evts, nil
}

// reassign consumes the overdue assignment and creates fresh ones for the
// members of the supervisor role, one escalation level up. An empty role
// falls back to failing the stage; silently dropping the task would stall
// the instance with nobody responsible.
func (s *escalationServiceImpl) reassign(ctx context.Context, instance *entity.WorkflowInstance, stage *entity.StageInstance, sd *entity.StageDefinition, assignment *entity.Assignment, role string, now time.Time) ([]*event.Event, error) {
	members, err := s.entities.ResolveRoleMembers(ctx, instance.EntityType, instance.EntityID, role)
	if err != nil {
		return nil, fmt.Errorf("resolve role %s: %w", role, err)
	}
	members = normalizePool(members)
	if len(members) == 0 {
		return s.failStage(ctx, instance, stage, now, fmt.Sprintf("escalation role %s has no members", role))
	}

	if err := s.consume(ctx, assignment, now); err != nil {
		return nil, err
	}

	var deadline *time.Time
	if sd.Deadline > 0 {
		d := now.Add(sd.Deadline)
		deadline = &d
		stage.Deadline = &d
	}
	if err := s.stageRepo.Update(ctx, stage); err != nil {
		return nil, err
	}

	assignees := make([]string, 0, len(members))
	for _, m := range members {
		successor := &entity.Assignment{
			StageInstanceID: stage.ID,
			InstanceID:      instance.ID,
			AssigneeID:      m.UserID,
			Role:            role,
			Requirement:     assignment.Requirement,
			Priority:        assignment.Priority,
			EscalationLevel: assignment.EscalationLevel + 1,
			Deadline:        deadline,
		}
		if err := s.assignmentRepo.Create(ctx, successor); err != nil {
			return nil, fmt.Errorf("create escalated assignment: %w", err)
		}
		assignees = append(assignees, m.UserID)
		if err := s.queueEscalationNotice(ctx, instance, successor.ID, m.UserID,
			fmt.Sprintf("Escalated task: %s stage %d", instance.EntityType, stage.StageNumber)); err != nil {
			return nil, err
		}
	}

	if _, err := s.history.Record(ctx, HistoryRecord{
		InstanceID:  instance.ID,
		ActorID:     "system",
		EventType:   event.TypeAssignmentEscalated.String(),
		StageNumber: stage.StageNumber,
		Before:      assignment.AssigneeID,
		After:       assignees,
		Detail:      fmt.Sprintf("overdue, reassigned to role %s", role),
	}); err != nil {
		return nil, err
	}
	return []*event.Event{event.NewEvent(event.TypeAssignmentEscalated, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
		"assignment_id": assignment.ID,
		"stage_number":  stage.StageNumber,
		"role":          role,
		"assignees":     assignees,
	})}, nil
}

// raisePriority consumes the overdue assignment and hands the same assignee
// a fresh one at higher priority with a new deadline. Consuming the original
// is what keeps repeated sweeps from raising forever.
func (s *escalationServiceImpl) raisePriority(ctx context.Context, instance *entity.WorkflowInstance, stage *entity.StageInstance, sd *entity.StageDefinition, assignment *entity.Assignment, now time.Time) ([]*event.Event, error) {
	if err := s.consume(ctx, assignment, now); err != nil {
		return nil, err
	}

	var deadline *time.Time
	if sd.Deadline > 0 {
		d := now.Add(sd.Deadline)
		deadline = &d
		stage.Deadline = &d
	}
	if err := s.stageRepo.Update(ctx, stage); err != nil {
		return nil, err
	}

	successor := &entity.Assignment{
		StageInstanceID: stage.ID,
		InstanceID:      instance.ID,
		AssigneeID:      assignment.AssigneeID,
		Role:            assignment.Role,
		Requirement:     assignment.Requirement,
		Priority:        assignment.Priority + 1,
		EscalationLevel: assignment.EscalationLevel + 1,
		Deadline:        deadline,
	}
	if err := s.assignmentRepo.Create(ctx, successor); err != nil {
		return nil, fmt.Errorf("create raised assignment: %w", err)
	}
	if err := s.queueEscalationNotice(ctx, instance, successor.ID, assignment.AssigneeID,
		fmt.Sprintf("Overdue task raised to priority %d", successor.Priority)); err != nil {
		return nil, err
	}

	if _, err := s.history.Record(ctx, HistoryRecord{
		InstanceID:  instance.ID,
		ActorID:     "system",
		EventType:   event.TypeAssignmentEscalated.String(),
		StageNumber: stage.StageNumber,
		Before:      fmt.Sprintf("priority %d", assignment.Priority),
		After:       fmt.Sprintf("priority %d", successor.Priority),
		Detail:      "overdue, priority raised",
	}); err != nil {
		return nil, err
	}
	return []*event.Event{event.NewEvent(event.TypeAssignmentEscalated, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
		"assignment_id": assignment.ID,
		"stage_number":  stage.StageNumber,
		"priority":      successor.Priority,
	})}, nil
}

// failStage marks the stage ESCALATED, closes its open assignments, and
// parks the instance ON_HOLD for an operator to resolve or cancel.
func (s *escalationServiceImpl) failStage(ctx context.Context, instance *entity.WorkflowInstance, stage *entity.StageInstance, now time.Time, reason string) ([]*event.Event, error) {
	open, err := s.assignmentRepo.GetOpenByStageInstance(ctx, stage.ID)
	if err != nil {
		return nil, fmt.Errorf("load open assignments: %w", err)
	}
	for _, a := range open {
		a.Action = entity.ActionEscalated
		a.ActedAt = &now
		if err := s.assignmentRepo.Update(ctx, a); err != nil {
			return nil, err
		}
	}

	machine, err := appworkflow.StageMachineFor(stage.Status.String())
	if err != nil {
		return nil, fmt.Errorf("stage %d status %q: %w", stage.ID, stage.Status, err)
	}
	if err := machine.Fire(ctx, workflow.TriggerEscalate); err != nil {
		return nil, fmt.Errorf("stage %d: %w", stage.ID, err)
	}
	stage.Status = entity.StageEscalated
	if err := s.stageRepo.Update(ctx, stage); err != nil {
		return nil, err
	}

	imachine, err := appworkflow.InstanceMachineFor(instance.Status.String())
	if err != nil {
		return nil, fmt.Errorf("instance %d status %q: %w", instance.ID, instance.Status, err)
	}
	if err := imachine.Fire(ctx, workflow.TriggerHold); err != nil {
		return nil, fmt.Errorf("instance %d: %w", instance.ID, err)
	}
	instance.Status = entity.InstanceOnHold
	instance.HoldReason = reason
	if err := s.instanceRepo.Update(ctx, instance); err != nil {
		return nil, err
	}

	if _, err := s.history.Record(ctx, HistoryRecord{
		InstanceID:  instance.ID,
		ActorID:     "system",
		EventType:   event.TypeInstanceHeld.String(),
		StageNumber: stage.StageNumber,
		Before:      entity.InstanceInProgress,
		After:       entity.InstanceOnHold,
		Detail:      reason,
	}); err != nil {
		return nil, err
	}
	return []*event.Event{event.NewEvent(event.TypeInstanceHeld, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
		"stage_number": stage.StageNumber,
		"reason":       reason,
	})}, nil
}

func (s *escalationServiceImpl) consume(ctx context.Context, assignment *entity.Assignment, now time.Time) error {
	assignment.Action = entity.ActionEscalated
	assignment.ActedAt = &now
	if err := s.assignmentRepo.Update(ctx, assignment); err != nil {
		return fmt.Errorf("consume overdue assignment: %w", err)
	}
	return nil
}

func (s *escalationServiceImpl) queueEscalationNotice(ctx context.Context, instance *entity.WorkflowInstance, assignmentID int64, recipientID, subject string) error {
	if s.outboxRepo == nil {
		return nil
	}
	n := &entity.Notification{
		InstanceID:   instance.ID,
		AssignmentID: assignmentID,
		RecipientID:  recipientID,
		Kind:         entity.NotificationTaskEscalated,
		Subject:      subject,
		Status:       entity.NotificationPending,
	}
	if err := s.outboxRepo.Create(ctx, n); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

var _ EscalationService = (*escalationServiceImpl)(nil)
