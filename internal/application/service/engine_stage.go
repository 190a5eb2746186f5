package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/event"
	"github.com/stagecraft/approvalflow/internal/domain/voting"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// enterStage creates the stage instance(s) for one definition stage,
// resolves their assignments, and opens them. PARALLEL_ROLE_GROUP creates
// one stage instance per role group; every other strategy creates exactly
// one. An empty candidate pool parks the instance ON_HOLD instead of
// guessing.
func (s *engineServiceImpl) enterStage(ctx context.Context, instance *entity.WorkflowInstance, def *entity.WorkflowDefinition, stageNumber int, outcome *txOutcome) error {
	sd := def.Stage(stageNumber)
	if sd == nil {
		return fmt.Errorf("definition %d has no stage %d: %w", def.ID, stageNumber, workflow.ErrInvalidTransition)
	}
	instance.CurrentStage = stageNumber

	pool, err := s.entities.ResolveCandidatePool(ctx, instance.EntityType, instance.EntityID, sd)
	if err != nil {
		return fmt.Errorf("resolve candidate pool for stage %d: %w", stageNumber, err)
	}

	groups := groupCandidates(sd, pool)
	if len(groups) == 0 {
		return s.holdForEmptyPool(ctx, instance, stageNumber, outcome)
	}

	entry, err := s.nextEntryOrdinal(ctx, instance.ID, stageNumber)
	if err != nil {
		return err
	}

	now := time.Now()
	var deadline *time.Time
	if sd.Deadline > 0 {
		d := now.Add(sd.Deadline)
		deadline = &d
	}

	for _, g := range groups {
		stage := &entity.StageInstance{
			InstanceID:  instance.ID,
			StageNumber: stageNumber,
			Entry:       entry,
			GroupKey:    g.key,
			Status:      entity.StagePending,
		}
		if err := s.stageRepo.Create(ctx, stage); err != nil {
			return fmt.Errorf("create stage instance: %w", err)
		}

		assignments, err := s.resolver.Resolve(ctx, sd, g.pool)
		if err != nil {
			if errors.Is(err, workflow.ErrNoEligibleAssignees) {
				return s.holdForEmptyPool(ctx, instance, stageNumber, outcome)
			}
			return fmt.Errorf("resolve assignments for stage %d: %w", stageNumber, err)
		}

		assignees := make([]string, 0, len(assignments))
		for _, a := range assignments {
			a.StageInstanceID = stage.ID
			a.InstanceID = instance.ID
			a.Deadline = deadline
			if err := s.assignmentRepo.Create(ctx, a); err != nil {
				return fmt.Errorf("create assignment: %w", err)
			}
			assignees = append(assignees, a.AssigneeID)
			if err := s.queueNotification(ctx, instance, a.ID, a.AssigneeID, entity.NotificationTaskAssigned,
				fmt.Sprintf("Approval required: %s stage %d", def.Name, stageNumber)); err != nil {
				return err
			}
		}

		if err := s.fireStage(ctx, stage, workflow.TriggerOpen, entity.StageInProgress); err != nil {
			return err
		}
		stage.EnteredAt = &now
		stage.Deadline = deadline
		if err := s.stageRepo.Update(ctx, stage); err != nil {
			return err
		}

		if _, err := s.history.Record(ctx, HistoryRecord{
			InstanceID:  instance.ID,
			ActorID:     "system",
			EventType:   event.TypeStageEntered.String(),
			StageNumber: stageNumber,
			After:       assignees,
			Detail:      groupDetail(sd, g.key),
		}); err != nil {
			return err
		}
		outcome.emit(event.NewEvent(event.TypeStageEntered, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
			"stage_number": stageNumber,
			"group":        g.key,
			"assignees":    assignees,
		}))
	}
	return nil
}

type candidateGroup struct {
	key  string
	pool []port.Candidate
}

// groupCandidates splits the pool per role for PARALLEL_ROLE_GROUP and
// returns a single unnamed group otherwise. Group order is sorted by role so
// stage instance creation order is stable.
func groupCandidates(sd *entity.StageDefinition, pool []port.Candidate) []candidateGroup {
	eligible := normalizePool(pool)
	if len(eligible) == 0 {
		return nil
	}
	if sd.Strategy != entity.StrategyParallelRoleGroup {
		return []candidateGroup{{pool: eligible}}
	}

	byRole := make(map[string][]port.Candidate)
	for _, c := range eligible {
		byRole[c.Role] = append(byRole[c.Role], c)
	}
	keys := make([]string, 0, len(byRole))
	for k := range byRole {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]candidateGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, candidateGroup{key: k, pool: byRole[k]})
	}
	return groups
}

func groupDetail(sd *entity.StageDefinition, key string) string {
	if sd.Strategy == entity.StrategyParallelRoleGroup {
		return fmt.Sprintf("role group %s", key)
	}
	return ""
}

// holdForEmptyPool parks the instance ON_HOLD because nobody can act on the
// stage. The hold is committed; the caller surfaces ErrNoEligibleAssignees
// afterwards so the operator knows intervention is needed.
func (s *engineServiceImpl) holdForEmptyPool(ctx context.Context, instance *entity.WorkflowInstance, stageNumber int, outcome *txOutcome) error {
	if err := s.fireInstance(ctx, instance, workflow.TriggerHold, entity.InstanceOnHold); err != nil {
		return err
	}
	instance.HoldReason = fmt.Sprintf("no eligible assignees for stage %d", stageNumber)

	if _, err := s.history.Record(ctx, HistoryRecord{
		InstanceID:  instance.ID,
		ActorID:     "system",
		EventType:   event.TypeInstanceHeld.String(),
		StageNumber: stageNumber,
		Before:      entity.InstanceInProgress,
		After:       entity.InstanceOnHold,
		Detail:      workflow.ErrNoEligibleAssignees.Error(),
	}); err != nil {
		return err
	}
	outcome.emit(event.NewEvent(event.TypeInstanceHeld, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
		"stage_number": stageNumber,
		"reason":       workflow.ErrNoEligibleAssignees.Error(),
	}))
	outcome.held = true
	return nil
}

// nextEntryOrdinal numbers repeated entries of the same definition stage, so
// a CHANGES_REQUESTED loop keeps every pass queryable.
func (s *engineServiceImpl) nextEntryOrdinal(ctx context.Context, instanceID int64, stageNumber int) (int, error) {
	stages, err := s.stageRepo.GetByInstance(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("load stage instances: %w", err)
	}
	max := 0
	for _, st := range stages {
		if st.StageNumber == stageNumber && st.Entry > max {
			max = st.Entry
		}
	}
	return max + 1, nil
}

// recordActionOnce runs one validate-evaluate-write pass in a transaction.
// A version conflict anywhere inside rolls the whole pass back; the caller
// decides whether to retry.
func (s *engineServiceImpl) recordActionOnce(ctx context.Context, req ActionRequest) (*ActionResult, *txOutcome, error) {
	var (
		result  *ActionResult
		outcome txOutcome
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		assignment, err := s.assignmentRepo.GetByID(txCtx, req.AssignmentID)
		if err != nil {
			return fmt.Errorf("load assignment: %w", err)
		}
		if assignment == nil {
			return fmt.Errorf("assignment %d: %w", req.AssignmentID, workflow.ErrAssignmentNotFound)
		}

		instance, err := s.loadInstance(txCtx, assignment.InstanceID)
		if err != nil {
			return err
		}
		if instance.Status != entity.InstanceInProgress {
			return fmt.Errorf("instance %d is %s: %w", instance.ID, instance.Status, workflow.ErrInvalidTransition)
		}
		outcome.entityType = instance.EntityType
		outcome.entityID = instance.EntityID

		stage, err := s.stageRepo.GetByID(txCtx, assignment.StageInstanceID)
		if err != nil {
			return fmt.Errorf("load stage instance: %w", err)
		}
		if stage == nil || stage.Status != entity.StageInProgress {
			return fmt.Errorf("stage instance %d: %w", assignment.StageInstanceID, workflow.ErrStageNotOpen)
		}

		if !assignment.Open() {
			return fmt.Errorf("assignment %d already %s: %w", assignment.ID, assignment.Action, workflow.ErrAlreadyActed)
		}
		if req.ActorID != assignment.AssigneeID {
			return fmt.Errorf("user %s on assignment %d: %w", req.ActorID, assignment.ID, workflow.ErrNotAssigned)
		}
		if assignment.DelegatedFrom != 0 {
			delegation, err := s.delegationRepo.GetByDelegateAssignment(txCtx, assignment.ID)
			if err != nil {
				return fmt.Errorf("load delegation: %w", err)
			}
			if delegation != nil && delegation.Expired(time.Now()) {
				return fmt.Errorf("assignment %d: %w", assignment.ID, workflow.ErrDelegationExpired)
			}
		}

		def, err := s.loadDefinition(txCtx, instance.DefinitionID)
		if err != nil {
			return err
		}
		sd := def.Stage(stage.StageNumber)
		if sd == nil {
			return fmt.Errorf("definition %d has no stage %d: %w", def.ID, stage.StageNumber, workflow.ErrInvalidTransition)
		}

		signatureRef := req.SignatureRef
		if sd.RequiresSignature && signatureRef == "" {
			if s.signatures != nil {
				signatureRef, err = s.signatures.CaptureSignature(txCtx, req.ActorID, fmt.Sprintf("%s/%s", instance.EntityType, instance.EntityID))
				if err != nil {
					return fmt.Errorf("capture signature: %w", err)
				}
			}
			if signatureRef == "" {
				return fmt.Errorf("stage %d: %w", stage.StageNumber, workflow.ErrSignatureRequired)
			}
		}

		now := time.Now()
		assignment.Action = req.Action
		assignment.ActedAt = &now
		assignment.Comment = req.Comment
		assignment.SignatureRef = signatureRef
		if err := s.assignmentRepo.Update(txCtx, assignment); err != nil {
			return fmt.Errorf("record action: %w", err)
		}

		if _, err := s.history.Record(txCtx, HistoryRecord{
			InstanceID:  instance.ID,
			ActorID:     req.ActorID,
			EventType:   event.TypeActionRecorded.String(),
			StageNumber: stage.StageNumber,
			After:       req.Action,
			Detail:      req.Comment,
		}); err != nil {
			return err
		}
		outcome.emit(event.NewEvent(event.TypeActionRecorded, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
			"assignment_id": assignment.ID,
			"stage_number":  stage.StageNumber,
			"actor_id":      req.ActorID,
			"action":        req.Action.String(),
		}))

		assignments, err := s.assignmentRepo.GetByStageInstance(txCtx, stage.ID)
		if err != nil {
			return fmt.Errorf("load stage assignments: %w", err)
		}
		verdict := voting.Evaluate(sd.ApprovalType, sd.Threshold, assignments)

		if !verdict.Decided {
			// Still bump the stage version: two concurrent actions on the
			// same stage must re-evaluate each other's writes, not race past
			// them.
			if err := s.stageRepo.Update(txCtx, stage); err != nil {
				return err
			}
			result = &ActionResult{
				InstanceID:      instance.ID,
				StageInstanceID: stage.ID,
				InstanceStatus:  instance.Status,
				CurrentStage:    instance.CurrentStage,
			}
			return nil
		}

		result, err = s.resolveStage(txCtx, instance, def, sd, stage, verdict.Outcome, req.ActorID, &outcome)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return result, &outcome, nil
}

// resolveStage closes a decided stage: outstanding assignments become
// SKIPPED for auditability, the stage completes with its outcome, and the
// routing rules pick what happens next. For PARALLEL_ROLE_GROUP the
// instance only advances once every sibling group has resolved (AND-join).
func (s *engineServiceImpl) resolveStage(ctx context.Context, instance *entity.WorkflowInstance, def *entity.WorkflowDefinition, sd *entity.StageDefinition, stage *entity.StageInstance, stageOutcome entity.Outcome, actorID string, outcome *txOutcome) (*ActionResult, error) {
	now := time.Now()

	open, err := s.assignmentRepo.GetOpenByStageInstance(ctx, stage.ID)
	if err != nil {
		return nil, fmt.Errorf("load open assignments: %w", err)
	}
	for _, a := range open {
		a.Action = entity.ActionSkipped
		a.ActedAt = &now
		if err := s.assignmentRepo.Update(ctx, a); err != nil {
			return nil, fmt.Errorf("skip assignment %d: %w", a.ID, err)
		}
	}

	if err := s.fireStage(ctx, stage, workflow.TriggerResolve, entity.StageCompleted); err != nil {
		return nil, err
	}
	stage.Outcome = stageOutcome
	stage.ResolvedAt = &now
	if err := s.stageRepo.Update(ctx, stage); err != nil {
		return nil, err
	}

	if _, err := s.history.Record(ctx, HistoryRecord{
		InstanceID:  instance.ID,
		ActorID:     actorID,
		EventType:   event.TypeStageResolved.String(),
		StageNumber: stage.StageNumber,
		Before:      entity.StageInProgress,
		After:       stageOutcome,
		Detail:      fmt.Sprintf("%d outstanding assignments skipped", len(open)),
	}); err != nil {
		return nil, err
	}
	outcome.emit(event.NewEvent(event.TypeStageResolved, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
		"stage_number": stage.StageNumber,
		"group":        stage.GroupKey,
		"outcome":      stageOutcome,
	}))

	routedOutcome := stageOutcome
	if sd.Strategy == entity.StrategyParallelRoleGroup {
		joined, aggregate, err := s.joinParallelGroups(ctx, instance, stage)
		if err != nil {
			return nil, err
		}
		if !joined {
			return &ActionResult{
				InstanceID:      instance.ID,
				StageInstanceID: stage.ID,
				StageDecided:    true,
				StageOutcome:    stageOutcome,
				InstanceStatus:  instance.Status,
				CurrentStage:    instance.CurrentStage,
			}, nil
		}
		routedOutcome = aggregate
	}

	if err := s.route(ctx, instance, def, stage.StageNumber, routedOutcome, actorID, outcome); err != nil {
		return nil, err
	}
	if err := s.instanceRepo.Update(ctx, instance); err != nil {
		return nil, err
	}
	return &ActionResult{
		InstanceID:      instance.ID,
		StageInstanceID: stage.ID,
		StageDecided:    true,
		StageOutcome:    stageOutcome,
		InstanceStatus:  instance.Status,
		CurrentStage:    instance.CurrentStage,
	}, nil
}

// joinParallelGroups reports whether every sibling group of the given stage
// entry has resolved, and if so the aggregated outcome: any rejection wins,
// then any changes request, then approval.
func (s *engineServiceImpl) joinParallelGroups(ctx context.Context, instance *entity.WorkflowInstance, stage *entity.StageInstance) (bool, entity.Outcome, error) {
	stages, err := s.stageRepo.GetByInstance(ctx, instance.ID)
	if err != nil {
		return false, "", fmt.Errorf("load sibling stages: %w", err)
	}

	aggregate := entity.OutcomeApproved
	for _, sibling := range stages {
		if sibling.StageNumber != stage.StageNumber || sibling.Entry != stage.Entry {
			continue
		}
		st := sibling
		if sibling.ID == stage.ID {
			st = stage
		}
		if st.Status.IsOpen() {
			return false, "", nil
		}
		switch st.Outcome {
		case entity.OutcomeRejected:
			aggregate = entity.OutcomeRejected
		case entity.OutcomeChangesRequested:
			if aggregate != entity.OutcomeRejected {
				aggregate = entity.OutcomeChangesRequested
			}
		}
	}
	return true, aggregate, nil
}

// route picks the next stage or terminal outcome for a resolved stage:
// first matching routing rule wins, otherwise the outcome's default applies.
func (s *engineServiceImpl) route(ctx context.Context, instance *entity.WorkflowInstance, def *entity.WorkflowDefinition, stageNumber int, stageOutcome entity.Outcome, actorID string, outcome *txOutcome) error {
	ruleCtx := routingContext(instance, stageNumber, stageOutcome)

	for _, rule := range def.RulesForStage(stageNumber) {
		if !rule.Matches(ruleCtx) {
			continue
		}
		if rule.Terminal != "" {
			return s.finalize(ctx, instance, terminalStatus(rule.Terminal), stageOutcome, actorID, outcome)
		}
		return s.enterStage(ctx, instance, def, rule.TargetStage, outcome)
	}

	switch stageOutcome {
	case entity.OutcomeApproved:
		if next := def.NextStage(stageNumber); next != nil {
			return s.enterStage(ctx, instance, def, next.StageNumber, outcome)
		}
		return s.finalize(ctx, instance, entity.InstanceCompleted, stageOutcome, actorID, outcome)
	case entity.OutcomeRejected:
		return s.finalize(ctx, instance, entity.InstanceRejected, stageOutcome, actorID, outcome)
	case entity.OutcomeChangesRequested:
		// Feedback never terminates the instance by default: loop back to
		// the previous stage, or re-enter this one when it is the first.
		target := stageNumber
		if prev := def.PrevStage(stageNumber); prev != nil {
			target = prev.StageNumber
		}
		return s.enterStage(ctx, instance, def, target, outcome)
	default:
		return fmt.Errorf("stage %d resolved with unknown outcome %q", stageNumber, stageOutcome)
	}
}

func terminalStatus(t entity.TerminalOutcome) entity.InstanceStatus {
	if t == entity.TerminalRejected {
		return entity.InstanceRejected
	}
	return entity.InstanceCompleted
}

// routingContext augments the instance context with the fields routing
// rules may reference. The instance's own context is not mutated.
func routingContext(instance *entity.WorkflowInstance, stageNumber int, stageOutcome entity.Outcome) map[string]any {
	ctx := make(map[string]any, len(instance.Context)+2)
	for k, v := range instance.Context {
		ctx[k] = v
	}
	ctx["stage"] = map[string]any{
		"number":  stageNumber,
		"outcome": stageOutcome.String(),
	}
	ctx["instance"] = map[string]any{
		"entity_type":   instance.EntityType,
		"entity_id":     instance.EntityID,
		"current_stage": instance.CurrentStage,
	}
	return ctx
}

// finalize moves the instance into a terminal state and records it. The
// entity callback fires after commit, not here.
func (s *engineServiceImpl) finalize(ctx context.Context, instance *entity.WorkflowInstance, status entity.InstanceStatus, stageOutcome entity.Outcome, actorID string, outcome *txOutcome) error {
	trigger := workflow.TriggerComplete
	evtType := event.TypeInstanceCompleted
	if status == entity.InstanceRejected {
		trigger = workflow.TriggerReject
		evtType = event.TypeInstanceRejected
	}
	if err := s.fireInstance(ctx, instance, trigger, status); err != nil {
		return err
	}
	now := time.Now()
	instance.CompletedAt = &now

	if _, err := s.history.Record(ctx, HistoryRecord{
		InstanceID: instance.ID,
		ActorID:    actorID,
		EventType:  evtType.String(),
		Before:     entity.InstanceInProgress,
		After:      status,
		Detail:     fmt.Sprintf("final stage outcome %s", stageOutcome),
	}); err != nil {
		return err
	}
	outcome.emit(event.NewEvent(evtType, instance.ID, instance.EntityType, instance.EntityID, map[string]any{
		"outcome": stageOutcome.String(),
	}))
	outcome.terminal = status
	outcome.outcome = stageOutcome

	return s.queueNotification(ctx, instance, 0, instance.StartedBy, entity.NotificationInstanceClosed,
		fmt.Sprintf("Approval %s: %s/%s", status, instance.EntityType, instance.EntityID))
}

// closeOpenStages skips every open stage and its open assignments, used by
// cancellation.
func (s *engineServiceImpl) closeOpenStages(ctx context.Context, instance *entity.WorkflowInstance, trigger workflow.Trigger, to entity.StageStatus, action entity.Action) error {
	stages, err := s.stageRepo.GetOpenByInstance(ctx, instance.ID)
	if err != nil {
		return fmt.Errorf("load open stages: %w", err)
	}
	now := time.Now()
	for _, st := range stages {
		open, err := s.assignmentRepo.GetOpenByStageInstance(ctx, st.ID)
		if err != nil {
			return fmt.Errorf("load open assignments: %w", err)
		}
		for _, a := range open {
			a.Action = action
			a.ActedAt = &now
			if err := s.assignmentRepo.Update(ctx, a); err != nil {
				return err
			}
		}
		if err := s.fireStage(ctx, st, trigger, to); err != nil {
			return err
		}
		if err := s.stageRepo.Update(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// refreshAssignmentDeadlines restamps the open assignments of a stage after
// a hold is lifted.
func (s *engineServiceImpl) refreshAssignmentDeadlines(ctx context.Context, stageInstanceID int64, deadline *time.Time) error {
	open, err := s.assignmentRepo.GetOpenByStageInstance(ctx, stageInstanceID)
	if err != nil {
		return fmt.Errorf("load open assignments: %w", err)
	}
	for _, a := range open {
		a.Deadline = deadline
		if err := s.assignmentRepo.Update(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// queueNotification writes one outbox row in the current transaction; the
// notification worker delivers it after commit.
func (s *engineServiceImpl) queueNotification(ctx context.Context, instance *entity.WorkflowInstance, assignmentID int64, recipientID, kind, subject string) error {
	if s.outboxRepo == nil || recipientID == "" {
		return nil
	}
	n := &entity.Notification{
		InstanceID:   instance.ID,
		AssignmentID: assignmentID,
		RecipientID:  recipientID,
		Kind:         kind,
		Subject:      subject,
		Status:       entity.NotificationPending,
	}
	if err := s.outboxRepo.Create(ctx, n); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}
