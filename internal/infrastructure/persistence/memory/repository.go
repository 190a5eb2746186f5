package memory

import (
	"context"
	"sort"
	"time"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// Every read and write crosses the store boundary as a deep copy, so callers
// can mutate what they got back without corrupting the store, mirroring the
// row round-trip of the sqlite repositories.

type definitionRepo struct{ s *Store }

func (r *definitionRepo) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextDefinitionID++
	def.ID = r.s.nextDefinitionID
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	for _, st := range def.Stages {
		r.s.nextStageDefID++
		st.ID = r.s.nextStageDefID
		st.DefinitionID = def.ID
	}
	for _, rule := range def.Rules {
		r.s.nextRuleID++
		rule.ID = r.s.nextRuleID
		rule.DefinitionID = def.ID
	}
	r.s.definitions[def.ID] = cloneDefinition(def)
	return nil
}

func (r *definitionRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return cloneDefinition(r.s.definitions[id]), nil
}

func (r *definitionRepo) GetByName(ctx context.Context, name string) (*entity.WorkflowDefinition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var latest *entity.WorkflowDefinition
	for _, d := range r.s.definitions {
		if d.Name == name && (latest == nil || d.Version > latest.Version) {
			latest = d
		}
	}
	return cloneDefinition(latest), nil
}

func (r *definitionRepo) GetByNameAndVersion(ctx context.Context, name string, version int) (*entity.WorkflowDefinition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.definitions {
		if d.Name == name && d.Version == version {
			return cloneDefinition(d), nil
		}
	}
	return nil, nil
}

func (r *definitionRepo) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var defs []*entity.WorkflowDefinition
	for _, d := range r.s.definitions {
		if activeOnly && !d.IsActive {
			continue
		}
		defs = append(defs, cloneDefinition(d))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return page(defs, limit, offset), nil
}

func (r *definitionRepo) SetActive(ctx context.Context, id int64, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.definitions[id]
	if !ok {
		return workflow.ErrDefinitionNotFound
	}
	d.IsActive = active
	d.UpdatedAt = time.Now()
	return nil
}

type instanceRepo struct{ s *Store }

func (r *instanceRepo) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextInstanceID++
	instance.ID = r.s.nextInstanceID
	now := time.Now()
	instance.CreatedAt = now
	instance.UpdatedAt = now
	instance.Version = 1
	r.s.instances[instance.ID] = cloneInstance(instance)
	return nil
}

func (r *instanceRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return cloneInstance(r.s.instances[id]), nil
}

func (r *instanceRepo) GetOpenByEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, in := range r.s.instances {
		if in.EntityType == entityType && in.EntityID == entityID && !in.Status.IsTerminal() {
			return cloneInstance(in), nil
		}
	}
	return nil, nil
}

func (r *instanceRepo) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.instances[instance.ID]
	if !ok {
		return workflow.ErrInstanceNotFound
	}
	if cur.Version != instance.Version {
		return workflow.ErrVersionConflict
	}
	instance.Version++
	instance.UpdatedAt = time.Now()
	r.s.instances[instance.ID] = cloneInstance(instance)
	return nil
}

func (r *instanceRepo) List(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.WorkflowInstance
	for _, in := range r.s.instances {
		if filter.Status != "" && in.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && in.EntityType != filter.EntityType {
			continue
		}
		if filter.StartedBy != "" && in.StartedBy != filter.StartedBy {
			continue
		}
		out = append(out, cloneInstance(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *instanceRepo) CountByDefinition(ctx context.Context, definitionID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for _, in := range r.s.instances {
		if in.DefinitionID == definitionID {
			count++
		}
	}
	return count, nil
}

type stageRepo struct{ s *Store }

func (r *stageRepo) Create(ctx context.Context, stage *entity.StageInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextStageID++
	stage.ID = r.s.nextStageID
	now := time.Now()
	stage.CreatedAt = now
	stage.UpdatedAt = now
	stage.Version = 1
	r.s.stages[stage.ID] = cloneStage(stage)
	return nil
}

func (r *stageRepo) GetByID(ctx context.Context, id int64) (*entity.StageInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return cloneStage(r.s.stages[id]), nil
}

func (r *stageRepo) GetByInstance(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.StageInstance
	for _, st := range r.s.stages {
		if st.InstanceID == instanceID {
			out = append(out, cloneStage(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stageRepo) GetOpenByInstance(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error) {
	all, _ := r.GetByInstance(ctx, instanceID)
	var open []*entity.StageInstance
	for _, st := range all {
		if st.Status.IsOpen() {
			open = append(open, st)
		}
	}
	return open, nil
}

func (r *stageRepo) Update(ctx context.Context, stage *entity.StageInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.stages[stage.ID]
	if !ok {
		return workflow.ErrStageNotOpen
	}
	if cur.Version != stage.Version {
		return workflow.ErrVersionConflict
	}
	stage.Version++
	stage.UpdatedAt = time.Now()
	r.s.stages[stage.ID] = cloneStage(stage)
	return nil
}

type assignmentRepo struct{ s *Store }

func (r *assignmentRepo) Create(ctx context.Context, assignment *entity.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextAssignmentID++
	assignment.ID = r.s.nextAssignmentID
	now := time.Now()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	r.s.assignments[assignment.ID] = cloneAssignment(assignment)
	return nil
}

func (r *assignmentRepo) GetByID(ctx context.Context, id int64) (*entity.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return cloneAssignment(r.s.assignments[id]), nil
}

func (r *assignmentRepo) GetByStageInstance(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Assignment
	for _, a := range r.s.assignments {
		if a.StageInstanceID == stageInstanceID {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *assignmentRepo) GetOpenByStageInstance(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error) {
	all, _ := r.GetByStageInstance(ctx, stageInstanceID)
	var open []*entity.Assignment
	for _, a := range all {
		if a.Open() {
			open = append(open, a)
		}
	}
	return open, nil
}

func (r *assignmentRepo) GetOpenByAssignee(ctx context.Context, assigneeID string) ([]*entity.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Assignment
	for _, a := range r.s.assignments {
		if a.AssigneeID == assigneeID && a.Open() {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *assignmentRepo) GetOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Assignment
	for _, a := range r.s.assignments {
		if a.Open() && a.Deadline != nil && a.Deadline.Before(now) {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(*out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *assignmentRepo) CountOpenByAssignee(ctx context.Context, assigneeID string) (int, error) {
	open, err := r.GetOpenByAssignee(ctx, assigneeID)
	return len(open), err
}

func (r *assignmentRepo) Update(ctx context.Context, assignment *entity.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.assignments[assignment.ID]; !ok {
		return workflow.ErrAssignmentNotFound
	}
	assignment.UpdatedAt = time.Now()
	r.s.assignments[assignment.ID] = cloneAssignment(assignment)
	return nil
}

type delegationRepo struct{ s *Store }

func (r *delegationRepo) Create(ctx context.Context, delegation *entity.Delegation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextDelegationID++
	delegation.ID = r.s.nextDelegationID
	delegation.CreatedAt = time.Now()
	r.s.delegations[delegation.ID] = cloneDelegation(delegation)
	return nil
}

func (r *delegationRepo) GetByDelegateAssignment(ctx context.Context, assignmentID int64) (*entity.Delegation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.delegations {
		if d.DelegateAssignmentID == assignmentID {
			return cloneDelegation(d), nil
		}
	}
	return nil, nil
}

func (r *delegationRepo) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.Delegation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Delegation
	for _, d := range r.s.delegations {
		if d.InstanceID == instanceID {
			out = append(out, cloneDelegation(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type historyRepo struct{ s *Store }

func (r *historyRepo) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextHistoryID++
	entry.ID = r.s.nextHistoryID
	clone := *entry
	r.s.history[entry.InstanceID] = append(r.s.history[entry.InstanceID], &clone)
	return nil
}

func (r *historyRepo) GetByInstance(ctx context.Context, instanceID int64) ([]*entity.HistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := r.s.history[instanceID]
	out := make([]*entity.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		clone := *e
		out = append(out, &clone)
	}
	return out, nil
}

func (r *historyRepo) GetLast(ctx context.Context, instanceID int64) (*entity.HistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := r.s.history[instanceID]
	if len(entries) == 0 {
		return nil, nil
	}
	clone := *entries[len(entries)-1]
	return &clone, nil
}

type taskRepo struct{ s *Store }

// List projects open assignments into tasks. The projection joins through
// stage and instance state exactly the way the sqlite task query does, so a
// task exists only while its assignment, stage, and instance are all live.
func (r *taskRepo) List(ctx context.Context, filter entity.TaskFilter) ([]*entity.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now()
	var out []*entity.Task
	for _, a := range r.s.assignments {
		if !a.Open() {
			continue
		}
		if filter.AssigneeID != "" && a.AssigneeID != filter.AssigneeID {
			continue
		}
		st := r.s.stages[a.StageInstanceID]
		if st == nil || st.Status != entity.StageInProgress {
			continue
		}
		in := r.s.instances[a.InstanceID]
		if in == nil || in.Status != entity.InstanceInProgress {
			continue
		}
		if filter.EntityType != "" && in.EntityType != filter.EntityType {
			continue
		}
		overdue := a.Deadline != nil && a.Deadline.Before(now)
		if filter.OverdueOnly && !overdue {
			continue
		}

		task := &entity.Task{
			AssignmentID:    a.ID,
			InstanceID:      in.ID,
			StageInstanceID: st.ID,
			DefinitionID:    in.DefinitionID,
			StageNumber:     st.StageNumber,
			EntityType:      in.EntityType,
			EntityID:        in.EntityID,
			AssigneeID:      a.AssigneeID,
			Requirement:     a.Requirement,
			Priority:        a.Priority,
			EscalationLevel: a.EscalationLevel,
			Overdue:         overdue,
			AssignedAt:      a.CreatedAt,
		}
		if a.Deadline != nil {
			d := *a.Deadline
			task.Deadline = &d
		}
		if def := r.s.definitions[in.DefinitionID]; def != nil {
			task.DefinitionName = def.Name
			if sd := def.Stage(st.StageNumber); sd != nil {
				task.StageName = sd.Name
			}
		}
		out = append(out, task)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].AssignmentID < out[j].AssignmentID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

type rotationRepo struct{ s *Store }

func (r *rotationRepo) Get(ctx context.Context, definitionID int64, stageNumber int) (*entity.StageRotation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rot := r.s.rotations[rotationKey{definitionID, stageNumber}]
	if rot == nil {
		return nil, nil
	}
	clone := *rot
	return &clone, nil
}

func (r *rotationRepo) Upsert(ctx context.Context, rotation *entity.StageRotation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rotation.UpdatedAt = time.Now()
	clone := *rotation
	r.s.rotations[rotationKey{rotation.DefinitionID, rotation.StageNumber}] = &clone
	return nil
}

type notificationRepo struct{ s *Store }

func (r *notificationRepo) Create(ctx context.Context, notification *entity.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextNotificationID++
	notification.ID = r.s.nextNotificationID
	now := time.Now()
	notification.CreatedAt = now
	notification.UpdatedAt = now
	if notification.Status == "" {
		notification.Status = entity.NotificationPending
	}
	clone := *notification
	r.s.outbox[notification.ID] = &clone
	return nil
}

func (r *notificationRepo) GetPending(ctx context.Context, limit int) ([]*entity.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Notification
	for _, n := range r.s.outbox {
		if n.Status == entity.NotificationPending {
			clone := *n
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *notificationRepo) MarkSent(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.outbox[id]
	if !ok {
		return nil
	}
	now := time.Now()
	n.Status = entity.NotificationSent
	n.SentAt = &now
	n.UpdatedAt = now
	return nil
}

func (r *notificationRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.outbox[id]
	if !ok {
		return nil
	}
	n.Status = entity.NotificationFailed
	n.Attempts++
	n.LastError = errMsg
	n.UpdatedAt = time.Now()
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var (
	_ port.DefinitionRepository   = (*definitionRepo)(nil)
	_ port.InstanceRepository     = (*instanceRepo)(nil)
	_ port.StageRepository        = (*stageRepo)(nil)
	_ port.AssignmentRepository   = (*assignmentRepo)(nil)
	_ port.DelegationRepository   = (*delegationRepo)(nil)
	_ port.HistoryRepository      = (*historyRepo)(nil)
	_ port.TaskRepository         = (*taskRepo)(nil)
	_ port.RotationRepository     = (*rotationRepo)(nil)
	_ port.NotificationRepository = (*notificationRepo)(nil)
)
