package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

func newEscalationService(h *engineHarness) EscalationService {
	return NewEscalationService(
		h.store.Definitions(),
		h.store.Instances(),
		h.store.Stages(),
		h.store.Assignments(),
		h.store.Notifications(),
		h.entities,
		h.history,
		h.store,
		nil,
		h.logger,
		100,
	)
}

func escalatingDefinition(policy *entity.EscalationPolicy) *entity.WorkflowDefinition {
	def := twoStageDefinition()
	def.Stages[0].Deadline = time.Hour
	def.Stages[0].Escalation = policy
	return def
}

func TestEscalationReassignToRole(t *testing.T) {
	h := newEngineHarness()
	escalations := newEscalationService(h)
	defID := h.seedDefinition(t, escalatingDefinition(&entity.EscalationPolicy{ReassignToRole: "shift-managers"}))
	h.entities.setPool(1, users("sup-1")...)
	h.entities.setRole("shift-managers", users("mgr-1", "mgr-2")...)
	instance := h.start(t, defID, "WO-E001")
	overdue := h.openAssignment(t, instance.ID, "sup-1")
	h.makeOverdue(t, overdue.ID)

	report, err := escalations.CheckEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Reassigned)
	assert.Equal(t, 0, report.Errors)

	// the overdue assignment is consumed
	consumed, err := h.store.Assignments().GetByID(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionEscalated, consumed.Action)

	// the role members hold fresh assignments one level up
	open, err := h.store.Assignments().GetOpenByStageInstance(context.Background(), overdue.StageInstanceID)
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, a := range open {
		assert.Equal(t, "shift-managers", a.Role)
		assert.Equal(t, 1, a.EscalationLevel)
		require.NotNil(t, a.Deadline)
		assert.True(t, a.Deadline.After(time.Now()))
	}

	// escalation notices are queued
	pending, err := h.store.Notifications().GetPending(context.Background(), 20)
	require.NoError(t, err)
	escalated := 0
	for _, n := range pending {
		if n.Kind == entity.NotificationTaskEscalated {
			escalated++
		}
	}
	assert.Equal(t, 2, escalated)

	// a second sweep finds nothing: every escalation consumed its trigger
	report, err = escalations.CheckEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)

	// a successor can still resolve the stage
	result := h.act(t, instance.ID, "mgr-1", entity.ActionApproved)
	assert.False(t, result.StageDecided)
	result = h.act(t, instance.ID, "mgr-2", entity.ActionApproved)
	assert.True(t, result.StageDecided)
}

func TestEscalationRaisePriority(t *testing.T) {
	h := newEngineHarness()
	escalations := newEscalationService(h)
	defID := h.seedDefinition(t, escalatingDefinition(&entity.EscalationPolicy{RaisePriority: true}))
	h.entities.setPool(1, users("sup-1")...)
	instance := h.start(t, defID, "WO-E002")
	overdue := h.openAssignment(t, instance.ID, "sup-1")
	h.makeOverdue(t, overdue.ID)

	report, err := escalations.CheckEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Raised)

	raised := h.openAssignment(t, instance.ID, "sup-1")
	assert.NotEqual(t, overdue.ID, raised.ID)
	assert.Equal(t, 1, raised.Priority)
	assert.Equal(t, 1, raised.EscalationLevel)
	require.NotNil(t, raised.Deadline)
	assert.True(t, raised.Deadline.After(time.Now()))

	consumed, err := h.store.Assignments().GetByID(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionEscalated, consumed.Action)

	// the raised task surfaces first in the queue
	tasks, err := h.store.Tasks().List(context.Background(), entity.TaskFilter{AssigneeID: "sup-1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, raised.ID, tasks[0].AssignmentID)
}

func TestEscalationFailStage(t *testing.T) {
	t.Run("explicit fail-stage policy parks the instance", func(t *testing.T) {
		h := newEngineHarness()
		escalations := newEscalationService(h)
		defID := h.seedDefinition(t, escalatingDefinition(&entity.EscalationPolicy{FailStage: true}))
		h.entities.setPool(1, users("sup-1")...)
		instance := h.start(t, defID, "WO-E003")
		overdue := h.openAssignment(t, instance.ID, "sup-1")
		h.makeOverdue(t, overdue.ID)

		report, err := escalations.CheckEscalations(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)

		stages := h.stages(t, instance.ID)
		require.Len(t, stages, 1)
		assert.Equal(t, entity.StageEscalated, stages[0].Status)

		stored := h.instance(t, instance.ID)
		assert.Equal(t, entity.InstanceOnHold, stored.Status)
		assert.NotEmpty(t, stored.HoldReason)

		consumed, err := h.store.Assignments().GetByID(context.Background(), overdue.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.ActionEscalated, consumed.Action)

		// an operator can resume, which re-enters the stage
		require.NoError(t, h.engine.Resume(context.Background(), instance.ID, "operator"))
		assert.NotNil(t, h.openAssignment(t, instance.ID, "sup-1"))
	})

	t.Run("a stage without a policy fails closed", func(t *testing.T) {
		h := newEngineHarness()
		escalations := newEscalationService(h)
		defID := h.seedDefinition(t, escalatingDefinition(nil))
		h.entities.setPool(1, users("sup-1")...)
		instance := h.start(t, defID, "WO-E004")
		h.makeOverdue(t, h.openAssignment(t, instance.ID, "sup-1").ID)

		report, err := escalations.CheckEscalations(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, entity.InstanceOnHold, h.instance(t, instance.ID).Status)
	})

	t.Run("an empty supervisor role falls back to failing the stage", func(t *testing.T) {
		h := newEngineHarness()
		escalations := newEscalationService(h)
		defID := h.seedDefinition(t, escalatingDefinition(&entity.EscalationPolicy{ReassignToRole: "ghost-role"}))
		h.entities.setPool(1, users("sup-1")...)
		instance := h.start(t, defID, "WO-E005")
		h.makeOverdue(t, h.openAssignment(t, instance.ID, "sup-1").ID)

		report, err := escalations.CheckEscalations(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, 0, report.Reassigned)
		assert.Equal(t, entity.InstanceOnHold, h.instance(t, instance.ID).Status)
	})
}

func TestEscalationSkipsHeldInstances(t *testing.T) {
	h := newEngineHarness()
	escalations := newEscalationService(h)
	defID := h.seedDefinition(t, escalatingDefinition(&entity.EscalationPolicy{RaisePriority: true}))
	h.entities.setPool(1, users("sup-1")...)
	instance := h.start(t, defID, "WO-E006")
	overdue := h.openAssignment(t, instance.ID, "sup-1")
	h.makeOverdue(t, overdue.ID)
	require.NoError(t, h.engine.Hold(context.Background(), instance.ID, "operator", "audit"))

	report, err := escalations.CheckEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Raised)

	// the assignment is untouched
	still, err := h.store.Assignments().GetByID(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.True(t, still.Open())
}
