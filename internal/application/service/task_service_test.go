package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

func TestGetMyTasks(t *testing.T) {
	t.Run("requires an assignee", func(t *testing.T) {
		h := newEngineHarness()
		tasks := NewTaskService(h.store.Tasks(), h.logger)
		_, err := tasks.GetMyTasks(context.Background(), entity.TaskFilter{})
		assert.Error(t, err)
	})

	t.Run("projects only live open assignments", func(t *testing.T) {
		h := newEngineHarness()
		tasks := NewTaskService(h.store.Tasks(), h.logger)
		defID := h.seedDefinition(t, twoStageDefinition())
		h.entities.setPool(1, users("sup-1")...)
		h.entities.setPool(2, users("sup-1")...)

		working := h.start(t, defID, "WO-T001")
		cancelled := h.start(t, defID, "WO-T002")
		require.NoError(t, h.engine.Cancel(context.Background(), cancelled.ID, "operator", "duplicate"))

		mine, err := tasks.GetMyTasks(context.Background(), entity.TaskFilter{AssigneeID: "sup-1"})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, working.ID, mine[0].InstanceID)
		assert.Equal(t, "work-order-approval", mine[0].DefinitionName)
		assert.Equal(t, "Supervisor Review", mine[0].StageName)
		assert.Equal(t, "WO-T001", mine[0].EntityID)
		assert.False(t, mine[0].Overdue)

		// acting on the assignment removes it from the queue and enqueues
		// the next stage's work
		h.act(t, working.ID, "sup-1", entity.ActionApproved)
		mine, err = tasks.GetMyTasks(context.Background(), entity.TaskFilter{AssigneeID: "sup-1"})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, 2, mine[0].StageNumber)
	})

	t.Run("filters overdue tasks", func(t *testing.T) {
		h := newEngineHarness()
		tasks := NewTaskService(h.store.Tasks(), h.logger)
		defID := h.seedDefinition(t, twoStageDefinition())
		h.entities.setPool(1, users("sup-1")...)
		first := h.start(t, defID, "WO-T003")
		h.start(t, defID, "WO-T004")
		h.makeOverdue(t, h.openAssignment(t, first.ID, "sup-1").ID)

		overdue, err := tasks.GetMyTasks(context.Background(), entity.TaskFilter{AssigneeID: "sup-1", OverdueOnly: true})
		require.NoError(t, err)
		require.Len(t, overdue, 1)
		assert.Equal(t, first.ID, overdue[0].InstanceID)
		assert.True(t, overdue[0].Overdue)
	})

	t.Run("filters by entity type", func(t *testing.T) {
		h := newEngineHarness()
		tasks := NewTaskService(h.store.Tasks(), h.logger)
		defID := h.seedDefinition(t, twoStageDefinition())
		h.entities.setPool(1, users("sup-1")...)
		h.start(t, defID, "WO-T005")

		none, err := tasks.GetMyTasks(context.Background(), entity.TaskFilter{AssigneeID: "sup-1", EntityType: "quality_inspection"})
		require.NoError(t, err)
		assert.Empty(t, none)

		some, err := tasks.GetMyTasks(context.Background(), entity.TaskFilter{AssigneeID: "sup-1", EntityType: "work_order"})
		require.NoError(t, err)
		assert.Len(t, some, 1)
	})
}
