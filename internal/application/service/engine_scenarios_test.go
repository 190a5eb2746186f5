package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

func TestMajorityStageSkipsOutstanding(t *testing.T) {
	h := newEngineHarness()
	def := twoStageDefinition()
	def.Stages[0].ApprovalType = entity.ApprovalMajority
	defID := h.seedDefinition(t, def)
	h.entities.setPool(1, users("rev-1", "rev-2", "rev-3")...)
	h.entities.setPool(2, users("mgr-1")...)
	instance := h.start(t, defID, "WO-S001")
	third := h.openAssignment(t, instance.ID, "rev-3")

	result := h.act(t, instance.ID, "rev-1", entity.ActionApproved)
	assert.False(t, result.StageDecided)

	// the second approval is the majority of three
	result = h.act(t, instance.ID, "rev-2", entity.ActionApproved)
	assert.True(t, result.StageDecided)
	assert.Equal(t, entity.OutcomeApproved, result.StageOutcome)
	assert.Equal(t, 2, result.CurrentStage)

	skipped, err := h.store.Assignments().GetByID(context.Background(), third.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionSkipped, skipped.Action)
}

// A mid-flight instance reloaded by a fresh engine over the same store must
// route identically: the engine keeps no state outside the repositories.
func TestEngineReloadContinuesRouting(t *testing.T) {
	h := newEngineHarness()
	defID := h.seedDefinition(t, twoStageDefinition())
	h.entities.setPool(1, users("sup-1")...)
	h.entities.setPool(2, users("mgr-1")...)
	instance := h.start(t, defID, "WO-S002")
	h.act(t, instance.ID, "sup-1", entity.ActionApproved)

	reloaded := NewEngineService(EngineDeps{
		DefinitionRepo: h.store.Definitions(),
		InstanceRepo:   h.store.Instances(),
		StageRepo:      h.store.Stages(),
		AssignmentRepo: h.store.Assignments(),
		DelegationRepo: h.store.Delegations(),
		OutboxRepo:     h.store.Notifications(),
		Resolver:       NewAssignmentResolver(h.store.Assignments(), h.store.Rotations(), h.logger),
		History:        h.history,
		TxManager:      h.store,
		Entities:       h.entities,
		Signatures:     h.signatures,
		Logger:         h.logger,
	}, EngineConfig{MaxActionRetries: 3})

	assignment := h.openAssignment(t, instance.ID, "mgr-1")
	result, err := reloaded.RecordAction(context.Background(), ActionRequest{
		AssignmentID: assignment.ID,
		Action:       entity.ActionApproved,
		ActorID:      "mgr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceCompleted, result.InstanceStatus)
	assert.Equal(t, entity.InstanceCompleted, h.instance(t, instance.ID).Status)
	require.NoError(t, h.history.Verify(context.Background(), instance.ID))
}

func TestConcurrentApprovalsResolveStageOnce(t *testing.T) {
	h := newEngineHarness()
	def := twoStageDefinition()
	def.Stages[0].ApprovalType = entity.ApprovalThreshold
	def.Stages[0].Threshold = 1
	defID := h.seedDefinition(t, def)
	h.entities.setPool(1, users("rev-1", "rev-2")...)
	h.entities.setPool(2, users("mgr-1")...)
	instance := h.start(t, defID, "WO-S003")

	a1 := h.openAssignment(t, instance.ID, "rev-1")
	a2 := h.openAssignment(t, instance.ID, "rev-2")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, req := range []ActionRequest{
		{AssignmentID: a1.ID, Action: entity.ActionApproved, ActorID: "rev-1"},
		{AssignmentID: a2.ID, Action: entity.ActionApproved, ActorID: "rev-2"},
	} {
		wg.Add(1)
		go func(i int, req ActionRequest) {
			defer wg.Done()
			_, errs[i] = h.engine.RecordAction(context.Background(), req)
		}(i, req)
	}
	wg.Wait()

	// exactly one vote lands; the loser finds the stage already resolved
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, workflow.ErrStageNotOpen)
	}
	assert.Equal(t, 1, succeeded)

	entries, err := h.history.GetInstanceHistory(context.Background(), instance.ID)
	require.NoError(t, err)
	resolved := 0
	for _, e := range entries {
		if e.EventType == "stage.resolved" && e.StageNumber == 1 {
			resolved++
		}
	}
	assert.Equal(t, 1, resolved)
	require.NoError(t, h.history.Verify(context.Background(), instance.ID))
}
