package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/memory"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// fakeEntities implements port.EntityResolver with per-stage candidate pools
// and records terminal callbacks.
type fakeEntities struct {
	mu        sync.Mutex
	pools     map[int][]port.Candidate
	roles     map[string][]port.Candidate
	poolErr   error
	completed []string
	rejected  []string
	outcomes  []entity.Outcome
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{
		pools: make(map[int][]port.Candidate),
		roles: make(map[string][]port.Candidate),
	}
}

func (f *fakeEntities) setPool(stageNumber int, pool ...port.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[stageNumber] = pool
}

func (f *fakeEntities) setRole(role string, members ...port.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[role] = members
}

func (f *fakeEntities) ResolveCandidatePool(ctx context.Context, entityType, entityID string, stage *entity.StageDefinition) ([]port.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.poolErr != nil {
		return nil, f.poolErr
	}
	return f.pools[stage.StageNumber], nil
}

func (f *fakeEntities) ResolveRoleMembers(ctx context.Context, entityType, entityID, role string) ([]port.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[role], nil
}

func (f *fakeEntities) OnInstanceCompleted(ctx context.Context, entityType, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, entityType+"/"+entityID)
	return nil
}

func (f *fakeEntities) OnInstanceRejected(ctx context.Context, entityType, entityID string, outcome entity.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, entityType+"/"+entityID)
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

var _ port.EntityResolver = (*fakeEntities)(nil)

// fakeSignatures implements port.SignatureCapture.
type fakeSignatures struct {
	mu    sync.Mutex
	ref   string
	err   error
	calls int
}

func (f *fakeSignatures) CaptureSignature(ctx context.Context, actorID, documentRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.ref, f.err
}

var _ port.SignatureCapture = (*fakeSignatures)(nil)

// fakeNotifier implements port.Notifier.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []*entity.Notification
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, n *entity.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

var _ port.Notifier = (*fakeNotifier)(nil)

// fakeStorage implements port.FileStorage in memory.
type fakeStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: make(map[string][]byte)}
}

func (f *fakeStorage) Save(ctx context.Context, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
	return nil
}

func (f *fakeStorage) Read(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return content, nil
}

func (f *fakeStorage) Exists(ctx context.Context, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok
}

func (f *fakeStorage) GetFullPath(relativePath string) string {
	return "/tmp/" + relativePath
}

var _ port.FileStorage = (*fakeStorage)(nil)

// conflictingAssignmentRepo injects optimistic version conflicts into Update,
// so the engine's retry loop can be exercised deterministically.
type conflictingAssignmentRepo struct {
	port.AssignmentRepository
	mu       sync.Mutex
	failures int
}

func (r *conflictingAssignmentRepo) Update(ctx context.Context, assignment *entity.Assignment) error {
	r.mu.Lock()
	inject := r.failures > 0
	if inject {
		r.failures--
	}
	r.mu.Unlock()
	if inject {
		return workflow.ErrVersionConflict
	}
	return r.AssignmentRepository.Update(ctx, assignment)
}

func (r *conflictingAssignmentRepo) failNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
}

// engineHarness wires the engine and its collaborators over the in-memory
// store.
type engineHarness struct {
	store      *memory.Store
	entities   *fakeEntities
	signatures *fakeSignatures
	logger     *mockLogger
	history    HistoryService
	engine     EngineService
	conflicts  *conflictingAssignmentRepo
}

func newEngineHarness() *engineHarness {
	store := memory.NewStore()
	entities := newFakeEntities()
	signatures := &fakeSignatures{ref: "sig-ref-1"}
	logger := &mockLogger{}
	history := NewHistoryService(store.History(), logger)
	conflicts := &conflictingAssignmentRepo{AssignmentRepository: store.Assignments()}
	resolver := NewAssignmentResolver(conflicts, store.Rotations(), logger)

	engine := NewEngineService(EngineDeps{
		DefinitionRepo: store.Definitions(),
		InstanceRepo:   store.Instances(),
		StageRepo:      store.Stages(),
		AssignmentRepo: conflicts,
		DelegationRepo: store.Delegations(),
		OutboxRepo:     store.Notifications(),
		Resolver:       resolver,
		History:        history,
		TxManager:      store,
		Entities:       entities,
		Signatures:     signatures,
		Logger:         logger,
	}, EngineConfig{MaxActionRetries: 3})

	return &engineHarness{
		store:      store,
		entities:   entities,
		signatures: signatures,
		logger:     logger,
		history:    history,
		engine:     engine,
		conflicts:  conflicts,
	}
}

func users(ids ...string) []port.Candidate {
	out := make([]port.Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, port.Candidate{UserID: id})
	}
	return out
}

// twoStageDefinition is the baseline fixture: two UNANIMOUS role-based stages.
func twoStageDefinition() *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		Name:     "work-order-approval",
		IsActive: true,
		Stages: []*entity.StageDefinition{
			{StageNumber: 1, Name: "Supervisor Review", ApprovalType: entity.ApprovalUnanimous, Strategy: entity.StrategyRoleBased},
			{StageNumber: 2, Name: "Plant Manager Sign-off", ApprovalType: entity.ApprovalUnanimous, Strategy: entity.StrategyRoleBased},
		},
	}
}

func (h *engineHarness) seedDefinition(t *testing.T, def *entity.WorkflowDefinition) int64 {
	t.Helper()
	require.NoError(t, h.store.Definitions().Create(context.Background(), def))
	return def.ID
}

func (h *engineHarness) start(t *testing.T, defID int64, entityID string) *entity.WorkflowInstance {
	t.Helper()
	instance, err := h.engine.StartInstance(context.Background(), StartRequest{
		DefinitionID: defID,
		EntityType:   "work_order",
		EntityID:     entityID,
		StartedBy:    "initiator",
	})
	require.NoError(t, err)
	return instance
}

// openAssignment returns the single open assignment held by the given user on
// the instance.
func (h *engineHarness) openAssignment(t *testing.T, instanceID int64, userID string) *entity.Assignment {
	t.Helper()
	open, err := h.store.Assignments().GetOpenByAssignee(context.Background(), userID)
	require.NoError(t, err)
	for _, a := range open {
		if a.InstanceID == instanceID {
			return a
		}
	}
	t.Fatalf("no open assignment for %s on instance %d", userID, instanceID)
	return nil
}

func (h *engineHarness) act(t *testing.T, instanceID int64, userID string, action entity.Action) *ActionResult {
	t.Helper()
	a := h.openAssignment(t, instanceID, userID)
	result, err := h.engine.RecordAction(context.Background(), ActionRequest{
		AssignmentID: a.ID,
		Action:       action,
		ActorID:      userID,
	})
	require.NoError(t, err)
	return result
}

func (h *engineHarness) instance(t *testing.T, id int64) *entity.WorkflowInstance {
	t.Helper()
	instance, err := h.store.Instances().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, instance)
	return instance
}

func (h *engineHarness) stages(t *testing.T, instanceID int64) []*entity.StageInstance {
	t.Helper()
	stages, err := h.store.Stages().GetByInstance(context.Background(), instanceID)
	require.NoError(t, err)
	return stages
}

// makeOverdue pushes an assignment's deadline into the past.
func (h *engineHarness) makeOverdue(t *testing.T, assignmentID int64) {
	t.Helper()
	ctx := context.Background()
	a, err := h.store.Assignments().GetByID(ctx, assignmentID)
	require.NoError(t, err)
	require.NotNil(t, a)
	past := time.Now().Add(-time.Hour)
	a.Deadline = &past
	require.NoError(t, h.store.Assignments().Update(ctx, a))
}
