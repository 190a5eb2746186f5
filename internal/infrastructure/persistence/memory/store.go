// Package memory provides an in-memory implementation of the persistence
// ports. It backs the test suite and embedded single-process deployments;
// the sqlite repositories are the production implementation.
package memory

import (
	"context"
	"sync"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

// Store holds every aggregate in process memory. All repositories created
// from one Store share its lock, and WithTransaction serializes writers, so
// the optimistic-version contract of the ports behaves the same way it does
// over SQLite.
type Store struct {
	mu sync.Mutex

	definitions map[int64]*entity.WorkflowDefinition
	instances   map[int64]*entity.WorkflowInstance
	stages      map[int64]*entity.StageInstance
	assignments map[int64]*entity.Assignment
	delegations map[int64]*entity.Delegation
	history     map[int64][]*entity.HistoryEntry
	rotations   map[rotationKey]*entity.StageRotation
	outbox      map[int64]*entity.Notification

	nextDefinitionID   int64
	nextStageDefID     int64
	nextRuleID         int64
	nextInstanceID     int64
	nextStageID        int64
	nextAssignmentID   int64
	nextDelegationID   int64
	nextHistoryID      int64
	nextNotificationID int64

	txMu sync.Mutex
}

type rotationKey struct {
	definitionID int64
	stageNumber  int
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		definitions: make(map[int64]*entity.WorkflowDefinition),
		instances:   make(map[int64]*entity.WorkflowInstance),
		stages:      make(map[int64]*entity.StageInstance),
		assignments: make(map[int64]*entity.Assignment),
		delegations: make(map[int64]*entity.Delegation),
		history:     make(map[int64][]*entity.HistoryEntry),
		rotations:   make(map[rotationKey]*entity.StageRotation),
		outbox:      make(map[int64]*entity.Notification),
	}
}

// WithTransaction implements port.TransactionManager. Memory has no real
// transactions; a store-wide mutex gives the same effect for the engine's
// read-evaluate-write sections: two concurrent callers never interleave
// inside one.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey, struct{}{}))
}

type contextKey string

const txKey contextKey = "memtx"

// Definitions returns the definition repository view of the store.
func (s *Store) Definitions() port.DefinitionRepository { return &definitionRepo{s} }

// Instances returns the instance repository view of the store.
func (s *Store) Instances() port.InstanceRepository { return &instanceRepo{s} }

// Stages returns the stage instance repository view of the store.
func (s *Store) Stages() port.StageRepository { return &stageRepo{s} }

// Assignments returns the assignment repository view of the store.
func (s *Store) Assignments() port.AssignmentRepository { return &assignmentRepo{s} }

// Delegations returns the delegation repository view of the store.
func (s *Store) Delegations() port.DelegationRepository { return &delegationRepo{s} }

// History returns the history repository view of the store.
func (s *Store) History() port.HistoryRepository { return &historyRepo{s} }

// Tasks returns the task queue view of the store.
func (s *Store) Tasks() port.TaskRepository { return &taskRepo{s} }

// Rotations returns the round-robin cursor repository view of the store.
func (s *Store) Rotations() port.RotationRepository { return &rotationRepo{s} }

// Notifications returns the notification outbox view of the store.
func (s *Store) Notifications() port.NotificationRepository { return &notificationRepo{s} }

var _ port.TransactionManager = (*Store)(nil)
