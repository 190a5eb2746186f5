package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// Logger is the minimal logging dependency of the service layer.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// AssignmentResolver turns a stage definition and a candidate pool into the
// concrete assignment set. Resolution is deterministic: the same pool, the
// same open-assignment counts, and the same rotation cursor always produce
// the same assignees. The strategy set is closed; unknown strategies are a
// definition-validation failure, not a runtime branch.
type AssignmentResolver interface {
	Resolve(ctx context.Context, stage *entity.StageDefinition, pool []port.Candidate) ([]*entity.Assignment, error)
}

type assignmentResolverImpl struct {
	assignmentRepo port.AssignmentRepository
	rotationRepo   port.RotationRepository
	logger         Logger
}

// NewAssignmentResolver creates the resolver over its two lookup
// dependencies: open-assignment counts for LOAD_BALANCED and the rotation
// cursor for ROUND_ROBIN.
func NewAssignmentResolver(
	assignmentRepo port.AssignmentRepository,
	rotationRepo port.RotationRepository,
	logger Logger,
) AssignmentResolver {
	return &assignmentResolverImpl{
		assignmentRepo: assignmentRepo,
		rotationRepo:   rotationRepo,
		logger:         logger,
	}
}

// Resolve computes the assignment set for one stage instance. For
// PARALLEL_ROLE_GROUP the caller splits the pool per role group and calls
// Resolve once per group; every other strategy receives the whole pool.
func (r *assignmentResolverImpl) Resolve(ctx context.Context, stage *entity.StageDefinition, pool []port.Candidate) ([]*entity.Assignment, error) {
	candidates := normalizePool(pool)
	if len(candidates) == 0 {
		return nil, workflow.ErrNoEligibleAssignees
	}

	switch stage.Strategy {
	case entity.StrategyManual, entity.StrategyRoleBased, entity.StrategyParallelAll, entity.StrategyParallelRoleGroup:
		return requiredForAll(candidates), nil

	case entity.StrategyLoadBalanced:
		chosen, err := r.pickLeastLoaded(ctx, candidates)
		if err != nil {
			return nil, err
		}
		return requiredForAll([]port.Candidate{chosen}), nil

	case entity.StrategyRoundRobin:
		chosen, err := r.pickNextInRotation(ctx, stage, candidates)
		if err != nil {
			return nil, err
		}
		return requiredForAll([]port.Candidate{chosen}), nil

	default:
		return nil, fmt.Errorf("unknown assignment strategy %q", stage.Strategy)
	}
}

// normalizePool removes duplicate users and sorts by user ID. The sort is
// what makes every tie-break and rotation step reproducible.
func normalizePool(pool []port.Candidate) []port.Candidate {
	seen := make(map[string]bool, len(pool))
	out := make([]port.Candidate, 0, len(pool))
	for _, c := range pool {
		if c.UserID == "" || seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func requiredForAll(candidates []port.Candidate) []*entity.Assignment {
	assignments := make([]*entity.Assignment, 0, len(candidates))
	for _, c := range candidates {
		assignments = append(assignments, &entity.Assignment{
			AssigneeID:  c.UserID,
			Role:        c.Role,
			Requirement: entity.RequirementRequired,
		})
	}
	return assignments
}

// pickLeastLoaded selects the candidate with the fewest currently-open
// assignments. Candidates arrive sorted, and only a strictly lower count
// replaces the running choice, so ties fall to the lowest user ID.
func (r *assignmentResolverImpl) pickLeastLoaded(ctx context.Context, candidates []port.Candidate) (port.Candidate, error) {
	best := candidates[0]
	bestCount := -1
	for _, c := range candidates {
		count, err := r.assignmentRepo.CountOpenByAssignee(ctx, c.UserID)
		if err != nil {
			return port.Candidate{}, fmt.Errorf("count open assignments for %s: %w", c.UserID, err)
		}
		if bestCount == -1 || count < bestCount {
			best = c
			bestCount = count
		}
	}
	return best, nil
}

// pickNextInRotation selects the first candidate after the stored cursor in
// user-ID order, wrapping at the end. A cursor pointing at a user no longer
// in the pool still orders the step, since selection only needs "first ID
// greater than the cursor". The cursor advances in the caller's transaction.
func (r *assignmentResolverImpl) pickNextInRotation(ctx context.Context, stage *entity.StageDefinition, candidates []port.Candidate) (port.Candidate, error) {
	rotation, err := r.rotationRepo.Get(ctx, stage.DefinitionID, stage.StageNumber)
	if err != nil {
		return port.Candidate{}, fmt.Errorf("load rotation cursor: %w", err)
	}

	chosen := candidates[0]
	if rotation != nil {
		for _, c := range candidates {
			if c.UserID > rotation.LastAssignee {
				chosen = c
				break
			}
		}
	}

	err = r.rotationRepo.Upsert(ctx, &entity.StageRotation{
		DefinitionID: stage.DefinitionID,
		StageNumber:  stage.StageNumber,
		LastAssignee: chosen.UserID,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		return port.Candidate{}, fmt.Errorf("advance rotation cursor: %w", err)
	}
	return chosen, nil
}

var _ AssignmentResolver = (*assignmentResolverImpl)(nil)
