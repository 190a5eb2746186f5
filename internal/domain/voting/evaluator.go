// Package voting decides whether a stage's recorded actions satisfy its
// quorum rule. The evaluator is a pure function over the assignment set; the
// engine re-runs it after every action and after every optimistic retry, so
// it must never consult anything but its inputs.
package voting

import (
	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

// Result is the evaluator's verdict for one stage instance.
type Result struct {
	Decided bool
	Outcome entity.Outcome
}

func pending() Result  { return Result{} }
func approved() Result { return Result{Decided: true, Outcome: entity.OutcomeApproved} }
func rejected() Result { return Result{Decided: true, Outcome: entity.OutcomeRejected} }
func changes() Result  { return Result{Decided: true, Outcome: entity.OutcomeChangesRequested} }

// Tally is the vote count over one stage instance's assignments. Delegated,
// escalated, and skipped assignments are replaced or moot and stay out of the
// pool entirely; Pool is always Approved+Rejected+Changes+Open.
type Tally struct {
	Pool     int
	Approved int
	Rejected int
	Changes  int
	Open     int
}

// Count tallies assignments. Observers are never counted. Optional
// assignments join the pool only when includeOptional is set; the ANY rule
// counts them, every other rule counts required assignments alone.
func Count(assignments []*entity.Assignment, includeOptional bool) Tally {
	var t Tally
	for _, a := range assignments {
		switch a.Requirement {
		case entity.RequirementObserver:
			continue
		case entity.RequirementOptional:
			if !includeOptional {
				continue
			}
		}

		switch a.Action {
		case "":
			t.Open++
		case entity.ActionApproved:
			t.Approved++
		case entity.ActionRejected:
			t.Rejected++
		case entity.ActionChangesRequested:
			t.Changes++
		default:
			// DELEGATED, ESCALATED, SKIPPED: superseded, not part of the pool.
			continue
		}
		t.Pool++
	}
	return t
}

// Evaluate decides a stage under its approval type. Threshold carries the n
// of THRESHOLD(n)/MINIMUM(n) and is ignored by the other types.
//
// A CHANGES_REQUESTED action from any counted participant resolves the stage
// immediately with that outcome; it is feedback, not a vote, so it bypasses
// the quorum arithmetic.
func Evaluate(approvalType entity.ApprovalType, threshold int, assignments []*entity.Assignment) Result {
	wide := Count(assignments, true)
	if wide.Changes > 0 {
		return changes()
	}

	if approvalType == entity.ApprovalAny {
		if wide.Approved > 0 {
			return approved()
		}
		if wide.Pool > 0 && wide.Rejected == wide.Pool {
			return rejected()
		}
		return pending()
	}

	req := Count(assignments, false)
	if req.Pool == 0 {
		// Nothing counts toward quorum. The resolver never produces this; if
		// it appears the stage waits for intervention rather than resolving.
		return pending()
	}

	switch approvalType {
	case entity.ApprovalUnanimous:
		if req.Rejected > 0 {
			return rejected()
		}
		if req.Approved == req.Pool {
			return approved()
		}
	case entity.ApprovalMajority:
		if 2*req.Approved > req.Pool {
			return approved()
		}
		// Majority is impossible once even unanimous remaining votes cannot
		// push approvals past half the pool.
		if 2*(req.Approved+req.Open) <= req.Pool {
			return rejected()
		}
	case entity.ApprovalThreshold, entity.ApprovalMinimum:
		if req.Approved >= threshold {
			return approved()
		}
		if req.Approved+req.Open < threshold {
			return rejected()
		}
	}

	return pending()
}
