package voting

import (
	"testing"

	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

func required(action entity.Action) *entity.Assignment {
	return &entity.Assignment{Requirement: entity.RequirementRequired, Action: action}
}

func optional(action entity.Action) *entity.Assignment {
	return &entity.Assignment{Requirement: entity.RequirementOptional, Action: action}
}

func observer(action entity.Action) *entity.Assignment {
	return &entity.Assignment{Requirement: entity.RequirementObserver, Action: action}
}

func TestEvaluate_Unanimous(t *testing.T) {
	tests := []struct {
		name        string
		assignments []*entity.Assignment
		wantDecided bool
		wantOutcome entity.Outcome
	}{
		{
			name:        "all approved resolves approved",
			assignments: []*entity.Assignment{required(entity.ActionApproved), required(entity.ActionApproved)},
			wantDecided: true,
			wantOutcome: entity.OutcomeApproved,
		},
		{
			name:        "one open stays pending",
			assignments: []*entity.Assignment{required(entity.ActionApproved), required("")},
			wantDecided: false,
		},
		{
			name: "single rejection short-circuits with approvals outstanding",
			assignments: []*entity.Assignment{
				required(entity.ActionApproved),
				required(entity.ActionRejected),
				required(""),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeRejected,
		},
		{
			name: "optional rejection does not count",
			assignments: []*entity.Assignment{
				required(entity.ActionApproved),
				optional(entity.ActionRejected),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeApproved,
		},
		{
			name: "observer votes never count",
			assignments: []*entity.Assignment{
				required(entity.ActionApproved),
				observer(entity.ActionRejected),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeApproved,
		},
		{
			name:        "no assignments stays pending",
			assignments: nil,
			wantDecided: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(entity.ApprovalUnanimous, 0, tt.assignments)
			if got.Decided != tt.wantDecided {
				t.Fatalf("Evaluate() decided = %v, want %v", got.Decided, tt.wantDecided)
			}
			if got.Decided && got.Outcome != tt.wantOutcome {
				t.Errorf("Evaluate() outcome = %v, want %v", got.Outcome, tt.wantOutcome)
			}
		})
	}
}

func TestEvaluate_Majority(t *testing.T) {
	tests := []struct {
		name        string
		assignments []*entity.Assignment
		wantDecided bool
		wantOutcome entity.Outcome
	}{
		{
			name: "two of three approvals resolve without the third",
			assignments: []*entity.Assignment{
				required(entity.ActionApproved),
				required(entity.ActionApproved),
				required(""),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeApproved,
		},
		{
			name: "one of three stays pending",
			assignments: []*entity.Assignment{
				required(entity.ActionApproved),
				required(""),
				required(""),
			},
			wantDecided: false,
		},
		{
			name: "two of three rejections make majority impossible",
			assignments: []*entity.Assignment{
				required(entity.ActionRejected),
				required(entity.ActionRejected),
				required(""),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeRejected,
		},
		{
			name: "even split of four rejects",
			assignments: []*entity.Assignment{
				required(entity.ActionApproved),
				required(entity.ActionApproved),
				required(entity.ActionRejected),
				required(entity.ActionRejected),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeRejected,
		},
		{
			name: "three of four approvals resolve",
			assignments: []*entity.Assignment{
				required(entity.ActionApproved),
				required(entity.ActionApproved),
				required(entity.ActionApproved),
				required(""),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeApproved,
		},
		{
			name: "single assignee majority",
			assignments: []*entity.Assignment{
				required(entity.ActionApproved),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(entity.ApprovalMajority, 0, tt.assignments)
			if got.Decided != tt.wantDecided {
				t.Fatalf("Evaluate() decided = %v, want %v", got.Decided, tt.wantDecided)
			}
			if got.Decided && got.Outcome != tt.wantOutcome {
				t.Errorf("Evaluate() outcome = %v, want %v", got.Outcome, tt.wantOutcome)
			}
		})
	}
}

func TestEvaluate_Threshold(t *testing.T) {
	// Resolves the moment the n-th approval lands, never earlier.
	assignments := []*entity.Assignment{
		required(""), required(""), required(""), required(""), required(""),
	}

	for i := 0; i < 2; i++ {
		assignments[i].Action = entity.ActionApproved
		got := Evaluate(entity.ApprovalThreshold, 3, assignments)
		if got.Decided {
			t.Fatalf("Evaluate() decided after %d approvals, want pending until 3", i+1)
		}
	}

	assignments[2].Action = entity.ActionApproved
	got := Evaluate(entity.ApprovalThreshold, 3, assignments)
	if !got.Decided || got.Outcome != entity.OutcomeApproved {
		t.Fatalf("Evaluate() = %+v after 3rd approval, want approved", got)
	}
}

func TestEvaluate_Threshold_Impossible(t *testing.T) {
	// 3 needed, 3 of 5 already rejected: only 2 possible approvals remain.
	assignments := []*entity.Assignment{
		required(entity.ActionRejected),
		required(entity.ActionRejected),
		required(entity.ActionRejected),
		required(entity.ActionApproved),
		required(""),
	}

	got := Evaluate(entity.ApprovalThreshold, 3, assignments)
	if !got.Decided || got.Outcome != entity.OutcomeRejected {
		t.Fatalf("Evaluate() = %+v, want rejected once threshold is unreachable", got)
	}
}

func TestEvaluate_Minimum(t *testing.T) {
	// MINIMUM(1) on a three-person stage: a single approval resolves it.
	assignments := []*entity.Assignment{
		required(entity.ActionApproved),
		required(""),
		required(""),
	}

	got := Evaluate(entity.ApprovalMinimum, 1, assignments)
	if !got.Decided || got.Outcome != entity.OutcomeApproved {
		t.Fatalf("Evaluate() = %+v, want approved at minimum", got)
	}
}

func TestEvaluate_Any(t *testing.T) {
	tests := []struct {
		name        string
		assignments []*entity.Assignment
		wantDecided bool
		wantOutcome entity.Outcome
	}{
		{
			name: "optional approval counts",
			assignments: []*entity.Assignment{
				required(""),
				optional(entity.ActionApproved),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeApproved,
		},
		{
			name: "one rejection does not decide while others are open",
			assignments: []*entity.Assignment{
				required(entity.ActionRejected),
				required(""),
			},
			wantDecided: false,
		},
		{
			name: "everyone rejecting rejects",
			assignments: []*entity.Assignment{
				required(entity.ActionRejected),
				optional(entity.ActionRejected),
			},
			wantDecided: true,
			wantOutcome: entity.OutcomeRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(entity.ApprovalAny, 0, tt.assignments)
			if got.Decided != tt.wantDecided {
				t.Fatalf("Evaluate() decided = %v, want %v", got.Decided, tt.wantDecided)
			}
			if got.Decided && got.Outcome != tt.wantOutcome {
				t.Errorf("Evaluate() outcome = %v, want %v", got.Outcome, tt.wantOutcome)
			}
		})
	}
}

func TestEvaluate_ChangesRequestedShortCircuits(t *testing.T) {
	types := []entity.ApprovalType{
		entity.ApprovalUnanimous,
		entity.ApprovalMajority,
		entity.ApprovalThreshold,
		entity.ApprovalMinimum,
		entity.ApprovalAny,
	}

	assignments := []*entity.Assignment{
		required(entity.ActionApproved),
		required(entity.ActionChangesRequested),
		required(""),
	}

	for _, at := range types {
		t.Run(string(at), func(t *testing.T) {
			got := Evaluate(at, 2, assignments)
			if !got.Decided || got.Outcome != entity.OutcomeChangesRequested {
				t.Errorf("Evaluate(%s) = %+v, want changes requested", at, got)
			}
		})
	}
}

func TestEvaluate_DelegatedExcludedFromPool(t *testing.T) {
	// A delegated three delegations ago: only the live delegate counts.
	assignments := []*entity.Assignment{
		required(entity.ActionDelegated),
		required(entity.ActionApproved),
	}

	got := Evaluate(entity.ApprovalUnanimous, 0, assignments)
	if !got.Decided || got.Outcome != entity.OutcomeApproved {
		t.Fatalf("Evaluate() = %+v, want approved with delegated row excluded", got)
	}
}

func TestCount(t *testing.T) {
	assignments := []*entity.Assignment{
		required(entity.ActionApproved),
		required(entity.ActionRejected),
		required(""),
		required(entity.ActionDelegated),
		optional(entity.ActionApproved),
		observer(entity.ActionApproved),
	}

	req := Count(assignments, false)
	if req.Pool != 3 || req.Approved != 1 || req.Rejected != 1 || req.Open != 1 {
		t.Errorf("Count(required) = %+v, want pool 3 approved 1 rejected 1 open 1", req)
	}

	wide := Count(assignments, true)
	if wide.Pool != 4 || wide.Approved != 2 {
		t.Errorf("Count(wide) = %+v, want pool 4 approved 2", wide)
	}
}
