package entity

import (
	"fmt"
	"time"
)

// ApprovalType is the quorum rule deciding when a stage resolves.
type ApprovalType string

const (
	ApprovalUnanimous ApprovalType = "UNANIMOUS"
	ApprovalMajority  ApprovalType = "MAJORITY"
	ApprovalThreshold ApprovalType = "THRESHOLD"
	ApprovalMinimum   ApprovalType = "MINIMUM"
	ApprovalAny       ApprovalType = "ANY"
)

var validApprovalTypes = map[ApprovalType]bool{
	ApprovalUnanimous: true,
	ApprovalMajority:  true,
	ApprovalThreshold: true,
	ApprovalMinimum:   true,
	ApprovalAny:       true,
}

// IsValid returns true if the approval type is one of the defined constants.
func (t ApprovalType) IsValid() bool {
	return validApprovalTypes[t]
}

// NeedsThreshold returns true if the approval type carries a numeric parameter.
func (t ApprovalType) NeedsThreshold() bool {
	return t == ApprovalThreshold || t == ApprovalMinimum
}

// String returns the string representation of the approval type.
func (t ApprovalType) String() string {
	return string(t)
}

// AssignmentStrategy selects how a stage's assignees are computed from the
// candidate pool.
type AssignmentStrategy string

const (
	StrategyManual            AssignmentStrategy = "MANUAL"
	StrategyRoleBased         AssignmentStrategy = "ROLE_BASED"
	StrategyLoadBalanced      AssignmentStrategy = "LOAD_BALANCED"
	StrategyRoundRobin        AssignmentStrategy = "ROUND_ROBIN"
	StrategyParallelAll       AssignmentStrategy = "PARALLEL_ALL"
	StrategyParallelRoleGroup AssignmentStrategy = "PARALLEL_ROLE_GROUP"
)

var validStrategies = map[AssignmentStrategy]bool{
	StrategyManual:            true,
	StrategyRoleBased:         true,
	StrategyLoadBalanced:      true,
	StrategyRoundRobin:        true,
	StrategyParallelAll:       true,
	StrategyParallelRoleGroup: true,
}

// IsValid returns true if the strategy is one of the defined constants.
func (s AssignmentStrategy) IsValid() bool {
	return validStrategies[s]
}

// String returns the string representation of the strategy.
func (s AssignmentStrategy) String() string {
	return string(s)
}

// EscalationPolicy describes what happens to an overdue assignment.
// Escalation only changes who is responsible; it never approves or rejects.
type EscalationPolicy struct {
	ReassignToRole string `json:"reassign_to_role,omitempty"`
	RaisePriority  bool   `json:"raise_priority,omitempty"`
	FailStage      bool   `json:"fail_stage,omitempty"`
}

// StageDefinition is one step of a workflow definition. Stage numbers are
// unique and strictly increasing within a definition.
type StageDefinition struct {
	ID                int64              `json:"id"`
	DefinitionID      int64              `json:"definition_id"`
	StageNumber       int                `json:"stage_number"`
	Name              string             `json:"name"`
	ApprovalType      ApprovalType       `json:"approval_type"`
	Threshold         int                `json:"threshold,omitempty"`
	Strategy          AssignmentStrategy `json:"strategy"`
	Deadline          time.Duration      `json:"deadline,omitempty"`
	RequiresSignature bool               `json:"requires_signature"`
	Escalation        *EscalationPolicy  `json:"escalation,omitempty"`
}

// WorkflowDefinition is a named, versioned approval template. It is immutable
// once any instance references it; changes create a new version.
type WorkflowDefinition struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Version     int                `json:"version"`
	Description string             `json:"description,omitempty"`
	IsTemplate  bool               `json:"is_template"`
	IsActive    bool               `json:"is_active"`
	Stages      []*StageDefinition `json:"stages"`
	Rules       []*RoutingRule     `json:"rules,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Stage returns the stage definition with the given number, or nil.
func (d *WorkflowDefinition) Stage(number int) *StageDefinition {
	for _, s := range d.Stages {
		if s.StageNumber == number {
			return s
		}
	}
	return nil
}

// FirstStage returns the lowest-numbered stage, or nil for an empty definition.
func (d *WorkflowDefinition) FirstStage() *StageDefinition {
	if len(d.Stages) == 0 {
		return nil
	}
	return d.Stages[0]
}

// NextStage returns the stage that follows the given number in definition
// order, or nil if the given stage is the last.
func (d *WorkflowDefinition) NextStage(number int) *StageDefinition {
	for _, s := range d.Stages {
		if s.StageNumber > number {
			return s
		}
	}
	return nil
}

// PrevStage returns the stage that precedes the given number in definition
// order, or nil if the given stage is the first.
func (d *WorkflowDefinition) PrevStage(number int) *StageDefinition {
	var prev *StageDefinition
	for _, s := range d.Stages {
		if s.StageNumber >= number {
			break
		}
		prev = s
	}
	return prev
}

// RulesForStage returns the routing rules whose source is the given stage, in
// evaluation order.
func (d *WorkflowDefinition) RulesForStage(number int) []*RoutingRule {
	var rules []*RoutingRule
	for _, r := range d.Rules {
		if r.StageNumber == number {
			rules = append(rules, r)
		}
	}
	return rules
}

// Validate checks the structural integrity of the definition: ordered unique
// stage numbers, known enum values, threshold bounds, and resolvable routing
// targets. Rule conditions are validated separately by the definition service.
func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("definition name is required")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("definition %q has no stages", d.Name)
	}

	prev := 0
	for _, s := range d.Stages {
		if s.StageNumber <= prev {
			return fmt.Errorf("stage numbers must be strictly increasing: %d after %d", s.StageNumber, prev)
		}
		prev = s.StageNumber

		if !s.ApprovalType.IsValid() {
			return fmt.Errorf("stage %d: unknown approval type %q", s.StageNumber, s.ApprovalType)
		}
		if s.ApprovalType.NeedsThreshold() && s.Threshold < 1 {
			return fmt.Errorf("stage %d: %s requires a threshold >= 1", s.StageNumber, s.ApprovalType)
		}
		if !s.ApprovalType.NeedsThreshold() && s.Threshold != 0 {
			return fmt.Errorf("stage %d: threshold is only valid for THRESHOLD/MINIMUM", s.StageNumber)
		}
		if !s.Strategy.IsValid() {
			return fmt.Errorf("stage %d: unknown assignment strategy %q", s.StageNumber, s.Strategy)
		}
		if s.Deadline < 0 {
			return fmt.Errorf("stage %d: deadline must not be negative", s.StageNumber)
		}
	}

	for _, r := range d.Rules {
		if d.Stage(r.StageNumber) == nil {
			return fmt.Errorf("routing rule %q references unknown source stage %d", r.Name, r.StageNumber)
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if r.TargetStage != 0 && d.Stage(r.TargetStage) == nil {
			return fmt.Errorf("routing rule %q references unknown target stage %d", r.Name, r.TargetStage)
		}
	}

	return nil
}
