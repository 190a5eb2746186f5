package entity

import (
	"fmt"

	"github.com/stagecraft/approvalflow/internal/domain/rule"
)

// TerminalOutcome is a routing target that ends the instance instead of
// entering another stage.
type TerminalOutcome string

const (
	TerminalCompleted TerminalOutcome = "COMPLETED"
	TerminalRejected  TerminalOutcome = "REJECTED"
)

// IsValid returns true if the terminal outcome is one of the defined constants.
func (o TerminalOutcome) IsValid() bool {
	return o == TerminalCompleted || o == TerminalRejected
}

// RoutingRule decides where an instance goes after its source stage resolves.
// Rules for a stage are evaluated in Order; the first match wins. Exactly one
// of TargetStage and Terminal is set.
type RoutingRule struct {
	ID           int64           `json:"id"`
	DefinitionID int64           `json:"definition_id"`
	StageNumber  int             `json:"stage_number"`
	Order        int             `json:"order"`
	Name         string          `json:"name"`
	Condition    *rule.Condition `json:"condition,omitempty"`
	TargetStage  int             `json:"target_stage,omitempty"`
	Terminal     TerminalOutcome `json:"terminal,omitempty"`
}

// Validate checks that the rule names exactly one target and that its
// condition, if present, is well formed.
func (r *RoutingRule) Validate() error {
	if r.TargetStage != 0 && r.Terminal != "" {
		return fmt.Errorf("routing rule %q sets both a target stage and a terminal outcome", r.Name)
	}
	if r.TargetStage == 0 && r.Terminal == "" {
		return fmt.Errorf("routing rule %q sets neither a target stage nor a terminal outcome", r.Name)
	}
	if r.Terminal != "" && !r.Terminal.IsValid() {
		return fmt.Errorf("routing rule %q has unknown terminal outcome %q", r.Name, r.Terminal)
	}
	if r.Condition != nil {
		if err := r.Condition.Validate(); err != nil {
			return fmt.Errorf("routing rule %q: %w", r.Name, err)
		}
	}
	return nil
}

// Matches evaluates the rule's condition against the routing context. A rule
// without a condition always matches.
func (r *RoutingRule) Matches(ctx map[string]any) bool {
	if r.Condition == nil {
		return true
	}
	return r.Condition.Evaluate(ctx)
}
