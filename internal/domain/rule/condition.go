// Package rule implements the declarative routing conditions attached to
// workflow definitions. Conditions are stored as JSON, validated when a
// definition is registered, and evaluated side-effect free against a routing
// context assembled by the engine.
package rule

import (
	"encoding/json"
	"fmt"
)

// Op enumerates the condition operators.
type Op string

const (
	// OpAlways matches unconditionally. It is the idiom for default routes.
	OpAlways Op = "always"

	// Comparison operators. Field and Value are required.
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"

	// OpIn matches when the field equals any element of Value (an array).
	OpIn Op = "in"
	// OpContains matches substrings of string fields and elements of array fields.
	OpContains Op = "contains"
	// OpPrefix matches string fields beginning with Value.
	OpPrefix Op = "prefix"
	// OpExists matches when the field is present, whatever its value.
	OpExists Op = "exists"

	// Combinators. Args holds the operands.
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"
)

// Condition is one node of a routing condition tree. Leaf operators compare a
// context field against a literal; combinators nest further conditions in Args.
type Condition struct {
	Op    Op           `json:"op"`
	Field string       `json:"field,omitempty"`
	Value any          `json:"value,omitempty"`
	Args  []*Condition `json:"args,omitempty"`
}

// Parse decodes and validates a JSON condition document.
func Parse(data []byte) (*Condition, error) {
	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse condition: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// MustParse is Parse for tests and static definitions; it panics on error.
func MustParse(data string) *Condition {
	c, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks operator arity over the whole tree.
func (c *Condition) Validate() error {
	switch c.Op {
	case OpAlways:
		if c.Field != "" || c.Value != nil || len(c.Args) != 0 {
			return fmt.Errorf("condition %q takes no operands", c.Op)
		}
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpPrefix:
		if c.Field == "" {
			return fmt.Errorf("condition %q requires a field", c.Op)
		}
		if c.Value == nil {
			return fmt.Errorf("condition %q on %q requires a value", c.Op, c.Field)
		}
		if len(c.Args) != 0 {
			return fmt.Errorf("condition %q takes no nested conditions", c.Op)
		}
		if c.Op == OpIn {
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("condition %q on %q requires an array value", c.Op, c.Field)
			}
		}
	case OpExists:
		if c.Field == "" {
			return fmt.Errorf("condition %q requires a field", c.Op)
		}
		if c.Value != nil || len(c.Args) != 0 {
			return fmt.Errorf("condition %q takes only a field", c.Op)
		}
	case OpAnd, OpOr:
		if len(c.Args) == 0 {
			return fmt.Errorf("condition %q requires at least one nested condition", c.Op)
		}
		for _, a := range c.Args {
			if err := a.Validate(); err != nil {
				return err
			}
		}
	case OpNot:
		if len(c.Args) != 1 {
			return fmt.Errorf("condition %q requires exactly one nested condition", c.Op)
		}
		return c.Args[0].Validate()
	default:
		return fmt.Errorf("unknown condition operator %q", c.Op)
	}
	return nil
}
