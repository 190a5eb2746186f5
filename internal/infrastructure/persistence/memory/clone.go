package memory

import (
	"time"

	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/rule"
)

func cloneDefinition(d *entity.WorkflowDefinition) *entity.WorkflowDefinition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Stages = make([]*entity.StageDefinition, 0, len(d.Stages))
	for _, st := range d.Stages {
		sc := *st
		if st.Escalation != nil {
			ec := *st.Escalation
			sc.Escalation = &ec
		}
		clone.Stages = append(clone.Stages, &sc)
	}
	clone.Rules = make([]*entity.RoutingRule, 0, len(d.Rules))
	for _, r := range d.Rules {
		rc := *r
		rc.Condition = cloneCondition(r.Condition)
		clone.Rules = append(clone.Rules, &rc)
	}
	return &clone
}

func cloneCondition(c *rule.Condition) *rule.Condition {
	if c == nil {
		return nil
	}
	clone := *c
	if len(c.Args) > 0 {
		clone.Args = make([]*rule.Condition, 0, len(c.Args))
		for _, a := range c.Args {
			clone.Args = append(clone.Args, cloneCondition(a))
		}
	}
	return &clone
}

func cloneInstance(in *entity.WorkflowInstance) *entity.WorkflowInstance {
	if in == nil {
		return nil
	}
	clone := *in
	clone.Deadline = cloneTime(in.Deadline)
	clone.CompletedAt = cloneTime(in.CompletedAt)
	if in.HoldRemaining != nil {
		d := *in.HoldRemaining
		clone.HoldRemaining = &d
	}
	if in.Context != nil {
		clone.Context = cloneMap(in.Context)
	}
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneStage(st *entity.StageInstance) *entity.StageInstance {
	if st == nil {
		return nil
	}
	clone := *st
	clone.Deadline = cloneTime(st.Deadline)
	clone.EnteredAt = cloneTime(st.EnteredAt)
	clone.ResolvedAt = cloneTime(st.ResolvedAt)
	if st.HoldRemaining != nil {
		d := *st.HoldRemaining
		clone.HoldRemaining = &d
	}
	return &clone
}

func cloneAssignment(a *entity.Assignment) *entity.Assignment {
	if a == nil {
		return nil
	}
	clone := *a
	clone.ActedAt = cloneTime(a.ActedAt)
	clone.Deadline = cloneTime(a.Deadline)
	return &clone
}

func cloneDelegation(d *entity.Delegation) *entity.Delegation {
	if d == nil {
		return nil
	}
	clone := *d
	clone.ExpiresAt = cloneTime(d.ExpiresAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
