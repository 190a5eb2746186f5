package rule

import (
	"encoding/json"
	"strings"
)

// Evaluate resolves the condition against a routing context. Evaluation is
// deterministic and side-effect free: a missing field fails every comparison
// rather than raising an error, so a malformed context can only ever skip a
// route, never break routing.
func (c *Condition) Evaluate(ctx map[string]any) bool {
	switch c.Op {
	case OpAlways:
		return true
	case OpAnd:
		for _, a := range c.Args {
			if !a.Evaluate(ctx) {
				return false
			}
		}
		return true
	case OpOr:
		for _, a := range c.Args {
			if a.Evaluate(ctx) {
				return true
			}
		}
		return false
	case OpNot:
		return !c.Args[0].Evaluate(ctx)
	case OpExists:
		_, ok := lookup(ctx, c.Field)
		return ok
	default:
		return c.evaluateLeaf(ctx)
	}
}

func (c *Condition) evaluateLeaf(ctx map[string]any) bool {
	got, ok := lookup(ctx, c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return equal(got, c.Value)
	case OpNe:
		return !equal(got, c.Value)
	case OpGt:
		cmp, ok := compare(got, c.Value)
		return ok && cmp > 0
	case OpGte:
		cmp, ok := compare(got, c.Value)
		return ok && cmp >= 0
	case OpLt:
		cmp, ok := compare(got, c.Value)
		return ok && cmp < 0
	case OpLte:
		cmp, ok := compare(got, c.Value)
		return ok && cmp <= 0
	case OpIn:
		items, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if equal(got, item) {
				return true
			}
		}
		return false
	case OpContains:
		switch v := got.(type) {
		case string:
			want, ok := c.Value.(string)
			return ok && strings.Contains(v, want)
		case []any:
			for _, item := range v {
				if equal(item, c.Value) {
					return true
				}
			}
			return false
		}
		return false
	case OpPrefix:
		v, haveStr := got.(string)
		want, wantStr := c.Value.(string)
		return haveStr && wantStr && strings.HasPrefix(v, want)
	}
	return false
}

// lookup walks a dotted path through nested maps.
func lookup(ctx map[string]any, path string) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = ctx
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// equal compares two values with numeric coercion, so 3 and 3.0 from
// different JSON decoders compare equal.
func equal(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return false
}

// compare orders two values. Numbers order numerically, strings
// lexicographically; mixed types do not order.
func compare(a, b any) (int, bool) {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
