package router

import (
	"encoding/json"
	"sort"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/models"
)

// Evaluate reports whether cond holds for the attribute map. Missing fields
// read as nil. Ordering operators only match numeric operands; anything else
// is false rather than an error.
func Evaluate(cond models.Condition, fields map[string]interface{}) bool {
	switch cond.Kind {
	case models.ConditionAlways:
		return true
	case models.ConditionAll:
		for _, child := range cond.Children {
			if !Evaluate(child, fields) {
				return false
			}
		}
		return true
	case models.ConditionAny:
		for _, child := range cond.Children {
			if Evaluate(child, fields) {
				return true
			}
		}
		return false
	case models.ConditionCompare:
		return compare(fields[cond.Field], cond.Operator, cond.Value)
	default:
		return false
	}
}

func compare(actual interface{}, op models.Operator, expected interface{}) bool {
	switch op {
	case models.OpEqual:
		return equal(actual, expected)
	case models.OpNotEqual:
		return !equal(actual, expected)
	}

	left, ok := number(actual)
	if !ok {
		return false
	}
	right, ok := number(expected)
	if !ok {
		return false
	}
	switch op {
	case models.OpGreater:
		return left > right
	case models.OpLess:
		return left < right
	case models.OpGreaterOrEqual:
		return left >= right
	case models.OpLessOrEqual:
		return left <= right
	}
	return false
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
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

// SelectRule returns the highest-priority active rule whose condition
// matches. First match wins; equal priorities keep their input order.
func SelectRule(rules []models.RoutingRule, fields map[string]interface{}) (models.RoutingRule, error) {
	ordered := make([]models.RoutingRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	for _, rule := range ordered {
		if !rule.IsActive {
			continue
		}
		if Evaluate(rule.Conditions, fields) {
			return rule, nil
		}
	}
	return models.RoutingRule{}, apperr.Configuration("no active routing rule matched; a catch-all rule is required")
}
