package models

import (
	"encoding/json"
	"fmt"
)

// ConditionKind tags the node type of a rule condition tree.
type ConditionKind string

const (
	ConditionAlways  ConditionKind = "always"
	ConditionAll     ConditionKind = "and"
	ConditionAny     ConditionKind = "or"
	ConditionCompare ConditionKind = "compare"
)

type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
)

func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual:
		return true
	}
	return false
}

// Condition is one node of a rule's boolean expression tree. Only the fields
// belonging to Kind are meaningful: Children for and/or, Field/Operator/Value
// for compare, nothing for always.
//
// On the wire it keeps the stored shape: {"always":true}, {"and":[...]},
// {"or":[...]} or {"field":..., "operator":..., "value":...}.
type Condition struct {
	Kind     ConditionKind
	Children []Condition
	Field    string
	Operator Operator
	Value    interface{}
}

func Always() Condition { return Condition{Kind: ConditionAlways} }

func And(children ...Condition) Condition {
	return Condition{Kind: ConditionAll, Children: children}
}

func Or(children ...Condition) Condition {
	return Condition{Kind: ConditionAny, Children: children}
}

func Compare(field string, op Operator, value interface{}) Condition {
	return Condition{Kind: ConditionCompare, Field: field, Operator: op, Value: value}
}

// IsCatchAll reports whether the condition matches every input.
func (c Condition) IsCatchAll() bool {
	return c.Kind == ConditionAlways
}

// Validate checks the tree is well formed.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionAlways:
		return nil
	case ConditionAll, ConditionAny:
		for i, child := range c.Children {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", c.Kind, i, err)
			}
		}
		return nil
	case ConditionCompare:
		if c.Field == "" {
			return fmt.Errorf("comparison without field")
		}
		if !c.Operator.Valid() {
			return fmt.Errorf("unsupported operator %q", c.Operator)
		}
		return nil
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

func (c Condition) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ConditionAlways:
		return json.Marshal(map[string]bool{"always": true})
	case ConditionAll, ConditionAny:
		children := c.Children
		if children == nil {
			children = []Condition{}
		}
		return json.Marshal(map[string][]Condition{string(c.Kind): children})
	case ConditionCompare:
		return json.Marshal(struct {
			Field    string      `json:"field"`
			Operator Operator    `json:"operator"`
			Value    interface{} `json:"value"`
		}{c.Field, c.Operator, c.Value})
	default:
		return nil, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("condition must be an object: %w", err)
	}

	if v, ok := raw["always"]; ok {
		var always bool
		if err := json.Unmarshal(v, &always); err != nil || !always {
			return fmt.Errorf("always must be true")
		}
		*c = Always()
		return nil
	}

	for _, kind := range []ConditionKind{ConditionAll, ConditionAny} {
		v, ok := raw[string(kind)]
		if !ok {
			continue
		}
		var children []Condition
		if err := json.Unmarshal(v, &children); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		*c = Condition{Kind: kind, Children: children}
		return nil
	}

	if _, ok := raw["field"]; ok {
		var cmp struct {
			Field    string      `json:"field"`
			Operator Operator    `json:"operator"`
			Value    interface{} `json:"value"`
		}
		if err := json.Unmarshal(data, &cmp); err != nil {
			return err
		}
		*c = Compare(cmp.Field, cmp.Operator, cmp.Value)
		return c.Validate()
	}

	return fmt.Errorf("condition has none of always, and, or, field")
}
