// Copyright 2026 The AuthzEngine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package policy

import (
	"encoding/json"
	"fmt"
)

// Operator names a comparison or combinator in the condition language.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpGreater      Operator = ">"
	OpLessEqual    Operator = "<="
	OpGreaterEqual Operator = ">="
	OpIn           Operator = "in"
	OpContains     Operator = "contains"
	OpExists       Operator = "exists"

	OpAnd Operator = "and"
	OpOr  Operator = "or"
	OpNot Operator = "not"
)

// Condition is a recursive tagged value: either a Leaf comparing one
// attribute against a literal, or a Group combining sub-conditions. Exactly
// one of the two is set; the JSON codec decides by operator.
type Condition struct {
	Leaf  *Leaf
	Group *Group
}

// Leaf compares the attribute at a dotted path against a literal value. The
// in operator reads its list from Values; every other operator reads Value.
type Leaf struct {
	Attribute string
	Operator  Operator
	Value     any
	Values    []any
}

// Group combines operands with and, or, or not. not takes exactly one
// operand.
type Group struct {
	Operator Operator
	Operands []*Condition
}

// rawCondition is the single wire shape both variants decode from.
type rawCondition struct {
	Attribute string       `json:"attribute,omitempty"`
	Operator  Operator     `json:"operator"`
	Value     any          `json:"value,omitempty"`
	Values    []any        `json:"values,omitempty"`
	Operands  []*Condition `json:"operands,omitempty"`
}

func isGroupOperator(op Operator) bool {
	return op == OpAnd || op == OpOr || op == OpNot
}

func isLeafOperator(op Operator) bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpGreater, OpLessEqual, OpGreaterEqual, OpIn, OpContains, OpExists:
		return true
	}
	return false
}

// UnmarshalJSON decodes a condition tree, classifying each node by its
// operator. Unknown operators surface at validation, not here, so storage
// reads never panic on historical data.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw rawCondition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if isGroupOperator(raw.Operator) {
		c.Group = &Group{Operator: raw.Operator, Operands: raw.Operands}
		c.Leaf = nil
		return nil
	}
	c.Leaf = &Leaf{
		Attribute: raw.Attribute,
		Operator:  raw.Operator,
		Value:     raw.Value,
		Values:    raw.Values,
	}
	c.Group = nil
	return nil
}

// MarshalJSON renders the condition back to the wire shape.
func (c *Condition) MarshalJSON() ([]byte, error) {
	if c.Group != nil {
		return json.Marshal(rawCondition{Operator: c.Group.Operator, Operands: c.Group.Operands})
	}
	if c.Leaf != nil {
		return json.Marshal(rawCondition{
			Attribute: c.Leaf.Attribute,
			Operator:  c.Leaf.Operator,
			Value:     c.Leaf.Value,
			Values:    c.Leaf.Values,
		})
	}
	return nil, fmt.Errorf("condition has neither leaf nor group")
}

// Validate checks the structural rules of the condition language. Runtime
// evaluation assumes a validated tree, so this runs on every create and
// update before a condition reaches storage.
func (c *Condition) Validate() error {
	switch {
	case c.Group != nil:
		return c.Group.validate()
	case c.Leaf != nil:
		return c.Leaf.validate()
	default:
		return fmt.Errorf("condition is empty")
	}
}

func (g *Group) validate() error {
	if len(g.Operands) == 0 {
		return fmt.Errorf("group %q requires at least one operand", g.Operator)
	}
	if g.Operator == OpNot && len(g.Operands) != 1 {
		return fmt.Errorf("not requires exactly one operand, got %d", len(g.Operands))
	}
	for i, operand := range g.Operands {
		if operand == nil {
			return fmt.Errorf("group %q operand %d is null", g.Operator, i)
		}
		if err := operand.Validate(); err != nil {
			return fmt.Errorf("group %q operand %d: %w", g.Operator, i, err)
		}
	}
	return nil
}

func (l *Leaf) validate() error {
	if l.Attribute == "" {
		return fmt.Errorf("leaf condition requires an attribute")
	}
	if l.Operator == "" {
		return fmt.Errorf("leaf condition on %q requires an operator", l.Attribute)
	}
	if !isLeafOperator(l.Operator) {
		return fmt.Errorf("unknown operator %q", l.Operator)
	}
	if l.Operator == OpExists {
		return nil
	}
	if l.Operator == OpIn {
		if len(l.Values) == 0 {
			return fmt.Errorf("operator in on %q requires a non-empty values list", l.Attribute)
		}
		return nil
	}
	if l.Value == nil && len(l.Values) == 0 {
		return fmt.Errorf("operator %q on %q requires a value", l.Operator, l.Attribute)
	}
	return nil
}
