package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/authzengine/authzengine/internal/attrs"
)

// Input is the attribute view of one authorization request, resolvable by
// condition leaves via dotted paths: principal.id, resource.type,
// resource.id, action, and principal./resource./context. prefixed paths into
// the attribute maps.
type Input struct {
	PrincipalID  string
	Action       string
	ResourceType string
	ResourceID   string
	Principal    attrs.Map
	Resource     attrs.Map
	Context      attrs.Map
}

// Outcome is the policy stage's contribution to a decision. Matched false
// means no rule in any active policy was satisfied and the stage carries no
// signal.
type Outcome struct {
	Matched     bool
	Allowed     bool
	RuleID      string
	PolicyID    string
	PolicyName  string
	Description string
}

// principalIDLiteral on the right-hand side of a leaf is substituted with
// the request principal's id before comparison. This is what makes
// owner-equality rules expressible: {resource.owner_id = principal.id}.
const principalIDLiteral = "principal.id"

// Evaluate runs the tenant's policies against the input. Policies evaluate
// in priority order descending, rules within a policy likewise; the first
// rule whose condition is satisfied supplies the outcome. Ties break by
// name and rule id so repeated evaluation of identical state is
// reproducible.
func Evaluate(policies []*Policy, input *Input) *Outcome {
	ordered := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.Active() && len(p.Rules) > 0 {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})

	for _, p := range ordered {
		rules := make([]*Rule, len(p.Rules))
		copy(rules, p.Rules)
		sort.SliceStable(rules, func(i, j int) bool {
			if rules[i].Priority != rules[j].Priority {
				return rules[i].Priority > rules[j].Priority
			}
			return rules[i].ID < rules[j].ID
		})

		for _, rule := range rules {
			if rule.Condition == nil {
				continue
			}
			satisfied, _ := evalCondition(rule.Condition, input)
			if satisfied {
				return &Outcome{
					Matched:     true,
					Allowed:     rule.Effect == EffectAllow,
					RuleID:      rule.ID,
					PolicyID:    p.ID,
					PolicyName:  p.Name,
					Description: rule.Description,
				}
			}
		}
	}

	return &Outcome{Matched: false}
}

// evalCondition returns whether the condition is satisfied, with the
// accumulated failure descriptions when it is not.
func evalCondition(c *Condition, input *Input) (bool, []string) {
	switch {
	case c.Group != nil:
		return evalGroup(c.Group, input)
	case c.Leaf != nil:
		ok, failure := evalLeaf(c.Leaf, input)
		if ok {
			return true, nil
		}
		return false, []string{failure}
	default:
		return false, []string{"empty condition"}
	}
}

func evalGroup(g *Group, input *Input) (bool, []string) {
	switch g.Operator {
	case OpAnd:
		var failures []string
		for _, operand := range g.Operands {
			ok, inner := evalCondition(operand, input)
			if !ok {
				failures = append(failures, inner...)
			}
		}
		return len(failures) == 0, failures

	case OpOr:
		var failures []string
		for _, operand := range g.Operands {
			ok, inner := evalCondition(operand, input)
			if ok {
				return true, nil
			}
			failures = append(failures, inner...)
		}
		return false, failures

	case OpNot:
		if len(g.Operands) != 1 {
			return false, []string{"not requires exactly one operand"}
		}
		ok, _ := evalCondition(g.Operands[0], input)
		if ok {
			return false, []string{"negated condition was satisfied"}
		}
		return true, nil

	default:
		return false, []string{fmt.Sprintf("unknown group operator %q", g.Operator)}
	}
}

// evalLeaf compares one resolved attribute against the rule literal. An
// attribute that does not resolve makes the leaf unsatisfied, never an
// error: policies probe attributes that many requests simply do not carry.
func evalLeaf(l *Leaf, input *Input) (bool, string) {
	actual, ok := resolveAttribute(l.Attribute, input)

	if l.Operator == OpExists {
		if ok && actual != nil {
			return true, ""
		}
		return false, fmt.Sprintf("%s does not exist", l.Attribute)
	}

	if !ok || actual == nil {
		return false, fmt.Sprintf("%s did not resolve", l.Attribute)
	}

	rhs := substitute(l.Value, input)

	switch l.Operator {
	case OpEqual:
		if attrs.Equal(actual, rhs) {
			return true, ""
		}
		return false, fmt.Sprintf("%s = %v not satisfied (actual %v)", l.Attribute, rhs, actual)

	case OpNotEqual:
		if !attrs.Equal(actual, rhs) {
			return true, ""
		}
		return false, fmt.Sprintf("%s != %v not satisfied", l.Attribute, rhs)

	case OpLess, OpGreater, OpLessEqual, OpGreaterEqual:
		cmp, comparable := attrs.Compare(actual, rhs)
		if !comparable {
			return false, fmt.Sprintf("%s %s %v: values not comparable", l.Attribute, l.Operator, rhs)
		}
		var satisfied bool
		switch l.Operator {
		case OpLess:
			satisfied = cmp < 0
		case OpGreater:
			satisfied = cmp > 0
		case OpLessEqual:
			satisfied = cmp <= 0
		case OpGreaterEqual:
			satisfied = cmp >= 0
		}
		if satisfied {
			return true, ""
		}
		return false, fmt.Sprintf("%s %s %v not satisfied (actual %v)", l.Attribute, l.Operator, rhs, actual)

	case OpIn:
		for _, item := range l.Values {
			if attrs.Equal(actual, substitute(item, input)) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("%s in %v not satisfied (actual %v)", l.Attribute, l.Values, actual)

	case OpContains:
		list, isList := attrs.List(actual)
		if !isList {
			return false, fmt.Sprintf("%s is not a list", l.Attribute)
		}
		for _, item := range list {
			if attrs.Equal(item, rhs) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("%s does not contain %v", l.Attribute, rhs)
	}

	return false, fmt.Sprintf("unknown operator %q", l.Operator)
}

func resolveAttribute(path string, input *Input) (any, bool) {
	switch path {
	case "principal.id":
		return input.PrincipalID, true
	case "resource.type":
		return input.ResourceType, true
	case "resource.id":
		return input.ResourceID, true
	case "action":
		return input.Action, true
	}
	switch {
	case strings.HasPrefix(path, "principal."):
		return input.Principal.Resolve(strings.TrimPrefix(path, "principal."))
	case strings.HasPrefix(path, "resource."):
		return input.Resource.Resolve(strings.TrimPrefix(path, "resource."))
	case strings.HasPrefix(path, "context."):
		return input.Context.Resolve(strings.TrimPrefix(path, "context."))
	}
	return nil, false
}

func substitute(v any, input *Input) any {
	if s, ok := v.(string); ok && s == principalIDLiteral {
		return input.PrincipalID
	}
	return v
}
