package rbac

import "sort"

// Violation records one tripped separation-of-duties constraint: which
// constraint, and which roles from its set the principal would hold.
type Violation struct {
	Constraint       *RoleConstraint
	ConflictingRoles []string
}

// CheckStaticSoD evaluates the active static constraints against the role
// set a principal would hold after gaining candidateRoleID. A constraint is
// violated when two or more members of its role set appear in that
// prospective set. Callers reject the assignment when any violation's
// constraint carries the deny action; alert violations are reported but do
// not block.
func CheckStaticSoD(constraints []*RoleConstraint, closureIDs []string, candidateRoleID string) []*Violation {
	prospective := make(map[string]bool, len(closureIDs)+1)
	for _, id := range closureIDs {
		prospective[id] = true
	}
	prospective[candidateRoleID] = true

	var violations []*Violation
	for _, c := range constraints {
		if c.Kind != ConstraintStaticSoD || !c.Active() {
			continue
		}
		var conflicting []string
		for _, id := range c.RoleSet {
			if prospective[id] {
				conflicting = append(conflicting, id)
			}
		}
		if len(conflicting) >= 2 {
			sort.Strings(conflicting)
			violations = append(violations, &Violation{
				Constraint:       c,
				ConflictingRoles: conflicting,
			})
		}
	}
	return violations
}

// Active reports whether the constraint is enforced.
func (c *RoleConstraint) Active() bool {
	return c.Status == RoleStatusActive
}

// Blocking reports whether any violation demands rejection.
func Blocking(violations []*Violation) *Violation {
	for _, v := range violations {
		if v.Constraint.ViolationAction == ViolationDeny {
			return v
		}
	}
	return nil
}
