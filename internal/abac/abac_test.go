package abac

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/authzengine/authzengine/internal/attrs"
)

// TestPurpose: Validates the ownership predicate against matching and mismatched owners.
// Scope: Unit Test
// Expected: A foreign owner_id fails with "Resource owner mismatch"; a matching one passes.
// Test Case ID: ABC-01
func TestABAC_Evaluate_Ownership(t *testing.T) {
	denied := Evaluate("p1", attrs.Map{}, attrs.Map{"owner_id": "p2"})
	assert.False(t, denied.Allowed)
	assert.Contains(t, denied.FailedConditions, "Resource owner mismatch")

	allowed := Evaluate("p1", attrs.Map{}, attrs.Map{"owner_id": "p1"})
	assert.True(t, allowed.Allowed)
	assert.Empty(t, allowed.FailedConditions)
}

// TestPurpose: Validates that predicates with absent inputs are skipped rather than failed.
// Scope: Unit Test
// Expected: Empty attribute maps allow; a lone sensitivity with no clearance allows; a lone department allows.
// Test Case ID: ABC-02
func TestABAC_Evaluate_MissingInputsSkip(t *testing.T) {
	assert.True(t, Evaluate("p1", attrs.Map{}, attrs.Map{}).Allowed)

	// resource demands sensitivity but the principal carries no clearance
	assert.True(t, Evaluate("p1", attrs.Map{}, attrs.Map{"sensitivity": 3}).Allowed)

	// principal has a department but the resource requires none
	assert.True(t, Evaluate("p1", attrs.Map{"department": "finance"}, attrs.Map{}).Allowed)

	// resource requires a department but the principal declares none
	assert.True(t, Evaluate("p1", attrs.Map{}, attrs.Map{"required_department": "finance"}).Allowed)
}

// TestPurpose: Validates the department predicate when both sides are present.
// Scope: Unit Test
// Expected: Unequal departments fail naming the requirement; equal departments pass.
// Test Case ID: ABC-03
func TestABAC_Evaluate_Department(t *testing.T) {
	denied := Evaluate("p1",
		attrs.Map{"department": "engineering"},
		attrs.Map{"required_department": "finance"})
	assert.False(t, denied.Allowed)
	assert.Contains(t, denied.FailedConditions, "Department mismatch: resource requires finance")

	allowed := Evaluate("p1",
		attrs.Map{"department": "finance"},
		attrs.Map{"required_department": "finance"})
	assert.True(t, allowed.Allowed)
}

// TestPurpose: Validates clearance-versus-sensitivity including the equality boundary.
// Scope: Unit Test
// Expected: clearance < sensitivity fails; clearance == sensitivity passes; clearance > sensitivity passes.
// Test Case ID: ABC-04
func TestABAC_Evaluate_ClearanceBoundary(t *testing.T) {
	denied := Evaluate("p1", attrs.Map{"clearance_level": 2}, attrs.Map{"sensitivity": 3})
	assert.False(t, denied.Allowed)
	assert.Contains(t, denied.FailedConditions, "Insufficient clearance: level 3 required, principal has 2")

	equal := Evaluate("p1", attrs.Map{"clearance_level": 3}, attrs.Map{"sensitivity": 3})
	assert.True(t, equal.Allowed, "equal clearance and sensitivity is permitted")

	higher := Evaluate("p1", attrs.Map{"clearance_level": 5}, attrs.Map{"sensitivity": 3})
	assert.True(t, higher.Allowed)
}

// TestPurpose: Validates accumulation of multiple failed predicates in one pass.
// Scope: Unit Test
// Expected: Ownership, department, and clearance failures are all reported together.
// Test Case ID: ABC-05
func TestABAC_Evaluate_AccumulatesFailures(t *testing.T) {
	result := Evaluate("p1",
		attrs.Map{"department": "engineering", "clearance_level": 1},
		attrs.Map{"owner_id": "p9", "required_department": "finance", "sensitivity": 4})

	assert.False(t, result.Allowed)
	assert.Len(t, result.FailedConditions, 3)
}

// TestPurpose: Validates numeric coercion across JSON float and native int representations.
// Scope: Unit Test
// Expected: A float64 sensitivity from decoded JSON compares against an int clearance.
// Test Case ID: ABC-06
func TestABAC_Evaluate_NumericCoercion(t *testing.T) {
	result := Evaluate("p1",
		attrs.Map{"clearance_level": float64(4)},
		attrs.Map{"sensitivity": 3})
	assert.True(t, result.Allowed)

	result = Evaluate("p1",
		attrs.Map{"clearance_level": float64(2)},
		attrs.Map{"sensitivity": 3})
	assert.False(t, result.Allowed)
}
