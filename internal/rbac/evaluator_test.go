package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates that a directly held permission grants access with the role named in the reason.
// Scope: Unit Test
// Expected: Allowed with reason "Granted by role admin (Level 0)".
// Test Case ID: RBE-01
func TestRBAC_CheckPermission_DirectGrant(t *testing.T) {
	admin := &Role{ID: "r-admin", Name: "admin", Level: 0}
	closure := &Closure{Roles: []*Role{admin}}
	grants := map[string][]*Permission{
		"r-admin": {{ID: "perm-1", Name: "invoice.delete"}},
	}

	result := CheckPermission(closure, grants, "invoice", "delete")

	assert.True(t, result.Allowed)
	assert.Equal(t, admin, result.GrantingRole)
	assert.Equal(t, "Granted by role admin (Level 0)", result.Reason)
}

// TestPurpose: Validates the denial reason names the missing permission and the held roles.
// Scope: Unit Test
// Expected: Denied with both "Missing required permission: invoice.delete" and "Employee" in the reason.
// Test Case ID: RBE-02
func TestRBAC_CheckPermission_DenialListsHeldRoles(t *testing.T) {
	closure := &Closure{Roles: []*Role{{ID: "r-emp", Name: "Employee", Level: 0}}}
	grants := map[string][]*Permission{
		"r-emp": {{ID: "perm-1", Name: "invoice.read"}},
	}

	result := CheckPermission(closure, grants, "invoice", "delete")

	assert.False(t, result.Allowed)
	assert.Nil(t, result.GrantingRole)
	assert.Contains(t, result.Reason, "Missing required permission: invoice.delete")
	assert.Contains(t, result.Reason, "Employee")
}

// TestPurpose: Validates that permissions inherited through the hierarchy grant access.
// Scope: Unit Test
// Expected: The ancestor carrying the permission is reported as the granting role with its level.
// Test Case ID: RBE-03
func TestRBAC_CheckPermission_InheritedGrant(t *testing.T) {
	parent := &Role{ID: "r-mgr", Name: "manager", Level: 0}
	child := &Role{ID: "r-emp", Name: "employee", Level: 1}
	closure := &Closure{Roles: []*Role{parent, child}}
	grants := map[string][]*Permission{
		"r-mgr": {{ID: "perm-1", Name: "report.approve"}},
	}

	result := CheckPermission(closure, grants, "report", "approve")

	assert.True(t, result.Allowed)
	assert.Equal(t, "manager", result.GrantingRole.Name)
	assert.Equal(t, "Granted by role manager (Level 0)", result.Reason)
}

// TestPurpose: Validates denial for a principal with no active roles.
// Scope: Unit Test
// Expected: Denied with a reason stating no active roles are held.
// Test Case ID: RBE-04
func TestRBAC_CheckPermission_EmptyClosure(t *testing.T) {
	result := CheckPermission(&Closure{}, map[string][]*Permission{}, "invoice", "delete")

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "Missing required permission: invoice.delete")
	assert.Contains(t, result.Reason, "no active roles")
}

// TestPurpose: Validates exact-name matching with no wildcard or prefix semantics.
// Scope: Unit Test
// Expected: invoice.read does not satisfy invoice.delete; a bare "invoice" grants nothing.
// Test Case ID: RBE-05
func TestRBAC_CheckPermission_ExactMatchOnly(t *testing.T) {
	closure := &Closure{Roles: []*Role{{ID: "r-1", Name: "reader", Level: 0}}}
	grants := map[string][]*Permission{
		"r-1": {{Name: "invoice.read"}, {Name: "invoice"}},
	}

	assert.False(t, CheckPermission(closure, grants, "invoice", "delete").Allowed)
	assert.True(t, CheckPermission(closure, grants, "invoice", "read").Allowed)
}
