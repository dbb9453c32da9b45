package rbac

import (
	"fmt"
	"strings"
)

// Result is the outcome of an RBAC permission check.
type Result struct {
	Allowed      bool
	GrantingRole *Role
	Reason       string
}

// PermissionName joins a resource type and action into the canonical
// permission name.
func PermissionName(resourceType, action string) string {
	return resourceType + "." + action
}

// CheckPermission answers whether any role in the closure carries the named
// permission. Matching is by exact permission name. The closure's ordering
// (level ascending, then name) makes the reported granting role
// deterministic.
func CheckPermission(closure *Closure, grants map[string][]*Permission, resourceType, action string) *Result {
	required := PermissionName(resourceType, action)

	for _, role := range closure.Roles {
		for _, p := range grants[role.ID] {
			if p.Name == required {
				return &Result{
					Allowed:      true,
					GrantingRole: role,
					Reason:       fmt.Sprintf("Granted by role %s (Level %d)", role.Name, role.Level),
				}
			}
		}
	}

	return &Result{
		Allowed: false,
		Reason:  denialReason(closure, required),
	}
}

// denialReason names the missing permission and the roles actually held, so
// a denied caller can see what the principal would have needed.
func denialReason(closure *Closure, required string) string {
	if len(closure.Roles) == 0 {
		return fmt.Sprintf("Missing required permission: %s. Principal holds no active roles", required)
	}
	names := make([]string, len(closure.Roles))
	for i, role := range closure.Roles {
		names[i] = role.Name
	}
	return fmt.Sprintf("Missing required permission: %s. Principal holds roles: %s", required, strings.Join(names, ", "))
}
