package rbac

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrRoleNotFound        = errors.New("role not found")
	ErrRoleAlreadyExists   = errors.New("role already exists")
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrPermissionExists    = errors.New("permission already exists")
	ErrAssignmentNotFound  = errors.New("assignment not found")
	ErrAssignmentExists    = errors.New("assignment already exists")
	ErrConstraintNotFound  = errors.New("constraint not found")
	ErrConstraintViolation = errors.New("separation of duties constraint violated")
	ErrCycleWouldBeCreated = errors.New("role hierarchy cycle would be created")
	ErrTenantMismatch      = errors.New("entity belongs to a different tenant")
	ErrSystemRoleImmutable = errors.New("system role cannot be modified")
	ErrInvalidRoleSet      = errors.New("constraint role set must contain at least two roles")
)

// RoleStatus soft-controls whether a role participates in closure resolution.
type RoleStatus string

const (
	RoleStatusActive   RoleStatus = "active"
	RoleStatusInactive RoleStatus = "inactive"
)

// MaxClosureDepth bounds the ancestor walk during closure resolution. A
// hierarchy deeper than this still evaluates, with the overflow dropped and
// flagged on the result.
const MaxClosureDepth = 10

// Role is a named grant bundle within a tenant. Roles form a forest via
// ParentRoleID; a role inherits every permission of its ancestors. Level is
// the distance to the nearest root and is rebuilt whenever the parent edge
// changes.
type Role struct {
	ID           string
	TenantID     string
	Name         string
	Description  string
	ParentRoleID *string
	Level        int
	Status       RoleStatus
	IsSystem     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the role participates in evaluation.
func (r *Role) Active() bool {
	return r.Status == RoleStatusActive
}

// Permission names a single authorizable operation, conventionally
// <resource_type>.<action>.
type Permission struct {
	ID           string
	TenantID     string
	Name         string
	ResourceType string
	Action       string
	Description  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Assignment grants a role to a principal. At most one active assignment
// exists per (principal, role) pair.
type Assignment struct {
	ID          string
	TenantID    string
	PrincipalID string
	RoleID      string
	GrantedBy   string
	GrantedAt   time.Time
	ExpiresAt   *time.Time
	IsActive    bool
}

// Live reports whether the assignment counts toward the principal's closure
// at the given instant.
func (a *Assignment) Live(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// ConstraintKind distinguishes statically enforced separation-of-duties
// constraints from session-scoped ones.
type ConstraintKind string

const (
	ConstraintStaticSoD  ConstraintKind = "static_sod"
	ConstraintDynamicSoD ConstraintKind = "dynamic_sod"
)

// ViolationAction selects what happens when a constraint trips.
type ViolationAction string

const (
	ViolationDeny  ViolationAction = "deny"
	ViolationAlert ViolationAction = "alert"
)

// RoleConstraint declares a set of mutually exclusive roles. A principal
// whose transitive role set would contain two or more members of RoleSet
// violates the constraint.
type RoleConstraint struct {
	ID              string
	TenantID        string
	Name            string
	Kind            ConstraintKind
	RoleSet         []string
	ViolationAction ViolationAction
	Status          RoleStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RoleRepository defines the interface for role persistence
type RoleRepository interface {
	// Create creates a new role
	Create(ctx context.Context, role *Role) error

	// GetByID retrieves a role by ID within a tenant
	GetByID(ctx context.Context, tenantID, id string) (*Role, error)

	// GetByName retrieves a role by name within a tenant
	GetByName(ctx context.Context, tenantID, name string) (*Role, error)

	// Update updates role metadata (name, description, status)
	Update(ctx context.Context, role *Role) error

	// Reparent rewrites the parent edge and the level of every role in
	// levels within a single transaction
	Reparent(ctx context.Context, tenantID, roleID string, parentID *string, levels map[string]int) error

	// Delete removes a role, its permission associations, and its
	// assignments; children are re-rooted with the levels provided
	Delete(ctx context.Context, tenantID, id string, levels map[string]int) error

	// ListByTenant retrieves all roles of a tenant
	ListByTenant(ctx context.Context, tenantID string) ([]*Role, error)
}

// PermissionRepository defines the interface for permission persistence and
// the role-permission association.
type PermissionRepository interface {
	// Create creates a new permission
	Create(ctx context.Context, permission *Permission) error

	// GetByID retrieves a permission by ID within a tenant
	GetByID(ctx context.Context, tenantID, id string) (*Permission, error)

	// GetByName retrieves a permission by name within a tenant
	GetByName(ctx context.Context, tenantID, name string) (*Permission, error)

	// Delete removes a permission and its role associations
	Delete(ctx context.Context, tenantID, id string) error

	// ListByTenant retrieves all permissions of a tenant
	ListByTenant(ctx context.Context, tenantID string) ([]*Permission, error)

	// Grant associates a permission with a role
	Grant(ctx context.Context, tenantID, roleID, permissionID string) error

	// Revoke removes a role-permission association
	Revoke(ctx context.Context, tenantID, roleID, permissionID string) error

	// ListByRoles retrieves the permissions of each given role in bulk,
	// keyed by role id
	ListByRoles(ctx context.Context, tenantID string, roleIDs []string) (map[string][]*Permission, error)
}

// AssignmentRepository defines the interface for principal-role assignments.
type AssignmentRepository interface {
	// AssignChecked inserts the assignment inside a transaction that holds
	// a per-principal advisory lock for its duration. check runs after the
	// lock is acquired and before the insert; a non-nil error aborts the
	// transaction. This is what keeps two concurrent assignments from
	// jointly violating a separation-of-duties constraint.
	AssignChecked(ctx context.Context, assignment *Assignment, check func(ctx context.Context) error) error

	// Revoke deactivates the active assignment of a role to a principal
	Revoke(ctx context.Context, tenantID, principalID, roleID string) error

	// ListForPrincipal retrieves the active, unexpired assignments of a
	// principal
	ListForPrincipal(ctx context.Context, tenantID, principalID string) ([]*Assignment, error)

	// ListHolders retrieves the distinct principal ids with an active
	// assignment to any of the given roles
	ListHolders(ctx context.Context, tenantID string, roleIDs []string) ([]string, error)

	// DeactivateExpired deactivates assignments whose expiry has passed and
	// returns the affected (tenant, principal) pairs
	DeactivateExpired(ctx context.Context, now time.Time) ([]ExpiredAssignment, error)
}

// ExpiredAssignment identifies a lapsed assignment for cache invalidation.
type ExpiredAssignment struct {
	TenantID    string
	PrincipalID string
	RoleID      string
}

// ConstraintRepository defines the interface for role constraints.
type ConstraintRepository interface {
	// Create creates a new constraint
	Create(ctx context.Context, constraint *RoleConstraint) error

	// GetByID retrieves a constraint by ID within a tenant
	GetByID(ctx context.Context, tenantID, id string) (*RoleConstraint, error)

	// ListActive retrieves the active constraints of a kind within a tenant
	ListActive(ctx context.Context, tenantID string, kind ConstraintKind) ([]*RoleConstraint, error)

	// Delete removes a constraint
	Delete(ctx context.Context, tenantID, id string) error
}
