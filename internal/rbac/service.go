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

package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/authzengine/authzengine/internal/events"
	"github.com/authzengine/authzengine/internal/id"
	"github.com/authzengine/authzengine/internal/observability/logger"
)

// Service provides role, permission, assignment, and constraint management.
// Every mutation that can change a principal's effective permissions
// publishes an invalidation event after its transaction commits.
type Service struct {
	roles       RoleRepository
	permissions PermissionRepository
	assignments AssignmentRepository
	constraints ConstraintRepository
	resolver    *Resolver
	bus         events.Publisher
	security    *logger.SecurityLogger
}

// NewService creates a new RBAC service
func NewService(
	roles RoleRepository,
	permissions PermissionRepository,
	assignments AssignmentRepository,
	constraints ConstraintRepository,
	resolver *Resolver,
	bus events.Publisher,
	security *logger.SecurityLogger,
) *Service {
	return &Service{
		roles:       roles,
		permissions: permissions,
		assignments: assignments,
		constraints: constraints,
		resolver:    resolver,
		bus:         bus,
		security:    security,
	}
}

// Resolver exposes the closure resolver for callers that evaluate rather
// than mutate.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// CreateRole creates a role, optionally under a parent in the same tenant.
// The level is derived from the parent at creation time.
func (s *Service) CreateRole(ctx context.Context, tenantID, name, description string, parentRoleID *string) (*Role, error) {
	if tenantID == "" || name == "" {
		return nil, fmt.Errorf("tenant id and name are required")
	}

	existing, err := s.roles.GetByName(ctx, tenantID, name)
	if err != nil && !errors.Is(err, ErrRoleNotFound) {
		return nil, fmt.Errorf("failed to check role name: %w", err)
	}
	if existing != nil {
		return nil, ErrRoleAlreadyExists
	}

	level := 0
	if parentRoleID != nil {
		parent, err := s.roles.GetByID(ctx, tenantID, *parentRoleID)
		if err != nil {
			return nil, fmt.Errorf("failed to load parent role: %w", err)
		}
		level = parent.Level + 1
	}

	now := time.Now().UTC()
	role := &Role{
		ID:           id.NewUUIDv7(),
		TenantID:     tenantID,
		Name:         name,
		Description:  description,
		ParentRoleID: parentRoleID,
		Level:        level,
		Status:       RoleStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	s.publish(ctx, events.KindRoleCreated, tenantID, role.ID, nil)
	return role, nil
}

// GetRole retrieves a role by ID
func (s *Service) GetRole(ctx context.Context, tenantID, roleID string) (*Role, error) {
	return s.roles.GetByID(ctx, tenantID, roleID)
}

// ListRoles retrieves all roles of a tenant
func (s *Service) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	return s.roles.ListByTenant(ctx, tenantID)
}

// ReparentRole moves a role under a new parent (or to the root when
// parentRoleID is nil) and rebuilds the levels of the moved subtree. The
// move is rejected when the new parent is the role itself or any of its
// descendants, which would close a cycle.
func (s *Service) ReparentRole(ctx context.Context, tenantID, roleID string, parentRoleID *string) (*Role, error) {
	role, err := s.roles.GetByID(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, ErrSystemRoleImmutable
	}

	byID, err := s.roleIndex(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	newLevel := 0
	if parentRoleID != nil {
		parent, ok := byID[*parentRoleID]
		if !ok {
			return nil, ErrRoleNotFound
		}
		// Ascending from the new parent must never reach the moved role.
		for cur := parent; cur != nil; {
			if cur.ID == roleID {
				return nil, ErrCycleWouldBeCreated
			}
			if cur.ParentRoleID == nil {
				break
			}
			cur = byID[*cur.ParentRoleID]
		}
		newLevel = parent.Level + 1
	}

	levels := subtreeLevels(byID, roleID, newLevel)
	if err := s.roles.Reparent(ctx, tenantID, roleID, parentRoleID, levels); err != nil {
		return nil, fmt.Errorf("failed to reparent role: %w", err)
	}

	role.ParentRoleID = parentRoleID
	role.Level = newLevel
	s.publish(ctx, events.KindRoleReparented, tenantID, roleID, nil)
	return role, nil
}

// DeleteRole removes a role. Its children are adopted by its parent and the
// subtree levels are rebuilt. Affected principals are resolved before the
// delete so the invalidation event still knows them once the row is gone.
func (s *Service) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	role, err := s.roles.GetByID(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}

	affected, err := s.resolver.AffectedPrincipals(ctx, tenantID, roleID)
	if err != nil {
		return fmt.Errorf("failed to resolve affected principals: %w", err)
	}

	byID, err := s.roleIndex(ctx, tenantID)
	if err != nil {
		return err
	}
	delete(byID, roleID)

	// Children drop one level as they move up to the grandparent.
	levels := make(map[string]int)
	for _, child := range childrenOf(byID, roleID) {
		child.ParentRoleID = role.ParentRoleID
		for rid, lvl := range subtreeLevels(byID, child.ID, child.Level-1) {
			levels[rid] = lvl
		}
	}

	if err := s.roles.Delete(ctx, tenantID, roleID, levels); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	s.publish(ctx, events.KindRoleDeleted, tenantID, roleID, map[string]string{
		events.MetaAffectedPrincipals: strings.Join(affected, ","),
	})
	return nil
}

// CreatePermission creates a permission named <resourceType>.<action>.
func (s *Service) CreatePermission(ctx context.Context, tenantID, resourceType, action, description string) (*Permission, error) {
	if tenantID == "" || resourceType == "" || action == "" {
		return nil, fmt.Errorf("tenant id, resource type, and action are required")
	}
	name := PermissionName(resourceType, action)

	existing, err := s.permissions.GetByName(ctx, tenantID, name)
	if err != nil && !errors.Is(err, ErrPermissionNotFound) {
		return nil, fmt.Errorf("failed to check permission name: %w", err)
	}
	if existing != nil {
		return nil, ErrPermissionExists
	}

	now := time.Now().UTC()
	permission := &Permission{
		ID:           id.NewUUIDv7(),
		TenantID:     tenantID,
		Name:         name,
		ResourceType: resourceType,
		Action:       action,
		Description:  description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.permissions.Create(ctx, permission); err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return permission, nil
}

// ListPermissions retrieves all permissions of a tenant
func (s *Service) ListPermissions(ctx context.Context, tenantID string) ([]*Permission, error) {
	return s.permissions.ListByTenant(ctx, tenantID)
}

// GrantPermission associates a permission with a role. Every principal
// whose closure contains the role gains it transitively.
func (s *Service) GrantPermission(ctx context.Context, tenantID, roleID, permissionID string) error {
	if _, err := s.roles.GetByID(ctx, tenantID, roleID); err != nil {
		return err
	}
	if _, err := s.permissions.GetByID(ctx, tenantID, permissionID); err != nil {
		return err
	}
	if err := s.permissions.Grant(ctx, tenantID, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	s.publish(ctx, events.KindPermissionGranted, tenantID, roleID, nil)
	return nil
}

// RevokePermission removes a role-permission association.
func (s *Service) RevokePermission(ctx context.Context, tenantID, roleID, permissionID string) error {
	if err := s.permissions.Revoke(ctx, tenantID, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	s.publish(ctx, events.KindPermissionRevoked, tenantID, roleID, nil)
	return nil
}

// AssignRole grants a role to a principal after checking the tenant's
// static separation-of-duties constraints against the principal's
// prospective closure. The check and the insert run under a per-principal
// advisory lock so two concurrent assignments cannot jointly violate a
// constraint. Alert-level violations do not block; they are returned and
// logged.
func (s *Service) AssignRole(ctx context.Context, tenantID, principalID, roleID, grantedBy string, expiresAt *time.Time) (*Assignment, []*Violation, error) {
	role, err := s.roles.GetByID(ctx, tenantID, roleID)
	if err != nil {
		return nil, nil, err
	}
	if !role.Active() {
		return nil, nil, fmt.Errorf("role %s is inactive", role.Name)
	}

	assignment := &Assignment{
		ID:          id.NewUUIDv7(),
		TenantID:    tenantID,
		PrincipalID: principalID,
		RoleID:      roleID,
		GrantedBy:   grantedBy,
		GrantedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
		IsActive:    true,
	}

	var alerts []*Violation
	err = s.assignments.AssignChecked(ctx, assignment, func(ctx context.Context) error {
		direct, err := s.assignments.ListForPrincipal(ctx, tenantID, principalID)
		if err != nil {
			return fmt.Errorf("failed to list assignments: %w", err)
		}
		for _, a := range direct {
			if a.RoleID == roleID {
				return ErrAssignmentExists
			}
		}

		closure, err := s.resolver.Closure(ctx, tenantID, principalID)
		if err != nil {
			return err
		}

		constraints, err := s.constraints.ListActive(ctx, tenantID, ConstraintStaticSoD)
		if err != nil {
			return fmt.Errorf("failed to list constraints: %w", err)
		}

		violations := CheckStaticSoD(constraints, closure.IDs(), roleID)
		if blocking := Blocking(violations); blocking != nil {
			s.security.AssignmentRejected(ctx, tenantID, principalID, roleID, blocking.Constraint.Name)
			return fmt.Errorf("%w: constraint %q forbids holding roles %s together",
				ErrConstraintViolation, blocking.Constraint.Name, strings.Join(blocking.ConflictingRoles, ", "))
		}
		alerts = violations
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for _, v := range alerts {
		s.security.Log(ctx, logger.SecurityEvent{
			EventType:   "role_assignment",
			TenantID:    tenantID,
			PrincipalID: principalID,
			Action:      "assign_role",
			Result:      "success",
			Reason:      "separation of duties alert",
			Metadata:    map[string]any{"constraint": v.Constraint.Name, "roles": v.ConflictingRoles},
		})
	}
	s.security.RoleAssigned(ctx, tenantID, principalID, roleID, grantedBy)
	s.publish(ctx, events.KindRoleAssigned, tenantID, roleID, map[string]string{
		events.MetaPrincipalID: principalID,
	})
	return assignment, alerts, nil
}

// RevokeRole deactivates a principal's assignment of a role.
func (s *Service) RevokeRole(ctx context.Context, tenantID, principalID, roleID string) error {
	if err := s.assignments.Revoke(ctx, tenantID, principalID, roleID); err != nil {
		return err
	}

	s.publish(ctx, events.KindRoleRevoked, tenantID, roleID, map[string]string{
		events.MetaPrincipalID: principalID,
	})
	return nil
}

// ListAssignments retrieves the active assignments of a principal
func (s *Service) ListAssignments(ctx context.Context, tenantID, principalID string) ([]*Assignment, error) {
	return s.assignments.ListForPrincipal(ctx, tenantID, principalID)
}

// ExpireAssignments deactivates assignments whose expiry has passed and
// publishes a revocation event for each, so cached decisions of the former
// holders are evicted. Returns the number of assignments deactivated.
func (s *Service) ExpireAssignments(ctx context.Context) (int, error) {
	expired, err := s.assignments.DeactivateExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired assignments: %w", err)
	}
	for _, e := range expired {
		s.publish(ctx, events.KindRoleRevoked, e.TenantID, e.RoleID, map[string]string{
			events.MetaPrincipalID: e.PrincipalID,
		})
	}
	return len(expired), nil
}

// CreateConstraint declares a separation-of-duties constraint over a set of
// at least two roles, all of which must exist in the tenant.
func (s *Service) CreateConstraint(ctx context.Context, tenantID, name string, kind ConstraintKind, roleSet []string, action ViolationAction) (*RoleConstraint, error) {
	if kind != ConstraintStaticSoD && kind != ConstraintDynamicSoD {
		return nil, fmt.Errorf("invalid constraint kind: %s", kind)
	}
	if action != ViolationDeny && action != ViolationAlert {
		return nil, fmt.Errorf("invalid violation action: %s", action)
	}
	unique := make(map[string]bool, len(roleSet))
	for _, rid := range roleSet {
		unique[rid] = true
	}
	if len(unique) < 2 {
		return nil, ErrInvalidRoleSet
	}
	for rid := range unique {
		if _, err := s.roles.GetByID(ctx, tenantID, rid); err != nil {
			return nil, fmt.Errorf("role %s: %w", rid, err)
		}
	}

	now := time.Now().UTC()
	constraint := &RoleConstraint{
		ID:              id.NewUUIDv7(),
		TenantID:        tenantID,
		Name:            name,
		Kind:            kind,
		RoleSet:         roleSet,
		ViolationAction: action,
		Status:          RoleStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.constraints.Create(ctx, constraint); err != nil {
		return nil, fmt.Errorf("failed to create constraint: %w", err)
	}
	return constraint, nil
}

// ListConstraints retrieves the active constraints of a kind
func (s *Service) ListConstraints(ctx context.Context, tenantID string, kind ConstraintKind) ([]*RoleConstraint, error) {
	return s.constraints.ListActive(ctx, tenantID, kind)
}

func (s *Service) publish(ctx context.Context, kind events.Kind, tenantID, entityID string, metadata map[string]string) {
	s.bus.Publish(ctx, events.Event{
		Kind:      kind,
		TenantID:  tenantID,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
}

func (s *Service) roleIndex(ctx context.Context, tenantID string) (map[string]*Role, error) {
	all, err := s.roles.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	byID := make(map[string]*Role, len(all))
	for _, role := range all {
		byID[role.ID] = role
	}
	return byID, nil
}

func childrenOf(byID map[string]*Role, parentID string) []*Role {
	var children []*Role
	for _, role := range byID {
		if role.ParentRoleID != nil && *role.ParentRoleID == parentID {
			children = append(children, role)
		}
	}
	return children
}

// subtreeLevels computes the level of every role in the subtree rooted at
// rootID, with the root placed at rootLevel.
func subtreeLevels(byID map[string]*Role, rootID string, rootLevel int) map[string]int {
	levels := map[string]int{rootID: rootLevel}
	queue := []string{rootID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range childrenOf(byID, current) {
			if _, seen := levels[child.ID]; seen {
				continue
			}
			levels[child.ID] = levels[current] + 1
			queue = append(queue, child.ID)
		}
	}
	return levels
}
