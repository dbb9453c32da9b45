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
	"fmt"
	"sort"
	"time"
)

// Closure is the transitive role set of a principal: every directly assigned
// role plus its ancestors, minus inactive roles and lapsed assignments.
// Roles are ordered by level ascending, then name, so downstream evaluation
// is reproducible.
type Closure struct {
	Roles             []*Role
	DepthLimitReached bool
}

// IDs returns the role ids of the closure in result order.
func (c *Closure) IDs() []string {
	ids := make([]string, len(c.Roles))
	for i, r := range c.Roles {
		ids[i] = r.ID
	}
	return ids
}

// Contains reports whether the closure holds the given role id.
func (c *Closure) Contains(roleID string) bool {
	for _, r := range c.Roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

// Resolver computes role closures and flattened permission sets. It bulk
// fetches the tenant's role forest once per resolution and walks ancestor
// chains in memory, which keeps the hot path to three queries regardless of
// hierarchy shape.
type Resolver struct {
	roles       RoleRepository
	permissions PermissionRepository
	assignments AssignmentRepository
	now         func() time.Time
}

// NewResolver creates a new closure resolver
func NewResolver(roles RoleRepository, permissions PermissionRepository, assignments AssignmentRepository) *Resolver {
	return &Resolver{
		roles:       roles,
		permissions: permissions,
		assignments: assignments,
		now:         time.Now,
	}
}

// Closure resolves the transitive role set of a principal. A hierarchy
// deeper than MaxClosureDepth does not fail the resolution: the walk stops
// at the bound, keeps what it accumulated, and flags DepthLimitReached so
// the decision can carry a warning.
func (r *Resolver) Closure(ctx context.Context, tenantID, principalID string) (*Closure, error) {
	assignments, err := r.assignments.ListForPrincipal(ctx, tenantID, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	closure := &Closure{}
	if len(assignments) == 0 {
		return closure, nil
	}

	byID, err := r.roleIndex(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	accumulated := make(map[string]*Role)
	for _, a := range assignments {
		if !a.Live(now) {
			continue
		}
		role, ok := byID[a.RoleID]
		if !ok || !role.Active() {
			continue
		}
		r.walkAncestors(role, byID, accumulated, closure)
	}

	closure.Roles = make([]*Role, 0, len(accumulated))
	for _, role := range accumulated {
		closure.Roles = append(closure.Roles, role)
	}
	sort.Slice(closure.Roles, func(i, j int) bool {
		if closure.Roles[i].Level != closure.Roles[j].Level {
			return closure.Roles[i].Level < closure.Roles[j].Level
		}
		return closure.Roles[i].Name < closure.Roles[j].Name
	})

	return closure, nil
}

// walkAncestors ascends the parent chain from a directly assigned role. The
// path set refuses re-entry of any id already on the current chain, so a
// corrupted graph with a cycle terminates instead of looping.
func (r *Resolver) walkAncestors(start *Role, byID map[string]*Role, accumulated map[string]*Role, closure *Closure) {
	path := make(map[string]struct{}, MaxClosureDepth)
	current := start
	for depth := 1; ; depth++ {
		if depth > MaxClosureDepth {
			closure.DepthLimitReached = true
			return
		}
		if _, onPath := path[current.ID]; onPath {
			return
		}
		path[current.ID] = struct{}{}
		accumulated[current.ID] = current

		if current.ParentRoleID == nil {
			return
		}
		parent, ok := byID[*current.ParentRoleID]
		if !ok || !parent.Active() {
			return
		}
		current = parent
	}
}

// PermissionGrants returns the permissions carried by each role of the
// closure, keyed by role id. The closure's ordering makes the lowest-level
// grant the one an evaluator reports.
func (r *Resolver) PermissionGrants(ctx context.Context, tenantID string, closure *Closure) (map[string][]*Permission, error) {
	if len(closure.Roles) == 0 {
		return map[string][]*Permission{}, nil
	}
	grants, err := r.permissions.ListByRoles(ctx, tenantID, closure.IDs())
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	return grants, nil
}

// PermissionSet returns the flattened, de-duplicated permission names held
// by the principal.
func (r *Resolver) PermissionSet(ctx context.Context, tenantID, principalID string) ([]string, error) {
	closure, err := r.Closure(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	grants, err := r.PermissionGrants(ctx, tenantID, closure)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	names := make([]string, 0, len(grants))
	for _, role := range closure.Roles {
		for _, p := range grants[role.ID] {
			if !seen[p.Name] {
				seen[p.Name] = true
				names = append(names, p.Name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// AffectedPrincipals answers the reverse question: which principals have the
// given role in their closure. That is the role's own holders plus the
// holders of every descendant, since descendants inherit upward through
// parent edges. Used to scope cache eviction after a permission or
// hierarchy change.
func (r *Resolver) AffectedPrincipals(ctx context.Context, tenantID, roleID string) ([]string, error) {
	byID, err := r.roleIndex(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]string, len(byID))
	for _, role := range byID {
		if role.ParentRoleID != nil {
			children[*role.ParentRoleID] = append(children[*role.ParentRoleID], role.ID)
		}
	}

	// BFS down the child edges from the changed role.
	affected := []string{roleID}
	seen := map[string]bool{roleID: true}
	for i := 0; i < len(affected); i++ {
		for _, child := range children[affected[i]] {
			if !seen[child] {
				seen[child] = true
				affected = append(affected, child)
			}
		}
	}

	principals, err := r.assignments.ListHolders(ctx, tenantID, affected)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	return principals, nil
}

func (r *Resolver) roleIndex(ctx context.Context, tenantID string) (map[string]*Role, error) {
	all, err := r.roles.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	byID := make(map[string]*Role, len(all))
	for _, role := range all {
		byID[role.ID] = role
	}
	return byID, nil
}
