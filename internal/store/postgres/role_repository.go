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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authzengine/authzengine/internal/rbac"
)

// RoleRepository implements rbac.RoleRepository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, role *rbac.Role) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO roles (
			id, tenant_id, name, description, parent_role_id, level, status, is_system, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		role.ID, role.TenantID, role.Name, role.Description, role.ParentRoleID,
		role.Level, role.Status, role.IsSystem, role.CreatedAt, role.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrRoleAlreadyExists
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	return nil
}

// GetByID retrieves a role by ID within a tenant
func (r *RoleRepository) GetByID(ctx context.Context, tenantID, id string) (*rbac.Role, error) {
	return r.get(ctx, "id", tenantID, id)
}

// GetByName retrieves a role by name within a tenant
func (r *RoleRepository) GetByName(ctx context.Context, tenantID, name string) (*rbac.Role, error) {
	return r.get(ctx, "name", tenantID, name)
}

func (r *RoleRepository) get(ctx context.Context, column, tenantID, value string) (*rbac.Role, error) {
	var role rbac.Role

	err := r.db.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, name, description, parent_role_id, level, status, is_system, created_at, updated_at
		FROM roles
		WHERE tenant_id = $1 AND %s = $2
	`, column), tenantID, value).Scan(
		&role.ID, &role.TenantID, &role.Name, &role.Description, &role.ParentRoleID,
		&role.Level, &role.Status, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rbac.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return &role, nil
}

// Update updates role metadata
func (r *RoleRepository) Update(ctx context.Context, role *rbac.Role) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE roles
		SET name = $3, description = $4, status = $5, updated_at = $6
		WHERE tenant_id = $1 AND id = $2
	`, role.TenantID, role.ID, role.Name, role.Description, role.Status, role.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrRoleAlreadyExists
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrRoleNotFound
	}

	return nil
}

// Reparent rewrites the parent edge of a role and the level of every role
// in levels within a single transaction
func (r *RoleRepository) Reparent(ctx context.Context, tenantID, roleID string, parentID *string, levels map[string]int) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE roles SET parent_role_id = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, roleID, parentID)
	if err != nil {
		return fmt.Errorf("failed to reparent role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrRoleNotFound
	}

	if err := r.applyLevels(ctx, tx, tenantID, levels); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Delete removes a role. Its children are re-rooted to the role's parent
// before the row goes away; permission associations and assignments follow
// the role via foreign keys.
func (r *RoleRepository) Delete(ctx context.Context, tenantID, id string, levels map[string]int) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE roles
		SET parent_role_id = (SELECT parent_role_id FROM roles WHERE tenant_id = $1 AND id = $2),
		    updated_at = now()
		WHERE tenant_id = $1 AND parent_role_id = $2
	`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to re-root child roles: %w", err)
	}

	if err := r.applyLevels(ctx, tx, tenantID, levels); err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `
		DELETE FROM roles WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrRoleNotFound
	}

	return tx.Commit(ctx)
}

func (r *RoleRepository) applyLevels(ctx context.Context, tx pgx.Tx, tenantID string, levels map[string]int) error {
	for roleID, level := range levels {
		if _, err := tx.Exec(ctx, `
			UPDATE roles SET level = $3, updated_at = now()
			WHERE tenant_id = $1 AND id = $2
		`, tenantID, roleID, level); err != nil {
			return fmt.Errorf("failed to update role level: %w", err)
		}
	}
	return nil
}

// ListByTenant retrieves all roles of a tenant
func (r *RoleRepository) ListByTenant(ctx context.Context, tenantID string) ([]*rbac.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, name, description, parent_role_id, level, status, is_system, created_at, updated_at
		FROM roles
		WHERE tenant_id = $1
		ORDER BY level, name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(
			&role.ID, &role.TenantID, &role.Name, &role.Description, &role.ParentRoleID,
			&role.Level, &role.Status, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &role)
	}

	return roles, rows.Err()
}
