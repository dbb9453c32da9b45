package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authzengine/authzengine/internal/rbac"
)

// PermissionRepository implements rbac.PermissionRepository
type PermissionRepository struct {
	db *DB
}

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(db *DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// Create creates a new permission
func (r *PermissionRepository) Create(ctx context.Context, permission *rbac.Permission) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO permissions (
			id, tenant_id, name, resource_type, action, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		permission.ID, permission.TenantID, permission.Name, permission.ResourceType,
		permission.Action, permission.Description, permission.CreatedAt, permission.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrPermissionExists
		}
		return fmt.Errorf("failed to create permission: %w", err)
	}

	return nil
}

// GetByID retrieves a permission by ID within a tenant
func (r *PermissionRepository) GetByID(ctx context.Context, tenantID, id string) (*rbac.Permission, error) {
	return r.get(ctx, "id", tenantID, id)
}

// GetByName retrieves a permission by name within a tenant
func (r *PermissionRepository) GetByName(ctx context.Context, tenantID, name string) (*rbac.Permission, error) {
	return r.get(ctx, "name", tenantID, name)
}

func (r *PermissionRepository) get(ctx context.Context, column, tenantID, value string) (*rbac.Permission, error) {
	var p rbac.Permission

	err := r.db.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, name, resource_type, action, description, created_at, updated_at
		FROM permissions
		WHERE tenant_id = $1 AND %s = $2
	`, column), tenantID, value).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.ResourceType, &p.Action,
		&p.Description, &p.CreatedAt, &p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rbac.ErrPermissionNotFound
		}
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	return &p, nil
}

// Delete removes a permission and, via foreign keys, its role associations
func (r *PermissionRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM permissions WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrPermissionNotFound
	}

	return nil
}

// ListByTenant retrieves all permissions of a tenant
func (r *PermissionRepository) ListByTenant(ctx context.Context, tenantID string) ([]*rbac.Permission, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, name, resource_type, action, description, created_at, updated_at
		FROM permissions
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	return scanPermissions(rows)
}

// Grant associates a permission with a role
func (r *PermissionRepository) Grant(ctx context.Context, tenantID, roleID, permissionID string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, tenant_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id, permission_id) DO NOTHING
	`, roleID, permissionID, tenantID)

	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	return nil
}

// Revoke removes a role-permission association
func (r *PermissionRepository) Revoke(ctx context.Context, tenantID, roleID, permissionID string) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM role_permissions
		WHERE tenant_id = $1 AND role_id = $2 AND permission_id = $3
	`, tenantID, roleID, permissionID)

	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	return nil
}

// ListByRoles retrieves the permissions of each given role in bulk
func (r *PermissionRepository) ListByRoles(ctx context.Context, tenantID string, roleIDs []string) (map[string][]*rbac.Permission, error) {
	grants := make(map[string][]*rbac.Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return grants, nil
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT rp.role_id, p.id, p.tenant_id, p.name, p.resource_type, p.action, p.description, p.created_at, p.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id AND p.tenant_id = rp.tenant_id
		WHERE rp.tenant_id = $1 AND rp.role_id = ANY($2)
		ORDER BY rp.role_id, p.name
	`, tenantID, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID string
		var p rbac.Permission
		if err := rows.Scan(
			&roleID, &p.ID, &p.TenantID, &p.Name, &p.ResourceType, &p.Action,
			&p.Description, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		grants[roleID] = append(grants[roleID], &p)
	}

	return grants, rows.Err()
}

func scanPermissions(rows pgx.Rows) ([]*rbac.Permission, error) {
	var permissions []*rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.ResourceType, &p.Action,
			&p.Description, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, &p)
	}
	return permissions, rows.Err()
}
