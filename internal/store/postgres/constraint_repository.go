package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authzengine/authzengine/internal/rbac"
)

// ConstraintRepository implements rbac.ConstraintRepository
type ConstraintRepository struct {
	db *DB
}

// NewConstraintRepository creates a new constraint repository
func NewConstraintRepository(db *DB) *ConstraintRepository {
	return &ConstraintRepository{db: db}
}

// Create creates a new constraint
func (r *ConstraintRepository) Create(ctx context.Context, constraint *rbac.RoleConstraint) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO role_constraints (
			id, tenant_id, name, kind, role_set, violation_action, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		constraint.ID, constraint.TenantID, constraint.Name, constraint.Kind,
		constraint.RoleSet, constraint.ViolationAction, constraint.Status,
		constraint.CreatedAt, constraint.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create constraint: %w", err)
	}

	return nil
}

// GetByID retrieves a constraint by ID within a tenant
func (r *ConstraintRepository) GetByID(ctx context.Context, tenantID, id string) (*rbac.RoleConstraint, error) {
	var c rbac.RoleConstraint

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, kind, role_set, violation_action, status, created_at, updated_at
		FROM role_constraints
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Kind, &c.RoleSet,
		&c.ViolationAction, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rbac.ErrConstraintNotFound
		}
		return nil, fmt.Errorf("failed to get constraint: %w", err)
	}

	return &c, nil
}

// ListActive retrieves the active constraints of a kind within a tenant
func (r *ConstraintRepository) ListActive(ctx context.Context, tenantID string, kind rbac.ConstraintKind) ([]*rbac.RoleConstraint, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, name, kind, role_set, violation_action, status, created_at, updated_at
		FROM role_constraints
		WHERE tenant_id = $1 AND kind = $2 AND status = 'active'
		ORDER BY name
	`, tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list constraints: %w", err)
	}
	defer rows.Close()

	var constraints []*rbac.RoleConstraint
	for rows.Next() {
		var c rbac.RoleConstraint
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Name, &c.Kind, &c.RoleSet,
			&c.ViolationAction, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan constraint: %w", err)
		}
		constraints = append(constraints, &c)
	}

	return constraints, rows.Err()
}

// Delete removes a constraint
func (r *ConstraintRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM role_constraints WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	if err != nil {
		return fmt.Errorf("failed to delete constraint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrConstraintNotFound
	}

	return nil
}
