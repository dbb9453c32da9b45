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
	"fmt"
	"time"

	"github.com/authzengine/authzengine/internal/rbac"
)

// AssignmentRepository implements rbac.AssignmentRepository
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// AssignChecked inserts the assignment inside a transaction holding a
// per-principal advisory lock. check runs between lock acquisition and the
// insert; concurrent assignments to the same principal queue on the lock,
// so each check sees the assignments of every earlier one.
func (r *AssignmentRepository) AssignChecked(ctx context.Context, assignment *rbac.Assignment, check func(ctx context.Context) error) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockKey := assignment.TenantID + ":" + assignment.PrincipalID
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return fmt.Errorf("failed to acquire assignment lock: %w", err)
	}

	if check != nil {
		if err := check(ctx); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO role_assignments (
			id, tenant_id, principal_id, role_id, granted_by, granted_at, expires_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		assignment.ID, assignment.TenantID, assignment.PrincipalID, assignment.RoleID,
		assignment.GrantedBy, assignment.GrantedAt, assignment.ExpiresAt, assignment.IsActive,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrAssignmentExists
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	return tx.Commit(ctx)
}

// Revoke deactivates the active assignment of a role to a principal
func (r *AssignmentRepository) Revoke(ctx context.Context, tenantID, principalID, roleID string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE role_assignments
		SET is_active = FALSE
		WHERE tenant_id = $1 AND principal_id = $2 AND role_id = $3 AND is_active
	`, tenantID, principalID, roleID)

	if err != nil {
		return fmt.Errorf("failed to revoke assignment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrAssignmentNotFound
	}

	return nil
}

// ListForPrincipal retrieves the active, unexpired assignments of a principal
func (r *AssignmentRepository) ListForPrincipal(ctx context.Context, tenantID, principalID string) ([]*rbac.Assignment, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, principal_id, role_id, granted_by, granted_at, expires_at, is_active
		FROM role_assignments
		WHERE tenant_id = $1 AND principal_id = $2 AND is_active
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY granted_at
	`, tenantID, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*rbac.Assignment
	for rows.Next() {
		var a rbac.Assignment
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.PrincipalID, &a.RoleID,
			&a.GrantedBy, &a.GrantedAt, &a.ExpiresAt, &a.IsActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, &a)
	}

	return assignments, rows.Err()
}

// ListHolders retrieves the distinct principal ids holding any of the roles
func (r *AssignmentRepository) ListHolders(ctx context.Context, tenantID string, roleIDs []string) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT principal_id
		FROM role_assignments
		WHERE tenant_id = $1 AND role_id = ANY($2) AND is_active
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY principal_id
	`, tenantID, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	defer rows.Close()

	var holders []string
	for rows.Next() {
		var principalID string
		if err := rows.Scan(&principalID); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		holders = append(holders, principalID)
	}

	return holders, rows.Err()
}

// DeactivateExpired deactivates assignments whose expiry has passed
func (r *AssignmentRepository) DeactivateExpired(ctx context.Context, now time.Time) ([]rbac.ExpiredAssignment, error) {
	rows, err := r.db.pool.Query(ctx, `
		UPDATE role_assignments
		SET is_active = FALSE
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING tenant_id, principal_id, role_id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate expired assignments: %w", err)
	}
	defer rows.Close()

	var expired []rbac.ExpiredAssignment
	for rows.Next() {
		var e rbac.ExpiredAssignment
		if err := rows.Scan(&e.TenantID, &e.PrincipalID, &e.RoleID); err != nil {
			return nil, fmt.Errorf("failed to scan expired assignment: %w", err)
		}
		expired = append(expired, e)
	}

	return expired, rows.Err()
}
