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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authzengine/authzengine/internal/policy"
)

// PolicyRepository implements policy.Repository. Rules are stored as JSONB
// in their wire shape, so historical policies read back through the same
// codec that validated them.
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Create creates a new policy with its rules
func (r *PolicyRepository) Create(ctx context.Context, p *policy.Policy) error {
	rulesJSON, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal policy rules: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO policies (
			id, tenant_id, name, version, priority, status, rules, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		p.ID, p.TenantID, p.Name, p.Version, p.Priority, p.Status,
		rulesJSON, p.CreatedAt, p.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return policy.ErrPolicyExists
		}
		return fmt.Errorf("failed to create policy: %w", err)
	}

	return nil
}

// GetByID retrieves a policy by ID within a tenant
func (r *PolicyRepository) GetByID(ctx context.Context, tenantID, id string) (*policy.Policy, error) {
	return r.getOne(ctx, `
		SELECT id, tenant_id, name, version, priority, status, rules, created_at, updated_at
		FROM policies
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
}

// GetByNameVersion retrieves a specific version of a named policy
func (r *PolicyRepository) GetByNameVersion(ctx context.Context, tenantID, name string, version int) (*policy.Policy, error) {
	return r.getOne(ctx, `
		SELECT id, tenant_id, name, version, priority, status, rules, created_at, updated_at
		FROM policies
		WHERE tenant_id = $1 AND name = $2 AND version = $3
	`, tenantID, name, version)
}

func (r *PolicyRepository) getOne(ctx context.Context, query string, args ...any) (*policy.Policy, error) {
	var p policy.Policy
	var rulesJSON []byte

	err := r.db.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Version, &p.Priority, &p.Status,
		&rulesJSON, &p.CreatedAt, &p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, policy.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	if err := json.Unmarshal(rulesJSON, &p.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy rules: %w", err)
	}

	return &p, nil
}

// Update replaces a policy's metadata and rules
func (r *PolicyRepository) Update(ctx context.Context, p *policy.Policy) error {
	rulesJSON, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal policy rules: %w", err)
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE policies
		SET name = $3, version = $4, priority = $5, status = $6, rules = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
	`, p.TenantID, p.ID, p.Name, p.Version, p.Priority, p.Status, rulesJSON, p.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return policy.ErrPolicyExists
		}
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if result.RowsAffected() == 0 {
		return policy.ErrPolicyNotFound
	}

	return nil
}

// Delete removes a policy and its rules
func (r *PolicyRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM policies WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if result.RowsAffected() == 0 {
		return policy.ErrPolicyNotFound
	}

	return nil
}

// ListByTenant retrieves every policy of a tenant regardless of status
func (r *PolicyRepository) ListByTenant(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
	return r.list(ctx, `
		SELECT id, tenant_id, name, version, priority, status, rules, created_at, updated_at
		FROM policies
		WHERE tenant_id = $1
		ORDER BY priority DESC, name, version
	`, tenantID)
}

// ListActive retrieves the active policies of a tenant
func (r *PolicyRepository) ListActive(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
	return r.list(ctx, `
		SELECT id, tenant_id, name, version, priority, status, rules, created_at, updated_at
		FROM policies
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY priority DESC, name, version
	`, tenantID)
}

func (r *PolicyRepository) list(ctx context.Context, query string, args ...any) ([]*policy.Policy, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []*policy.Policy
	for rows.Next() {
		var p policy.Policy
		var rulesJSON []byte
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Version, &p.Priority, &p.Status,
			&rulesJSON, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		if err := json.Unmarshal(rulesJSON, &p.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy rules: %w", err)
		}
		policies = append(policies, &p)
	}

	return policies, rows.Err()
}
