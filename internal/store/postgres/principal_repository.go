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

	"github.com/authzengine/authzengine/internal/attrs"
	"github.com/authzengine/authzengine/internal/principal"
)

// PrincipalRepository implements principal.Repository
type PrincipalRepository struct {
	db *DB
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// Create creates a new principal
func (r *PrincipalRepository) Create(ctx context.Context, p *principal.Principal) error {
	attrsJSON, err := marshalAttrs(p.Attributes)
	if err != nil {
		return err
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO principals (
			id, tenant_id, email, display_name, kind, status, attributes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		p.ID, p.TenantID, p.Email, p.DisplayName, p.Kind, p.Status,
		attrsJSON, p.CreatedAt, p.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return principal.ErrEmailTaken
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}

	return nil
}

// GetByID retrieves a principal by ID within a tenant
func (r *PrincipalRepository) GetByID(ctx context.Context, tenantID, id string) (*principal.Principal, error) {
	return r.get(ctx, "id", tenantID, id)
}

// GetByEmail retrieves a principal by email within a tenant
func (r *PrincipalRepository) GetByEmail(ctx context.Context, tenantID, email string) (*principal.Principal, error) {
	return r.get(ctx, "email", tenantID, email)
}

func (r *PrincipalRepository) get(ctx context.Context, column, tenantID, value string) (*principal.Principal, error) {
	var p principal.Principal
	var attrsJSON []byte

	err := r.db.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, email, display_name, kind, status, attributes, created_at, updated_at
		FROM principals
		WHERE tenant_id = $1 AND %s = $2
	`, column), tenantID, value).Scan(
		&p.ID, &p.TenantID, &p.Email, &p.DisplayName, &p.Kind, &p.Status,
		&attrsJSON, &p.CreatedAt, &p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, principal.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	if err := unmarshalAttrs(attrsJSON, &p.Attributes); err != nil {
		return nil, err
	}

	return &p, nil
}

// Update updates principal information
func (r *PrincipalRepository) Update(ctx context.Context, p *principal.Principal) error {
	attrsJSON, err := marshalAttrs(p.Attributes)
	if err != nil {
		return err
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE principals
		SET display_name = $3, kind = $4, status = $5, attributes = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2
	`, p.TenantID, p.ID, p.DisplayName, p.Kind, p.Status, attrsJSON, p.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to update principal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return principal.ErrPrincipalNotFound
	}

	return nil
}

// List retrieves principals of a tenant ordered by creation time
func (r *PrincipalRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]*principal.Principal, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, email, display_name, kind, status, attributes, created_at, updated_at
		FROM principals
		WHERE tenant_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var principals []*principal.Principal
	for rows.Next() {
		var p principal.Principal
		var attrsJSON []byte
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Email, &p.DisplayName, &p.Kind, &p.Status,
			&attrsJSON, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		if err := unmarshalAttrs(attrsJSON, &p.Attributes); err != nil {
			return nil, err
		}
		principals = append(principals, &p)
	}

	return principals, rows.Err()
}

// SetServiceKey stores or replaces the service key hash of a principal
func (r *PrincipalRepository) SetServiceKey(ctx context.Context, key *principal.ServiceKey) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO service_keys (principal_id, key_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id) DO UPDATE
		SET key_hash = EXCLUDED.key_hash, updated_at = EXCLUDED.updated_at
	`, key.PrincipalID, key.KeyHash, key.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to set service key: %w", err)
	}

	return nil
}

// GetServiceKey retrieves the service key hash of a principal
func (r *PrincipalRepository) GetServiceKey(ctx context.Context, principalID string) (*principal.ServiceKey, error) {
	var key principal.ServiceKey

	err := r.db.pool.QueryRow(ctx, `
		SELECT principal_id, key_hash, updated_at
		FROM service_keys
		WHERE principal_id = $1
	`, principalID).Scan(&key.PrincipalID, &key.KeyHash, &key.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, principal.ErrNoServiceKey
		}
		return nil, fmt.Errorf("failed to get service key: %w", err)
	}

	return &key, nil
}

func marshalAttrs(m attrs.Map) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return b, nil
}

func unmarshalAttrs(data []byte, m *attrs.Map) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return nil
}
