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
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/authzengine/authzengine/internal/audit"
)

// AuditRepository implements audit.Repository. Appends to one tenant are
// serialized by a per-tenant advisory lock; the chain head lives in
// audit_chain_heads so linking an entry never scans the log. Entries land
// in monthly partitions created on first write.
type AuditRepository struct {
	db *DB

	mu         sync.Mutex
	partitions map[string]bool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db, partitions: make(map[string]bool)}
}

// Append links entry into its tenant's hash chain and persists it
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	if entry.TenantID == "" {
		return audit.ErrTenantRequired
	}

	if err := r.ensurePartition(ctx, entry.Timestamp); err != nil {
		return err
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize appends per tenant; the chain head read and the insert
	// must be one atomic step or two writers would link to the same head.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "audit:"+entry.TenantID); err != nil {
		return fmt.Errorf("failed to acquire audit lock: %w", err)
	}

	head := audit.SeedHash
	err = tx.QueryRow(ctx, `
		SELECT head_hash FROM audit_chain_heads WHERE tenant_id = $1
	`, entry.TenantID).Scan(&head)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to read audit chain head: %w", err)
	}

	canonical := audit.EntryCanonical(entry)
	entry.PreviousHash = head
	if entry.RequestHash == "" {
		entry.RequestHash = audit.RequestHash(canonical)
	}
	newHead := audit.DerivedHash(head, canonical)

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entries (
			id, tenant_id, principal_id, action, resource_type, resource_id,
			decision, reason, policy_evaluated, request_hash, previous_hash, metadata, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		entry.ID, entry.TenantID, entry.PrincipalID, entry.Action,
		entry.ResourceType, entry.ResourceID, entry.Decision, entry.Reason,
		entry.PolicyEvaluated, entry.RequestHash, entry.PreviousHash,
		metadataJSON, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_chain_heads (tenant_id, head_hash, entries, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET head_hash = EXCLUDED.head_hash,
		    entries = audit_chain_heads.entries + 1,
		    updated_at = now()
	`, entry.TenantID, newHead)
	if err != nil {
		return fmt.Errorf("failed to advance audit chain head: %w", err)
	}

	return tx.Commit(ctx)
}

// Query returns entries matching the filter
func (r *AuditRepository) Query(ctx context.Context, filter audit.QueryFilter) ([]*audit.Entry, error) {
	if filter.TenantID == "" {
		return nil, audit.ErrTenantRequired
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, tenant_id, principal_id, action, resource_type, resource_id,
		       decision, reason, policy_evaluated, request_hash, previous_hash, metadata, ts
		FROM audit_entries
		WHERE tenant_id = $1`)
	args := []any{filter.TenantID}

	add := func(clause string, value any) {
		args = append(args, value)
		fmt.Fprintf(&sb, " AND %s $%d", clause, len(args))
	}

	if filter.PrincipalID != "" {
		add("principal_id =", filter.PrincipalID)
	}
	if filter.ResourceType != "" {
		add("resource_type =", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id =", filter.ResourceID)
	}
	if !filter.From.IsZero() {
		add("ts >=", filter.From)
	}
	if !filter.To.IsZero() {
		add("ts <", filter.To)
	}

	if filter.Descending {
		sb.WriteString(" ORDER BY ts DESC, seq DESC")
	} else {
		sb.WriteString(" ORDER BY ts, seq")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := r.db.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// ListChain returns every entry of the tenant in chain order
func (r *AuditRepository) ListChain(ctx context.Context, tenantID string) ([]*audit.Entry, error) {
	if tenantID == "" {
		return nil, audit.ErrTenantRequired
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, principal_id, action, resource_type, resource_id,
		       decision, reason, policy_evaluated, request_hash, previous_hash, metadata, ts
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY seq
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit chain: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func scanAuditEntries(rows pgx.Rows) ([]*audit.Entry, error) {
	var entries []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		var metadataJSON []byte
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.PrincipalID, &e.Action,
			&e.ResourceType, &e.ResourceID, &e.Decision, &e.Reason,
			&e.PolicyEvaluated, &e.RequestHash, &e.PreviousHash,
			&metadataJSON, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ensurePartition creates the monthly partition covering ts if this
// process has not seen it yet. Creation races with other processes resolve
// to duplicate_table, which is fine.
func (r *AuditRepository) ensurePartition(ctx context.Context, ts time.Time) error {
	start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	name := fmt.Sprintf("audit_entries_%04d_%02d", start.Year(), int(start.Month()))

	r.mu.Lock()
	known := r.partitions[name]
	r.mu.Unlock()
	if known {
		return nil
	}

	end := start.AddDate(0, 1, 0)
	_, err := r.db.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF audit_entries FOR VALUES FROM ('%s') TO ('%s')`,
		name, start.Format("2006-01-02"), end.Format("2006-01-02"),
	))
	if err != nil && !isPgError(err, codeDuplicateTable) {
		return fmt.Errorf("failed to create audit partition %s: %w", name, err)
	}

	r.mu.Lock()
	r.partitions[name] = true
	r.mu.Unlock()
	return nil
}
