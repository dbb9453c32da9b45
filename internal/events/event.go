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

package events

import (
	"context"
	"time"
)

// Kind identifies the mutation that produced an invalidation event.
type Kind string

const (
	KindRoleAssigned      Kind = "role_assigned"
	KindRoleRevoked       Kind = "role_revoked"
	KindPermissionGranted Kind = "permission_granted"
	KindPermissionRevoked Kind = "permission_revoked"
	KindRoleCreated       Kind = "role_created"
	KindRoleDeleted       Kind = "role_deleted"
	KindRoleReparented    Kind = "role_reparented"
	KindPolicyChanged     Kind = "policy_changed"
	KindTenantUpdated     Kind = "tenant_updated"
)

// Metadata keys understood by the eviction mapper.
const (
	// MetaPrincipalID carries the principal whose cached decisions are stale
	// after an assignment-level event.
	MetaPrincipalID = "principal_id"

	// MetaAffectedPrincipals carries a comma-separated list of principal ids
	// computed by the publisher before commit. When present the mapper uses
	// it instead of traversing the role graph, which matters for deletions
	// where the graph no longer contains the entity.
	MetaAffectedPrincipals = "affected_principals"
)

// Event describes a committed mutation that may invalidate cached decisions.
// Publishers emit events only after the owning transaction commits.
type Event struct {
	Kind      Kind              `json:"kind"`
	TenantID  string            `json:"tenant_id"`
	EntityID  string            `json:"entity_id"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Publisher accepts events for asynchronous fan-out. Publish must not block
// the caller on subscriber work.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NopPublisher discards all events. Used in tests and in tools that mutate
// state without a running cache.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
