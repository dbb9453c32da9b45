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

// Package cache provides the namespaced, TTL'd decision cache. The backing
// store is Redis; a no-op implementation serves deployments without one.
// The cache is a side channel: the database stays authoritative, and every
// reader tolerates staleness up to the TTL plus invalidation lag.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMiss is returned when a key is absent.
	ErrMiss = errors.New("cache miss")

	// ErrUnavailable is returned when the backend is unreachable or the
	// circuit breaker is open. Callers treat it as a miss.
	ErrUnavailable = errors.New("cache unavailable")
)

// Cache is the decision cache interface. Implementations are safe for
// concurrent use. Pattern operations must receive tenant-scoped patterns;
// nothing in this package ever evicts globally.
type Cache interface {
	// Get returns the raw cached bytes, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the JSON serialization of value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error

	// DeletePattern removes every key matching the glob pattern and
	// returns how many were evicted.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Key construction. The tenant id sits in every key, so cross-tenant
// collisions are impossible by construction.

// DecisionKey is the cache key of one authorization decision.
func DecisionKey(tenantID, principalID, action, resourceType, resourceID string) string {
	return fmt.Sprintf("authz:%s:%s:%s:%s:%s", tenantID, principalID, action, resourceType, resourceID)
}

// ClosureKey is the cache key of a principal's resolved role closure.
func ClosureKey(tenantID, principalID string) string {
	return fmt.Sprintf("authz:closure:%s:%s", tenantID, principalID)
}

// PoliciesKey is the cache key of a tenant's active policy list.
func PoliciesKey(tenantID string) string {
	return fmt.Sprintf("authz:policies:%s", tenantID)
}

// TenantConfigKey is the cache key of a tenant's record.
func TenantConfigKey(tenantID string) string {
	return fmt.Sprintf("authz:tenant:%s", tenantID)
}

// ClosurePattern matches every cached role closure of one tenant.
func ClosurePattern(tenantID string) string {
	return fmt.Sprintf("authz:closure:%s:*", tenantID)
}

// PrincipalDecisionPattern matches every cached decision of one principal.
func PrincipalDecisionPattern(tenantID, principalID string) string {
	return fmt.Sprintf("authz:%s:%s:*", tenantID, principalID)
}

// TenantDecisionPattern matches every cached decision of one tenant.
func TenantDecisionPattern(tenantID string) string {
	return fmt.Sprintf("authz:%s:*", tenantID)
}
