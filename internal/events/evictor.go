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
	"fmt"
	"log/slog"
	"strings"

	"github.com/authzengine/authzengine/internal/cache"
	"github.com/authzengine/authzengine/internal/observability/logger"
	"github.com/authzengine/authzengine/internal/observability/metrics"
)

// ClosureIndex answers which principals hold a role transitively. The
// resolver in the rbac package implements it.
type ClosureIndex interface {
	AffectedPrincipals(ctx context.Context, tenantID, roleID string) ([]string, error)
}

// Evictor is the bus subscriber that translates mutation events into
// tenant-scoped cache evictions. Assignment events name their principal
// directly; permission and hierarchy events resolve affected principals via
// reverse traversal of the role graph; policy events clear the tenant.
type Evictor struct {
	cache    cache.Cache
	closures ClosureIndex
	meter    *metrics.Meter
	log      *slog.Logger
}

// NewEvictor creates the eviction subscriber.
func NewEvictor(c cache.Cache, closures ClosureIndex, meter *metrics.Meter, log *slog.Logger) *Evictor {
	return &Evictor{cache: c, closures: closures, meter: meter, log: log}
}

func (e *Evictor) Name() string { return "cache-evictor" }

// Handle maps one event to its evictions.
func (e *Evictor) Handle(ctx context.Context, event Event) error {
	var (
		evicted int
		err     error
	)

	switch event.Kind {
	case KindRoleAssigned, KindRoleRevoked:
		principalID := event.Metadata[MetaPrincipalID]
		if principalID == "" {
			return fmt.Errorf("%s event without %s metadata", event.Kind, MetaPrincipalID)
		}
		evicted, err = e.evictPrincipals(ctx, event.TenantID, []string{principalID})

	case KindPermissionGranted, KindPermissionRevoked, KindRoleCreated, KindRoleReparented:
		var principals []string
		principals, err = e.affectedPrincipals(ctx, event)
		if err == nil {
			evicted, err = e.evictPrincipals(ctx, event.TenantID, principals)
		}

	case KindRoleDeleted:
		if raw := event.Metadata[MetaAffectedPrincipals]; raw != "" {
			evicted, err = e.evictPrincipals(ctx, event.TenantID, splitPrincipals(raw))
		} else {
			// The role row is gone; traversal cannot find it. Clearing
			// the tenant's decisions and closures is the safe overreach.
			evicted, err = e.evictTenant(ctx, event.TenantID, true)
		}

	case KindPolicyChanged:
		evicted, err = e.evictTenant(ctx, event.TenantID, false)
		if derr := e.cache.Delete(ctx, cache.PoliciesKey(event.TenantID)); derr != nil && err == nil {
			err = derr
		}

	case KindTenantUpdated:
		// Status flips change every decision of the tenant.
		evicted, err = e.evictTenant(ctx, event.TenantID, false)
		if derr := e.cache.Delete(ctx, cache.TenantConfigKey(event.TenantID)); derr != nil && err == nil {
			err = derr
		}

	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}

	if err != nil {
		return err
	}

	if e.meter != nil {
		e.meter.RecordEvictions(ctx, string(event.Kind), evicted)
	}
	e.log.Debug("cache eviction",
		logger.EventKind(string(event.Kind)),
		logger.TenantID(event.TenantID),
		logger.Count(evicted))
	return nil
}

// affectedPrincipals prefers publisher-supplied metadata over traversal.
func (e *Evictor) affectedPrincipals(ctx context.Context, event Event) ([]string, error) {
	if raw := event.Metadata[MetaAffectedPrincipals]; raw != "" {
		return splitPrincipals(raw), nil
	}
	principals, err := e.closures.AffectedPrincipals(ctx, event.TenantID, event.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve affected principals: %w", err)
	}
	return principals, nil
}

// evictPrincipals clears each principal's cached decisions and closure.
func (e *Evictor) evictPrincipals(ctx context.Context, tenantID string, principals []string) (int, error) {
	total := 0
	for _, principalID := range principals {
		n, err := e.cache.DeletePattern(ctx, cache.PrincipalDecisionPattern(tenantID, principalID))
		if err != nil {
			return total, err
		}
		total += n
		if err := e.cache.Delete(ctx, cache.ClosureKey(tenantID, principalID)); err != nil {
			return total, err
		}
	}
	return total, nil
}

// evictTenant clears every cached decision of the tenant, and the closures
// too when the role graph itself changed.
func (e *Evictor) evictTenant(ctx context.Context, tenantID string, includeClosures bool) (int, error) {
	total, err := e.cache.DeletePattern(ctx, cache.TenantDecisionPattern(tenantID))
	if err != nil {
		return total, err
	}
	if includeClosures {
		n, err := e.cache.DeletePattern(ctx, cache.ClosurePattern(tenantID))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func splitPrincipals(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
