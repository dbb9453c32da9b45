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

// Package engine orchestrates authorization decisions. An evaluation runs
// validate, cache lookup, RBAC, ABAC and policy stages in order; RBAC and
// ABAC denials short-circuit, a matched policy rule decides, and an
// unmatched policy stage carries the RBAC+ABAC allow through. Evaluation
// errors fail closed.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/authzengine/authzengine/internal/abac"
	"github.com/authzengine/authzengine/internal/attrs"
	"github.com/authzengine/authzengine/internal/audit"
	"github.com/authzengine/authzengine/internal/cache"
	"github.com/authzengine/authzengine/internal/observability/logger"
	"github.com/authzengine/authzengine/internal/observability/metrics"
	"github.com/authzengine/authzengine/internal/policy"
	"github.com/authzengine/authzengine/internal/principal"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/authzengine/authzengine/internal/tenant"
)

// TTLConfig holds the lifetime of each cached value class.
type TTLConfig struct {
	Decision     time.Duration
	RoleClosure  time.Duration
	Policies     time.Duration
	TenantConfig time.Duration
}

func (c TTLConfig) withDefaults() TTLConfig {
	if c.Decision <= 0 {
		c.Decision = 300 * time.Second
	}
	if c.RoleClosure <= 0 {
		c.RoleClosure = 3600 * time.Second
	}
	if c.Policies <= 0 {
		c.Policies = 1800 * time.Second
	}
	if c.TenantConfig <= 0 {
		c.TenantConfig = 7200 * time.Second
	}
	return c
}

// Engine evaluates authorization requests.
type Engine struct {
	log      *slog.Logger
	security *logger.SecurityLogger
	meter    *metrics.Meter

	tenants    TenantStore
	principals PrincipalStore
	resolver   ClosureResolver
	policies   PolicyStore
	cache      cache.Cache
	audit      AuditRecorder

	ttl   TTLConfig
	group singleflight.Group
	now   func() time.Time
}

// New creates the decision engine.
func New(
	tenants TenantStore,
	principals PrincipalStore,
	resolver ClosureResolver,
	policies PolicyStore,
	c cache.Cache,
	auditor AuditRecorder,
	ttl TTLConfig,
	meter *metrics.Meter,
	log *slog.Logger,
) *Engine {
	return &Engine{
		log:        log,
		security:   logger.NewSecurityLogger(log),
		meter:      meter,
		tenants:    tenants,
		principals: principals,
		resolver:   resolver,
		policies:   policies,
		cache:      c,
		audit:      auditor,
		ttl:        ttl.withDefaults(),
		now:        time.Now,
	}
}

// Evaluate answers one authorization request. It returns an error only
// when ctx is canceled or its deadline passes; every other failure mode
// yields a well-formed fail-closed denial. Identical concurrent requests
// share a single computation.
func (e *Engine) Evaluate(ctx context.Context, req *Request) (*Decision, error) {
	start := e.now()

	if missing := req.MissingFields(); len(missing) > 0 {
		reason := "Invalid request: missing " + strings.Join(missing, ", ")
		d := &Decision{Reason: reason, Explanation: reason, EvaluatedAt: e.now().UTC()}
		e.countDecision(ctx, false, StageValidation, false, start)
		e.log.DebugContext(ctx, "rejected malformed authorization request",
			logger.TenantID(req.TenantID),
			slog.String("missing", strings.Join(missing, ",")))
		return d, nil
	}

	key := cache.DecisionKey(req.TenantID, req.PrincipalID, req.Action, req.Resource.Type, req.Resource.ID)

	if d := e.lookup(ctx, key); d != nil {
		d.CacheHit = true
		e.countDecision(ctx, d.Allowed, StageCache, true, start)
		return d, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := e.group.DoChan(key, func() (any, error) {
		return e.compute(ctx, req, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// compute fails only on cancellation; if the leader lost its
			// context while ours is alive, evaluate unshared.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ev, err := e.compute(ctx, req, key)
			if err != nil {
				return nil, err
			}
			d := ev.decision
			e.countDecision(ctx, d.Allowed, ev.stage, false, start)
			return &d, nil
		}
		ev := res.Val.(evaluation)
		d := ev.decision
		e.countDecision(ctx, d.Allowed, ev.stage, false, start)
		return &d, nil
	}
}

// compute runs the decision pipeline. The returned error is non-nil only
// for cancellation; internal failures come back as fail-closed denials.
func (e *Engine) compute(ctx context.Context, req *Request, key string) (evaluation, error) {
	// Tenant gate. The record rides its own cache class.
	ten, err := e.tenantRecord(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return e.finish(ctx, req, key, evaluation{
				decision: deniedDecision(ReasonTenantInactive),
				stage:    StageValidation,
			})
		}
		return e.failClosed(ctx, req, err)
	}
	if !ten.Operational() {
		return e.finish(ctx, req, key, evaluation{
			decision: deniedDecision(ReasonTenantInactive),
			stage:    StageValidation,
		})
	}

	principalAttrs, active, err := e.principalAttributes(ctx, req)
	if err != nil {
		return e.failClosed(ctx, req, err)
	}
	if !active {
		return e.finish(ctx, req, key, evaluation{
			decision: deniedDecision(ReasonPrincipalInactive),
			stage:    StageValidation,
		})
	}

	// RBAC stage.
	closure, err := e.closure(ctx, req.TenantID, req.PrincipalID)
	if err != nil {
		return e.failClosed(ctx, req, err)
	}
	grants, err := e.resolver.PermissionGrants(ctx, req.TenantID, closure)
	if err != nil {
		return e.failClosed(ctx, req, err)
	}

	var meta map[string]any
	if closure.DepthLimitReached {
		meta = map[string]any{"depth_limit_reached": true}
		e.log.WarnContext(ctx, "role closure depth limit reached",
			logger.TenantID(req.TenantID),
			logger.PrincipalID(req.PrincipalID))
	}

	rbacRes := rbac.CheckPermission(closure, grants, req.Resource.Type, req.Action)
	if !rbacRes.Allowed {
		return e.finish(ctx, req, key, evaluation{
			decision: deniedDecision(rbacRes.Reason),
			stage:    StageRBAC,
			metadata: meta,
		})
	}

	// ABAC stage.
	abacRes := abac.Evaluate(req.PrincipalID, principalAttrs, req.Resource.Attributes)
	if !abacRes.Allowed {
		reason := strings.Join(abacRes.FailedConditions, "; ")
		d := deniedDecision(reason)
		d.FailedConditions = abacRes.FailedConditions
		return e.finish(ctx, req, key, evaluation{decision: d, stage: StageABAC, metadata: meta})
	}

	// Policy stage.
	policies, err := e.activePolicies(ctx, req.TenantID)
	if err != nil {
		return e.failClosed(ctx, req, err)
	}
	outcome := policy.Evaluate(policies, &policy.Input{
		PrincipalID:  req.PrincipalID,
		Action:       req.Action,
		ResourceType: req.Resource.Type,
		ResourceID:   req.Resource.ID,
		Principal:    principalAttrs,
		Resource:     req.Resource.Attributes,
		Context:      req.Context,
	})

	d := Decision{Allowed: true, Reason: rbacRes.Reason, Explanation: rbacRes.Reason}
	stage := StageRBAC
	if outcome.Matched {
		stage = StagePolicy
		ruleID := outcome.RuleID
		d.PolicyEvaluated = &ruleID
		d.Allowed = outcome.Allowed
		if outcome.Description != "" {
			d.Reason = outcome.Description
			d.Explanation = outcome.Description
		} else if !outcome.Allowed {
			d.Reason = "Denied by policy " + outcome.PolicyName
			d.Explanation = d.Reason
		}
	}

	return e.finish(ctx, req, key, evaluation{decision: d, stage: stage, metadata: meta})
}

// finish stamps, caches, audits and logs a computed decision. A canceled
// context aborts before any of that.
func (e *Engine) finish(ctx context.Context, req *Request, key string, ev evaluation) (evaluation, error) {
	if err := ctx.Err(); err != nil {
		return evaluation{}, err
	}
	ev.decision.EvaluatedAt = e.now().UTC()

	// Gate denials are cheap to recompute and their state class has no
	// eviction event tied to entity creation, so they are not cached.
	if ev.stage != StageValidation {
		e.cacheSet(ctx, key, ev.decision, e.ttl.Decision)
	}

	e.auditDecision(ctx, req, ev)
	e.logDecision(ctx, req, ev)
	return ev, nil
}

func (e *Engine) failClosed(ctx context.Context, req *Request, err error) (evaluation, error) {
	if cerr := ctx.Err(); cerr != nil {
		return evaluation{}, cerr
	}
	e.log.ErrorContext(ctx, "authorization evaluation failed",
		logger.TenantID(req.TenantID),
		logger.PrincipalID(req.PrincipalID),
		logger.Action(req.Action),
		logger.Error(err))
	return evaluation{
		decision: Decision{
			Reason:      ReasonInternalError,
			Explanation: ReasonInternalError,
			EvaluatedAt: e.now().UTC(),
		},
		stage: StageError,
	}, nil
}

// tenantRecord reads the tenant through the config cache class.
func (e *Engine) tenantRecord(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	key := cache.TenantConfigKey(tenantID)
	if raw, err := e.cache.Get(ctx, key); err == nil {
		var t tenant.Tenant
		if jerr := json.Unmarshal(raw, &t); jerr == nil {
			return &t, nil
		}
	}
	t, err := e.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	e.cacheSet(ctx, key, t, e.ttl.TenantConfig)
	return t, nil
}

// principalAttributes merges stored attributes over the caller-supplied
// ones and reports whether the principal may act. Unknown principals flow
// through with the supplied attributes; the RBAC stage denies them with an
// empty closure, which is the more debuggable reason.
func (e *Engine) principalAttributes(ctx context.Context, req *Request) (attrs.Map, bool, error) {
	p, err := e.principals.GetPrincipal(ctx, req.TenantID, req.PrincipalID)
	if err != nil {
		if errors.Is(err, principal.ErrPrincipalNotFound) {
			return req.PrincipalAttributes, true, nil
		}
		return nil, false, err
	}
	if !p.Active() {
		return nil, false, nil
	}
	return attrs.Merge(req.PrincipalAttributes, p.Attributes), true, nil
}

// closure reads the principal's role closure through the hierarchy cache
// class.
func (e *Engine) closure(ctx context.Context, tenantID, principalID string) (*rbac.Closure, error) {
	key := cache.ClosureKey(tenantID, principalID)
	if raw, err := e.cache.Get(ctx, key); err == nil {
		var c rbac.Closure
		if jerr := json.Unmarshal(raw, &c); jerr == nil {
			return &c, nil
		}
	}
	c, err := e.resolver.Closure(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	e.cacheSet(ctx, key, c, e.ttl.RoleClosure)
	return c, nil
}

// activePolicies reads the tenant's active policies through the policy
// cache class.
func (e *Engine) activePolicies(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
	key := cache.PoliciesKey(tenantID)
	if raw, err := e.cache.Get(ctx, key); err == nil {
		var list []*policy.Policy
		if jerr := json.Unmarshal(raw, &list); jerr == nil {
			return list, nil
		}
	}
	list, err := e.policies.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	e.cacheSet(ctx, key, list, e.ttl.Policies)
	return list, nil
}

func (e *Engine) lookup(ctx context.Context, key string) *Decision {
	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil
	}
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		e.log.WarnContext(ctx, "dropping corrupt cached decision",
			logger.CacheKey(key), logger.Error(err))
		return nil
	}
	return &d
}

func (e *Engine) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := e.cache.Set(ctx, key, value, ttl); err != nil {
		e.log.DebugContext(ctx, "cache write failed",
			logger.CacheKey(key), logger.Error(err))
	}
}

func (e *Engine) auditDecision(ctx context.Context, req *Request, ev evaluation) {
	if e.audit == nil {
		return
	}
	outcome := audit.DecisionDenied
	if ev.decision.Allowed {
		outcome = audit.DecisionAllowed
	}

	meta := map[string]any{"stage": ev.stage}
	for k, v := range ev.metadata {
		meta[k] = v
	}
	if len(ev.decision.FailedConditions) > 0 {
		meta["failed_conditions"] = ev.decision.FailedConditions
	}

	e.audit.Record(ctx, &audit.Entry{
		TenantID:        req.TenantID,
		PrincipalID:     req.PrincipalID,
		Action:          req.Action,
		ResourceType:    req.Resource.Type,
		ResourceID:      req.Resource.ID,
		Decision:        outcome,
		Reason:          ev.decision.Reason,
		PolicyEvaluated: ev.decision.PolicyEvaluated,
		Timestamp:       ev.decision.EvaluatedAt,
		Metadata:        meta,
	})
}

func (e *Engine) logDecision(ctx context.Context, req *Request, ev evaluation) {
	resource := req.Resource.Type + ":" + req.Resource.ID
	if ev.decision.Allowed {
		e.security.DecisionAllowed(ctx, req.TenantID, req.PrincipalID, req.Action, resource)
		return
	}
	e.security.DecisionDenied(ctx, req.TenantID, req.PrincipalID, req.Action, resource, ev.decision.Reason)
}

func (e *Engine) countDecision(ctx context.Context, allowed bool, stage string, hit bool, start time.Time) {
	if e.meter != nil {
		e.meter.RecordDecision(ctx, allowed, stage, hit, time.Since(start))
	}
}

func deniedDecision(reason string) Decision {
	return Decision{Reason: reason, Explanation: reason}
}
