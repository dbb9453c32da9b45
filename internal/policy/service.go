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

package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authzengine/authzengine/internal/events"
	"github.com/authzengine/authzengine/internal/id"
)

// Service provides policy management. Every committed change publishes a
// policy_changed event, which evicts the tenant's cached decisions and
// policy list.
type Service struct {
	repo Repository
	bus  events.Publisher
}

// NewService creates a new policy service
func NewService(repo Repository, bus events.Publisher) *Service {
	return &Service{repo: repo, bus: bus}
}

// CreatePolicy validates and stores a policy. Malformed rules are rejected
// before anything reaches storage, so evaluation never sees an invalid
// condition tree.
func (s *Service) CreatePolicy(ctx context.Context, tenantID, name string, version, priority int, status Status, rules []*Rule) (*Policy, error) {
	if tenantID == "" || name == "" {
		return nil, fmt.Errorf("%w: tenant id and name are required", ErrPolicyMalformed)
	}
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrPolicyMalformed, status)
	}
	if err := validateRules(rules); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByNameVersion(ctx, tenantID, name, version)
	if err != nil && !errors.Is(err, ErrPolicyNotFound) {
		return nil, fmt.Errorf("failed to check policy version: %w", err)
	}
	if existing != nil {
		return nil, ErrPolicyExists
	}

	now := time.Now().UTC()
	p := &Policy{
		ID:        id.NewUUIDv7(),
		TenantID:  tenantID,
		Name:      name,
		Version:   version,
		Priority:  priority,
		Status:    status,
		Rules:     rules,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	s.publishChange(ctx, tenantID, p.ID)
	return p, nil
}

// GetPolicy retrieves a policy by ID
func (s *Service) GetPolicy(ctx context.Context, tenantID, policyID string) (*Policy, error) {
	return s.repo.GetByID(ctx, tenantID, policyID)
}

// ListPolicies retrieves every policy of a tenant
func (s *Service) ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// ListActive retrieves the active policies of a tenant
func (s *Service) ListActive(ctx context.Context, tenantID string) ([]*Policy, error) {
	return s.repo.ListActive(ctx, tenantID)
}

// UpdateRules replaces a policy's rules after validation.
func (s *Service) UpdateRules(ctx context.Context, tenantID, policyID string, priority int, rules []*Rule) (*Policy, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}

	p, err := s.repo.GetByID(ctx, tenantID, policyID)
	if err != nil {
		return nil, err
	}

	p.Priority = priority
	p.Rules = rules
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}

	s.publishChange(ctx, tenantID, policyID)
	return p, nil
}

// SetStatus toggles a policy between active, inactive, and draft.
func (s *Service) SetStatus(ctx context.Context, tenantID, policyID string, status Status) (*Policy, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrPolicyMalformed, status)
	}

	p, err := s.repo.GetByID(ctx, tenantID, policyID)
	if err != nil {
		return nil, err
	}
	if p.Status == status {
		return p, nil
	}

	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update policy status: %w", err)
	}

	s.publishChange(ctx, tenantID, policyID)
	return p, nil
}

// DeletePolicy removes a policy and its rules.
func (s *Service) DeletePolicy(ctx context.Context, tenantID, policyID string) error {
	if err := s.repo.Delete(ctx, tenantID, policyID); err != nil {
		return err
	}
	s.publishChange(ctx, tenantID, policyID)
	return nil
}

func (s *Service) publishChange(ctx context.Context, tenantID, policyID string) {
	s.bus.Publish(ctx, events.Event{
		Kind:      events.KindPolicyChanged,
		TenantID:  tenantID,
		EntityID:  policyID,
		Timestamp: time.Now().UTC(),
	})
}

func validateRules(rules []*Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if rule == nil {
			return fmt.Errorf("%w: rule %d is null", ErrPolicyMalformed, i)
		}
		if rule.ID == "" {
			return fmt.Errorf("%w: rule %d requires an id", ErrPolicyMalformed, i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("%w: duplicate rule id %q", ErrPolicyMalformed, rule.ID)
		}
		seen[rule.ID] = true
		if rule.Effect != EffectAllow && rule.Effect != EffectDeny {
			return fmt.Errorf("%w: rule %q has invalid effect %q", ErrPolicyMalformed, rule.ID, rule.Effect)
		}
		if rule.Condition == nil {
			return fmt.Errorf("%w: rule %q requires a condition", ErrPolicyMalformed, rule.ID)
		}
		if err := rule.Condition.Validate(); err != nil {
			return fmt.Errorf("%w: rule %q: %v", ErrPolicyMalformed, rule.ID, err)
		}
	}
	return nil
}
