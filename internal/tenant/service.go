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

package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/authzengine/authzengine/internal/events"
	"github.com/authzengine/authzengine/internal/id"
)

// Service provides tenant management business logic
type Service struct {
	repo Repository
	bus  events.Publisher
}

// NewService creates a new tenant service
func NewService(repo Repository, bus events.Publisher) *Service {
	if bus == nil {
		bus = events.NopPublisher{}
	}
	return &Service{repo: repo, bus: bus}
}

// CreateTenant creates a new tenant with a unique slug
func (s *Service) CreateTenant(ctx context.Context, name, slug string) (*Tenant, error) {
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("invalid tenant slug: %q", slug)
	}

	if _, err := s.repo.GetBySlug(ctx, slug); err == nil {
		return nil, ErrSlugTaken
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:        id.NewUUIDv7(),
		Name:      name,
		Slug:      slug,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	return t, nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	return s.repo.GetByID(ctx, tenantID)
}

// GetTenantBySlug retrieves a tenant by slug
func (s *Service) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit, offset)
}

// SetStatus transitions a tenant's lifecycle status
func (s *Service) SetStatus(ctx context.Context, tenantID, status string) (*Tenant, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("invalid tenant status: %q", status)
	}

	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	// Cached decisions for the tenant assume the old status.
	s.bus.Publish(ctx, events.Event{
		Kind:      events.KindTenantUpdated,
		TenantID:  t.ID,
		EntityID:  t.ID,
		Timestamp: time.Now().UTC(),
	})

	return t, nil
}
