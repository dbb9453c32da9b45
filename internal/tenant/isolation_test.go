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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates that tenant-scoped lookups strictly require a non-empty tenant ID to prevent global data exposure.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement
// Expected: Returns an error when an empty tenant ID is provided, without touching the repository.
// Test Case ID: TEN-05
func TestTenant_Isolation_TenantIDMustBePresent(t *testing.T) {
	repo := new(mockRepo)
	service := NewService(repo, nil)
	ctx := context.Background()

	_, err := service.GetTenant(ctx, "")
	assert.Error(t, err, "empty tenant ID should fail")
	repo.AssertNotCalled(t, "GetByID", ctx, "")
}

// TestPurpose: Validates that repository errors surface unchanged so callers can classify them.
// Scope: Unit Test
// Expected: ErrTenantNotFound propagates via errors.Is.
// Test Case ID: TEN-06
func TestTenant_Isolation_NotFoundPropagates(t *testing.T) {
	repo := new(mockRepo)
	service := NewService(repo, nil)
	ctx := context.Background()

	repo.On("GetByID", ctx, "missing").Return(nil, ErrTenantNotFound)

	_, err := service.GetTenant(ctx, "missing")
	assert.True(t, errors.Is(err, ErrTenantNotFound))
}
