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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/authzengine/authzengine/internal/config"
	"github.com/authzengine/authzengine/internal/events"
	"github.com/authzengine/authzengine/internal/observability/logger"
	"github.com/authzengine/authzengine/internal/policy"
	"github.com/authzengine/authzengine/internal/principal"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/authzengine/authzengine/internal/store/postgres"
	"github.com/authzengine/authzengine/internal/tenant"
)

const (
	EnvBootstrapTenantName = "AUTHZ_BOOTSTRAP_TENANT_NAME"
	EnvBootstrapTenantSlug = "AUTHZ_BOOTSTRAP_TENANT_SLUG"
	EnvBootstrapAdminEmail = "AUTHZ_BOOTSTRAP_ADMIN_EMAIL"
	EnvBootstrapServiceKey = "AUTHZ_BOOTSTRAP_SERVICE_KEY"
)

// runBootstrap seeds a tenant, an administrative service account, a small
// demo role hierarchy, and a demo policy. Every step is get-or-create, so
// re-running against an already seeded database is a no-op.
func runBootstrap(cfg *config.Config) error {
	slug := os.Getenv(EnvBootstrapTenantSlug)
	name := os.Getenv(EnvBootstrapTenantName)
	email := os.Getenv(EnvBootstrapAdminEmail)
	if slug == "" || email == "" {
		return fmt.Errorf("%s and %s must be set", EnvBootstrapTenantSlug, EnvBootstrapAdminEmail)
	}
	if name == "" {
		name = slug
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	tenantRepo := postgres.NewTenantRepository(db)
	principalRepo := postgres.NewPrincipalRepository(db)
	roleRepo := postgres.NewRoleRepository(db)
	permissionRepo := postgres.NewPermissionRepository(db)
	assignmentRepo := postgres.NewAssignmentRepository(db)
	constraintRepo := postgres.NewConstraintRepository(db)
	policyRepo := postgres.NewPolicyRepository(db)

	keyHasher := principal.NewKeyHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	// One-shot process with no cache attached, so invalidation events have
	// nowhere to go.
	resolver := rbac.NewResolver(roleRepo, permissionRepo, assignmentRepo)
	security := logger.NewSecurityLogger(slog.Default())
	tenantService := tenant.NewService(tenantRepo, events.NopPublisher{})
	principalService := principal.NewService(principalRepo, keyHasher)
	rbacService := rbac.NewService(roleRepo, permissionRepo, assignmentRepo, constraintRepo, resolver, events.NopPublisher{}, security)
	policyService := policy.NewService(policyRepo, events.NopPublisher{})

	// Tenant
	t, err := tenantService.GetTenantBySlug(ctx, slug)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		t, err = tenantService.CreateTenant(ctx, name, slug)
	}
	if err != nil {
		return fmt.Errorf("failed to provision tenant %q: %w", slug, err)
	}

	// Administrative service account
	admin, err := principalService.GetByEmail(ctx, t.ID, email)
	if errors.Is(err, principal.ErrPrincipalNotFound) {
		admin, err = principalService.CreatePrincipal(ctx, t.ID, email, "Bootstrap Administrator", principal.KindServiceAccount, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to provision administrator %q: %w", email, err)
	}

	if rawKey := os.Getenv(EnvBootstrapServiceKey); rawKey != "" {
		if err := principalService.SetServiceKey(ctx, t.ID, admin.ID, rawKey); err != nil {
			return fmt.Errorf("failed to store service key: %w", err)
		}
	}

	// Demo hierarchy: editor inherits viewer's grants through the parent
	// edge.
	viewer, err := ensureRole(ctx, rbacService, roleRepo, t.ID, "viewer", "Read access to documents", nil)
	if err != nil {
		return err
	}
	editor, err := ensureRole(ctx, rbacService, roleRepo, t.ID, "editor", "Write access to documents, read inherited", &viewer.ID)
	if err != nil {
		return err
	}

	read, err := ensurePermission(ctx, rbacService, permissionRepo, t.ID, "document", "read")
	if err != nil {
		return err
	}
	write, err := ensurePermission(ctx, rbacService, permissionRepo, t.ID, "document", "write")
	if err != nil {
		return err
	}

	if err := rbacService.GrantPermission(ctx, t.ID, viewer.ID, read.ID); err != nil {
		return fmt.Errorf("failed to grant %s to viewer: %w", read.Name, err)
	}
	if err := rbacService.GrantPermission(ctx, t.ID, editor.ID, write.ID); err != nil {
		return fmt.Errorf("failed to grant %s to editor: %w", write.Name, err)
	}

	if _, _, err := rbacService.AssignRole(ctx, t.ID, admin.ID, editor.ID, "system:bootstrap", nil); err != nil && !errors.Is(err, rbac.ErrAssignmentExists) {
		return fmt.Errorf("failed to assign editor role: %w", err)
	}

	// Demo policy: confidential documents require high clearance.
	if err := ensurePolicy(ctx, policyService, policyRepo, t.ID); err != nil {
		return err
	}

	fmt.Printf("Bootstrapped tenant %s (%s) with administrator %s\n", t.Slug, t.ID, admin.ID)
	return nil
}

func ensureRole(ctx context.Context, svc *rbac.Service, repo *postgres.RoleRepository, tenantID, name, description string, parentRoleID *string) (*rbac.Role, error) {
	role, err := repo.GetByName(ctx, tenantID, name)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		role, err = svc.CreateRole(ctx, tenantID, name, description, parentRoleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision role %q: %w", name, err)
	}
	return role, nil
}

func ensurePermission(ctx context.Context, svc *rbac.Service, repo *postgres.PermissionRepository, tenantID, resourceType, action string) (*rbac.Permission, error) {
	name := rbac.PermissionName(resourceType, action)
	perm, err := repo.GetByName(ctx, tenantID, name)
	if errors.Is(err, rbac.ErrPermissionNotFound) {
		perm, err = svc.CreatePermission(ctx, tenantID, resourceType, action, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision permission %q: %w", name, err)
	}
	return perm, nil
}

func ensurePolicy(ctx context.Context, svc *policy.Service, repo *postgres.PolicyRepository, tenantID string) error {
	const policyName = "confidential-documents"
	if _, err := repo.GetByNameVersion(ctx, tenantID, policyName, 1); err == nil {
		return nil
	} else if !errors.Is(err, policy.ErrPolicyNotFound) {
		return fmt.Errorf("failed to check policy %q: %w", policyName, err)
	}

	rules := []*policy.Rule{{
		ID:          "deny-confidential-without-clearance",
		Description: "Confidential documents require high clearance",
		Effect:      policy.EffectDeny,
		Priority:    100,
		Condition: &policy.Condition{Group: &policy.Group{
			Operator: policy.OpAnd,
			Operands: []*policy.Condition{
				{Leaf: &policy.Leaf{Attribute: "resource.confidential", Operator: policy.OpEqual, Value: true}},
				{Leaf: &policy.Leaf{Attribute: "principal.clearance", Operator: policy.OpNotEqual, Value: "high"}},
			},
		}},
	}}

	if _, err := svc.CreatePolicy(ctx, tenantID, policyName, 1, 100, policy.StatusActive, rules); err != nil {
		return fmt.Errorf("failed to provision policy %q: %w", policyName, err)
	}
	return nil
}
