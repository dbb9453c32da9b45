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

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authzengine/authzengine/internal/principal"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/authzengine/authzengine/internal/tenant"
)

// =============================================================================
// EDGE AUTHENTICATION TESTS
// Category: API - Service Credentials & Tenant Scoping
// Type: Unit Test (UT)
// =============================================================================

const testJWTSecret = "unit-test-secret-do-not-reuse"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func serviceClaims(tenantID string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "caller-1",
		"tid": tenantID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

// provisionServiceKey stores an active service account with a verifiable key
// so X-Service-Key requests can authenticate against the fixture.
func provisionServiceKey(t *testing.T, f *handlerFixture, tenantID, principalID, rawKey string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.principalRepo.Create(ctx, &principal.Principal{
		ID:       principalID,
		TenantID: tenantID,
		Email:    principalID + "@example.com",
		Kind:     principal.KindServiceAccount,
		Status:   principal.StatusActive,
	}))

	hasher := principal.NewKeyHasher(8192, 1, 1, 16, 32)
	hash, err := hasher.Hash(rawKey)
	require.NoError(t, err)
	require.NoError(t, f.principalRepo.SetServiceKey(ctx, &principal.ServiceKey{
		PrincipalID: principalID,
		KeyHash:     hash,
	}))
}

// TestPurpose: Validates that an unset JWT secret disables edge auth so local
// development works without provisioning credentials.
// Scope: Unit Test
// Expected: An uncredentialed request reaches the decision endpoint and gets a decision.
// Test Case ID: AUTH-01
func TestAuth_DevMode_RequestsPassUnauthenticated(t *testing.T) {
	f := newHandlerFixture(t, "")

	body := authorizeBody("tenant-1", "principal-1", "read", "document", "doc-1")
	w := f.do(jsonRequest(http.MethodPost, "/api/v1/authorize", body))

	assert.Equal(t, http.StatusOK, w.Code,
		"AUTH-01: with no configured secret the middleware must pass requests through")
}

// TestPurpose: Validates that absent or non-Bearer credentials are rejected before
// any handler runs.
// Scope: Unit Test
// Security: Authentication boundary (fail closed)
// Expected: Returns 401 Unauthorized for missing and malformed Authorization headers.
// Test Case ID: AUTH-02
func TestAuth_MissingCredentials_ReturnsUnauthorized(t *testing.T) {
	f := newHandlerFixture(t, testJWTSecret)

	body := authorizeBody("tenant-1", "principal-1", "read", "document", "doc-1")

	w := f.do(jsonRequest(http.MethodPost, "/api/v1/authorize", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code,
		"AUTH-02 SECURITY: no credentials must not reach the engine")

	req := jsonRequest(http.MethodPost, "/api/v1/authorize", body)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code,
		"AUTH-02: only the Bearer scheme is accepted")
}

// TestPurpose: Validates that a well-formed HS256 token admits the caller and its
// tenant binding satisfies the scope check on the decision endpoint.
// Scope: Unit Test
// Expected: Returns 200 with an allow decision for the caller's own tenant.
// Test Case ID: AUTH-03
func TestAuth_ValidToken_CallerReachesHandler(t *testing.T) {
	f := newHandlerFixture(t, testJWTSecret)

	body := authorizeBody("tenant-1", "principal-1", "read", "document", "doc-1")
	req := jsonRequest(http.MethodPost, "/api/v1/authorize", body)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testJWTSecret, serviceClaims("tenant-1")))
	w := f.do(req)

	require.Equal(t, http.StatusOK, w.Code)

	var decision map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, true, decision["allowed"], "AUTH-03: authenticated caller gets a real decision")
}

// TestPurpose: Validates rejection of tokens that fail verification: wrong signature,
// expiry in the past, stripped algorithm, and absent identity claims.
// Scope: Unit Test
// Security: Token validation (CWE-347)
// Expected: Returns 403 Forbidden for every tampered or incomplete token.
// Test Case ID: AUTH-04
func TestAuth_InvalidTokens_ReturnForbidden(t *testing.T) {
	f := newHandlerFixture(t, testJWTSecret)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, serviceClaims("tenant-1")).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong signing secret", mintToken(t, "some-other-secret", serviceClaims("tenant-1"))},
		{"expired token", mintToken(t, testJWTSecret, jwt.MapClaims{
			"sub": "caller-1", "tid": "tenant-1", "exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"alg none", noneToken},
		{"missing tid claim", mintToken(t, testJWTSecret, jwt.MapClaims{
			"sub": "caller-1", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"missing sub claim", mintToken(t, testJWTSecret, jwt.MapClaims{
			"tid": "tenant-1", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"garbage token", "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := authorizeBody("tenant-1", "principal-1", "read", "document", "doc-1")
			req := jsonRequest(http.MethodPost, "/api/v1/authorize", body)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			w := f.do(req)

			assert.Equal(t, http.StatusForbidden, w.Code,
				"AUTH-04 SECURITY: %s must be rejected", tt.name)
		})
	}
}

// TestPurpose: Validates the X-Service-Key credential path end to end against a
// provisioned service account.
// Scope: Unit Test
// Security: Service key verification
// Expected: A matching key admits the caller; the decision endpoint responds 200.
// Test Case ID: AUTH-05
func TestAuth_ServiceKey_VerifiedCallerPasses(t *testing.T) {
	f := newHandlerFixture(t, testJWTSecret)
	provisionServiceKey(t, f, "tenant-1", "svc-1", "edge-test-key-0123456789")

	body := authorizeBody("tenant-1", "principal-1", "read", "document", "doc-1")
	req := jsonRequest(http.MethodPost, "/api/v1/authorize", body)
	req.Header.Set("X-Service-Key", "edge-test-key-0123456789")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("X-Principal-ID", "svc-1")
	w := f.do(req)

	assert.Equal(t, http.StatusOK, w.Code,
		"AUTH-05: a verified service key stands in for a bearer token")
}

// TestPurpose: Validates that a service key without its identifying companion
// headers cannot be verified against anything.
// Scope: Unit Test
// Expected: Returns 401 Unauthorized naming the required headers.
// Test Case ID: AUTH-06
func TestAuth_ServiceKey_MissingCompanionHeaders_ReturnsUnauthorized(t *testing.T) {
	f := newHandlerFixture(t, testJWTSecret)
	provisionServiceKey(t, f, "tenant-1", "svc-1", "edge-test-key-0123456789")

	body := authorizeBody("tenant-1", "principal-1", "read", "document", "doc-1")
	req := jsonRequest(http.MethodPost, "/api/v1/authorize", body)
	req.Header.Set("X-Service-Key", "edge-test-key-0123456789")
	w := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code,
		"AUTH-06: the key alone does not identify a principal")
}

// TestPurpose: Validates that a wrong or unprovisioned service key is rejected.
// Scope: Unit Test
// Security: Credential verification (fail closed)
// Expected: Returns 403 Forbidden for a mismatched key and for an unknown principal.
// Test Case ID: AUTH-07
func TestAuth_ServiceKey_WrongKey_ReturnsForbidden(t *testing.T) {
	f := newHandlerFixture(t, testJWTSecret)
	provisionServiceKey(t, f, "tenant-1", "svc-1", "edge-test-key-0123456789")

	body := authorizeBody("tenant-1", "principal-1", "read", "document", "doc-1")

	req := jsonRequest(http.MethodPost, "/api/v1/authorize", body)
	req.Header.Set("X-Service-Key", "wrong-key-9876543210")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("X-Principal-ID", "svc-1")
	w := f.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code,
		"AUTH-07 SECURITY: a mismatched key must be rejected")

	req = jsonRequest(http.MethodPost, "/api/v1/authorize", body)
	req.Header.Set("X-Service-Key", "edge-test-key-0123456789")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("X-Principal-ID", "svc-ghost")
	w = f.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code,
		"AUTH-07 SECURITY: an unknown principal must look like a bad key")
}

// TestPurpose: Validates tenant scoping: credentials bound to one tenant cannot act
// on another, while system-tenant credentials can act on any.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement (CWE-284)
// Expected: Cross-tenant requests return 403; the same requests succeed with
// system-tenant credentials.
// Test Case ID: AUTH-08
func TestAuth_TenantScope_CrossTenantRejected(t *testing.T) {
	f := newHandlerFixture(t, testJWTSecret)

	tenantToken := mintToken(t, testJWTSecret, serviceClaims("tenant-1"))
	systemToken := mintToken(t, testJWTSecret, serviceClaims(rbac.SystemTenantID))

	body := authorizeBody("tenant-2", "principal-1", "read", "document", "doc-1")
	req := jsonRequest(http.MethodPost, "/api/v1/authorize", body)
	req.Header.Set("Authorization", "Bearer "+tenantToken)
	w := f.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code,
		"AUTH-08 SECURITY: tenant-1 credentials must not request decisions for tenant-2")

	createBody := CreatePrincipalRequest{Email: "ops@example.com", DisplayName: "Ops"}
	req = jsonRequest(http.MethodPost, "/api/v1/tenants/tenant-2/principals", createBody)
	req.Header.Set("Authorization", "Bearer "+tenantToken)
	w = f.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code,
		"AUTH-08 SECURITY: tenant-1 credentials must not administer tenant-2")

	req = jsonRequest(http.MethodPost, "/api/v1/tenants/tenant-2/principals", createBody)
	req.Header.Set("Authorization", "Bearer "+systemToken)
	w = f.do(req)
	assert.Equal(t, http.StatusCreated, w.Code,
		"AUTH-08: system-tenant credentials administer every tenant")
}

// TestPurpose: Validates that tenant lifecycle changes require system-tenant
// credentials even from an authenticated tenant admin.
// Scope: Unit Test
// Security: Privilege separation
// Expected: A tenant-scoped caller gets 403 on its own tenant's status; a
// system-scoped caller completes the suspension.
// Test Case ID: AUTH-09
func TestAuth_SystemScope_TenantStatusRestricted(t *testing.T) {
	f := newHandlerFixture(t, testJWTSecret)

	systemToken := mintToken(t, testJWTSecret, serviceClaims(rbac.SystemTenantID))

	req := jsonRequest(http.MethodPost, "/api/v1/tenants", CreateTenantRequest{Name: "Acme", Slug: "acme"})
	req.Header.Set("Authorization", "Bearer "+systemToken)
	w := f.do(req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created tenant.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	tenantToken := mintToken(t, testJWTSecret, serviceClaims(created.ID))
	req = jsonRequest(http.MethodPatch, "/api/v1/tenants/"+created.ID+"/status", SetTenantStatusRequest{Status: tenant.StatusSuspended})
	req.Header.Set("Authorization", "Bearer "+tenantToken)
	w = f.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code,
		"AUTH-09 SECURITY: a tenant cannot change its own lifecycle status")

	req = jsonRequest(http.MethodPatch, "/api/v1/tenants/"+created.ID+"/status", SetTenantStatusRequest{Status: tenant.StatusSuspended})
	req.Header.Set("Authorization", "Bearer "+systemToken)
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var updated tenant.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, tenant.StatusSuspended, updated.Status)
}
