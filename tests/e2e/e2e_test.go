//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	baseURL = getEnv("AUTHZ_API_URL", "http://127.0.0.1:8080")
	apiBase = baseURL + "/api/v1"
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// TestClient wraps http.Client with the service credential headers the edge
// expects. When AUTHZ_SERVICE_KEY is unset the server must run without
// AUTH_JWT_SECRET (development mode) and requests go out unauthenticated.
type TestClient struct {
	httpClient  *http.Client
	serviceKey  string
	tenantID    string
	principalID string
}

func NewTestClient() *TestClient {
	return &TestClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		serviceKey:  os.Getenv("AUTHZ_SERVICE_KEY"),
		tenantID:    os.Getenv("AUTHZ_TENANT_ID"),
		principalID: os.Getenv("AUTHZ_PRINCIPAL_ID"),
	}
}

func (c *TestClient) Do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if c.serviceKey != "" {
		req.Header.Set("X-Service-Key", c.serviceKey)
		req.Header.Set("X-Tenant-ID", c.tenantID)
		req.Header.Set("X-Principal-ID", c.principalID)
	}

	return c.httpClient.Do(req)
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestE2E_Workflows(t *testing.T) {
	client := NewTestClient()

	// State shared between subtests
	var (
		e2eTenantID    string
		e2ePrincipalID string
		e2eViewerID    string
		e2eEditorID    string
	)

	// 1. Service health
	t.Run("Health Check", func(t *testing.T) {
		resp, err := client.httpClient.Get(baseURL + "/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var health struct {
			Status  string `json:"status"`
			Service string `json:"service"`
		}
		decode(t, resp, &health)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "authz-engine", health.Service)
	})

	// 2. Tenant provisioning: tenant, principal, role hierarchy, grants
	t.Run("Tenant Provisioning Flow", func(t *testing.T) {
		slug := fmt.Sprintf("e2e-%d", time.Now().Unix())

		resp, err := client.Do("POST", apiBase+"/tenants", map[string]string{
			"name": "E2E Test Tenant",
			"slug": slug,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var tn struct {
			ID   string `json:"id"`
			Slug string `json:"slug"`
		}
		decode(t, resp, &tn)
		require.NotEmpty(t, tn.ID)
		assert.Equal(t, slug, tn.Slug)
		e2eTenantID = tn.ID
		t.Logf("Created tenant: %s (%s)", tn.ID, slug)

		// Principal
		resp, err = client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/principals", map[string]string{
			"email":        "svc-e2e@" + slug + ".local",
			"display_name": "E2E Service",
			"kind":         "service_account",
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var p struct {
			ID string `json:"id"`
		}
		decode(t, resp, &p)
		require.NotEmpty(t, p.ID)
		e2ePrincipalID = p.ID

		// Role hierarchy: editor under viewer
		resp, err = client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/roles", map[string]any{
			"name":        "viewer",
			"description": "Read-only access",
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var viewer struct {
			ID string `json:"id"`
		}
		decode(t, resp, &viewer)
		e2eViewerID = viewer.ID

		resp, err = client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/roles", map[string]any{
			"name":           "editor",
			"description":    "Read-write access",
			"parent_role_id": e2eViewerID,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var editor struct {
			ID    string `json:"id"`
			Level int    `json:"level"`
		}
		decode(t, resp, &editor)
		e2eEditorID = editor.ID
		assert.Equal(t, 1, editor.Level, "child role sits one level below its parent")

		// Permissions and grants: viewer reads, editor writes
		grants := []struct {
			roleID string
			action string
		}{
			{e2eViewerID, "read"},
			{e2eEditorID, "write"},
		}
		for _, g := range grants {
			resp, err = client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/permissions", map[string]string{
				"resource_type": "document",
				"action":        g.action,
			})
			require.NoError(t, err)
			require.Equal(t, http.StatusCreated, resp.StatusCode)
			var perm struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			decode(t, resp, &perm)
			assert.Equal(t, "document."+g.action, perm.Name)

			resp, err = client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/roles/"+g.roleID+"/permissions", map[string]string{
				"permission_id": perm.ID,
			})
			require.NoError(t, err)
			require.Equal(t, http.StatusCreated, resp.StatusCode)
			resp.Body.Close()
		}

		// Assign only the editor role; read access must arrive via the hierarchy.
		resp, err = client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/assignments", map[string]string{
			"principal_id": e2ePrincipalID,
			"role_id":      e2eEditorID,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		t.Logf("Provisioned principal %s with editor role", e2ePrincipalID)
	})

	// 3. Decision endpoint: grants, inheritance, denials, validation
	t.Run("Authorization Decision Flow", func(t *testing.T) {
		require.NotEmpty(t, e2eTenantID)

		authorize := func(action, resourceID string, resourceAttrs, principalAttrs map[string]any) (int, map[string]any) {
			body := map[string]any{
				"tenantId":    e2eTenantID,
				"principalId": e2ePrincipalID,
				"action":      action,
				"resource": map[string]any{
					"type":       "document",
					"id":         resourceID,
					"attributes": resourceAttrs,
				},
			}
			if principalAttrs != nil {
				body["principal"] = map[string]any{"attributes": principalAttrs}
			}
			resp, err := client.Do("POST", apiBase+"/authorize", body)
			require.NoError(t, err)
			var decision map[string]any
			decode(t, resp, &decision)
			return resp.StatusCode, decision
		}

		code, decision := authorize("write", "doc-1", nil, nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, decision["allowed"], "direct grant must allow")

		code, decision = authorize("read", "doc-1", nil, nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, decision["allowed"], "inherited grant must allow")

		code, decision = authorize("delete", "doc-1", nil, nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, decision["allowed"], "ungranted action must be denied")
		assert.NotEmpty(t, decision["reason"])

		// Malformed request
		resp, err := client.Do("POST", apiBase+"/authorize", map[string]any{
			"tenantId": e2eTenantID,
			"action":   "read",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()

		t.Logf("Decision endpoint verified for grants, inheritance, and denial")
	})

	// 4. Policy override: an active deny policy wins over the role grant
	t.Run("Policy Override Flow", func(t *testing.T) {
		require.NotEmpty(t, e2eTenantID)

		resp, err := client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/policies", map[string]any{
			"name":     "confidential-documents",
			"version":  1,
			"priority": 100,
			"status":   "active",
			"rules": []map[string]any{{
				"id":          "deny-confidential",
				"description": "Confidential documents require high clearance",
				"effect":      "deny",
				"priority":    10,
				"condition": map[string]any{
					"operator": "and",
					"operands": []map[string]any{
						{"attribute": "resource.confidential", "operator": "=", "value": true},
						{"attribute": "principal.clearance", "operator": "!=", "value": "high"},
					},
				},
			}},
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		// Policy changes invalidate cached decisions through the event bus,
		// which is asynchronous.
		time.Sleep(time.Second)

		body := map[string]any{
			"tenantId":    e2eTenantID,
			"principalId": e2ePrincipalID,
			"action":      "read",
			"resource": map[string]any{
				"type":       "document",
				"id":         "doc-secret",
				"attributes": map[string]any{"confidential": true},
			},
		}
		resp, err = client.Do("POST", apiBase+"/authorize", body)
		require.NoError(t, err)
		var denied map[string]any
		decode(t, resp, &denied)
		assert.Equal(t, false, denied["allowed"], "deny policy must override the role grant")
		assert.Equal(t, "deny-confidential", denied["policy_evaluated"])

		body["principal"] = map[string]any{"attributes": map[string]any{"clearance": "high"}}
		resp, err = client.Do("POST", apiBase+"/authorize", body)
		require.NoError(t, err)
		var allowed map[string]any
		decode(t, resp, &allowed)
		assert.Equal(t, true, allowed["allowed"], "high clearance must satisfy the policy")

		t.Logf("Deny policy override verified")
	})

	// 5. Separation of duties: conflicting assignment rejected with 409
	t.Run("Separation of Duties Flow", func(t *testing.T) {
		require.NotEmpty(t, e2eTenantID)

		makeRole := func(name string) string {
			resp, err := client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/roles", map[string]string{
				"name": name,
			})
			require.NoError(t, err)
			require.Equal(t, http.StatusCreated, resp.StatusCode)
			var role struct {
				ID string `json:"id"`
			}
			decode(t, resp, &role)
			return role.ID
		}
		submitterID := makeRole("submitter")
		approverID := makeRole("approver")

		resp, err := client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/constraints", map[string]any{
			"name":             "payment-sod",
			"kind":             "static_sod",
			"role_set":         []string{submitterID, approverID},
			"violation_action": "deny",
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp, err = client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/assignments", map[string]string{
			"principal_id": e2ePrincipalID,
			"role_id":      submitterID,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp, err = client.Do("POST", apiBase+"/tenants/"+e2eTenantID+"/assignments", map[string]string{
			"principal_id": e2ePrincipalID,
			"role_id":      approverID,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode,
			"conflicting assignment must be rejected")
		resp.Body.Close()

		t.Logf("Separation-of-duties constraint enforced over the API")
	})

	// 6. Audit trail: decisions recorded, chain verifies
	t.Run("Audit Trail Flow", func(t *testing.T) {
		require.NotEmpty(t, e2eTenantID)

		// The audit writer is write-behind; give it a flush cycle.
		time.Sleep(2 * time.Second)

		resp, err := client.Do("GET", apiBase+"/audit?tenantId="+e2eTenantID, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var entries []map[string]any
		decode(t, resp, &entries)
		require.NotEmpty(t, entries, "evaluated decisions must be recorded")
		for _, e := range entries {
			assert.Equal(t, e2eTenantID, e["tenant_id"])
			assert.NotEmpty(t, e["request_hash"])
			assert.NotEmpty(t, e["previous_hash"])
		}

		resp, err = client.Do("GET", apiBase+"/audit/verify?tenantId="+e2eTenantID, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var report struct {
			Valid   bool   `json:"valid"`
			Entries int    `json:"entries"`
			Head    string `json:"head"`
		}
		decode(t, resp, &report)
		assert.True(t, report.Valid, "stored audit chain must verify")
		assert.Equal(t, len(entries), report.Entries)
		assert.NotEmpty(t, report.Head)

		t.Logf("Audit chain verified: %d entries, head %s", report.Entries, report.Head)
	})
}
