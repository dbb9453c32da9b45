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
	"errors"
	"net/http"

	"github.com/authzengine/authzengine/internal/attrs"
	"github.com/authzengine/authzengine/internal/policy"
	"github.com/authzengine/authzengine/internal/principal"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/authzengine/authzengine/internal/tenant"
	"github.com/go-chi/chi/v5"
)

// statusForError maps domain sentinel errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, principal.ErrPrincipalNotFound),
		errors.Is(err, principal.ErrNoServiceKey),
		errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrPermissionNotFound),
		errors.Is(err, rbac.ErrAssignmentNotFound),
		errors.Is(err, rbac.ErrConstraintNotFound),
		errors.Is(err, policy.ErrPolicyNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenant.ErrSlugTaken),
		errors.Is(err, principal.ErrEmailTaken),
		errors.Is(err, rbac.ErrRoleAlreadyExists),
		errors.Is(err, rbac.ErrPermissionExists),
		errors.Is(err, rbac.ErrAssignmentExists),
		errors.Is(err, rbac.ErrConstraintViolation),
		errors.Is(err, policy.ErrPolicyExists):
		return http.StatusConflict
	case errors.Is(err, rbac.ErrCycleWouldBeCreated),
		errors.Is(err, rbac.ErrInvalidRoleSet),
		errors.Is(err, rbac.ErrTenantMismatch),
		errors.Is(err, principal.ErrInvalidEmail),
		errors.Is(err, principal.ErrInvalidKind),
		errors.Is(err, principal.ErrInvalidServiceKey),
		errors.Is(err, policy.ErrPolicyMalformed):
		return http.StatusBadRequest
	case errors.Is(err, rbac.ErrSystemRoleImmutable):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

// CreateTenantRequest represents tenant creation data
type CreateTenantRequest struct {
	Name string `json:"name" binding:"required" example:"My Corporation"`
	Slug string `json:"slug" binding:"required" example:"my-corp"`
}

// CreateTenant handles tenant creation
// @Summary Create Tenant
// @Description Create a new tenant
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateTenantRequest true "Tenant Data"
// @Success 201 {object} tenant.Tenant
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants [post]
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	if !h.requireSystemScope(w, r) {
		return
	}

	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tenantService.CreateTenant(r.Context(), req.Name, req.Slug)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// GetTenant returns a single tenant
// @Summary Get Tenant
// @Description Fetch a tenant by ID
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} tenant.Tenant
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID} [get]
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	t, err := h.tenantService.GetTenant(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, t)
}

// SetTenantStatusRequest represents a tenant status change
type SetTenantStatusRequest struct {
	Status string `json:"status" binding:"required" example:"suspended"`
}

// SetTenantStatus suspends, restores, or deactivates a tenant
// @Summary Set Tenant Status
// @Description Change a tenant's operational status
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body SetTenantStatusRequest true "Status"
// @Success 200 {object} tenant.Tenant
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/status [patch]
func (h *Handler) SetTenantStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireSystemScope(w, r) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")

	var req SetTenantStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tenantService.SetStatus(r.Context(), tenantID, req.Status)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, t)
}

// CreatePrincipalRequest represents principal creation data
type CreatePrincipalRequest struct {
	Email       string    `json:"email" binding:"required" example:"svc-reports@example.com"`
	DisplayName string    `json:"display_name" example:"Reporting Service"`
	Kind        string    `json:"kind" example:"service_account"`
	Attributes  attrs.Map `json:"attributes,omitempty"`
}

// CreatePrincipal provisions a principal in a tenant
// @Summary Create Principal
// @Description Create a user or service account within a tenant
// @Tags Principal
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body CreatePrincipalRequest true "Principal Data"
// @Success 201 {object} principal.Principal
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants/{tenantID}/principals [post]
func (h *Handler) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req CreatePrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = principal.KindUser
	}

	p, err := h.principalService.CreatePrincipal(r.Context(), tenantID, req.Email, req.DisplayName, req.Kind, req.Attributes)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, p)
}

// SetServiceKeyRequest carries the raw key to hash and store
type SetServiceKeyRequest struct {
	Key string `json:"key" binding:"required" example:"sk-3f9c..."`
}

// SetServiceKey stores the argon2id hash of a principal's service key
// @Summary Set Service Key
// @Description Provision or rotate a service account's API key
// @Tags Principal
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param principalID path string true "Principal ID"
// @Param request body SetServiceKeyRequest true "Key"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/principals/{principalID}/service-key [put]
func (h *Handler) SetServiceKey(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	principalID := chi.URLParam(r, "principalID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req SetServiceKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.principalService.SetServiceKey(r.Context(), tenantID, principalID, req.Key); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "key set"})
}

// requireSystemScope restricts platform-level operations to system-tenant
// credentials. Passes when edge auth is disabled.
func (h *Handler) requireSystemScope(w http.ResponseWriter, r *http.Request) bool {
	caller := GetCallerTenant(r.Context())
	if caller == "" || caller == rbac.SystemTenantID {
		return true
	}
	respondError(w, http.StatusForbidden, "operation requires system tenant credentials")
	return false
}
