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
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/go-chi/chi/v5"
)

// RoleResponse is the wire form of a role
type RoleResponse struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ParentRoleID *string   `json:"parent_role_id,omitempty"`
	Level        int       `json:"level"`
	Status       string    `json:"status"`
	IsSystem     bool      `json:"is_system"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toRoleResponse(role *rbac.Role) *RoleResponse {
	return &RoleResponse{
		ID:           role.ID,
		TenantID:     role.TenantID,
		Name:         role.Name,
		Description:  role.Description,
		ParentRoleID: role.ParentRoleID,
		Level:        role.Level,
		Status:       string(role.Status),
		IsSystem:     role.IsSystem,
		CreatedAt:    role.CreatedAt,
		UpdatedAt:    role.UpdatedAt,
	}
}

// PermissionResponse is the wire form of a permission
type PermissionResponse struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	ResourceType string    `json:"resource_type"`
	Action       string    `json:"action"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toPermissionResponse(p *rbac.Permission) *PermissionResponse {
	return &PermissionResponse{
		ID:           p.ID,
		TenantID:     p.TenantID,
		Name:         p.Name,
		ResourceType: p.ResourceType,
		Action:       p.Action,
		Description:  p.Description,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// AssignmentResponse is the wire form of a role assignment
type AssignmentResponse struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	PrincipalID string     `json:"principal_id"`
	RoleID      string     `json:"role_id"`
	GrantedBy   string     `json:"granted_by,omitempty"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

func toAssignmentResponse(a *rbac.Assignment) *AssignmentResponse {
	return &AssignmentResponse{
		ID:          a.ID,
		TenantID:    a.TenantID,
		PrincipalID: a.PrincipalID,
		RoleID:      a.RoleID,
		GrantedBy:   a.GrantedBy,
		GrantedAt:   a.GrantedAt,
		ExpiresAt:   a.ExpiresAt,
		IsActive:    a.IsActive,
	}
}

// ViolationResponse reports one tripped separation-of-duties constraint
type ViolationResponse struct {
	Constraint       string   `json:"constraint"`
	ConflictingRoles []string `json:"conflicting_roles"`
}

func toViolationResponses(violations []*rbac.Violation) []ViolationResponse {
	if len(violations) == 0 {
		return nil
	}
	out := make([]ViolationResponse, 0, len(violations))
	for _, v := range violations {
		out = append(out, ViolationResponse{
			Constraint:       v.Constraint.Name,
			ConflictingRoles: v.ConflictingRoles,
		})
	}
	return out
}

// CreateRoleRequest represents role creation data
type CreateRoleRequest struct {
	Name         string  `json:"name" binding:"required" example:"auditor"`
	Description  string  `json:"description" example:"Read-only audit access"`
	ParentRoleID *string `json:"parent_role_id,omitempty"`
}

// CreateRole creates a role in a tenant's hierarchy
// @Summary Create Role
// @Description Create a role, optionally under a parent role
// @Tags RBAC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body CreateRoleRequest true "Role Data"
// @Success 201 {object} RoleResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants/{tenantID}/roles [post]
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req CreateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := h.rbacService.CreateRole(r.Context(), tenantID, req.Name, req.Description, req.ParentRoleID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toRoleResponse(role))
}

// ReparentRoleRequest selects the new parent; null moves the role to the root
type ReparentRoleRequest struct {
	ParentRoleID *string `json:"parent_role_id"`
}

// ReparentRole moves a role in the hierarchy
// @Summary Reparent Role
// @Description Move a role under a new parent and rebuild subtree levels
// @Tags RBAC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param roleID path string true "Role ID"
// @Param request body ReparentRoleRequest true "New Parent"
// @Success 200 {object} RoleResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/roles/{roleID}/parent [patch]
func (h *Handler) ReparentRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req ReparentRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := h.rbacService.ReparentRole(r.Context(), tenantID, roleID, req.ParentRoleID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toRoleResponse(role))
}

// DeleteRole removes a role; children are adopted by the grandparent
// @Summary Delete Role
// @Description Delete a role and rebuild the levels of its former children
// @Tags RBAC
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param roleID path string true "Role ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/roles/{roleID} [delete]
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	if err := h.rbacService.DeleteRole(r.Context(), tenantID, roleID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreatePermissionRequest represents permission creation data
type CreatePermissionRequest struct {
	ResourceType string `json:"resource_type" binding:"required" example:"document"`
	Action       string `json:"action" binding:"required" example:"read"`
	Description  string `json:"description" example:"Read documents"`
}

// CreatePermission creates a permission named resource_type.action
// @Summary Create Permission
// @Description Create a permission within a tenant
// @Tags RBAC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body CreatePermissionRequest true "Permission Data"
// @Success 201 {object} PermissionResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants/{tenantID}/permissions [post]
func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req CreatePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.rbacService.CreatePermission(r.Context(), tenantID, req.ResourceType, req.Action, req.Description)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toPermissionResponse(p))
}

// GrantPermissionRequest names the permission to attach to a role
type GrantPermissionRequest struct {
	PermissionID string `json:"permission_id" binding:"required"`
}

// GrantPermission attaches a permission to a role
// @Summary Grant Permission
// @Description Attach a permission to a role
// @Tags RBAC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param roleID path string true "Role ID"
// @Param request body GrantPermissionRequest true "Permission"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/roles/{roleID}/permissions [post]
func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req GrantPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.rbacService.GrantPermission(r.Context(), tenantID, roleID, req.PermissionID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// RevokePermission detaches a permission from a role
// @Summary Revoke Permission
// @Description Detach a permission from a role
// @Tags RBAC
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param roleID path string true "Role ID"
// @Param permissionID path string true "Permission ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/roles/{roleID}/permissions/{permissionID} [delete]
func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")
	permissionID := chi.URLParam(r, "permissionID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	if err := h.rbacService.RevokePermission(r.Context(), tenantID, roleID, permissionID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// AssignRoleRequest represents role assignment data
type AssignRoleRequest struct {
	PrincipalID string     `json:"principal_id" binding:"required"`
	RoleID      string     `json:"role_id" binding:"required"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// AssignRoleResponse reports the created assignment and any
// separation-of-duties alerts that fired without blocking it
type AssignRoleResponse struct {
	Assignment *AssignmentResponse `json:"assignment,omitempty"`
	Violations []ViolationResponse `json:"violations,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// AssignRole grants a role to a principal
// @Summary Assign Role
// @Description Grant a role to a principal, subject to separation-of-duties constraints
// @Tags RBAC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body AssignRoleRequest true "Assignment Data"
// @Success 201 {object} AssignRoleResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} AssignRoleResponse
// @Router /tenants/{tenantID}/assignments [post]
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req AssignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	grantedBy := GetCallerID(r.Context())
	assignment, violations, err := h.rbacService.AssignRole(r.Context(), tenantID, req.PrincipalID, req.RoleID, grantedBy, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, rbac.ErrConstraintViolation) {
			respondJSON(w, http.StatusConflict, AssignRoleResponse{Error: err.Error()})
			return
		}
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, AssignRoleResponse{
		Assignment: toAssignmentResponse(assignment),
		Violations: toViolationResponses(violations),
	})
}

// RevokeRoleRequest identifies the assignment to deactivate
type RevokeRoleRequest struct {
	PrincipalID string `json:"principal_id" binding:"required"`
	RoleID      string `json:"role_id" binding:"required"`
}

// RevokeRole deactivates a principal's role assignment
// @Summary Revoke Role
// @Description Deactivate a principal's role assignment
// @Tags RBAC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body RevokeRoleRequest true "Assignment"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/assignments [delete]
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req RevokeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.rbacService.RevokeRole(r.Context(), tenantID, req.PrincipalID, req.RoleID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// CreateConstraintRequest represents separation-of-duties constraint data
type CreateConstraintRequest struct {
	Name            string   `json:"name" binding:"required" example:"payments-sod"`
	Kind            string   `json:"kind" example:"static_sod"`
	RoleSet         []string `json:"role_set" binding:"required"`
	ViolationAction string   `json:"violation_action" example:"deny"`
}

// ConstraintResponse is the wire form of a role constraint
type ConstraintResponse struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Name            string    `json:"name"`
	Kind            string    `json:"kind"`
	RoleSet         []string  `json:"role_set"`
	ViolationAction string    `json:"violation_action"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateConstraint declares a separation-of-duties constraint
// @Summary Create Constraint
// @Description Declare a set of mutually exclusive roles
// @Tags RBAC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body CreateConstraintRequest true "Constraint Data"
// @Success 201 {object} ConstraintResponse
// @Failure 400 {object} map[string]string
// @Router /tenants/{tenantID}/constraints [post]
func (h *Handler) CreateConstraint(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req CreateConstraintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = string(rbac.ConstraintStaticSoD)
	}
	if req.ViolationAction == "" {
		req.ViolationAction = string(rbac.ViolationDeny)
	}

	c, err := h.rbacService.CreateConstraint(r.Context(), tenantID, req.Name,
		rbac.ConstraintKind(req.Kind), req.RoleSet, rbac.ViolationAction(req.ViolationAction))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, &ConstraintResponse{
		ID:              c.ID,
		TenantID:        c.TenantID,
		Name:            c.Name,
		Kind:            string(c.Kind),
		RoleSet:         c.RoleSet,
		ViolationAction: string(c.ViolationAction),
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	})
}
