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
	"net/http"
	"time"

	"github.com/authzengine/authzengine/internal/policy"
	"github.com/go-chi/chi/v5"
)

// PolicyResponse is the wire form of a policy
type PolicyResponse struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Name      string         `json:"name"`
	Version   int            `json:"version"`
	Priority  int            `json:"priority"`
	Status    string         `json:"status"`
	Rules     []*policy.Rule `json:"rules"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toPolicyResponse(p *policy.Policy) *PolicyResponse {
	return &PolicyResponse{
		ID:        p.ID,
		TenantID:  p.TenantID,
		Name:      p.Name,
		Version:   p.Version,
		Priority:  p.Priority,
		Status:    string(p.Status),
		Rules:     p.Rules,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// CreatePolicyRequest represents policy creation data. Rules arrive in
// their wire form and are validated before storage.
type CreatePolicyRequest struct {
	Name     string         `json:"name" binding:"required" example:"document-access"`
	Version  int            `json:"version" example:"1"`
	Priority int            `json:"priority" example:"100"`
	Status   string         `json:"status" example:"active"`
	Rules    []*policy.Rule `json:"rules"`
}

// CreatePolicy stores a validated policy
// @Summary Create Policy
// @Description Create a policy with an ordered rule list
// @Tags Policy
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body CreatePolicyRequest true "Policy Data"
// @Success 201 {object} PolicyResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants/{tenantID}/policies [post]
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Version == 0 {
		req.Version = 1
	}
	if req.Status == "" {
		req.Status = string(policy.StatusDraft)
	}

	p, err := h.policyService.CreatePolicy(r.Context(), tenantID, req.Name, req.Version, req.Priority,
		policy.Status(req.Status), req.Rules)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toPolicyResponse(p))
}

// SetPolicyStatusRequest represents a policy status change
type SetPolicyStatusRequest struct {
	Status string `json:"status" binding:"required" example:"active"`
}

// SetPolicyStatus toggles a policy between active, inactive, and draft
// @Summary Set Policy Status
// @Description Activate, deactivate, or draft a policy
// @Tags Policy
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param policyID path string true "Policy ID"
// @Param request body SetPolicyStatusRequest true "Status"
// @Success 200 {object} PolicyResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/policies/{policyID}/status [patch]
func (h *Handler) SetPolicyStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	policyID := chi.URLParam(r, "policyID")
	if !h.requireTenantScope(w, r, tenantID) {
		return
	}

	var req SetPolicyStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.policyService.SetStatus(r.Context(), tenantID, policyID, policy.Status(req.Status))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toPolicyResponse(p))
}
