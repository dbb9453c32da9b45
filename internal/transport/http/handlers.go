// @title AuthzEngine API
// @version 1.0.0
// @description Multi-tenant authorization decision service
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/authzengine/authzengine/internal/attrs"
	"github.com/authzengine/authzengine/internal/audit"
	"github.com/authzengine/authzengine/internal/cache"
	"github.com/authzengine/authzengine/internal/engine"
	"github.com/authzengine/authzengine/internal/observability/logger"
	"github.com/authzengine/authzengine/internal/policy"
	"github.com/authzengine/authzengine/internal/principal"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/authzengine/authzengine/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	engine           *engine.Engine
	tenantService    *tenant.Service
	principalService *principal.Service
	rbacService      *rbac.Service
	policyService    *policy.Service
	auditService     *audit.Service
	security         *logger.SecurityLogger
	probes           HealthProbes
	jwtSecret        string
}

// HealthProbes aggregates the backend checks surfaced by the health
// endpoint. Nil probes are skipped.
type HealthProbes struct {
	DB            func(ctx context.Context) error
	CacheBreaker  func() cache.BreakerState
	AuditDegraded func() bool
}

// NewHandler creates a new HTTP handler
func NewHandler(
	eng *engine.Engine,
	tenantService *tenant.Service,
	principalService *principal.Service,
	rbacService *rbac.Service,
	policyService *policy.Service,
	auditService *audit.Service,
	security *logger.SecurityLogger,
	probes HealthProbes,
	jwtSecret string,
) *Handler {
	return &Handler{
		engine:           eng,
		tenantService:    tenantService,
		principalService: principalService,
		rbacService:      rbacService,
		policyService:    policyService,
		auditService:     auditService,
		security:         security,
		probes:           probes,
		jwtSecret:        jwtSecret,
	}
}

// NewRouter creates a new HTTP router. requestTimeout bounds every request
// context; evaluations that outlive it are canceled rather than left hanging
// on a slow backend.
func NewRouter(h *Handler, rateLimiter *RateLimiter, requestTimeout time.Duration) *chi.Mux {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// Health check
	r.Get("/health", h.HealthCheck)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		// Decision endpoint
		r.Post("/authorize", h.Authorize)

		// Audit log (read-only)
		r.Get("/audit", h.QueryAudit)
		r.Get("/audit/verify", h.VerifyAuditChain)

		// Administration (thin surface over the mutation services)
		r.Post("/tenants", h.CreateTenant)
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/", h.GetTenant)
			r.Patch("/status", h.SetTenantStatus)

			r.Post("/principals", h.CreatePrincipal)
			r.Put("/principals/{principalID}/service-key", h.SetServiceKey)

			r.Post("/roles", h.CreateRole)
			r.Patch("/roles/{roleID}/parent", h.ReparentRole)
			r.Delete("/roles/{roleID}", h.DeleteRole)
			r.Post("/roles/{roleID}/permissions", h.GrantPermission)
			r.Delete("/roles/{roleID}/permissions/{permissionID}", h.RevokePermission)

			r.Post("/permissions", h.CreatePermission)

			r.Post("/assignments", h.AssignRole)
			r.Delete("/assignments", h.RevokeRole)

			r.Post("/constraints", h.CreateConstraint)

			r.Post("/policies", h.CreatePolicy)
			r.Patch("/policies/{policyID}/status", h.SetPolicyStatus)
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Reports service health; degraded when a backend is impaired
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if h.probes.DB != nil {
		if err := h.probes.DB(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if status == "healthy" && h.probes.CacheBreaker != nil && h.probes.CacheBreaker() == cache.BreakerOpen {
		status = "degraded"
	}
	if status == "healthy" && h.probes.AuditDegraded != nil && h.probes.AuditDegraded() {
		status = "degraded"
	}

	respondJSON(w, code, map[string]string{
		"status":    status,
		"service":   "authz-engine",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// AuthorizeResource identifies the resource an action targets
type AuthorizeResource struct {
	Type       string    `json:"type" binding:"required" example:"document"`
	ID         string    `json:"id" binding:"required" example:"doc-1"`
	Attributes attrs.Map `json:"attributes,omitempty"`
}

// AuthorizePrincipal carries caller-supplied principal attributes
type AuthorizePrincipal struct {
	Attributes attrs.Map `json:"attributes,omitempty"`
}

// AuthorizeRequest represents one authorization question
type AuthorizeRequest struct {
	TenantID    string              `json:"tenantId" binding:"required" example:"tenant-1"`
	PrincipalID string              `json:"principalId" binding:"required" example:"principal-1"`
	Action      string              `json:"action" binding:"required" example:"read"`
	Resource    AuthorizeResource   `json:"resource" binding:"required"`
	Principal   *AuthorizePrincipal `json:"principal,omitempty"`
	Context     attrs.Map           `json:"context,omitempty"`
}

// Authorize answers an authorization question
// @Summary Authorize
// @Description Evaluate whether a principal may perform an action on a resource
// @Tags Authorization
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AuthorizeRequest true "Authorization Question"
// @Success 200 {object} engine.Decision
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 429 {object} map[string]string
// @Router /authorize [post]
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	evalReq := &engine.Request{
		TenantID:    req.TenantID,
		PrincipalID: req.PrincipalID,
		Action:      req.Action,
		Resource: engine.Resource{
			Type:       req.Resource.Type,
			ID:         req.Resource.ID,
			Attributes: req.Resource.Attributes,
		},
		Context: req.Context,
	}
	if req.Principal != nil {
		evalReq.PrincipalAttributes = req.Principal.Attributes
	}

	if missing := evalReq.MissingFields(); len(missing) > 0 {
		respondError(w, http.StatusBadRequest, "Invalid request: missing "+strings.Join(missing, ", "))
		return
	}

	if !h.requireTenantScope(w, r, req.TenantID) {
		return
	}

	decision, err := h.engine.Evaluate(r.Context(), evalReq)
	if err != nil {
		// Evaluate fails only when the request context ends first.
		respondError(w, http.StatusServiceUnavailable, "evaluation canceled")
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
