package engine

import (
	"context"
	"time"

	"github.com/authzengine/authzengine/internal/attrs"
	"github.com/authzengine/authzengine/internal/audit"
	"github.com/authzengine/authzengine/internal/policy"
	"github.com/authzengine/authzengine/internal/principal"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/authzengine/authzengine/internal/tenant"
)

// Stages name the pipeline step that produced an outcome; they label
// metrics and audit metadata.
const (
	StageValidation = "validation"
	StageCache      = "cache"
	StageRBAC       = "rbac"
	StageABAC       = "abac"
	StagePolicy     = "policy"
	StageError      = "error"
)

// Fixed decision reasons.
const (
	ReasonInternalError     = "Internal authorization error"
	ReasonTenantInactive    = "Tenant is not active"
	ReasonPrincipalInactive = "Principal is not active"
)

// Resource identifies the object an action targets.
type Resource struct {
	Type       string
	ID         string
	Attributes attrs.Map
}

// Request is one authorization question. PrincipalAttributes are
// caller-supplied and merged under the principal's stored attributes, which
// win on conflict; Context carries request-scoped values for policy
// conditions.
type Request struct {
	TenantID            string
	PrincipalID         string
	Action              string
	Resource            Resource
	PrincipalAttributes attrs.Map
	Context             attrs.Map
}

// MissingFields lists absent required fields using their wire names.
func (r *Request) MissingFields() []string {
	var missing []string
	if r.TenantID == "" {
		missing = append(missing, "tenantId")
	}
	if r.PrincipalID == "" {
		missing = append(missing, "principalId")
	}
	if r.Action == "" {
		missing = append(missing, "action")
	}
	if r.Resource.Type == "" {
		missing = append(missing, "resource.type")
	}
	if r.Resource.ID == "" {
		missing = append(missing, "resource.id")
	}
	return missing
}

// Decision is the outcome of one evaluation. Its JSON form is both the
// cached value and the wire response body.
type Decision struct {
	Allowed          bool      `json:"allowed"`
	Reason           string    `json:"reason"`
	Explanation      string    `json:"explanation"`
	PolicyEvaluated  *string   `json:"policy_evaluated,omitempty"`
	FailedConditions []string  `json:"failed_conditions,omitempty"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
	CacheHit         bool      `json:"cache_hit"`
}

// evaluation pairs a computed decision with the stage that decided it.
type evaluation struct {
	decision Decision
	stage    string
	metadata map[string]any
}

// TenantStore loads tenant records for the tenant gate.
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error)
}

// PrincipalStore loads principal records for the principal gate and ABAC
// attributes.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, tenantID, principalID string) (*principal.Principal, error)
}

// ClosureResolver produces role closures and their permission grants.
type ClosureResolver interface {
	Closure(ctx context.Context, tenantID, principalID string) (*rbac.Closure, error)
	PermissionGrants(ctx context.Context, tenantID string, closure *rbac.Closure) (map[string][]*rbac.Permission, error)
}

// PolicyStore lists the active policies of a tenant.
type PolicyStore interface {
	ListActive(ctx context.Context, tenantID string) ([]*policy.Policy, error)
}

// AuditRecorder accepts decision entries for best-effort persistence.
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.Entry)
}
