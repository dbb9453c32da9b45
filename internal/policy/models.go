package policy

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrPolicyExists    = errors.New("policy name and version already exist")
	ErrPolicyMalformed = errors.New("policy failed validation")
)

// Status soft-controls whether a policy participates in evaluation. Draft
// policies are stored but never evaluated.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDraft    Status = "draft"
)

// ValidStatus reports whether s is a defined policy status.
func ValidStatus(s Status) bool {
	return s == StatusActive || s == StatusInactive || s == StatusDraft
}

// Effect is the decision a matched rule produces.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule pairs a condition with an effect. Rules within a policy evaluate in
// priority order, higher first; the first satisfied condition decides.
type Rule struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	Condition   *Condition `json:"condition"`
	Effect      Effect     `json:"effect"`
	Priority    int        `json:"priority"`
}

// Policy is an ordered rule set owned by a tenant. Policies evaluate in
// priority order across the tenant, higher first. Name plus version is
// unique per tenant.
type Policy struct {
	ID        string
	TenantID  string
	Name      string
	Version   int
	Priority  int
	Status    Status
	Rules     []*Rule
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the policy participates in evaluation.
func (p *Policy) Active() bool {
	return p.Status == StatusActive
}

// Repository defines the interface for policy persistence
type Repository interface {
	// Create creates a new policy with its rules
	Create(ctx context.Context, policy *Policy) error

	// GetByID retrieves a policy by ID within a tenant
	GetByID(ctx context.Context, tenantID, id string) (*Policy, error)

	// GetByNameVersion retrieves a specific version of a named policy
	GetByNameVersion(ctx context.Context, tenantID, name string, version int) (*Policy, error)

	// Update replaces a policy's metadata and rules
	Update(ctx context.Context, policy *Policy) error

	// Delete removes a policy and its rules
	Delete(ctx context.Context, tenantID, id string) error

	// ListByTenant retrieves every policy of a tenant regardless of status
	ListByTenant(ctx context.Context, tenantID string) ([]*Policy, error)

	// ListActive retrieves the active policies of a tenant
	ListActive(ctx context.Context, tenantID string) ([]*Policy, error)
}
