package audit

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrTenantRequired = errors.New("tenant id is required")
)

// Decision is the recorded outcome of an authorization request.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// Entry is one immutable audit record. Entries form a per-tenant hash
// chain: PreviousHash is the chain head observed at write time, and the
// head advances to this entry's derived hash.
type Entry struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	PrincipalID     string         `json:"principal_id"`
	Action          string         `json:"action"`
	ResourceType    string         `json:"resource_type"`
	ResourceID      string         `json:"resource_id"`
	Decision        Decision       `json:"decision"`
	Reason          string         `json:"reason"`
	PolicyEvaluated *string        `json:"policy_evaluated,omitempty"`
	RequestHash     string         `json:"request_hash"`
	PreviousHash    string         `json:"previous_hash"`
	Timestamp       time.Time      `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// QueryFilter narrows an audit query. TenantID is mandatory; zero-valued
// fields match everything.
type QueryFilter struct {
	TenantID     string
	PrincipalID  string
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
	Descending   bool
}

// Repository defines the interface for audit entry persistence.
type Repository interface {
	// Append links entry into its tenant's hash chain and persists it.
	// The implementation sets PreviousHash from the current chain head
	// and must serialize appends per tenant so the chain stays
	// well-defined.
	Append(ctx context.Context, entry *Entry) error

	// Query returns entries matching the filter, ordered by timestamp
	// ascending unless the filter requests descending.
	Query(ctx context.Context, filter QueryFilter) ([]*Entry, error)

	// ListChain returns every entry of the tenant in chain order.
	ListChain(ctx context.Context, tenantID string) ([]*Entry, error)
}
