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

package principal

import (
	"context"
	"errors"
	"time"

	"github.com/authzengine/authzengine/internal/attrs"
)

// Domain errors
var (
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrEmailTaken        = errors.New("principal email already exists in tenant")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidKind       = errors.New("invalid principal kind")
	ErrInvalidServiceKey = errors.New("invalid service key")
	ErrNoServiceKey      = errors.New("principal has no service key")
)

// Principal kinds
const (
	KindUser           = "user"
	KindServiceAccount = "service_account"
)

// Status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Principal is the acting entity whose permissions are checked. TenantID is
// always required; there is no tenant-less platform principal.
type Principal struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Attributes  attrs.Map `json:"attributes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Active reports whether the principal may act.
func (p *Principal) Active() bool {
	return p.Status == StatusActive
}

// ServiceKey holds the hashed credential of a service account used to call
// the decision endpoint.
type ServiceKey struct {
	PrincipalID string
	KeyHash     string
	UpdatedAt   time.Time
}

// Repository defines the interface for principal persistence
type Repository interface {
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, tenantID, id string) (*Principal, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*Principal, error)
	Update(ctx context.Context, p *Principal) error
	List(ctx context.Context, tenantID string, limit, offset int) ([]*Principal, error)

	SetServiceKey(ctx context.Context, key *ServiceKey) error
	GetServiceKey(ctx context.Context, principalID string) (*ServiceKey, error)
}
