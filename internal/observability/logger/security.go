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

package logger

import (
	"context"
	"log/slog"
)

// SecurityEvent represents a security-relevant occurrence worth a structured
// log line, independent of the persisted audit chain.
type SecurityEvent struct {
	EventType   string
	TenantID    string
	PrincipalID string
	Action      string
	Resource    string
	Result      string // success, failure, denied
	Reason      string
	Metadata    map[string]any
}

// SecurityLogger provides methods for logging security events
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With(Component("security")),
	}
}

// Log logs a security event
func (s *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("action", event.Action),
		slog.String("result", event.Result),
	}

	if event.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", event.TenantID))
	}
	if event.PrincipalID != "" {
		attrs = append(attrs, slog.String("principal_id", event.PrincipalID))
	}
	if event.Resource != "" {
		attrs = append(attrs, slog.String("resource", event.Resource))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "security_event", attrs...)
}

// Decision events
func (s *SecurityLogger) DecisionAllowed(ctx context.Context, tenantID, principalID, action, resource string) {
	s.Log(ctx, SecurityEvent{
		EventType:   "authorization",
		TenantID:    tenantID,
		PrincipalID: principalID,
		Action:      action,
		Resource:    resource,
		Result:      "success",
	})
}

func (s *SecurityLogger) DecisionDenied(ctx context.Context, tenantID, principalID, action, resource, reason string) {
	s.Log(ctx, SecurityEvent{
		EventType:   "authorization",
		TenantID:    tenantID,
		PrincipalID: principalID,
		Action:      action,
		Resource:    resource,
		Result:      "denied",
		Reason:      reason,
	})
}

// Mutation events
func (s *SecurityLogger) AssignmentRejected(ctx context.Context, tenantID, principalID, roleID, constraint string) {
	s.Log(ctx, SecurityEvent{
		EventType:   "role_assignment",
		TenantID:    tenantID,
		PrincipalID: principalID,
		Action:      "assign_role",
		Result:      "denied",
		Reason:      "separation of duties violation",
		Metadata:    map[string]any{"role_id": roleID, "constraint": constraint},
	})
}

func (s *SecurityLogger) RoleAssigned(ctx context.Context, tenantID, principalID, roleID, grantedBy string) {
	s.Log(ctx, SecurityEvent{
		EventType:   "role_assignment",
		TenantID:    tenantID,
		PrincipalID: principalID,
		Action:      "assign_role",
		Result:      "success",
		Metadata:    map[string]any{"role_id": roleID, "granted_by": grantedBy},
	})
}

// Integrity events
func (s *SecurityLogger) ChainVerificationFailed(ctx context.Context, tenantID string, entryIndex int, entryID string) {
	s.Log(ctx, SecurityEvent{
		EventType: "audit_integrity",
		TenantID:  tenantID,
		Action:    "verify_chain",
		Result:    "failure",
		Reason:    "hash mismatch",
		Metadata:  map[string]any{"entry_index": entryIndex, "entry_id": entryID},
	})
}

// Edge authentication events
func (s *SecurityLogger) TokenRejected(ctx context.Context, remoteAddr, reason string) {
	s.Log(ctx, SecurityEvent{
		EventType: "service_auth",
		Action:    "verify_token",
		Result:    "failure",
		Reason:    reason,
		Metadata:  map[string]any{"remote_addr": remoteAddr},
	})
}
