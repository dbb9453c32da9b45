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
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/authzengine/authzengine/internal/observability/logger"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Edge Authentication Principles:
// 1. Callers are service principals, never end users (no sessions, no login)
// 2. Credentials bind to exactly one tenant; the system tenant administers all
// 3. An unset AUTH_JWT_SECRET disables edge auth entirely (development mode)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Log request start
			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware authenticates the calling service and adds its principal
// and tenant to the request context. Two credential forms are accepted:
//
//   - Authorization: Bearer <jwt>, an HS256 token with sub (principal id)
//     and tid (tenant id) claims, signed with the shared AUTH_JWT_SECRET.
//   - X-Service-Key with X-Tenant-ID and X-Principal-ID, verified against
//     the principal's stored argon2id key hash.
//
// Missing credentials produce 401; credentials that fail verification
// produce 403. When no JWT secret is configured, requests pass through
// unauthenticated and tenant scoping is not enforced.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-Service-Key"); key != "" {
			tenantID := r.Header.Get("X-Tenant-ID")
			principalID := r.Header.Get("X-Principal-ID")
			if tenantID == "" || principalID == "" {
				respondError(w, http.StatusUnauthorized, "X-Tenant-ID and X-Principal-ID headers are required with X-Service-Key")
				return
			}

			p, err := h.principalService.VerifyServiceKey(r.Context(), tenantID, principalID, key)
			if err != nil {
				h.security.TokenRejected(r.Context(), getIPAddress(r), "service key verification failed")
				respondError(w, http.StatusForbidden, "invalid service credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), p.ID, p.TenantID)))
			return
		}

		if h.jwtSecret == "" {
			// Edge auth disabled: no caller identity, no tenant scoping.
			next.ServeHTTP(w, r)
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "missing credentials")
			return
		}

		principalID, tenantID, err := h.verifyServiceToken(raw)
		if err != nil {
			h.security.TokenRejected(r.Context(), getIPAddress(r), err.Error())
			respondError(w, http.StatusForbidden, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), principalID, tenantID)))
	})
}

func withCaller(ctx context.Context, principalID, tenantID string) context.Context {
	ctx = context.WithValue(ctx, callerIDKey, principalID)
	return context.WithValue(ctx, callerTenantKey, tenantID)
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// verifyServiceToken validates an HS256 service token and returns its
// principal and tenant claims.
func (h *Handler) verifyServiceToken(raw string) (principalID, tenantID string, err error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(h.jwtSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", "", fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("unexpected claims type")
	}

	principalID, err = claims.GetSubject()
	if err != nil || principalID == "" {
		return "", "", fmt.Errorf("token has no subject claim")
	}
	tenantID, _ = claims["tid"].(string)
	if tenantID == "" {
		return "", "", fmt.Errorf("token has no tid claim")
	}

	return principalID, tenantID, nil
}

// requireTenantScope rejects callers whose credentials are bound to a tenant
// other than the one the request operates on. System-tenant credentials may
// act on any tenant. Returns true when the request may proceed.
func (h *Handler) requireTenantScope(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	caller := GetCallerTenant(r.Context())
	if caller == "" || caller == rbac.SystemTenantID || caller == tenantID {
		return true
	}

	slog.WarnContext(r.Context(), "cross_tenant_request_rejected",
		logger.TenantID(tenantID),
		slog.String("caller_tenant_id", caller),
	)
	respondError(w, http.StatusForbidden, "credentials are scoped to a different tenant")
	return false
}
