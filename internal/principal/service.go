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
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/authzengine/authzengine/internal/attrs"
	"github.com/authzengine/authzengine/internal/id"
	"golang.org/x/crypto/argon2"
)

// KeyHasher hashes service keys using Argon2id
type KeyHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewKeyHasher creates a new service key hasher with Argon2id
func NewKeyHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *KeyHasher {
	return &KeyHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash hashes a service key using Argon2id
func (h *KeyHasher) Hash(key string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(key),
		salt,
		h.iterations,
		h.memory,
		h.parallelism,
		h.keyLength,
	)

	// Encoded as: $argon2id$v=19$m=memory,t=iterations,p=parallelism$salt$hash
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify verifies a service key against an encoded hash
func (h *KeyHasher) Verify(key, encodedHash string) (bool, error) {
	// Format: $argon2id$v=19$m=65536,t=3,p=4$salt$hash
	sections := strings.Split(strings.TrimPrefix(encodedHash, "$"), "$")
	if len(sections) != 5 || sections[0] != "argon2id" {
		return false, fmt.Errorf("invalid hash format: got %d sections", len(sections))
	}

	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	actualHash := argon2.IDKey(
		[]byte(key),
		salt,
		iterations,
		memory,
		parallelism,
		uint32(len(expectedHash)),
	)

	// Constant-time comparison
	if len(actualHash) != len(expectedHash) {
		return false, nil
	}
	var diff byte
	for i := range actualHash {
		diff |= actualHash[i] ^ expectedHash[i]
	}
	return diff == 0, nil
}

// Service provides principal management business logic
type Service struct {
	repo   Repository
	hasher *KeyHasher
}

// NewService creates a new principal service
func NewService(repo Repository, hasher *KeyHasher) *Service {
	return &Service{
		repo:   repo,
		hasher: hasher,
	}
}

// CreatePrincipal provisions a principal within a tenant
func (s *Service) CreatePrincipal(ctx context.Context, tenantID, email, displayName, kind string, attributes attrs.Map) (*Principal, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if kind != KindUser && kind != KindServiceAccount {
		return nil, ErrInvalidKind
	}

	if existing, err := s.repo.GetByEmail(ctx, tenantID, email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	}

	now := time.Now().UTC()
	p := &Principal{
		ID:          id.NewUUIDv7(),
		TenantID:    tenantID,
		Email:       email,
		DisplayName: displayName,
		Kind:        kind,
		Status:      StatusActive,
		Attributes:  attributes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}

	return p, nil
}

// GetPrincipal retrieves a principal by ID within a tenant
func (s *Service) GetPrincipal(ctx context.Context, tenantID, principalID string) (*Principal, error) {
	return s.repo.GetByID(ctx, tenantID, principalID)
}

// GetByEmail retrieves a principal by email within a tenant
func (s *Service) GetByEmail(ctx context.Context, tenantID, email string) (*Principal, error) {
	return s.repo.GetByEmail(ctx, tenantID, email)
}

// ListPrincipals lists a tenant's principals with pagination
func (s *Service) ListPrincipals(ctx context.Context, tenantID string, limit, offset int) ([]*Principal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, tenantID, limit, offset)
}

// UpdateAttributes replaces a principal's attribute map
func (s *Service) UpdateAttributes(ctx context.Context, tenantID, principalID string, attributes attrs.Map) (*Principal, error) {
	p, err := s.repo.GetByID(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}

	p.Attributes = attributes
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update principal: %w", err)
	}
	return p, nil
}

// SetStatus activates or deactivates a principal
func (s *Service) SetStatus(ctx context.Context, tenantID, principalID, status string) error {
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("invalid principal status: %q", status)
	}
	p, err := s.repo.GetByID(ctx, tenantID, principalID)
	if err != nil {
		return err
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, p)
}

// SetServiceKey stores the Argon2id hash of a service account's key. The
// raw key is provisioned by the operator; it is never persisted.
func (s *Service) SetServiceKey(ctx context.Context, tenantID, principalID, rawKey string) error {
	if len(rawKey) < 16 {
		return fmt.Errorf("service key must be at least 16 characters")
	}

	p, err := s.repo.GetByID(ctx, tenantID, principalID)
	if err != nil {
		return err
	}
	if p.Kind != KindServiceAccount {
		return fmt.Errorf("service keys are limited to service accounts: %w", ErrInvalidKind)
	}

	keyHash, err := s.hasher.Hash(rawKey)
	if err != nil {
		return fmt.Errorf("failed to hash service key: %w", err)
	}

	return s.repo.SetServiceKey(ctx, &ServiceKey{
		PrincipalID: principalID,
		KeyHash:     keyHash,
		UpdatedAt:   time.Now().UTC(),
	})
}

// VerifyServiceKey checks a presented key against the stored hash and
// returns the service account principal on success.
func (s *Service) VerifyServiceKey(ctx context.Context, tenantID, principalID, rawKey string) (*Principal, error) {
	p, err := s.repo.GetByID(ctx, tenantID, principalID)
	if err != nil {
		return nil, ErrInvalidServiceKey
	}
	if !p.Active() {
		return nil, ErrInvalidServiceKey
	}

	key, err := s.repo.GetServiceKey(ctx, principalID)
	if err != nil {
		return nil, ErrNoServiceKey
	}

	valid, err := s.hasher.Verify(rawKey, key.KeyHash)
	if err != nil || !valid {
		return nil, ErrInvalidServiceKey
	}

	return p, nil
}

func isValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && len(email) < 255
}
