package principal

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/authzengine/authzengine/internal/attrs"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Create(ctx context.Context, p *Principal) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, tenantID, id string) (*Principal, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Principal), args.Error(1)
}

func (m *mockRepo) GetByEmail(ctx context.Context, tenantID, email string) (*Principal, error) {
	args := m.Called(ctx, tenantID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Principal), args.Error(1)
}

func (m *mockRepo) Update(ctx context.Context, p *Principal) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockRepo) List(ctx context.Context, tenantID string, limit, offset int) ([]*Principal, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Principal), args.Error(1)
}

func (m *mockRepo) SetServiceKey(ctx context.Context, key *ServiceKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockRepo) GetServiceKey(ctx context.Context, principalID string) (*ServiceKey, error) {
	args := m.Called(ctx, principalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ServiceKey), args.Error(1)
}

// testHasher returns a hasher with deliberately small Argon2id parameters so
// unit tests stay fast. Production parameters come from config.
func testHasher() *KeyHasher {
	return NewKeyHasher(8192, 1, 1, 16, 32)
}

// TestPurpose: Validates that principal creation generates UUIDv7 identifiers and
// starts principals as active with the requested kind and attributes.
// Scope: Unit Test
// Expected: A new principal carries a valid UUIDv7 ID, active status, and the
// provided email, kind, and attribute map.
// Test Case ID: PRN-01
func TestPrincipal_Service_CreatePrincipal_UUIDv7(t *testing.T) {
	repo := new(mockRepo)
	service := NewService(repo, testHasher())
	ctx := context.Background()

	repo.On("GetByEmail", ctx, "t1", "alice@example.com").Return(nil, ErrPrincipalNotFound)
	repo.On("Create", ctx, mock.MatchedBy(func(p *Principal) bool {
		uid, err := uuid.Parse(p.ID)
		return err == nil && uid.Version() == 7 && p.TenantID == "t1" && p.Kind == KindUser
	})).Return(nil)

	created, err := service.CreatePrincipal(ctx, "t1", "alice@example.com", "Alice", KindUser, attrs.Map{"department": "finance"})

	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.Equal(t, StatusActive, created.Status)
	assert.True(t, created.Active())
	assert.Equal(t, "finance", created.Attributes["department"])
	repo.AssertExpectations(t)
}

// TestPurpose: Validates input checks reject malformed emails, undefined kinds, and
// a missing tenant before any storage access.
// Scope: Unit Test
// Expected: ErrInvalidEmail for malformed addresses, ErrInvalidKind for undefined
// kinds, an error for an empty tenant, and no Create call in any case.
// Test Case ID: PRN-02
func TestPrincipal_Service_CreatePrincipal_Validation(t *testing.T) {
	repo := new(mockRepo)
	service := NewService(repo, testHasher())
	ctx := context.Background()

	for _, email := range []string{"", "no-at-sign", "@leading", "trailing@", strings.Repeat("a", 250) + "@example.com"} {
		_, err := service.CreatePrincipal(ctx, "t1", email, "X", KindUser, nil)
		assert.ErrorIs(t, err, ErrInvalidEmail, "email %q should be rejected", email)
	}

	repo.On("GetByEmail", ctx, "t1", "bot@example.com").Return(nil, ErrPrincipalNotFound)
	_, err := service.CreatePrincipal(ctx, "t1", "bot@example.com", "Bot", "robot", nil)
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = service.CreatePrincipal(ctx, "", "alice@example.com", "Alice", KindUser, nil)
	assert.Error(t, err)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that an email already registered in the tenant blocks creation.
// Scope: Unit Test
// Expected: ErrEmailTaken and no Create call on the repository.
// Test Case ID: PRN-03
func TestPrincipal_Service_CreatePrincipal_DuplicateEmail(t *testing.T) {
	repo := new(mockRepo)
	service := NewService(repo, testHasher())
	ctx := context.Background()

	repo.On("GetByEmail", ctx, "t1", "alice@example.com").Return(&Principal{ID: "p1", Email: "alice@example.com"}, nil)

	_, err := service.CreatePrincipal(ctx, "t1", "alice@example.com", "Alice", KindUser, nil)

	assert.ErrorIs(t, err, ErrEmailTaken)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestPurpose: Validates the Argon2id round trip: a hashed key verifies against its
// own encoding and against nothing else.
// Scope: Unit Test
// Security: Credential storage (CWE-916)
// Expected: Hash emits the $argon2id$ encoded form with unique salts; Verify accepts
// the original key and rejects a different one.
// Test Case ID: PRN-04
func TestPrincipal_KeyHasher_RoundTrip(t *testing.T) {
	hasher := testHasher()

	encoded, err := hasher.Hash("sk-live-0123456789abcdef")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"), "encoded hash must carry the argon2id header: %s", encoded)
	assert.NotContains(t, encoded, "sk-live", "PRN-04 SECURITY: the raw key must never appear in the encoding")

	again, err := hasher.Hash("sk-live-0123456789abcdef")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salts must differ between hashes of the same key")

	ok, err := hasher.Verify("sk-live-0123456789abcdef", encoded)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("sk-live-0123456789abcdee", encoded)
	assert.NoError(t, err)
	assert.False(t, ok, "PRN-04 SECURITY: a near-miss key must not verify")
}

// TestPurpose: Validates that Verify refuses encodings it cannot parse instead of
// guessing at their meaning.
// Scope: Unit Test
// Expected: Errors for a non-argon2id scheme, a truncated encoding, and corrupt base64.
// Test Case ID: PRN-05
func TestPrincipal_KeyHasher_MalformedHash(t *testing.T) {
	hasher := testHasher()

	for _, encoded := range []string{
		"",
		"plaintext",
		"$2a$10$abcdefghijklmnopqrstuv",
		"$argon2id$v=19$m=8192,t=1,p=1$onlyfoursections",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$AAAA",
	} {
		_, err := hasher.Verify("any-key", encoded)
		assert.Error(t, err, "encoding %q should be rejected", encoded)
	}
}

// TestPurpose: Validates service key provisioning: minimum length, service accounts
// only, and storage of a hash the verifier accepts.
// Scope: Unit Test
// Security: Credential provisioning boundary
// Expected: Keys under 16 characters and user principals are rejected; a valid key
// is stored as an Argon2id hash bound to the principal.
// Test Case ID: PRN-06
func TestPrincipal_Service_SetServiceKey(t *testing.T) {
	repo := new(mockRepo)
	hasher := testHasher()
	service := NewService(repo, hasher)
	ctx := context.Background()

	err := service.SetServiceKey(ctx, "t1", "p1", "short")
	assert.Error(t, err)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything, mock.Anything)

	repo.On("GetByID", ctx, "t1", "human").Return(&Principal{ID: "human", Kind: KindUser, Status: StatusActive}, nil)
	err = service.SetServiceKey(ctx, "t1", "human", "sk-live-0123456789abcdef")
	assert.ErrorIs(t, err, ErrInvalidKind, "PRN-06 SECURITY: user principals must not carry service keys")

	repo.On("GetByID", ctx, "t1", "svc").Return(&Principal{ID: "svc", Kind: KindServiceAccount, Status: StatusActive}, nil)
	repo.On("SetServiceKey", ctx, mock.MatchedBy(func(k *ServiceKey) bool {
		ok, err := hasher.Verify("sk-live-0123456789abcdef", k.KeyHash)
		return k.PrincipalID == "svc" && err == nil && ok
	})).Return(nil)

	err = service.SetServiceKey(ctx, "t1", "svc", "sk-live-0123456789abcdef")
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

// TestPurpose: Validates that a presented service key returns the owning principal
// when it matches the stored hash.
// Scope: Unit Test
// Security: Service credential verification
// Expected: The active service account principal is returned for a matching key.
// Test Case ID: PRN-07
func TestPrincipal_Service_VerifyServiceKey(t *testing.T) {
	repo := new(mockRepo)
	hasher := testHasher()
	service := NewService(repo, hasher)
	ctx := context.Background()

	keyHash, err := hasher.Hash("sk-live-0123456789abcdef")
	require.NoError(t, err)

	repo.On("GetByID", ctx, "t1", "svc").Return(&Principal{ID: "svc", TenantID: "t1", Kind: KindServiceAccount, Status: StatusActive}, nil)
	repo.On("GetServiceKey", ctx, "svc").Return(&ServiceKey{PrincipalID: "svc", KeyHash: keyHash}, nil)

	p, err := service.VerifyServiceKey(ctx, "t1", "svc", "sk-live-0123456789abcdef")

	assert.NoError(t, err)
	if assert.NotNil(t, p) {
		assert.Equal(t, "svc", p.ID)
	}
	repo.AssertExpectations(t)
}

// TestPurpose: Validates the verification failure ladder: unknown principals,
// inactive principals, and wrong keys all collapse to one invalid-key error so a
// caller cannot probe which part failed; only a never-provisioned key is distinct.
// Scope: Unit Test
// Security: Fail closed, no account enumeration (CWE-204)
// Expected: ErrInvalidServiceKey for unknown, inactive, and mismatched cases;
// ErrNoServiceKey when no key was ever provisioned.
// Test Case ID: PRN-08
func TestPrincipal_Service_VerifyServiceKey_Failures(t *testing.T) {
	repo := new(mockRepo)
	hasher := testHasher()
	service := NewService(repo, hasher)
	ctx := context.Background()

	keyHash, err := hasher.Hash("sk-live-0123456789abcdef")
	require.NoError(t, err)

	repo.On("GetByID", ctx, "t1", "ghost").Return(nil, ErrPrincipalNotFound)
	_, err = service.VerifyServiceKey(ctx, "t1", "ghost", "sk-live-0123456789abcdef")
	assert.ErrorIs(t, err, ErrInvalidServiceKey, "PRN-08 SECURITY: unknown principals must look like bad keys")

	repo.On("GetByID", ctx, "t1", "frozen").Return(&Principal{ID: "frozen", Kind: KindServiceAccount, Status: StatusInactive}, nil)
	_, err = service.VerifyServiceKey(ctx, "t1", "frozen", "sk-live-0123456789abcdef")
	assert.ErrorIs(t, err, ErrInvalidServiceKey, "PRN-08 SECURITY: deactivated principals must not authenticate")
	repo.AssertNotCalled(t, "GetServiceKey", ctx, "frozen")

	repo.On("GetByID", ctx, "t1", "bare").Return(&Principal{ID: "bare", Kind: KindServiceAccount, Status: StatusActive}, nil)
	repo.On("GetServiceKey", ctx, "bare").Return(nil, ErrNoServiceKey)
	_, err = service.VerifyServiceKey(ctx, "t1", "bare", "sk-live-0123456789abcdef")
	assert.ErrorIs(t, err, ErrNoServiceKey)

	repo.On("GetByID", ctx, "t1", "svc").Return(&Principal{ID: "svc", Kind: KindServiceAccount, Status: StatusActive}, nil)
	repo.On("GetServiceKey", ctx, "svc").Return(&ServiceKey{PrincipalID: "svc", KeyHash: keyHash}, nil)
	_, err = service.VerifyServiceKey(ctx, "t1", "svc", "wrong-key-0123456789")
	assert.ErrorIs(t, err, ErrInvalidServiceKey)
}

// TestPurpose: Validates pagination clamping so a caller cannot request unbounded pages.
// Scope: Unit Test
// Expected: Non-positive and oversized limits fall back to 50; in-range limits pass through.
// Test Case ID: PRN-09
func TestPrincipal_Service_ListPrincipals_LimitClamp(t *testing.T) {
	repo := new(mockRepo)
	service := NewService(repo, testHasher())
	ctx := context.Background()

	repo.On("List", ctx, "t1", 50, 0).Return([]*Principal{}, nil).Twice()
	repo.On("List", ctx, "t1", 25, 10).Return([]*Principal{}, nil).Once()

	_, err := service.ListPrincipals(ctx, "t1", 0, 0)
	assert.NoError(t, err)
	_, err = service.ListPrincipals(ctx, "t1", 500, 0)
	assert.NoError(t, err)
	_, err = service.ListPrincipals(ctx, "t1", 25, 10)
	assert.NoError(t, err)

	repo.AssertExpectations(t)
}

// TestPurpose: Validates lifecycle transitions accept only defined statuses.
// Scope: Unit Test
// Expected: inactive is persisted; an undefined status is rejected before any read.
// Test Case ID: PRN-10
func TestPrincipal_Service_SetStatus(t *testing.T) {
	repo := new(mockRepo)
	service := NewService(repo, testHasher())
	ctx := context.Background()

	repo.On("GetByID", ctx, "t1", "p1").Return(&Principal{ID: "p1", Status: StatusActive}, nil)
	repo.On("Update", ctx, mock.MatchedBy(func(p *Principal) bool {
		return p.Status == StatusInactive
	})).Return(nil)

	err := service.SetStatus(ctx, "t1", "p1", StatusInactive)
	assert.NoError(t, err)

	err = service.SetStatus(ctx, "t1", "p1", "archived")
	assert.Error(t, err)
	repo.AssertExpectations(t)
}
