package policy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authzengine/authzengine/internal/events"
)

type fakePolicyRepo struct {
	mu   sync.Mutex
	byID map[string]*Policy
}

func newFakePolicyRepo() *fakePolicyRepo {
	return &fakePolicyRepo{byID: make(map[string]*Policy)}
}

func (f *fakePolicyRepo) Create(ctx context.Context, p *Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *p
	f.byID[p.ID] = &c
	return nil
}

func (f *fakePolicyRepo) GetByID(ctx context.Context, tenantID, id string) (*Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.TenantID != tenantID {
		return nil, ErrPolicyNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakePolicyRepo) GetByNameVersion(ctx context.Context, tenantID, name string, version int) (*Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.TenantID == tenantID && p.Name == name && p.Version == version {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrPolicyNotFound
}

func (f *fakePolicyRepo) Update(ctx context.Context, p *Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[p.ID]; !ok {
		return ErrPolicyNotFound
	}
	c := *p
	f.byID[p.ID] = &c
	return nil
}

func (f *fakePolicyRepo) Delete(ctx context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.TenantID != tenantID {
		return ErrPolicyNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakePolicyRepo) ListByTenant(ctx context.Context, tenantID string) ([]*Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Policy
	for _, p := range f.byID {
		if p.TenantID == tenantID {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakePolicyRepo) ListActive(ctx context.Context, tenantID string) ([]*Policy, error) {
	all, _ := f.ListByTenant(ctx, tenantID)
	var out []*Policy
	for _, p := range all {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingBus) Publish(ctx context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func validRules() []*Rule {
	return []*Rule{{
		ID:        "rule-1",
		Effect:    EffectAllow,
		Condition: leaf("resource.owner_id", OpEqual, "principal.id"),
	}}
}

// TestPurpose: Validates policy creation publishes a change event and persists the rule set.
// Scope: Unit Test
// Expected: The stored policy is retrievable and exactly one policy_changed event fires.
// Test Case ID: PSV-01
func TestPolicy_Service_CreatePolicy(t *testing.T) {
	repo := newFakePolicyRepo()
	bus := &recordingBus{}
	svc := NewService(repo, bus)
	ctx := context.Background()

	created, err := svc.CreatePolicy(ctx, "t1", "owner-access", 1, 50, StatusActive, validRules())

	require.NoError(t, err)
	stored, err := svc.GetPolicy(ctx, "t1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-access", stored.Name)
	require.Len(t, bus.events, 1)
	assert.Equal(t, events.KindPolicyChanged, bus.events[0].Kind)
	assert.Equal(t, "t1", bus.events[0].TenantID)
}

// TestPurpose: Validates malformed rule sets are rejected at creation with no storage write.
// Scope: Unit Test
// Expected: ErrPolicyMalformed for bad conditions, bad effects, and duplicate rule ids; nothing stored, no event.
// Test Case ID: PSV-02
func TestPolicy_Service_CreatePolicy_RejectsMalformed(t *testing.T) {
	repo := newFakePolicyRepo()
	bus := &recordingBus{}
	svc := NewService(repo, bus)
	ctx := context.Background()

	cases := []struct {
		name  string
		rules []*Rule
	}{
		{"empty group condition", []*Rule{{ID: "r1", Effect: EffectAllow, Condition: group(OpAnd)}}},
		{"missing condition", []*Rule{{ID: "r1", Effect: EffectAllow}}},
		{"invalid effect", []*Rule{{ID: "r1", Effect: "audit", Condition: leaf("action", OpEqual, "read")}}},
		{"duplicate rule ids", []*Rule{
			{ID: "r1", Effect: EffectAllow, Condition: leaf("action", OpEqual, "read")},
			{ID: "r1", Effect: EffectDeny, Condition: leaf("action", OpEqual, "write")},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreatePolicy(ctx, "t1", "broken", 1, 10, StatusActive, tc.rules)
			assert.ErrorIs(t, err, ErrPolicyMalformed)
		})
	}
	assert.Empty(t, repo.byID)
	assert.Empty(t, bus.events)
}

// TestPurpose: Validates name+version uniqueness within a tenant.
// Scope: Unit Test
// Expected: A second policy with the same name and version fails; a bumped version succeeds.
// Test Case ID: PSV-03
func TestPolicy_Service_CreatePolicy_VersionUniqueness(t *testing.T) {
	svc := NewService(newFakePolicyRepo(), &recordingBus{})
	ctx := context.Background()

	_, err := svc.CreatePolicy(ctx, "t1", "owner-access", 1, 50, StatusActive, validRules())
	require.NoError(t, err)

	_, err = svc.CreatePolicy(ctx, "t1", "owner-access", 1, 60, StatusActive, validRules())
	assert.ErrorIs(t, err, ErrPolicyExists)

	_, err = svc.CreatePolicy(ctx, "t1", "owner-access", 2, 60, StatusActive, validRules())
	assert.NoError(t, err)
}

// TestPurpose: Validates status toggling active->inactive->active restores evaluation visibility.
// Scope: Unit Test
// Expected: ListActive reflects each transition and every effective change publishes an event.
// Test Case ID: PSV-04
func TestPolicy_Service_SetStatus_Toggle(t *testing.T) {
	repo := newFakePolicyRepo()
	bus := &recordingBus{}
	svc := NewService(repo, bus)
	ctx := context.Background()

	created, err := svc.CreatePolicy(ctx, "t1", "owner-access", 1, 50, StatusActive, validRules())
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, "t1", created.ID, StatusInactive)
	require.NoError(t, err)
	active, _ := svc.ListActive(ctx, "t1")
	assert.Empty(t, active)

	_, err = svc.SetStatus(ctx, "t1", created.ID, StatusActive)
	require.NoError(t, err)
	active, _ = svc.ListActive(ctx, "t1")
	assert.Len(t, active, 1)

	// create + two effective transitions
	assert.Len(t, bus.events, 3)

	// a no-op transition publishes nothing
	_, err = svc.SetStatus(ctx, "t1", created.ID, StatusActive)
	require.NoError(t, err)
	assert.Len(t, bus.events, 3)
}
