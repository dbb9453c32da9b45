package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authzengine/authzengine/internal/cache"
)

// fakeCache records delete operations and reports configurable pattern hits.
type fakeCache struct {
	mu           sync.Mutex
	deletedKeys  []string
	patterns     []string
	patternHits  map[string]int
	patternError error
}

func newFakeCache() *fakeCache {
	return &fakeCache{patternHits: map[string]int{}}
}

func (f *fakeCache) Get(context.Context, string) ([]byte, error) { return nil, cache.ErrMiss }

func (f *fakeCache) Set(context.Context, string, any, time.Duration) error { return nil }

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedKeys = append(f.deletedKeys, keys...)
	return nil
}

func (f *fakeCache) DeletePattern(_ context.Context, pattern string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patternError != nil {
		return 0, f.patternError
	}
	f.patterns = append(f.patterns, pattern)
	return f.patternHits[pattern], nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }

func (f *fakeCache) Close() error { return nil }

// fakeClosureIndex returns a fixed principal list and records lookups.
type fakeClosureIndex struct {
	principals []string
	err        error
	lookups    [][2]string
}

func (f *fakeClosureIndex) AffectedPrincipals(_ context.Context, tenantID, roleID string) ([]string, error) {
	f.lookups = append(f.lookups, [2]string{tenantID, roleID})
	if f.err != nil {
		return nil, f.err
	}
	return f.principals, nil
}

func testEvictor(c cache.Cache, idx ClosureIndex) *Evictor {
	return NewEvictor(c, idx, nil, testLogger())
}

func metaEvent(kind Kind, entityID string, metadata map[string]string) Event {
	e := event(kind, entityID)
	e.Metadata = metadata
	return e
}

// TestPurpose: Validates assignment events evict exactly the named principal's keys.
// Scope: Unit Test
// Expected: One decision-pattern sweep and one closure-key delete, both scoped to the principal
// carried in the event metadata; a role_assigned event without that metadata is an error.
// Test Case ID: EVC-01
func TestEvents_Evictor_AssignmentEvictsPrincipal(t *testing.T) {
	c := newFakeCache()
	idx := &fakeClosureIndex{}
	ev := testEvictor(c, idx)

	err := ev.Handle(context.Background(), metaEvent(KindRoleAssigned, "r-admin", map[string]string{
		MetaPrincipalID: "p1",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"authz:t1:p1:*"}, c.patterns)
	assert.Equal(t, []string{"authz:closure:t1:p1"}, c.deletedKeys)
	assert.Empty(t, idx.lookups, "assignment events never traverse the role graph")

	err = ev.Handle(context.Background(), event(KindRoleRevoked, "r-admin"))
	assert.Error(t, err)
}

// TestPurpose: Validates permission change events resolve affected principals by reverse traversal.
// Scope: Unit Test
// Expected: The closure index is asked for holders of the changed role's subtree and each
// returned principal has decisions and closure evicted.
// Test Case ID: EVC-02
func TestEvents_Evictor_PermissionChangeUsesClosureIndex(t *testing.T) {
	c := newFakeCache()
	idx := &fakeClosureIndex{principals: []string{"p1", "p2"}}
	ev := testEvictor(c, idx)

	err := ev.Handle(context.Background(), event(KindPermissionGranted, "r-editor"))
	require.NoError(t, err)

	require.Equal(t, [][2]string{{"t1", "r-editor"}}, idx.lookups)
	assert.Equal(t, []string{"authz:t1:p1:*", "authz:t1:p2:*"}, c.patterns)
	assert.Equal(t, []string{"authz:closure:t1:p1", "authz:closure:t1:p2"}, c.deletedKeys)
}

// TestPurpose: Validates publisher-supplied principal lists short-circuit graph traversal.
// Scope: Unit Test
// Expected: When affected_principals metadata is present the closure index is not consulted
// and the comma-separated list is trimmed and used as-is.
// Test Case ID: EVC-03
func TestEvents_Evictor_MetadataPrincipalsSkipTraversal(t *testing.T) {
	c := newFakeCache()
	idx := &fakeClosureIndex{principals: []string{"wrong"}}
	ev := testEvictor(c, idx)

	err := ev.Handle(context.Background(), metaEvent(KindRoleReparented, "r-editor", map[string]string{
		MetaAffectedPrincipals: "p1, p2,p3",
	}))
	require.NoError(t, err)

	assert.Empty(t, idx.lookups)
	assert.Equal(t, []string{"authz:t1:p1:*", "authz:t1:p2:*", "authz:t1:p3:*"}, c.patterns)
}

// TestPurpose: Validates role deletion falls back to tenant-wide eviction when no principal
// list was captured before the role row disappeared.
// Scope: Unit Test
// Expected: Without metadata the whole tenant's decisions and closures are swept; with
// metadata only the named principals are evicted.
// Test Case ID: EVC-04
func TestEvents_Evictor_RoleDeletedFallback(t *testing.T) {
	c := newFakeCache()
	ev := testEvictor(c, &fakeClosureIndex{})

	err := ev.Handle(context.Background(), event(KindRoleDeleted, "r-gone"))
	require.NoError(t, err)
	assert.Equal(t, []string{"authz:t1:*", "authz:closure:t1:*"}, c.patterns)

	scoped := newFakeCache()
	ev = testEvictor(scoped, &fakeClosureIndex{})
	err = ev.Handle(context.Background(), metaEvent(KindRoleDeleted, "r-gone", map[string]string{
		MetaAffectedPrincipals: "p9",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"authz:t1:p9:*"}, scoped.patterns)
	assert.Equal(t, []string{"authz:closure:t1:p9"}, scoped.deletedKeys)
}

// TestPurpose: Validates policy and tenant changes clear the tenant's decisions plus their
// own cached record, leaving closures untouched.
// Scope: Unit Test
// Expected: policy_changed sweeps decisions and deletes the policies key; tenant_updated
// sweeps decisions and deletes the tenant record key.
// Test Case ID: EVC-05
func TestEvents_Evictor_TenantScopedKinds(t *testing.T) {
	c := newFakeCache()
	ev := testEvictor(c, &fakeClosureIndex{})

	err := ev.Handle(context.Background(), event(KindPolicyChanged, "pol-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"authz:t1:*"}, c.patterns)
	assert.Equal(t, []string{"authz:policies:t1"}, c.deletedKeys)

	c = newFakeCache()
	ev = testEvictor(c, &fakeClosureIndex{})
	err = ev.Handle(context.Background(), event(KindTenantUpdated, "t1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"authz:t1:*"}, c.patterns)
	assert.Equal(t, []string{"authz:tenant:t1"}, c.deletedKeys)
}

// TestPurpose: Validates backend and traversal failures surface as handler errors.
// Scope: Unit Test
// Expected: A failing pattern delete and a failing principal lookup both propagate, and an
// unknown event kind is rejected.
// Test Case ID: EVC-06
func TestEvents_Evictor_PropagatesFailures(t *testing.T) {
	c := newFakeCache()
	c.patternError = errors.New("backend down")
	ev := testEvictor(c, &fakeClosureIndex{})
	err := ev.Handle(context.Background(), metaEvent(KindRoleAssigned, "r1", map[string]string{
		MetaPrincipalID: "p1",
	}))
	assert.Error(t, err)

	idx := &fakeClosureIndex{err: errors.New("graph unavailable")}
	ev = testEvictor(newFakeCache(), idx)
	err = ev.Handle(context.Background(), event(KindRoleCreated, "r1"))
	assert.Error(t, err)

	ev = testEvictor(newFakeCache(), &fakeClosureIndex{})
	err = ev.Handle(context.Background(), event(Kind("mystery"), "r1"))
	assert.Error(t, err)
}
