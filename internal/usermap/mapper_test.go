package usermap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdimport/internal/storage/memory"
	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

// countingFinder records how often the store is queried.
type countingFinder struct {
	*memory.MemoryStorage
	calls int
	err   error
}

func (f *countingFinder) FindUsers(ctx context.Context, emails, names []string) ([]*types.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.MemoryStorage.FindUsers(ctx, emails, names)
}

func newFinder(t *testing.T, users ...*types.User) *countingFinder {
	t.Helper()
	store := memory.New()
	for _, u := range users {
		require.NoError(t, store.CreateUser(context.Background(), u))
	}
	return &countingFinder{MemoryStorage: store}
}

func TestMapEmailIsCaseInsensitive(t *testing.T) {
	alice := &types.User{Username: "alice", Name: "Alice Liddell", Email: "alice@example.com"}
	finder := newFinder(t, alice)
	m := New(finder)

	got, err := m.Map(context.Background(), []tracker.RemoteUser{
		{ID: "1", Email: "ALICE@Example.COM", DisplayName: "Someone Else"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LocalUserID)
	assert.Equal(t, alice.ID, *got[0].LocalUserID)
	assert.Equal(t, types.MatchEmail, got[0].MatchedBy)
}

func TestMapPrecedence(t *testing.T) {
	byEmail := &types.User{Username: "mail-owner", Email: "shared@example.com"}
	byName := &types.User{Username: "bob", Name: "Robert Paulson"}
	byUsername := &types.User{Username: "rpaulson"}
	finder := newFinder(t, byEmail, byName, byUsername)
	m := New(finder)

	tests := []struct {
		name   string
		remote tracker.RemoteUser
		want   *types.User
		kind   types.MatchKind
	}{
		{"email beats name", tracker.RemoteUser{ID: "a", Email: "shared@example.com", DisplayName: "Robert Paulson"}, byEmail, types.MatchEmail},
		{"display name vs local name", tracker.RemoteUser{ID: "b", DisplayName: "robert paulson", Username: "rpaulson"}, byName, types.MatchName},
		{"display name vs local username", tracker.RemoteUser{ID: "c", DisplayName: "BOB"}, byName, types.MatchName},
		{"username fallback", tracker.RemoteUser{ID: "d", DisplayName: "R. P.", Username: "RPaulson"}, byUsername, types.MatchUsername},
		{"unmatched", tracker.RemoteUser{ID: "e", DisplayName: "Nobody", Email: "nobody@elsewhere.org"}, nil, types.MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Resolve(context.Background(), tt.remote)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want.ID, *got)

			mappings, err := m.Map(context.Background(), []tracker.RemoteUser{tt.remote})
			require.NoError(t, err)
			assert.Equal(t, tt.kind, mappings[0].MatchedBy)
		})
	}
}

func TestMapUnmatchedNeverErrors(t *testing.T) {
	m := New(newFinder(t, &types.User{Username: "alice", Email: "alice@example.com"}))
	got, err := m.Map(context.Background(), []tracker.RemoteUser{
		{ID: "x", Email: "ghost@example.com", DisplayName: "Ghost", Username: "ghost"},
		{ID: "y"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, mp := range got {
		assert.Nil(t, mp.LocalUserID)
		assert.False(t, mp.Resolved())
		assert.Equal(t, types.MatchNone, mp.MatchedBy)
	}
	assert.Equal(t, "ghost@example.com", got[0].Remote.Email)
}

func TestMapEmptyInput(t *testing.T) {
	finder := newFinder(t)
	m := New(finder)

	got, err := m.Map(context.Background(), []tracker.RemoteUser{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got, err = m.Map(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, finder.calls)
}

func TestMapBatchesAndCaches(t *testing.T) {
	finder := newFinder(t,
		&types.User{Username: "alice", Email: "alice@example.com"},
		&types.User{Username: "bob", Email: "bob@example.com"},
	)
	m := New(finder)
	ctx := context.Background()

	batch := []tracker.RemoteUser{
		{ID: "1", Email: "alice@example.com"},
		{ID: "2", Email: "bob@example.com"},
		{ID: "3", Email: "stranger@example.com"},
	}
	first, err := m.Map(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, finder.calls, "one store query per batch")

	again, err := m.Map(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, finder.calls, "hits and known misses come from the cache")
	assert.Equal(t, first, again)

	_, err = m.Map(ctx, []tracker.RemoteUser{{ID: "3", Email: "stranger@example.com"}, {ID: "4", Username: "alice"}})
	require.NoError(t, err)
	assert.Equal(t, 2, finder.calls, "only the uncached identity is looked up")
}

func TestMapStoreFailure(t *testing.T) {
	finder := newFinder(t)
	finder.err = errors.New("database is locked")
	m := New(finder)

	_, err := m.Map(context.Background(), []tracker.RemoteUser{{ID: "1", Email: "a@b.c"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	// Failures are not cached.
	finder.err = nil
	got, err := m.Map(context.Background(), []tracker.RemoteUser{{ID: "1", Email: "a@b.c"}})
	require.NoError(t, err)
	assert.Nil(t, got[0].LocalUserID)
	assert.Equal(t, 2, finder.calls)
}

func TestOverrides(t *testing.T) {
	john := &types.User{Username: "john", Email: "john@example.com"}
	other := &types.User{Username: "jdoe-local", Email: "jdoe@corp.example"}
	finder := newFinder(t, john, other)

	path := filepath.Join(t.TempDir(), "users.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[users]
"JDoe@Corp.Example" = "john"
"557058:abc" = "JOHN@example.com"
"unknown-remote" = "missing-local"
`), 0o600))
	overrides, err := LoadOverrides(path)
	require.NoError(t, err)
	m := New(finder, WithOverrides(overrides))

	got, err := m.Map(context.Background(), []tracker.RemoteUser{
		{ID: "1", Email: "jdoe@corp.example"},
		{ID: "557058:abc", DisplayName: "Johnny"},
		{ID: "2", Username: "unknown-remote", Email: "jdoe@corp.example"},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, john.ID, *got[0].LocalUserID, "override wins over an exact email match")
	assert.Equal(t, types.MatchOverride, got[0].MatchedBy)
	assert.Equal(t, john.ID, *got[1].LocalUserID)
	assert.Equal(t, types.MatchOverride, got[1].MatchedBy)
	// An override pointing at no local user falls through to the normal rules.
	assert.Equal(t, other.ID, *got[2].LocalUserID)
	assert.Equal(t, types.MatchEmail, got[2].MatchedBy)
}

func TestDecodeOverrides(t *testing.T) {
	o, err := DecodeOverrides(`[users]
" Alice " = " A@B.C "`)
	require.NoError(t, err)
	assert.Equal(t, Overrides{"alice": "a@b.c"}, o)

	_, err = DecodeOverrides(`[users`)
	assert.Error(t, err)
}

func TestIndex(t *testing.T) {
	id := int64(7)
	idx := Index([]types.UserMapping{{Remote: tracker.RemoteUser{ID: "u1"}, LocalUserID: &id}})
	assert.Equal(t, &id, idx[tracker.IdentityKey(tracker.RemoteUser{ID: "u1"})].LocalUserID)
}
