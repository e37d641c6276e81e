// Package storagetest holds behavior tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/types"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run exercises the storage.Store contract against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("FindOrCreateIssueIsIdempotent", func(t *testing.T) { testFindOrCreateIdempotent(t, newStore(t)) })
	t.Run("DedupKeyIncludesProject", func(t *testing.T) { testDedupKeyIncludesProject(t, newStore(t)) })
	t.Run("ConcurrentFindOrCreate", func(t *testing.T) { testConcurrentFindOrCreate(t, newStore(t)) })
	t.Run("IssueRoundTrip", func(t *testing.T) { testIssueRoundTrip(t, newStore(t)) })
	t.Run("InvalidAttributes", func(t *testing.T) { testInvalidAttributes(t, newStore(t)) })
	t.Run("ListIssuesFilter", func(t *testing.T) { testListIssuesFilter(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("FindUsersBatch", func(t *testing.T) { testFindUsersBatch(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
}

func closeOnCleanup(t *testing.T, s storage.Store) {
	t.Helper()
	t.Cleanup(func() { _ = s.Close() })
}

func attrs(title string) *types.IssueAttributes {
	return &types.IssueAttributes{Title: title, State: types.StateOpen}
}

func testFindOrCreateIdempotent(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	first, created, err := s.FindOrCreateIssue(ctx, "10001", 1, attrs("First"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	again, created, err := s.FindOrCreateIssue(ctx, "10001", 1, attrs("Changed title"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "First", again.Title, "existing issue is returned unchanged")

	all, err := s.ListIssues(ctx, storage.IssueFilter{ProjectID: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testDedupKeyIncludesProject(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	a, _, err := s.FindOrCreateIssue(ctx, "7", 1, attrs("A"))
	require.NoError(t, err)
	b, created, err := s.FindOrCreateIssue(ctx, "7", 2, attrs("B"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func testConcurrentFindOrCreate(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]bool{}
		creates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			issue, created, err := s.FindOrCreateIssue(ctx, "race", 5, attrs("Race"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[issue.ID] = true
			if created {
				creates++
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, creates)
}

func testIssueRoundTrip(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	author := &types.User{Username: "alice", Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, s.CreateUser(ctx, author))

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	closed := created.Add(48 * time.Hour)
	in := &types.IssueAttributes{
		Identifier:  "PROJ-12",
		Title:       "Crash on save",
		Description: "Steps to reproduce",
		State:       types.StateClosed,
		AuthorID:    &author.ID,
		Labels:      []string{"bug", "p1"},
		ExternalURL: "https://jira.example.com/browse/PROJ-12",
		CreatedAt:   created,
		UpdatedAt:   closed,
		ClosedAt:    &closed,
		Notes: []types.NoteAttributes{
			{RemoteID: "c1", Body: "first", AuthorID: &author.ID, CreatedAt: created.Add(time.Hour)},
			{RemoteID: "c2", Body: "second", CreatedAt: created.Add(2 * time.Hour)},
		},
	}
	issue, _, err := s.FindOrCreateIssue(ctx, "10012", 3, in)
	require.NoError(t, err)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ProjectID)
	assert.Equal(t, "10012", got.RemoteID)
	assert.Equal(t, "PROJ-12", got.Identifier)
	assert.Equal(t, "Crash on save", got.Title)
	assert.Equal(t, types.StateClosed, got.State)
	require.NotNil(t, got.AuthorID)
	assert.Equal(t, author.ID, *got.AuthorID)
	assert.Nil(t, got.AssigneeID)
	assert.Equal(t, []string{"bug", "p1"}, got.Labels)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.ClosedAt)
	assert.True(t, closed.Equal(*got.ClosedAt))
	require.Len(t, got.Notes, 2)
	assert.Equal(t, "first", got.Notes[0].Body)
	assert.Equal(t, "c2", got.Notes[1].RemoteID)
	assert.Nil(t, got.Notes[1].AuthorID)

	_, err = s.GetIssue(ctx, issue.ID+1000)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testInvalidAttributes(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	_, _, err := s.FindOrCreateIssue(context.Background(), "1", 1, &types.IssueAttributes{State: types.StateOpen})
	assert.Error(t, err)

	_, _, err = s.FindOrCreateIssue(context.Background(), "", 1, attrs("no remote id"))
	assert.Error(t, err)
}

func testListIssuesFilter(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		a := attrs(fmt.Sprintf("Issue %d", i))
		if i%2 == 0 {
			a.State = types.StateClosed
		}
		_, _, err := s.FindOrCreateIssue(ctx, fmt.Sprint(i), 9, a)
		require.NoError(t, err)
	}
	_, _, err := s.FindOrCreateIssue(ctx, "x", 10, attrs("Other project"))
	require.NoError(t, err)

	open, err := s.ListIssues(ctx, storage.IssueFilter{ProjectID: 9, State: types.StateOpen})
	require.NoError(t, err)
	assert.Len(t, open, 3)

	limited, err := s.ListIssues(ctx, storage.IssueFilter{ProjectID: 9, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "Issue 1", limited[0].Title)

	all, err := s.ListIssues(ctx, storage.IssueFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func testUsers(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	u := &types.User{Username: "bob", Name: "Bob Builder", Email: "Bob@Example.com"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotZero(t, u.ID)

	err := s.CreateUser(ctx, &types.User{Username: "BOB"})
	assert.True(t, errors.Is(err, storage.ErrDuplicateUser), "got %v", err)

	for _, key := range []string{"bob@example.com", "BOB", "bob builder"} {
		got, err := s.FindUser(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, u.ID, got.ID)
	}
	_, err = s.FindUser(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func testFindUsersBatch(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	for _, u := range []*types.User{
		{Username: "alice", Name: "Alice Liddell", Email: "alice@example.com"},
		{Username: "bob", Name: "Bob", Email: "bob@example.com"},
		{Username: "carol", Name: "Carol", Email: "carol@example.com"},
	} {
		require.NoError(t, s.CreateUser(ctx, u))
	}

	got, err := s.FindUsers(ctx, []string{"ALICE@example.com"}, []string{"Carol", "nobody"})
	require.NoError(t, err)
	var names []string
	for _, u := range got {
		names = append(names, u.Username)
	}
	assert.ElementsMatch(t, []string{"alice", "carol"}, names)

	none, err := s.FindUsers(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSessions(t *testing.T, s storage.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	_, err := s.LatestSession(ctx, 4)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first := types.NewImportSession(4, "jira", "https://jira.example.com")
	first.Credential = "secret-token"
	require.NoError(t, s.SaveSession(ctx, first))
	require.NotZero(t, first.ID)

	require.NoError(t, first.Transition(types.SessionRunning))
	first.Advance("50", 50)
	require.NoError(t, first.Fail(errors.New("boom")))
	require.NoError(t, s.SaveSession(ctx, first))

	got, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailed, got.Status)
	assert.Equal(t, "50", got.Cursor)
	assert.Equal(t, 1, got.PagesFetched)
	assert.Equal(t, 50, got.IssuesImported)
	assert.Equal(t, "boom", got.Error)
	assert.Empty(t, got.Credential, "credentials are never persisted")
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)

	second := types.NewImportSession(4, "jira", "https://jira.example.com")
	require.NoError(t, s.SaveSession(ctx, second))
	latest, err := s.LatestSession(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, types.SessionPending, latest.Status)

	_, err = s.GetSession(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
