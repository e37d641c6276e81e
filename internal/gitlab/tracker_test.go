package gitlab

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/tracker/testutil"
	"github.com/steveyegge/bdimport/internal/types"
)

const (
	issuesPath = "/api/v4/projects/42/issues"
	token      = "glpat-test"
)

func user(id int, username, name string) map[string]any {
	return map[string]any{"id": id, "username": username, "name": name}
}

// withToken answers 401 unless PRIVATE-TOKEN carries the test token.
func withToken(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != token {
			testutil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "401 Unauthorized"})
			return
		}
		fn(w, r)
	}
}

func newGitLabServer(t *testing.T) *testutil.MockTrackerServer {
	t.Helper()
	srv := testutil.NewMockTrackerServer(t)
	srv.Handle("/api/v4/user", withToken(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, user(1, "importer", "Importer"))
	}))
	srv.Handle(issuesPath, withToken(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			testutil.WriteJSON(w, http.StatusOK, []any{
				map[string]any{"id": 903, "iid": 3, "title": "Third", "state": "reopened", "author": user(2, "alice", "Alice")},
			})
			return
		}
		w.Header().Set("X-Next-Page", "2")
		testutil.WriteJSON(w, http.StatusOK, []any{
			map[string]any{
				"id": 901, "iid": 1, "project_id": 42, "title": "Pipeline stuck on pending",
				"description": "Runner never picks up the job.", "state": "opened",
				"labels":     []any{"bug", "priority::high"},
				"author":     user(2, "alice", "Alice"),
				"assignees":  []any{user(3, "bob", "Bob")},
				"web_url":    "https://gitlab.example.com/acme/widgets/-/issues/1",
				"references": map[string]any{"full": "acme/widgets#1"},
				"created_at": "2024-05-01T10:00:00Z", "updated_at": "2024-05-02T10:00:00Z",
			},
			map[string]any{
				"id": 902, "iid": 2, "title": "Old regression", "state": "closed",
				"author":    user(3, "bob", "Bob"),
				"closed_at": "2024-05-03T00:00:00Z",
			},
		})
	}))
	srv.Handle(issuesPath+"/1/notes", withToken(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, []any{
			map[string]any{"id": 11, "body": "assigned to @bob", "system": true, "author": user(2, "alice", "Alice")},
			map[string]any{"id": 12, "body": "Seen on 16.11 too.", "author": user(3, "bob", "Bob"), "created_at": "2024-05-01T12:00:00Z"},
		})
	}))
	srv.SetDefaultHandler(withToken(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, []any{})
	}))
	return srv
}

func authenticated(t *testing.T, srv *testutil.MockTrackerServer) *Tracker {
	t.Helper()
	tr := New(tracker.Options{})
	require.NoError(t, tr.Authenticate(context.Background(), tracker.Credentials{URL: srv.URL(), Token: token, Project: "42"}))
	return tr
}

func TestAuthenticate(t *testing.T) {
	srv := newGitLabServer(t)

	t.Run("valid token", func(t *testing.T) {
		authenticated(t, srv)
	})
	t.Run("wrong token", func(t *testing.T) {
		err := New(tracker.Options{}).Authenticate(context.Background(), tracker.Credentials{URL: srv.URL(), Token: "nope"})
		require.Error(t, err)
		assert.True(t, tracker.IsAuthError(err))
	})
	t.Run("missing token", func(t *testing.T) {
		err := New(tracker.Options{}).Authenticate(context.Background(), tracker.Credentials{URL: srv.URL()})
		assert.True(t, tracker.IsAuthError(err))
	})
}

func TestListIssuesPaging(t *testing.T) {
	srv := newGitLabServer(t)
	tr := authenticated(t, srv)
	ctx := context.Background()

	page, err := tr.ListIssues(ctx, tracker.Query{PageSize: 2}, "")
	require.NoError(t, err)
	require.Len(t, page.Issues, 2)
	assert.Equal(t, "2", page.Next)

	first := page.Issues[0]
	assert.Equal(t, "901", first.ID)
	assert.Equal(t, "acme/widgets#1", first.Identifier)
	assert.Equal(t, "https://gitlab.example.com/acme/widgets/-/issues/1", first.URL)
	assert.Equal(t, types.StateOpen, first.State)
	assert.Equal(t, []string{"bug", "priority::high"}, first.Labels)
	assert.Equal(t, "alice", first.Author.Username)
	require.NotNil(t, first.Assignee)
	assert.Equal(t, "bob", first.Assignee.Username)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), first.CreatedAt.UTC())
	require.Len(t, first.Comments, 1, "system notes are skipped")
	assert.Equal(t, "Seen on 16.11 too.", first.Comments[0].Body)
	assert.Equal(t, "3", first.Comments[0].Author.ID)

	second := page.Issues[1]
	assert.Equal(t, "#2", second.Identifier)
	assert.Equal(t, types.StateClosed, second.State)
	require.NotNil(t, second.ClosedAt)
	assert.Empty(t, second.Comments)

	last, err := tr.ListIssues(ctx, tracker.Query{PageSize: 2}, page.Next)
	require.NoError(t, err)
	require.Len(t, last.Issues, 1)
	assert.Equal(t, types.StateOpen, last.Issues[0].State, "reopened is open")
	assert.True(t, last.Done())

	reqs := srv.RequestsTo(issuesPath)
	require.NotEmpty(t, reqs)
	q := reqs[0].Query
	assert.Equal(t, "all", q.Get("state"))
	assert.Equal(t, "asc", q.Get("sort"))
	assert.Equal(t, "created_at", q.Get("order_by"))
	assert.Equal(t, "2", q.Get("per_page"))
}

func TestListIssuesFilters(t *testing.T) {
	srv := newGitLabServer(t)
	tr := authenticated(t, srv)
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := tr.ListIssues(context.Background(), tracker.Query{State: "open", Since: &since, PageSize: 500}, "")
	require.NoError(t, err)

	reqs := srv.RequestsTo(issuesPath)
	require.Len(t, reqs, 1)
	q := reqs[0].Query
	assert.Equal(t, "opened", q.Get("state"))
	assert.Equal(t, "2024-05-01T00:00:00Z", q.Get("updated_after"))
	assert.Equal(t, "100", q.Get("per_page"), "page size is capped")
}

func TestListIssuesProjectPath(t *testing.T) {
	srv := newGitLabServer(t)
	rawPaths := make(chan string, 1)
	srv.Handle("/api/v4/projects/acme/widgets/issues", withToken(func(w http.ResponseWriter, r *http.Request) {
		rawPaths <- r.URL.EscapedPath()
		testutil.WriteJSON(w, http.StatusOK, []any{})
	}))
	tr := authenticated(t, srv)

	page, err := tr.ListIssues(context.Background(), tracker.Query{Project: "acme/widgets"}, "")
	require.NoError(t, err)
	assert.Empty(t, page.Issues)
	assert.True(t, page.Done())
	assert.Equal(t, "/api/v4/projects/acme%2Fwidgets/issues", <-rawPaths)
}

func TestListIssuesErrors(t *testing.T) {
	srv := newGitLabServer(t)

	_, err := New(tracker.Options{}).ListIssues(context.Background(), tracker.Query{Project: "42"}, "")
	var notAuth *tracker.ErrNotAuthenticated
	assert.ErrorAs(t, err, &notAuth)

	tr := authenticated(t, srv)
	_, err = tr.ListIssues(context.Background(), tracker.Query{}, "zero")
	assert.ErrorContains(t, err, "invalid gitlab cursor")

	srv.SetServerError(true)
	_, err = tr.ListIssues(context.Background(), tracker.Query{}, "")
	require.Error(t, err)
	assert.True(t, tracker.IsRetryable(err))
}

func TestListUsers(t *testing.T) {
	srv := newGitLabServer(t)
	srv.Handle("/api/v4/projects/42/members/all", withToken(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, []any{
			map[string]any{"id": 2, "username": "alice", "name": "Alice", "public_email": "alice@example.com"},
			map[string]any{"id": 3, "username": "bob", "name": "Bob", "email": "bob@example.com"},
		})
	}))
	tr := authenticated(t, srv)

	users, err := tr.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, tracker.RemoteUser{ID: "2", Username: "alice", DisplayName: "Alice", Email: "alice@example.com"}, users[0])
	assert.Equal(t, "bob@example.com", users[1].Email)

	noProject := New(tracker.Options{})
	require.NoError(t, noProject.Authenticate(context.Background(), tracker.Credentials{URL: srv.URL(), Token: token}))
	users, err = noProject.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Nil(t, users)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "", want: DefaultURL},
		{in: "https://gitlab.example.com/", want: "https://gitlab.example.com"},
		{in: "https://gitlab.example.com/api/v4?private_token=x", want: "https://gitlab.example.com"},
		{in: "https://example.com/gitlab/", want: "https://example.com/gitlab"},
		{in: "gitlab.example.com", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestFollowingPage(t *testing.T) {
	assert.Equal(t, 2, followingPage(1, "2"))
	assert.Equal(t, 0, followingPage(1, ""))
	assert.Equal(t, 0, followingPage(3, "3"), "a header that does not advance ends the listing")
	assert.Equal(t, 0, followingPage(1, "abc"))
	assert.Equal(t, 0, followingPage(1, "1001"))
}
