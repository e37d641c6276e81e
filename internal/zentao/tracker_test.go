package zentao

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/tracker/testutil"
	"github.com/steveyegge/bdimport/internal/types"
)

const sessionToken = "zt-session-1"

// withToken answers 401 unless the Token header carries the session token.
func withToken(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Token") != sessionToken {
			testutil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		fn(w, r)
	}
}

func newZenTaoServer(t *testing.T) *testutil.MockTrackerServer {
	t.Helper()
	srv := testutil.NewMockTrackerServer(t)
	srv.Handle("/zentao/api.php/v1/tokens", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["account"] != "admin" || body["password"] != "pw" {
			testutil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Login failed"})
			return
		}
		testutil.WriteJSON(w, http.StatusCreated, map[string]string{"token": sessionToken})
	})
	srv.Handle("/zentao/api.php/v1/user", withToken(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"profile": map[string]any{"id": 1, "account": "admin"}})
	}))
	srv.Handle("/zentao/api.php/v1/users", withToken(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{
			"page": 1, "total": 2, "limit": 500,
			"users": []any{
				map[string]any{"id": 1, "account": "admin", "realname": "Administrator", "email": "admin@example.com"},
				map[string]any{"id": 7, "account": "lily", "realname": "Lily Chen", "email": "lily@example.com"},
			},
		})
	}))
	srv.Handle("/zentao/api.php/v1/products/3/bugs", withToken(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			testutil.WriteJSON(w, http.StatusOK, map[string]any{
				"page": 2, "total": 3, "limit": 2,
				"bugs": []any{map[string]any{"id": 13, "title": "Third", "status": "active", "openedBy": "lily", "assignedTo": ""}},
			})
			return
		}
		testutil.WriteJSON(w, http.StatusOK, map[string]any{
			"page": 1, "total": 3, "limit": 2,
			"bugs": []any{
				map[string]any{
					"id": 11, "product": 3, "title": "Upload fails for large files",
					"steps":    "<p>[步骤] Upload a 2GB file</p><p>[结果] 413 &amp; a blank page</p>",
					"status":   "active",
					"keywords": "upload, storage",
					"openedBy": map[string]any{"id": 7, "account": "lily", "realname": "Lily Chen"},
					"assignedTo": map[string]any{"id": 1, "account": "admin", "realname": "Administrator"},
					"openedDate":     "2024-02-01T03:04:05Z",
					"lastEditedDate": "2024-02-02 10:00:00",
					"closedDate":     "0000-00-00 00:00:00",
				},
				map[string]any{
					"id": 12, "product": 3, "title": "Wrong currency symbol",
					"status": "closed", "openedBy": "ghost", "assignedTo": "closed",
					"openedDate": "2024-01-01 08:00:00", "closedDate": "2024-01-05 09:30:00",
				},
			},
		})
	}))
	srv.SetDefaultHandler(withToken(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/zentao/api.php/v1/bugs/") {
			testutil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
			return
		}
		actions := []any{}
		if strings.HasSuffix(r.URL.Path, "/11") {
			actions = []any{
				map[string]any{"id": 100, "action": "opened", "actor": "lily", "comment": "", "date": "2024-02-01 03:04:05"},
				map[string]any{"id": 101, "action": "commented", "actor": "admin", "comment": "Reproduced.<br/>Nginx limit.", "date": "2024-02-01 05:00:00"},
			}
		}
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"actions": actions})
	}))
	return srv
}

func loggedIn(t *testing.T, srv *testutil.MockTrackerServer) *Tracker {
	t.Helper()
	tr := New(tracker.Options{})
	require.NoError(t, tr.Authenticate(context.Background(), tracker.Credentials{
		URL: srv.URL() + "/zentao/api.php/v1", Username: "admin", Password: "pw",
	}))
	return tr
}

func TestRegister(t *testing.T) {
	r := tracker.NewRegistry()
	Register(r)
	tr, err := r.New("zentao", tracker.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ZenTao", tr.DisplayName())
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"https://zentao.example.com":                    "https://zentao.example.com",
		"https://zentao.example.com/zentao/":            "https://zentao.example.com/zentao",
		"https://zentao.example.com/zentao/api.php/v1/": "https://zentao.example.com/zentao",
		" http://10.0.0.5/api.php ":                     "http://10.0.0.5",
	}
	for in, want := range tests {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeURL("ftp://zentao")
	assert.Error(t, err)
}

func TestLoginExchangesToken(t *testing.T) {
	srv := newZenTaoServer(t)
	tr := loggedIn(t, srv)

	_, err := tr.ListUsers(context.Background())
	require.NoError(t, err)
	users := srv.RequestsTo("/zentao/api.php/v1/users")
	require.Len(t, users, 1)
	assert.Equal(t, sessionToken, users[0].Headers.Get("Token"))
}

func TestLoginRejected(t *testing.T) {
	srv := newZenTaoServer(t)
	err := New(tracker.Options{}).Authenticate(context.Background(), tracker.Credentials{
		URL: srv.URL() + "/zentao", Username: "admin", Password: "nope",
	})
	require.Error(t, err)
	assert.True(t, tracker.IsAuthError(err), "a 400 from the token endpoint is an authentication failure")
}

func TestLoginWithToken(t *testing.T) {
	srv := newZenTaoServer(t)
	tr := New(tracker.Options{})
	require.NoError(t, tr.Authenticate(context.Background(), tracker.Credentials{URL: srv.URL() + "/zentao", Token: sessionToken}))
	assert.Empty(t, srv.RequestsTo("/zentao/api.php/v1/tokens"))

	err := New(tracker.Options{}).Authenticate(context.Background(), tracker.Credentials{URL: srv.URL() + "/zentao", Token: "expired"})
	assert.True(t, tracker.IsAuthError(err))
}

func TestListIssuesPages(t *testing.T) {
	srv := newZenTaoServer(t)
	tr := loggedIn(t, srv)
	ctx := context.Background()
	q := tracker.Query{Project: "3", PageSize: 2}

	page, err := tr.ListIssues(ctx, q, "")
	require.NoError(t, err)
	require.Len(t, page.Issues, 2)
	assert.Equal(t, "2", page.Next)

	first := page.Issues[0]
	assert.Equal(t, "11", first.ID)
	assert.Equal(t, "BUG-11", first.Identifier)
	assert.Equal(t, srv.URL()+"/zentao/bug-view-11.html", first.URL)
	assert.Equal(t, "[步骤] Upload a 2GB file\n[结果] 413 & a blank page", first.Description)
	assert.Equal(t, []string{"upload", "storage"}, first.Labels)
	assert.Equal(t, types.StateOpen, first.State)
	assert.Equal(t, tracker.RemoteUser{ID: "7", Username: "lily", DisplayName: "Lily Chen", Email: "lily@example.com"}, first.Author,
		"directory entries carry the email")
	require.NotNil(t, first.Assignee)
	assert.Equal(t, "admin@example.com", first.Assignee.Email)
	assert.Equal(t, time.Date(2024, 2, 1, 3, 4, 5, 0, time.UTC), first.CreatedAt)
	assert.Equal(t, time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC), first.UpdatedAt)
	assert.Nil(t, first.ClosedAt)
	require.Len(t, first.Comments, 1)
	assert.Equal(t, "Reproduced.\nNginx limit.", first.Comments[0].Body)
	assert.Equal(t, "admin", first.Comments[0].Author.Username)

	second := page.Issues[1]
	assert.Equal(t, types.StateClosed, second.State)
	require.NotNil(t, second.ClosedAt)
	assert.Nil(t, second.Assignee, `"closed" is not a real assignee`)
	assert.Equal(t, tracker.RemoteUser{ID: "ghost", Username: "ghost"}, second.Author)

	last, err := tr.ListIssues(ctx, q, page.Next)
	require.NoError(t, err)
	require.Len(t, last.Issues, 1)
	assert.True(t, last.Done())
	assert.Len(t, srv.RequestsTo("/zentao/api.php/v1/users"), 1)
}

func TestListIssuesFiltersState(t *testing.T) {
	srv := newZenTaoServer(t)
	tr := loggedIn(t, srv)

	page, err := tr.ListIssues(context.Background(), tracker.Query{Project: "3", State: "closed", PageSize: 2}, "")
	require.NoError(t, err)
	require.Len(t, page.Issues, 1)
	assert.Equal(t, "12", page.Issues[0].ID)
	assert.Equal(t, "2", page.Next, "filtering does not change paging")
}

func TestListIssuesRequiresProduct(t *testing.T) {
	tr := loggedIn(t, newZenTaoServer(t))
	_, err := tr.ListIssues(context.Background(), tracker.Query{Project: "mobile"}, "")
	assert.Error(t, err)
}

func TestAccountUnmarshal(t *testing.T) {
	var bug Bug
	require.NoError(t, json.Unmarshal([]byte(`{"openedBy":"lily","assignedTo":{"id":3,"account":"bo"}}`), &bug))
	assert.Equal(t, "lily", bug.OpenedBy.Account)
	assert.Equal(t, 3, bug.AssignedTo.ID)
}
