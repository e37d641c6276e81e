package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdimport/internal/config"
	"github.com/steveyegge/bdimport/internal/importer"
	"github.com/steveyegge/bdimport/internal/tracker/testutil"
	"github.com/steveyegge/bdimport/internal/types"
)

// isolate keeps config lookups away from the developer's machine.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("BDIMPORT_TELEMETRY_ENABLED", "")
	config.ResetForTesting()
	t.Cleanup(config.ResetForTesting)
	return filepath.Join(dir, "import.db")
}

func run(t *testing.T, db string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), append([]string{"--db", db}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestBuildQuery(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	q, err := buildQuery(" OPS ", "Closed", "7d", 20, now)
	require.NoError(t, err)
	assert.Equal(t, "OPS", q.Project)
	assert.Equal(t, "closed", q.State)
	assert.Equal(t, 20, q.PageSize)
	require.NotNil(t, q.Since)
	assert.Equal(t, now.Add(-7*24*time.Hour), *q.Since)

	q, err = buildQuery("", "all", "", 0, now)
	require.NoError(t, err)
	assert.Empty(t, q.State)
	assert.Nil(t, q.Since)

	_, err = buildQuery("", "resolved", "", 0, now)
	assert.Error(t, err)
	_, err = buildQuery("", "", "next tuesday", 0, now)
	assert.Error(t, err, "future times are rejected")
	_, err = buildQuery("", "", "", -1, now)
	assert.Error(t, err)
}

func TestParseBatch(t *testing.T) {
	isolate(t)
	t.Setenv("JIRA_API_TOKEN", "jira-secret")
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	reqs, err := parseBatch(strings.NewReader(`
imports:
  - project_id: 4
    tracker: Jira
    url: https://acme.atlassian.net
    remote_project: OPS
    since: "2024-06-01"
  - project_id: 9
    tracker: github
    remote_project: acme/widgets
    state: open
`), now)
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, int64(4), reqs[0].ProjectID)
	assert.Equal(t, "jira", reqs[0].Tracker)
	assert.Equal(t, "jira-secret", reqs[0].Credentials.Token, "secrets come from the environment")
	assert.Equal(t, "https://acme.atlassian.net", reqs[0].Credentials.URL)
	require.NotNil(t, reqs[0].Query.Since)
	assert.Equal(t, "open", reqs[1].Query.State)

	for name, doc := range map[string]string{
		"empty":         "imports: []\n",
		"no tracker":    "imports:\n  - project_id: 1\n",
		"bad project":   "imports:\n  - project_id: 0\n    tracker: jira\n",
		"duplicate":     "imports:\n  - project_id: 1\n    tracker: jira\n  - project_id: 1\n    tracker: github\n",
		"unknown field": "imports:\n  - project_id: 1\n    tracker: jira\n    password: hunter2\n",
	} {
		_, err := parseBatch(strings.NewReader(doc), now)
		assert.Error(t, err, name)
	}
}

func TestTrackersCommand(t *testing.T) {
	db := isolate(t)
	out, _, err := run(t, db, "trackers", "--json")
	require.NoError(t, err)

	var infos []trackerInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"fogbugz", "github", "gitlab", "jira", "phabricator", "zentao"}, names)
	_, err = os.Stat(db)
	assert.True(t, os.IsNotExist(err), "listing trackers does not open the store")
}

func TestUsersAddAndList(t *testing.T) {
	db := isolate(t)
	_, _, err := run(t, db, "users", "add", "--username", "alice", "--name", "Alice Liddell", "--email", "alice@example.com")
	require.NoError(t, err)
	_, stderr, err := run(t, db, "users", "add")
	require.Error(t, err)
	assert.Contains(t, stderr, "--username is required")

	out, _, err := run(t, db, "--json", "users", "list")
	require.NoError(t, err)
	var users []types.User
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice@example.com", users[0].Email)
}

func TestStatusNeverImported(t *testing.T) {
	db := isolate(t)
	out, _, err := run(t, db, "status", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "never been imported")

	_, _, err = run(t, db, "status", "twelve")
	assert.Error(t, err)
}

func TestRunUnknownTracker(t *testing.T) {
	db := isolate(t)
	_, stderr, err := run(t, db, "--json", "run", "bugzilla", "--project-id", "3")
	require.Error(t, err)

	var obj map[string]string
	require.NoError(t, json.Unmarshal([]byte(stderr), &obj))
	assert.Equal(t, "unknown_tracker", obj["code"])
}

func TestResumeWithoutHistory(t *testing.T) {
	db := isolate(t)
	_, stderr, err := run(t, db, "resume", "--project-id", "3")
	require.Error(t, err)
	assert.Contains(t, stderr, "no import to resume")
}

// zentaoServer serves a one-page ZenTao product behind a static token.
func zentaoServer(t *testing.T) *testutil.MockTrackerServer {
	t.Helper()
	srv := testutil.NewMockTrackerServer(t)
	authed := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Token") != "zt-token" {
				testutil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				return
			}
			fn(w, r)
		}
	}
	srv.Handle("/api.php/v1/user", authed(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"profile": map[string]any{"account": "admin"}})
	}))
	srv.Handle("/api.php/v1/users", authed(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{
			"page": 1, "total": 1, "limit": 500,
			"users": []any{map[string]any{"id": 7, "account": "lily", "realname": "Lily Chen", "email": "lily@example.com"}},
		})
	}))
	srv.Handle("/api.php/v1/products/3/bugs", authed(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{
			"page": 1, "total": 2, "limit": 50,
			"bugs": []any{
				map[string]any{"id": 11, "title": "Upload fails", "status": "active", "openedBy": "lily", "openedDate": "2024-02-01 03:04:05"},
				map[string]any{"id": 12, "title": "Wrong symbol", "status": "closed", "openedBy": "ghost", "openedDate": "2024-01-01 08:00:00"},
			},
		})
	}))
	srv.SetDefaultHandler(authed(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"actions": []any{}})
	}))
	return srv
}

func TestRunImportsAndReportsStatus(t *testing.T) {
	db := isolate(t)
	srv := zentaoServer(t)
	t.Setenv("ZENTAO_URL", srv.URL())
	t.Setenv("ZENTAO_API_TOKEN", "zt-token")

	_, _, err := run(t, db, "users", "add", "--username", "lily", "--email", "LILY@example.com")
	require.NoError(t, err)

	out, _, err := run(t, db, "--json", "run", "zentao", "--project-id", "5", "--remote-project", "3")
	require.NoError(t, err)
	var sess types.ImportSession
	require.NoError(t, json.Unmarshal([]byte(out), &sess))
	assert.Equal(t, types.SessionCompleted, sess.Status)
	assert.Equal(t, 2, sess.IssuesImported)
	assert.Equal(t, "zentao", sess.Tracker)

	out, _, err = run(t, db, "--json", "issues", "--project-id", "5", "--state", "closed")
	require.NoError(t, err)
	var issues []types.Issue
	require.NoError(t, json.Unmarshal([]byte(out), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, "BUG-12", issues[0].Identifier)

	out, _, err = run(t, db, "issues", "show", strconv.FormatInt(issues[0].ID, 10), "--no-pager")
	require.NoError(t, err)
	assert.Contains(t, out, "BUG-12 Wrong symbol")
	assert.Contains(t, out, "closed")

	out, _, err = run(t, db, "--json", "users", "map", "zentao")
	require.NoError(t, err)
	var mappings []types.UserMapping
	require.NoError(t, json.Unmarshal([]byte(out), &mappings))
	require.Len(t, mappings, 1)
	assert.True(t, mappings[0].Resolved())
	assert.Equal(t, types.MatchEmail, mappings[0].MatchedBy)

	out, _, err = run(t, db, "status", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	// A second run re-reads the same bugs without duplicating them.
	out, _, err = run(t, db, "--json", "run", "zentao", "--project-id", "5", "--remote-project", "3")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &sess))
	assert.Equal(t, 0, sess.IssuesImported)
}

func TestRunAuthenticationFailure(t *testing.T) {
	db := isolate(t)
	srv := zentaoServer(t)

	_, stderr, err := run(t, db, "run", "zentao", "--project-id", "5", "--remote-project", "3",
		"--url", srv.URL(), "--token", "expired")
	require.Error(t, err)
	assert.Contains(t, stderr, "Hint:")

	out, _, err := run(t, db, "--json", "status", "5")
	require.NoError(t, err)
	var st importer.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.NotNil(t, st.Session)
	assert.Equal(t, types.SessionFailed, st.Session.Status)
}
