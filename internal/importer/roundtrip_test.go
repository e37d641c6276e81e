package importer

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdimport/internal/jira"
	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/storage/memory"
	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/tracker/testutil"
	"github.com/steveyegge/bdimport/internal/types"
)

// TestJiraFixtureRoundTrip imports a recorded Jira search page and checks the
// local issues carry the fixture's fields, with authors mapped to local users.
func TestJiraFixtureRoundTrip(t *testing.T) {
	fixture, err := os.ReadFile("../jira/testdata/search.json")
	require.NoError(t, err)
	var recorded jira.SearchResult
	require.NoError(t, json.Unmarshal(fixture, &recorded))
	recorded.Total = len(recorded.Issues)
	single, err := json.Marshal(recorded)
	require.NoError(t, err)

	srv := testutil.NewMockTrackerServer(t)
	srv.SetJSON("/rest/api/2/serverInfo", http.StatusOK, jira.ServerInfo{DeploymentType: "Cloud"})
	srv.SetJSON("/rest/api/2/myself", http.StatusOK, jira.UserField{AccountID: "me"})
	srv.SetBody("/rest/api/3/search", http.StatusOK, "application/json", string(single))

	ctx := context.Background()
	store := memory.New()
	alice := &types.User{Username: "alice", Name: "Alice L.", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(ctx, alice))

	reg := tracker.NewRegistry()
	jira.Register(reg)
	svc := New(store, reg, WithMaxRetries(0))

	sess, err := svc.StartImport(ctx, Request{
		ProjectID:   5,
		Tracker:     "jira",
		Credentials: tracker.Credentials{URL: srv.URL(), Username: "importer@example.com", Token: "t", Project: "PROJ"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, sess.Status)
	assert.Equal(t, 2, sess.IssuesImported)

	search := srv.RequestsTo("/rest/api/3/search")
	require.Len(t, search, 1)
	assert.Contains(t, search[0].Query.Get("jql"), `project = "PROJ"`)

	issues, err := store.ListIssues(ctx, storage.IssueFilter{ProjectID: 5})
	require.NoError(t, err)
	require.Len(t, issues, 2)

	first := issues[0]
	want := recorded.Issues[0]
	assert.Equal(t, want.ID, first.RemoteID)
	assert.Equal(t, want.Key, first.Identifier)
	assert.Equal(t, want.Fields.Summary, first.Title)
	assert.Equal(t, jira.DescriptionToPlainText(want.Fields.Description), first.Description)
	require.NotNil(t, first.AuthorID)
	assert.Equal(t, alice.ID, *first.AuthorID, "reporter email maps to the local user")
	assert.Nil(t, first.AssigneeID)
	assert.Equal(t, types.StateOpen, first.State)
	assert.Equal(t, srv.URL()+"/browse/PROJ-1", first.ExternalURL)
	require.Len(t, first.Notes, 1)
	assert.Nil(t, first.Notes[0].AuthorID)
	assert.Equal(t, "*Created by: Carol External*\n\nSame on staging, see PROJ-2", first.Notes[0].Body)

	second := issues[1]
	assert.Equal(t, recorded.Issues[1].Fields.Summary, second.Title)
	assert.Equal(t, "*Created by: Carol External*", second.Description)
	assert.Nil(t, second.AuthorID)
	assert.Equal(t, types.StateClosed, second.State)
	assert.NotNil(t, second.ClosedAt)

	// A second run against the same remote data creates nothing.
	again, err := svc.StartImport(ctx, Request{
		ProjectID:   5,
		Tracker:     "jira",
		Credentials: tracker.Credentials{URL: srv.URL(), Username: "importer@example.com", Token: "t", Project: "PROJ"},
	})
	require.NoError(t, err)
	assert.Zero(t, again.IssuesImported)
	assert.Equal(t, 2, countIssues(t, store, 5))
}
