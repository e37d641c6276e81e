package fogbugz

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/tracker/testutil"
	"github.com/steveyegge/bdimport/internal/types"
)

const sessionToken = "tok-123"

func newFogBugzServer(t *testing.T) *testutil.MockTrackerServer {
	t.Helper()
	search, err := os.ReadFile("testdata/search.xml")
	require.NoError(t, err)
	people, err := os.ReadFile("testdata/people.xml")
	require.NoError(t, err)

	srv := testutil.NewMockTrackerServer(t)
	srv.Handle("/api.asp", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("cmd") == "logon" {
			if q.Get("email") == "alice@example.com" && q.Get("password") == "secret" {
				testutil.WriteXML(w, http.StatusOK, `<response><token><![CDATA[`+sessionToken+`]]></token></response>`)
				return
			}
			testutil.WriteXML(w, http.StatusOK, `<response><error code="1">Incorrect password or username</error></response>`)
			return
		}
		if q.Get("token") != sessionToken {
			testutil.WriteXML(w, http.StatusOK, `<response><error code="3">Not logged on</error></response>`)
			return
		}
		switch q.Get("cmd") {
		case "viewPerson":
			testutil.WriteXML(w, http.StatusOK, `<response><person><ixPerson>2</ixPerson></person></response>`)
		case "listPeople":
			testutil.WriteXML(w, http.StatusOK, string(people))
		case "search":
			if strings.Contains(q.Get("q"), "ixBug:1..") {
				testutil.WriteXML(w, http.StatusOK, string(search))
				return
			}
			testutil.WriteXML(w, http.StatusOK, `<response><cases count="0"></cases></response>`)
		default:
			testutil.WriteXML(w, http.StatusOK, `<response><error code="0">unknown command</error></response>`)
		}
	})
	return srv
}

func loggedIn(t *testing.T, srv *testutil.MockTrackerServer) *Tracker {
	t.Helper()
	tr := New(tracker.Options{})
	require.NoError(t, tr.Authenticate(context.Background(), tracker.Credentials{
		URL:      srv.URL() + "/api.asp",
		Username: "alice@example.com",
		Password: "secret",
	}))
	return tr
}

func TestRegister(t *testing.T) {
	r := tracker.NewRegistry()
	Register(r)
	tr, err := r.New("fogbugz", tracker.Options{})
	require.NoError(t, err)
	assert.Equal(t, "FogBugz", tr.DisplayName())
}

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL(" https://example.fogbugz.com/api.asp?cmd=logon ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.fogbugz.com", got)

	got, err = NormalizeURL("http://bugs.internal/fogbugz/")
	require.NoError(t, err)
	assert.Equal(t, "http://bugs.internal/fogbugz", got)

	_, err = NormalizeURL("bugs.internal")
	assert.Error(t, err)
}

func TestLogonSendsTokenOnLaterRequests(t *testing.T) {
	srv := newFogBugzServer(t)
	tr := loggedIn(t, srv)

	_, err := tr.ListUsers(context.Background())
	require.NoError(t, err)

	reqs := srv.GetRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "logon", reqs[0].Query.Get("cmd"))
	assert.Empty(t, reqs[0].Query.Get("token"))
	assert.Equal(t, "listPeople", reqs[1].Query.Get("cmd"))
	assert.Equal(t, sessionToken, reqs[1].Query.Get("token"))
}

func TestLogonRejected(t *testing.T) {
	srv := newFogBugzServer(t)
	err := New(tracker.Options{}).Authenticate(context.Background(), tracker.Credentials{
		URL: srv.URL(), Username: "alice@example.com", Password: "wrong",
	})
	require.Error(t, err)
	assert.True(t, tracker.IsAuthError(err))
	assert.Contains(t, err.Error(), "Incorrect password")
}

func TestLogonMissingCredentials(t *testing.T) {
	srv := newFogBugzServer(t)
	err := New(tracker.Options{}).Authenticate(context.Background(), tracker.Credentials{URL: srv.URL()})
	assert.True(t, tracker.IsAuthError(err))
	assert.Zero(t, srv.GetRequestCount())
}

func TestTokenCredentialIsVerified(t *testing.T) {
	srv := newFogBugzServer(t)

	tr := New(tracker.Options{})
	require.NoError(t, tr.Authenticate(context.Background(), tracker.Credentials{URL: srv.URL(), Token: sessionToken}))
	assert.Equal(t, "viewPerson", srv.GetRequests()[0].Query.Get("cmd"))

	err := New(tracker.Options{}).Authenticate(context.Background(), tracker.Credentials{URL: srv.URL(), Token: "stale"})
	assert.True(t, tracker.IsAuthError(err), "error code 3 is an authentication failure")
}

func TestListIssuesPages(t *testing.T) {
	srv := newFogBugzServer(t)
	tr := loggedIn(t, srv)
	ctx := context.Background()
	q := tracker.Query{Project: "Reporting", PageSize: 2}

	page, err := tr.ListIssues(ctx, q, "")
	require.NoError(t, err)
	require.Len(t, page.Issues, 2)
	assert.Equal(t, "10", page.Next, "next range starts after the highest case number")

	search := srv.RequestsTo("/api.asp")
	last := search[len(search)-1]
	assert.Equal(t, "search", last.Query.Get("cmd"))
	assert.Equal(t, `project:"Reporting" ixBug:1.. OrderBy:ixBug`, last.Query.Get("q"))
	assert.Equal(t, "2", last.Query.Get("max"))

	first := page.Issues[0]
	assert.Equal(t, "7", first.ID)
	assert.Equal(t, "Case 7", first.Identifier)
	assert.Equal(t, srv.URL()+"/default.asp?7", first.URL)
	assert.Equal(t, "Export to CSV drops the header row", first.Title)
	assert.Equal(t, "The first line of every export is missing.", first.Description)
	assert.Equal(t, types.StateOpen, first.State)
	assert.Equal(t, []string{"export", "csv"}, first.Labels)
	assert.Equal(t, tracker.RemoteUser{ID: "2", DisplayName: "Alice Liddell", Email: "alice@example.com"}, first.Author)
	require.NotNil(t, first.Assignee)
	assert.Equal(t, "bob@example.com", first.Assignee.Email)
	assert.Equal(t, time.Date(2023, 11, 2, 8, 15, 0, 0, time.UTC), first.CreatedAt)
	require.Len(t, first.Comments, 1, "events without text are skipped")
	assert.Equal(t, "72", first.Comments[0].ID)
	assert.Equal(t, `Also happens with "Include totals" checked.`, first.Comments[0].Body)
	assert.Equal(t, tracker.RemoteUser{ID: "9", DisplayName: "Former Employee"}, first.Comments[0].Author)

	second := page.Issues[1]
	assert.Equal(t, types.StateClosed, second.State)
	require.NotNil(t, second.ClosedAt)
	assert.Nil(t, second.Assignee)
	assert.Empty(t, second.Description)

	done, err := tr.ListIssues(ctx, q, page.Next)
	require.NoError(t, err)
	assert.Empty(t, done.Issues)
	assert.True(t, done.Done())

	assert.Len(t, srv.GetRequests(), 4, "people are listed once per session")
}

func TestListIssuesHTMLPageIsEmpty(t *testing.T) {
	srv := newFogBugzServer(t)
	tr := loggedIn(t, srv)
	srv.Handle("/api.asp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>Maintenance</body></html>"))
	})

	page, err := tr.ListIssues(context.Background(), tracker.Query{}, "")
	require.NoError(t, err)
	assert.Empty(t, page.Issues)
	assert.True(t, page.Done())
}

func TestListIssuesSessionExpired(t *testing.T) {
	srv := newFogBugzServer(t)
	tr := loggedIn(t, srv)
	srv.Handle("/api.asp", func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteXML(w, http.StatusOK, `<response><error code="3">Not logged on</error></response>`)
	})

	_, err := tr.ListIssues(context.Background(), tracker.Query{}, "")
	assert.True(t, tracker.IsAuthError(err))
}

func TestListIssuesInvalidCursor(t *testing.T) {
	tr := loggedIn(t, newFogBugzServer(t))
	_, err := tr.ListIssues(context.Background(), tracker.Query{}, "0")
	assert.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	since := time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "ixBug:1.. OrderBy:ixBug", BuildQuery(tracker.Query{}, 1))
	assert.Equal(t, `project:"Ops" status:open edited:"2024-05-06.." ixBug:40.. OrderBy:ixBug`,
		BuildQuery(tracker.Query{Project: " Ops ", State: "open", Since: &since}, 40))
}
