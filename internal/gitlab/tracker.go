package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

// Register adds the GitLab tracker to r.
func Register(r *tracker.Registry) {
	r.Register("gitlab", func(opts tracker.Options) tracker.IssueTracker {
		return New(opts)
	})
}

// Tracker implements tracker.IssueTracker for GitLab issues.
type Tracker struct {
	opts    tracker.Options
	client  *Client
	project string // default project from the credentials
}

// New returns an unauthenticated GitLab tracker.
func New(opts tracker.Options) *Tracker {
	return &Tracker{opts: opts.WithDefaults()}
}

func (t *Tracker) Name() string        { return "gitlab" }
func (t *Tracker) DisplayName() string { return "GitLab" }

// Authenticate verifies a personal access token. The URL defaults to
// gitlab.com.
func (t *Tracker) Authenticate(ctx context.Context, creds tracker.Credentials) error {
	token := creds.Token
	if token == "" {
		token = creds.Password
	}
	if token == "" {
		return &tracker.AuthenticationError{Tracker: "gitlab", Message: "a personal access token is required"}
	}
	baseURL, err := NormalizeURL(creds.URL)
	if err != nil {
		return err
	}
	client := NewClient(baseURL, t.opts)
	if err := client.Login(ctx, token); err != nil {
		return err
	}
	t.client = client
	t.project = strings.TrimSpace(creds.Project)
	return nil
}

// ListIssues returns one page of the project's issues. The project is a
// numeric id or a full path ("group/project") and the cursor is the page
// number.
func (t *Tracker) ListIssues(ctx context.Context, q tracker.Query, cursor string) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "gitlab"}
	}
	project := t.resolveProject(q.Project)
	if project == "" {
		return nil, fmt.Errorf("gitlab project is required")
	}
	pageNum := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid gitlab cursor %q", cursor)
		}
		pageNum = n
	}

	result, err := t.client.ListIssues(ctx, project, q.State, q.Since, pageNum, min(t.opts.PageSizeFor(q), MaxPageSize))
	if err != nil {
		return nil, err
	}
	page := &tracker.Page{Issues: make([]tracker.RemoteIssue, 0, len(result.Issues))}
	for i := range result.Issues {
		issue := &result.Issues[i]
		ri := toRemoteIssue(issue)
		if issue.IID > 0 {
			notes, err := t.client.ListNotes(ctx, project, issue.IID)
			if err != nil {
				return nil, err
			}
			ri.Comments = toComments(notes)
		}
		page.Issues = append(page.Issues, ri)
	}
	if result.NextPage > 0 && len(result.Issues) > 0 {
		page.Next = strconv.Itoa(result.NextPage)
	}
	return page, nil
}

// ListUsers returns the members of the credentials' project. Without a
// project there is no directory to list.
func (t *Tracker) ListUsers(ctx context.Context) ([]tracker.RemoteUser, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "gitlab"}
	}
	if t.project == "" {
		return nil, nil
	}
	members, err := t.client.ListMembers(ctx, t.project)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.RemoteUser, 0, len(members))
	for i := range members {
		out = append(out, remoteUser(&members[i]))
	}
	return out, nil
}

func (t *Tracker) resolveProject(p string) string {
	if p = strings.TrimSpace(p); p != "" {
		return p
	}
	return t.project
}

func toRemoteIssue(gl *Issue) tracker.RemoteIssue {
	ri := tracker.RemoteIssue{
		Title:       gl.Title,
		Description: gl.Description,
		State:       types.StateOpen,
		Labels:      gl.Labels,
		Author:      remoteUser(gl.Author),
		URL:         gl.WebURL,
		CreatedAt:   timeOf(gl.CreatedAt),
		UpdatedAt:   timeOf(gl.UpdatedAt),
	}
	if gl.ID > 0 {
		ri.ID = strconv.Itoa(gl.ID)
	}
	if gl.References != nil && gl.References.Full != "" {
		ri.Identifier = gl.References.Full
	} else if gl.IID > 0 {
		ri.Identifier = "#" + strconv.Itoa(gl.IID)
	}
	if IsClosed(gl.State) {
		ri.State = types.StateClosed
		if gl.ClosedAt != nil {
			closed := *gl.ClosedAt
			ri.ClosedAt = &closed
		}
	}
	assignee := gl.Assignee
	if assignee == nil && len(gl.Assignees) > 0 {
		assignee = &gl.Assignees[0]
	}
	if u := remoteUser(assignee); !u.IsZero() {
		ri.Assignee = &u
	}
	return ri
}

func toComments(notes []Note) []tracker.RemoteComment {
	var out []tracker.RemoteComment
	for _, n := range notes {
		if n.System || strings.TrimSpace(n.Body) == "" {
			continue
		}
		out = append(out, tracker.RemoteComment{
			ID:        strconv.Itoa(n.ID),
			Author:    remoteUser(n.Author),
			Body:      n.Body,
			CreatedAt: timeOf(n.CreatedAt),
		})
	}
	return out
}

func remoteUser(u *User) tracker.RemoteUser {
	if u == nil || (u.ID == 0 && u.Username == "") {
		return tracker.RemoteUser{}
	}
	ru := tracker.RemoteUser{Username: u.Username, DisplayName: u.Name, Email: u.Email}
	if ru.Email == "" {
		ru.Email = u.PublicEmail
	}
	if u.ID > 0 {
		ru.ID = strconv.Itoa(u.ID)
	}
	return ru
}

func timeOf(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
